package worldbank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/resilience"
	"github.com/JakeFAU/risk-screener/internal/screening"
	"github.com/JakeFAU/risk-screener/internal/source"
)

const listBody = `{
  "response": {
    "ZPROCSUPP": [
      {"SUPP_NAME": "ACME CONSTRUCTION LTD", "ADD_SUPP_INFO": "formerly Acme Builders",
       "SUPP_CITY": "Nairobi", "SUPP_ADDR": "12 Moi Avenue", "COUNTRY_NAME": "Kenya",
       "DEBAR_FROM_DATE": "2021-03-01", "DEBAR_TO_DATE": "2026-03-01", "DEBAR_REASON": "Fraudulent Practice"},
      {"SUPP_NAME": "Acme Holdings", "SUPP_CITY": null, "SUPP_ADDR": "", "COUNTRY_NAME": null,
       "DEBAR_FROM_DATE": 20200101, "DEBAR_TO_DATE": null},
      {"SUPP_NAME": "Unrelated Trading Co", "COUNTRY_NAME": "Peru"},
      {"SUPP_NAME": null}
    ]
  }
}`

func newScraper(t *testing.T, url string) *Scraper {
	t.Helper()
	retrier := resilience.NewRetrier(resilience.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}, zap.NewNop())
	return New(Config{URL: url, APIKey: "k"}, source.NewHTTPClient(time.Second, ""), retrier, nil, zap.NewNop())
}

func name(t *testing.T, raw string) screening.EntityName {
	t.Helper()
	n, err := screening.NewEntityName(raw)
	require.NoError(t, err)
	return n
}

func TestScraperFiltersByName(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("apikey"))
		assert.Equal(t, "https://projects.worldbank.org", r.Header.Get("Origin"))
		_, _ = w.Write([]byte(listBody))
	}))
	defer srv.Close()

	hits, err := newScraper(t, srv.URL).Scrape(context.Background(), name(t, "acme"))
	require.NoError(t, err)
	require.Len(t, hits, 2)

	first := hits[0]
	require.Equal(t, "ACME CONSTRUCTION LTD (formerly Acme Builders)", first.EntityName)
	require.Equal(t, screening.SourceWorldBank, first.Source)
	require.Equal(t, "12 Moi Avenue, Nairobi", first.Attributes["Address"])
	require.Equal(t, "Kenya", first.Attributes["Country"])
	require.Equal(t, "2021-03-01", first.Attributes["FromDate"])
	require.Equal(t, "Fraudulent Practice", first.Attributes["Grounds"])
	require.Nil(t, first.MatchScore)

	second := hits[1]
	require.Equal(t, "Acme Holdings", second.EntityName)
	require.Equal(t, "N/A", second.Attributes["Address"])
	require.Equal(t, "N/A", second.Attributes["Country"])
	require.Equal(t, "20200101", second.Attributes["FromDate"])
	require.Equal(t, "N/A", second.Attributes["ToDate"])
}

func TestScraperNoMatches(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(listBody))
	}))
	defer srv.Close()

	hits, err := newScraper(t, srv.URL).Scrape(context.Background(), name(t, "Gazprom"))
	require.NoError(t, err)
	require.NotNil(t, hits)
	require.Empty(t, hits)
}

func TestScraperRejectsUnexpectedShape(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":{}}`))
	}))
	defer srv.Close()

	_, err := newScraper(t, srv.URL).Scrape(context.Background(), name(t, "acme"))
	require.ErrorIs(t, err, ErrUnexpectedPayload)
}

func TestScraperRetriesThenGivesUp(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newScraper(t, srv.URL).Scrape(context.Background(), name(t, "acme"))
	var se *screening.ScrapingError
	require.ErrorAs(t, err, &se)
	require.Equal(t, screening.SourceWorldBank, se.Source)
	require.Equal(t, int32(4), calls.Load())
}

func TestScraperDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newScraper(t, srv.URL).Scrape(context.Background(), name(t, "acme"))
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestNewDefaultsURL(t *testing.T) {
	t.Parallel()
	s := New(Config{}, http.DefaultClient, nil, nil, nil)
	require.Equal(t, DefaultURL, s.cfg.URL)
}
