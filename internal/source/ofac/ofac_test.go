package ofac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/resilience"
	"github.com/JakeFAU/risk-screener/internal/screening"
	"github.com/JakeFAU/risk-screener/internal/source"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

func testRetrier() *resilience.Retrier {
	return resilience.NewRetrier(resilience.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}, zap.NewNop())
}

func entityName(t *testing.T, raw string) screening.EntityName {
	t.Helper()
	n, err := screening.NewEntityName(raw)
	require.NoError(t, err)
	return n
}

const searchBody = `{
  "results": [
    {"caption": "Vladimir Vladimirovich PUTIN", "schema": "Person", "score": 0.99,
     "datasets": ["us_ofac_sdn"],
     "properties": {"country": ["ru"], "program": ["UKRAINE-EO13661", "RUSSIA-EO14024"]}},
    {"caption": "", "schema": "Person"},
    {"caption": "Bank Rossiya", "schema": "Company",
     "properties": {"address": ["St. Petersburg, Russia"]}}
  ]
}`

func TestAPIScraperParsesResults(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Putin", r.URL.Query().Get("q"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "ApiKey secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	s, err := NewAPIScraper(APIConfig{URL: srv.URL + "/search/sanctions", APIKey: "secret"},
		source.NewHTTPClient(time.Second, ""), testRetrier(), fixedClock{}, zap.NewNop())
	require.NoError(t, err)

	hits, err := s.Scrape(context.Background(), entityName(t, "Putin"))
	require.NoError(t, err)
	require.Len(t, hits, 2)

	require.Equal(t, "Vladimir Vladimirovich PUTIN", hits[0].EntityName)
	require.Equal(t, screening.SourceOFAC, hits[0].Source)
	require.Equal(t, "ru", hits[0].Attributes["Address"])
	require.Equal(t, "Person", hits[0].Attributes["Type"])
	require.Equal(t, "UKRAINE-EO13661, RUSSIA-EO14024", hits[0].Attributes["Programs"])
	require.Equal(t, "us_ofac_sdn", hits[0].Attributes["List"])
	require.InDelta(t, 99.0, *hits[0].MatchScore, 0.0001)

	require.Equal(t, "St. Petersburg, Russia", hits[1].Attributes["Address"])
	require.Equal(t, "N/A", hits[1].Attributes["Programs"])
	require.Equal(t, "SDN", hits[1].Attributes["List"])
	require.Nil(t, hits[1].MatchScore)
}

func TestAPIScraperRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	s, err := NewAPIScraper(APIConfig{URL: srv.URL}, source.NewHTTPClient(time.Second, ""), testRetrier(), nil, nil)
	require.NoError(t, err)

	hits, err := s.Scrape(context.Background(), entityName(t, "Nobody"))
	require.NoError(t, err)
	require.Empty(t, hits)
	require.Equal(t, int32(3), calls.Load())
}

func TestAPIScraperFailsOnBadPayload(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	s, err := NewAPIScraper(APIConfig{URL: srv.URL}, source.NewHTTPClient(time.Second, ""), testRetrier(), nil, nil)
	require.NoError(t, err)

	_, err = s.Scrape(context.Background(), entityName(t, "Nobody"))
	var se *screening.ScrapingError
	require.ErrorAs(t, err, &se)
	require.Equal(t, screening.SourceOFAC, se.Source)
	require.Equal(t, int32(1), calls.Load())
}

func TestNewAPIScraperValidatesURL(t *testing.T) {
	t.Parallel()
	_, err := NewAPIScraper(APIConfig{URL: "not a url"}, http.DefaultClient, testRetrier(), nil, nil)
	require.Error(t, err)
}

type fakeRunner struct {
	status int
	err    error
	calls  atomic.Int32
}

func (f *fakeRunner) Run(context.Context, ...chromedp.Action) (int, error) {
	f.calls.Add(1)
	return f.status, f.err
}

func TestDirectScraperMapsBlockedPageToStatusError(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{status: http.StatusForbidden, err: errors.New("waiting for selector")}
	s := NewDirectScraper(runner, "", testRetrier(), fixedClock{}, zap.NewNop())

	_, err := s.Scrape(context.Background(), entityName(t, "Maduro"))
	var status *resilience.StatusError
	require.ErrorAs(t, err, &status)
	require.Equal(t, http.StatusForbidden, status.StatusCode)
	require.Equal(t, int32(1), runner.calls.Load())
}

func TestDirectScraperRetriesBrowserTimeouts(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{status: http.StatusOK, err: context.DeadlineExceeded}
	s := NewDirectScraper(runner, "https://ofac.example", testRetrier(), fixedClock{}, nil)

	_, err := s.Scrape(context.Background(), entityName(t, "Maduro"))
	require.Error(t, err)
	require.Equal(t, int32(4), runner.calls.Load())
}

func TestDirectScraperNoResults(t *testing.T) {
	t.Parallel()
	s := NewDirectScraper(&fakeRunner{status: http.StatusOK}, "", testRetrier(), fixedClock{}, nil)

	hits, err := s.Scrape(context.Background(), entityName(t, "Nobody"))
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestRowsToHits(t *testing.T) {
	t.Parallel()
	now := fixedClock{}.Now()
	rows := [][]string{
		{"Download results", "", ""},
		{"MADURO MOROS, Nicolas", "Caracas, VE", "Individual", "VENEZUELA", "SDN"},
		{"too", "short"},
		{"BANK ROSSIYA", "", "Entity"},
	}
	hits := rowsToHits(rows, now)
	require.Len(t, hits, 2)
	require.Equal(t, "MADURO MOROS, Nicolas", hits[0].EntityName)
	require.Equal(t, "VENEZUELA", hits[0].Attributes["Programs"])
	require.InDelta(t, 100.0, *hits[0].MatchScore, 0.0001)
	require.Equal(t, "N/A", hits[1].Attributes["Address"])
	require.Equal(t, "N/A", hits[1].Attributes["Programs"])
	require.Equal(t, "SDN", hits[1].Attributes["List"])
	require.Equal(t, now, hits[1].ScrapedAt)

	many := make([][]string, 30)
	for i := range many {
		many[i] = []string{"NAME", "addr", "Entity"}
	}
	require.Len(t, rowsToHits(many, now), MaxResults)
}
