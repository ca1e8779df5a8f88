package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/risk-screener/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = "memory"
	cfg.Database.DSN = ""
	cfg.PubSub.ProjectID = ""
	cfg.RateLimit.Backend = "memory"
	cfg.Scraping.MaxRetries = 0
	return cfg
}

type screeningBody struct {
	ID             string `json:"id"`
	SearchedEntity string `json:"searchedEntity"`
	TotalHits      int    `json:"totalHits"`
	Hits           []struct {
		Source string `json:"source"`
	} `json:"hits"`
	Errors []string `json:"errors"`
}

func postScreening(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, screeningBody) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/screenings", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out screeningBody
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestBuildOfflineServesAndStoresScreenings(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Scraping.Offline = true

	app, err := BuildWithLogger(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	rec, body := postScreening(t, app.Handler(), `{"entityName":"Rosneft","sources":["OFAC","OffshoreLeaks","WorldBank"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Rosneft", body.SearchedEntity)
	require.Positive(t, body.TotalHits)
	require.Len(t, body.Hits, body.TotalHits)
	require.Empty(t, body.Errors)

	get := httptest.NewRecorder()
	app.Handler().ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/v1/screenings/"+body.ID, nil))
	require.Equal(t, http.StatusOK, get.Code)
}

func TestBuildAPIModeFallsBackToDatasetForOFAC(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Scraping.Mode = "api"
	cfg.Sources.OFACAPIURL = ""

	app, err := BuildWithLogger(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	rec, body := postScreening(t, app.Handler(), `{"entityName":"Gazprom","sources":["ofac"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Positive(t, body.TotalHits)
	for _, h := range body.Hits {
		require.Equal(t, "OFAC", h.Source)
	}
}

func TestBuildHybridModeDefersBrowserLaunch(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Scraping.Mode = "hybrid"

	app, err := BuildWithLogger(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, app.browser)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildRejectsBadBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = "tape"
	_, err := BuildWithLogger(context.Background(), cfg, zaptest.NewLogger(t))
	require.ErrorContains(t, err, "blob store init failed")

	cfg = testConfig(t)
	cfg.Scraping.Mode = "carrier-pigeon"
	_, err = BuildWithLogger(context.Background(), cfg, zaptest.NewLogger(t))
	require.ErrorContains(t, err, "unknown scraping mode")

	cfg = testConfig(t)
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.RedisURL = "::not a url::"
	_, err = BuildWithLogger(context.Background(), cfg, zaptest.NewLogger(t))
	require.ErrorContains(t, err, "parse redis url")
}

func TestRedisBackendRegistersReadinessCheck(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Scraping.Offline = true
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.RedisURL = "redis://127.0.0.1:1/0"

	app, err := BuildWithLogger(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	require.Contains(t, app.ready, "redis")

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Scraping.Offline = true
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeoutSecs = 1

	app, err := BuildWithLogger(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
