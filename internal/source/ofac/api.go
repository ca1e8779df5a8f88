// Package ofac implements the two OFAC strategies: a JSON search API and a
// direct scrape of the Treasury sanctions search form.
package ofac

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/resilience"
	"github.com/JakeFAU/risk-screener/internal/screening"
	"github.com/JakeFAU/risk-screener/internal/source"
)

// MaxResults caps hits per OFAC query for both strategies.
const MaxResults = 20

// APIConfig points the API strategy at a sanctions search endpoint.
type APIConfig struct {
	URL    string
	APIKey string
}

// APIScraper queries a JSON sanctions search endpoint that answers
// GET <url>?q=<name>&limit=<n> with {"results":[...]}.
type APIScraper struct {
	cfg     APIConfig
	client  *http.Client
	retrier *resilience.Retrier
	clock   screening.Clock
	logger  *zap.Logger
}

// NewAPIScraper builds an APIScraper.
func NewAPIScraper(cfg APIConfig, client *http.Client, retrier *resilience.Retrier, clock screening.Clock, logger *zap.Logger) (*APIScraper, error) {
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("ofac api url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &APIScraper{cfg: cfg, client: client, retrier: retrier, clock: clock, logger: logger}, nil
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Caption    string              `json:"caption"`
	Schema     string              `json:"schema"`
	Score      *float64            `json:"score"`
	Datasets   []string            `json:"datasets"`
	Properties map[string][]string `json:"properties"`
}

// Scrape runs one search with retries.
func (s *APIScraper) Scrape(ctx context.Context, name screening.EntityName) ([]screening.Hit, error) {
	s.logger.Info("searching OFAC api", zap.String("entity", name.String()))
	resp, err := resilience.Call(ctx, s.retrier, "ofac.api", func(ctx context.Context) (searchResponse, error) {
		return s.search(ctx, name.String())
	})
	if err != nil {
		return nil, screening.NewScrapingError(screening.SourceOFAC, err)
	}

	now := s.clock.Now()
	hits := make([]screening.Hit, 0, len(resp.Results))
	for _, r := range resp.Results {
		if strings.TrimSpace(r.Caption) == "" {
			continue
		}
		hits = append(hits, newHit(r.Caption, addressOf(r), orNA(r.Schema),
			orNA(strings.Join(r.Properties["program"], ", ")), listOf(r), normalizeScore(r.Score), now))
		if len(hits) == MaxResults {
			break
		}
	}
	s.logger.Info("OFAC api search complete", zap.String("entity", name.String()), zap.Int("hits", len(hits)))
	return hits, nil
}

func (s *APIScraper) search(ctx context.Context, term string) (searchResponse, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return searchResponse{}, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("q", term)
	q.Set("limit", strconv.Itoa(MaxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return searchResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return searchResponse{}, fmt.Errorf("ofac request: %w", err)
	}
	if err := source.CheckStatus(resp); err != nil {
		return searchResponse{}, err
	}
	defer source.DrainAndClose(resp)

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return searchResponse{}, fmt.Errorf("decode ofac response: %w", err)
	}
	return out, nil
}

func addressOf(r searchResult) string {
	if addrs := r.Properties["address"]; len(addrs) > 0 && addrs[0] != "" {
		return addrs[0]
	}
	return orNA(strings.Join(r.Properties["country"], ", "))
}

func listOf(r searchResult) string {
	if len(r.Datasets) == 0 {
		return "SDN"
	}
	return strings.Join(r.Datasets, ", ")
}

// normalizeScore maps [0,1] scores onto the 0-100 scale the other OFAC strategies use.
func normalizeScore(score *float64) *float64 {
	if score == nil {
		return nil
	}
	if *score <= 1 {
		return screening.Score(*score * 100)
	}
	return screening.Score(*score)
}

func newHit(name, address, kind, programs, list string, score *float64, now time.Time) screening.Hit {
	return screening.NewHit(name, screening.SourceOFAC, map[string]string{
		"Name":     name,
		"Address":  address,
		"Type":     kind,
		"Programs": programs,
		"List":     list,
	}, score, now)
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "N/A"
	}
	return s
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

var _ screening.Scraper = (*APIScraper)(nil)
