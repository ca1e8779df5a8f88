// Package worldbank screens entities against the World Bank debarred-firms list.
package worldbank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/resilience"
	"github.com/JakeFAU/risk-screener/internal/screening"
	"github.com/JakeFAU/risk-screener/internal/source"
)

// DefaultURL is the public debarred-firms endpoint behind projects.worldbank.org.
const DefaultURL = "https://apigwext.worldbank.org/dvsvc/v1.0/json/APPLICATION/ADOBE_EXPRNCE_MGR/FIRM/SANCTIONED_FIRM"

// Config points the scraper at the API.
type Config struct {
	URL    string
	APIKey string
}

// Scraper downloads the full list and filters it locally by firm name.
type Scraper struct {
	cfg     Config
	client  *http.Client
	retrier *resilience.Retrier
	clock   screening.Clock
	logger  *zap.Logger
}

// New builds a Scraper. An empty URL uses DefaultURL.
func New(cfg Config, client *http.Client, retrier *resilience.Retrier, clock screening.Clock, logger *zap.Logger) *Scraper {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if clock == nil {
		clock = utcClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{cfg: cfg, client: client, retrier: retrier, clock: clock, logger: logger}
}

// ErrUnexpectedPayload means the response lacked response.ZPROCSUPP.
var ErrUnexpectedPayload = errors.New("unexpected payload: expected response.ZPROCSUPP array")

type payload struct {
	Response struct {
		Firms []map[string]json.RawMessage `json:"ZPROCSUPP"`
	} `json:"response"`
}

// Scrape returns every firm whose name contains the entity name, case-insensitively.
func (s *Scraper) Scrape(ctx context.Context, name screening.EntityName) ([]screening.Hit, error) {
	s.logger.Info("querying World Bank debarment list", zap.String("entity", name.String()))
	body, err := resilience.Call(ctx, s.retrier, "worldbank.api", s.fetch)
	if err != nil {
		return nil, screening.NewScrapingError(screening.SourceWorldBank, err)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, screening.NewScrapingError(screening.SourceWorldBank, fmt.Errorf("decode response: %w", err))
	}
	if p.Response.Firms == nil {
		return nil, screening.NewScrapingError(screening.SourceWorldBank, ErrUnexpectedPayload)
	}

	term := strings.ToLower(name.String())
	now := s.clock.Now()
	hits := []screening.Hit{}
	for _, firm := range p.Response.Firms {
		firmName := field(firm, "SUPP_NAME")
		if strings.TrimSpace(firmName) == "" || !strings.Contains(strings.ToLower(firmName), term) {
			continue
		}
		hits = append(hits, toHit(firm, firmName, now))
	}
	s.logger.Info("World Bank search complete", zap.String("entity", name.String()), zap.Int("hits", len(hits)))
	return hits, nil
}

func (s *Scraper) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Origin", "https://projects.worldbank.org")
	req.Header.Set("Referer", "https://projects.worldbank.org/")
	if s.cfg.APIKey != "" {
		req.Header.Set("apikey", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worldbank request: %w", err)
	}
	if err := source.CheckStatus(resp); err != nil {
		return nil, err
	}
	defer source.DrainAndClose(resp)

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		// A body cut short mid-transfer is worth another attempt.
		return nil, resilience.Transient(fmt.Errorf("read body: %w", err))
	}
	return buf.Bytes(), nil
}

func toHit(firm map[string]json.RawMessage, firmName string, now time.Time) screening.Hit {
	info := field(firm, "ADD_SUPP_INFO")
	city := field(firm, "SUPP_CITY")
	addr := field(firm, "SUPP_ADDR")

	fullName := firmName
	if strings.TrimSpace(info) != "" {
		fullName = fmt.Sprintf("%s (%s)", firmName, info)
	}
	fullAddr := "N/A"
	if strings.TrimSpace(addr) != "" || strings.TrimSpace(city) != "" {
		fullAddr = strings.Trim(addr+", "+city, " ,")
	}

	return screening.NewHit(fullName, screening.SourceWorldBank, map[string]string{
		"FirmName": fullName,
		"Address":  fullAddr,
		"Country":  orNA(field(firm, "COUNTRY_NAME")),
		"FromDate": orNA(field(firm, "DEBAR_FROM_DATE")),
		"ToDate":   orNA(field(firm, "DEBAR_TO_DATE")),
		"Grounds":  orNA(field(firm, "DEBAR_REASON")),
	}, nil, now)
}

// field reads a string or numeric property; null, missing or other kinds yield "".
func field(firm map[string]json.RawMessage, key string) string {
	raw, ok := firm[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

var _ screening.Scraper = (*Scraper)(nil)
