// Package offshoreleaks scrapes the ICIJ Offshore Leaks search results page.
package offshoreleaks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/resilience"
	"github.com/JakeFAU/risk-screener/internal/screening"
	"github.com/JakeFAU/risk-screener/internal/source"
)

// DefaultSearchURL is the public search page.
const DefaultSearchURL = "https://offshoreleaks.icij.org/search"

// rowSelector matches one result row. Cells are entity, jurisdiction, linked-to, data-from.
const rowSelector = "table.search__results__table tbody tr"

// maxResults bounds hits per query.
const maxResults = 50

// Config controls the collector.
type Config struct {
	SearchURL string
	UserAgent string
	Timeout   time.Duration
}

// Scraper runs one colly visit per attempt against the search page.
type Scraper struct {
	cfg           Config
	baseCollector *colly.Collector
	retrier       *resilience.Retrier
	clock         screening.Clock
	logger        *zap.Logger
}

// New builds a Scraper.
func New(cfg Config, retrier *resilience.Retrier, clock screening.Clock, logger *zap.Logger) *Scraper {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = source.DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if clock == nil {
		clock = utcClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(source.NewTransport())
	return &Scraper{cfg: cfg, baseCollector: c, retrier: retrier, clock: clock, logger: logger}
}

type row struct {
	entity, jurisdiction, linkedTo, dataFrom string
}

// Scrape searches for the entity and returns one hit per result row.
func (s *Scraper) Scrape(ctx context.Context, name screening.EntityName) ([]screening.Hit, error) {
	s.logger.Info("searching Offshore Leaks", zap.String("entity", name.String()))
	target, err := s.searchURL(name.String())
	if err != nil {
		return nil, screening.NewScrapingError(screening.SourceOffshoreLeaks, err)
	}
	rows, err := resilience.Call(ctx, s.retrier, "offshoreleaks.search", func(ctx context.Context) ([]row, error) {
		return s.visit(ctx, target)
	})
	if err != nil {
		return nil, screening.NewScrapingError(screening.SourceOffshoreLeaks, err)
	}

	now := s.clock.Now()
	hits := make([]screening.Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, screening.NewHit(r.entity, screening.SourceOffshoreLeaks, map[string]string{
			"Entity":       r.entity,
			"Jurisdiction": orNA(r.jurisdiction),
			"LinkedTo":     orNA(r.linkedTo),
			"DataFrom":     orNA(r.dataFrom),
		}, nil, now))
	}
	s.logger.Info("Offshore Leaks search complete", zap.String("entity", name.String()), zap.Int("hits", len(hits)))
	return hits, nil
}

func (s *Scraper) searchURL(term string) (string, error) {
	u, err := url.Parse(s.cfg.SearchURL)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}
	q := u.Query()
	q.Set("q", term)
	q.Set("c", "")
	q.Set("j", "")
	q.Set("d", "")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Scraper) buildCollector(ctx context.Context, rows *[]row, fetchErr *error, mu *sync.Mutex) *colly.Collector {
	collector := s.baseCollector.Clone()
	// In-flight requests are aborted with the attempt's context.
	collector.Context = ctx
	collector.UserAgent = s.cfg.UserAgent
	collector.SetRequestTimeout(s.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
	})
	collector.OnHTML(rowSelector, func(e *colly.HTMLElement) {
		var cells []string
		e.ForEach("td", func(_ int, td *colly.HTMLElement) {
			cells = append(cells, strings.Join(strings.Fields(td.Text), " "))
		})
		if len(cells) == 0 || cells[0] == "" {
			return
		}
		for len(cells) < 4 {
			cells = append(cells, "")
		}
		mu.Lock()
		defer mu.Unlock()
		if len(*rows) < maxResults {
			*rows = append(*rows, row{entity: cells[0], jurisdiction: cells[1], linkedTo: cells[2], dataFrom: cells[3]})
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = &resilience.StatusError{StatusCode: r.StatusCode, URL: r.Request.URL.Redacted()}
			return
		}
		*fetchErr = err
	})
	return collector
}

func (s *Scraper) visit(ctx context.Context, target string) ([]row, error) {
	var (
		mu       sync.Mutex
		rows     []row
		fetchErr error
	)
	collector := s.buildCollector(ctx, &rows, &fetchErr, &mu)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("offshore leaks visit canceled: %w", ctx.Err())
	case err := <-done:
		mu.Lock()
		defer mu.Unlock()
		if fetchErr != nil {
			return nil, fmt.Errorf("offshore leaks response failed: %w", fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("offshore leaks visit failed: %w", err)
		}
		return rows, nil
	}
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
