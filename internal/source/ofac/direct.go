package ofac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/resilience"
	"github.com/JakeFAU/risk-screener/internal/screening"
)

// DefaultSearchURL is the Treasury sanctions search form.
const DefaultSearchURL = "https://sanctionssearch.ofac.treas.gov/"

const (
	lastNameInput  = `input[id$='txtLastName']`
	searchButton   = `input[id$='btnSearch']`
	resultsMarker  = `table[id*='gvSearchResults'], [id$='lblFoundRecords']`
	resultsTimeout = 15 * time.Second
	directScore    = 100.0
)

// extractRowsJS reads up to MaxResults result rows, skipping header and navigation rows.
var extractRowsJS = fmt.Sprintf(`(() => {
  const out = [];
  const table = document.querySelector("table[id*='gvSearchResults']");
  if (!table) { return out; }
  const rows = table.querySelectorAll('tr');
  for (let i = 1; i < rows.length && out.length < %d; i++) {
    const cells = rows[i].querySelectorAll('td');
    if (cells.length < 3) { continue; }
    out.push(Array.from(cells).map(c => (c.textContent || '').trim()));
  }
  return out;
})()`, MaxResults)

// Runner executes browser actions in a fresh tab. *browser.Session satisfies it.
type Runner interface {
	Run(ctx context.Context, actions ...chromedp.Action) (int, error)
}

// DirectScraper drives the sanctions search form through the shared browser.
type DirectScraper struct {
	runner    Runner
	searchURL string
	retrier   *resilience.Retrier
	clock     screening.Clock
	logger    *zap.Logger
}

// NewDirectScraper builds a DirectScraper. An empty searchURL uses DefaultSearchURL.
func NewDirectScraper(runner Runner, searchURL string, retrier *resilience.Retrier, clock screening.Clock, logger *zap.Logger) *DirectScraper {
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	if clock == nil {
		clock = utcClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectScraper{runner: runner, searchURL: searchURL, retrier: retrier, clock: clock, logger: logger}
}

// Scrape submits the search form and parses the result grid.
func (s *DirectScraper) Scrape(ctx context.Context, name screening.EntityName) ([]screening.Hit, error) {
	s.logger.Info("scraping OFAC search form", zap.String("entity", name.String()))
	rows, err := resilience.Call(ctx, s.retrier, "ofac.direct", func(ctx context.Context) ([][]string, error) {
		return s.search(ctx, name.String())
	})
	if err != nil {
		return nil, screening.NewScrapingError(screening.SourceOFAC, err)
	}
	hits := rowsToHits(rows, s.clock.Now())
	s.logger.Info("OFAC direct search complete", zap.String("entity", name.String()), zap.Int("hits", len(hits)))
	return hits, nil
}

func (s *DirectScraper) search(ctx context.Context, term string) ([][]string, error) {
	var rows [][]string
	status, err := s.runner.Run(ctx,
		chromedp.Navigate(s.searchURL),
		chromedp.WaitVisible(lastNameInput, chromedp.ByQuery),
		chromedp.SendKeys(lastNameInput, term, chromedp.ByQuery),
		chromedp.Click(searchButton, chromedp.ByQuery),
		waitForResults(),
		chromedp.Evaluate(extractRowsJS, &rows),
	)
	if status >= 400 {
		return nil, &resilience.StatusError{StatusCode: status, URL: s.searchURL}
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// waitForResults waits for the result grid or the "found records" label. A
// timeout here means the page rendered no results, which is not an error.
func waitForResults() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, resultsTimeout)
		defer cancel()
		err := chromedp.WaitReady(resultsMarker, chromedp.ByQuery).Do(waitCtx)
		if err != nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil
		}
		return err
	})
}

// rowsToHits maps grid rows (name, address, type, programs, list) onto hits.
func rowsToHits(rows [][]string, now time.Time) []screening.Hit {
	hits := make([]screening.Hit, 0, len(rows))
	for _, cells := range rows {
		if len(cells) < 3 {
			continue
		}
		name := strings.TrimSpace(cells[0])
		if name == "" || strings.Contains(name, "Download") || strings.Contains(name, "Search") {
			continue
		}
		programs, list := "N/A", "SDN"
		if len(cells) > 3 {
			programs = orNA(cells[3])
		}
		if len(cells) > 4 && strings.TrimSpace(cells[4]) != "" {
			list = strings.TrimSpace(cells[4])
		}
		hits = append(hits, newHit(name, orNA(cells[1]), orNA(cells[2]), programs, list,
			screening.Score(directScore), now))
		if len(hits) == MaxResults {
			break
		}
	}
	return hits
}

var _ screening.Scraper = (*DirectScraper)(nil)
