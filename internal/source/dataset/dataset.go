// Package dataset serves screening hits from a keyword-indexed fixture file,
// used for offline runs and as the OFAC API fallback when no endpoint is configured.
package dataset

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/risk-screener/internal/screening"
)

//go:embed datasets.yaml
var embedded []byte

// minFuzzyTermLength is the shortest search term that triggers name matching.
const minFuzzyTermLength = 4

// Record is one canned match.
type Record struct {
	Name       string            `yaml:"name"`
	Score      *float64          `yaml:"score"`
	Attributes map[string]string `yaml:"attributes"`
}

// Entry groups the records returned for a keyword.
type Entry struct {
	Keyword string   `yaml:"keyword"`
	Records []Record `yaml:"records"`
}

// SourceData is the fixture block for one source.
type SourceData struct {
	// NameAttribute, when set, also stores the record name under this attribute key.
	NameAttribute    string   `yaml:"name_attribute"`
	ExcludeTerms     []string `yaml:"exclude_terms"`
	FuzzyScoreFactor float64  `yaml:"fuzzy_score_factor"`
	Entries          []Entry  `yaml:"entries"`
}

// Dataset maps sources to their fixtures.
type Dataset map[screening.Source]SourceData

// Default decodes the embedded fixtures.
func Default() (Dataset, error) {
	return Load(bytes.NewReader(embedded))
}

// LoadFile decodes fixtures from path.
func LoadFile(path string) (Dataset, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Load(f)
}

// Load decodes fixtures from r. Top-level keys are source names.
func Load(r io.Reader) (Dataset, error) {
	var raw map[string]SourceData
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	out := make(Dataset, len(raw))
	for key, data := range raw {
		src, err := screening.ParseSource(key)
		if err != nil {
			return nil, fmt.Errorf("dataset: %w", err)
		}
		for i := range data.Entries {
			data.Entries[i].Keyword = strings.ToLower(strings.TrimSpace(data.Entries[i].Keyword))
			if data.Entries[i].Keyword == "" {
				return nil, fmt.Errorf("dataset %s: entry %d has an empty keyword", src, i)
			}
		}
		out[src] = data
	}
	return out, nil
}

// Scraper returns the fixture scraper for source.
func (d Dataset) Scraper(source screening.Source, clock screening.Clock) (*Scraper, error) {
	data, ok := d[source]
	if !ok {
		return nil, fmt.Errorf("dataset has no fixtures for %s", source)
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &Scraper{source: source, data: data, clock: clock}, nil
}

// Scraper matches an entity against one source's fixtures.
type Scraper struct {
	source screening.Source
	data   SourceData
	clock  screening.Clock
}

// Scrape returns every record whose keyword occurs in the search term. If none
// do and the term is long enough (and not an excluded placeholder), records
// whose name contains the term are returned with a discounted score.
func (s *Scraper) Scrape(ctx context.Context, name screening.EntityName) ([]screening.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	term := strings.ToLower(name.String())
	now := s.clock.Now()

	hits := []screening.Hit{}
	for _, entry := range s.data.Entries {
		if !strings.Contains(term, entry.Keyword) {
			continue
		}
		for _, rec := range entry.Records {
			hits = append(hits, s.hit(rec, rec.Score, now))
		}
	}
	if len(hits) > 0 || len([]rune(term)) < minFuzzyTermLength || s.excluded(term) {
		return hits, nil
	}

	for _, entry := range s.data.Entries {
		for _, rec := range entry.Records {
			if !strings.Contains(strings.ToLower(rec.Name), term) {
				continue
			}
			hits = append(hits, s.hit(rec, s.discount(rec.Score), now))
		}
	}
	return hits, nil
}

func (s *Scraper) hit(rec Record, score *float64, now time.Time) screening.Hit {
	attrs := make(map[string]string, len(rec.Attributes)+1)
	for k, v := range rec.Attributes {
		attrs[k] = v
	}
	if s.data.NameAttribute != "" {
		attrs[s.data.NameAttribute] = rec.Name
	}
	return screening.NewHit(rec.Name, s.source, attrs, score, now)
}

func (s *Scraper) discount(score *float64) *float64 {
	if score == nil {
		return nil
	}
	factor := s.data.FuzzyScoreFactor
	if factor <= 0 {
		factor = 1
	}
	return screening.Score(*score * factor)
}

func (s *Scraper) excluded(term string) bool {
	for _, ex := range s.data.ExcludeTerms {
		if ex != "" && strings.Contains(term, strings.ToLower(ex)) {
			return true
		}
	}
	return false
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
