// Package screening defines the core screening types and the orchestration layer that
// fans a single entity out to several risk data sources and merges what comes back.
package screening

import (
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode/utf8"
)

// Entity name length bounds, counted in characters after trimming.
const (
	MinEntityNameLength = 2
	MaxEntityNameLength = 200
)

// MaxSourcesPerScreening caps how many sources one screening call may request.
const MaxSourcesPerScreening = 3

// Source names an external risk data source.
type Source string

// Supported sources.
const (
	SourceOFAC          Source = "OFAC"
	SourceWorldBank     Source = "WorldBank"
	SourceOffshoreLeaks Source = "OffshoreLeaks"
)

// AllSources lists every known source in a stable order.
func AllSources() []Source {
	return []Source{SourceOFAC, SourceWorldBank, SourceOffshoreLeaks}
}

// ParseSource maps a case-insensitive name (with optional '_' or '-' separators) to a Source.
func ParseSource(raw string) (Source, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	switch key {
	case "ofac":
		return SourceOFAC, nil
	case "worldbank":
		return SourceWorldBank, nil
	case "offshoreleaks":
		return SourceOffshoreLeaks, nil
	default:
		return "", fmt.Errorf("%w: unknown source %q", ErrInvalidSources, raw)
	}
}

// ParseSources validates a requested source list: at least one, at most
// MaxSourcesPerScreening after collapsing duplicates, all known.
func ParseSources(raw []string) ([]Source, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: at least one source must be specified", ErrInvalidSources)
	}
	seen := make(map[Source]struct{}, len(raw))
	out := make([]Source, 0, len(raw))
	for _, r := range raw {
		src, err := ParseSource(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	if len(out) > MaxSourcesPerScreening {
		return nil, fmt.Errorf("%w: maximum %d sources allowed", ErrInvalidSources, MaxSourcesPerScreening)
	}
	return out, nil
}

// String returns the source tag.
func (s Source) String() string {
	return string(s)
}

// EntityName is a validated, trimmed search subject. The zero value is invalid;
// construct it with NewEntityName.
type EntityName struct {
	value string
}

// NewEntityName trims raw and checks its length bounds.
func NewEntityName(raw string) (EntityName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntityName{}, fmt.Errorf("%w: entity name cannot be empty", ErrInvalidEntityName)
	}
	n := utf8.RuneCountInString(trimmed)
	if n < MinEntityNameLength {
		return EntityName{}, fmt.Errorf("%w: entity name must have at least %d characters",
			ErrInvalidEntityName, MinEntityNameLength)
	}
	if n > MaxEntityNameLength {
		return EntityName{}, fmt.Errorf("%w: entity name cannot exceed %d characters",
			ErrInvalidEntityName, MaxEntityNameLength)
	}
	return EntityName{value: trimmed}, nil
}

// String returns the trimmed name.
func (n EntityName) String() string {
	return n.value
}

// IsZero reports whether n was never constructed.
func (n EntityName) IsZero() bool {
	return n.value == ""
}

// MarshalText implements encoding.TextMarshaler.
func (n EntityName) MarshalText() ([]byte, error) {
	return []byte(n.value), nil
}

// UnmarshalText re-validates the stored name.
func (n *EntityName) UnmarshalText(text []byte) error {
	parsed, err := NewEntityName(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Hit is a single match record attributed to one source.
type Hit struct {
	EntityName string            `json:"entity_name"`
	Source     Source            `json:"source"`
	Attributes map[string]string `json:"attributes"`
	// MatchScore is optional and uses the source's own scale ([0,1] or [0,100]).
	MatchScore *float64  `json:"match_score,omitempty"`
	ScrapedAt  time.Time `json:"scraped_at"`
}

// NewHit builds a Hit holding its own copy of attrs.
func NewHit(entityName string, source Source, attrs map[string]string, score *float64, scrapedAt time.Time) Hit {
	hit := Hit{
		EntityName: entityName,
		Source:     source,
		Attributes: maps.Clone(attrs),
		ScrapedAt:  scrapedAt,
	}
	if hit.Attributes == nil {
		hit.Attributes = map[string]string{}
	}
	if score != nil {
		v := *score
		hit.MatchScore = &v
	}
	return hit
}

// Score is a convenience for building optional match scores.
func Score(v float64) *float64 {
	return &v
}

// Result aggregates one screening invocation.
type Result struct {
	SearchedEntity EntityName    `json:"searched_entity"`
	TotalHits      int           `json:"total_hits"`
	Hits           []Hit         `json:"hits"`
	Errors         []string      `json:"errors"`
	SearchedAt     time.Time     `json:"searched_at"`
	ExecutionTime  time.Duration `json:"execution_time"`
}

// HasErrors reports whether any source failed. An empty error list is the only
// signal of a fully clean run.
func (r Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasHits reports whether any source matched.
func (r Result) HasHits() bool {
	return r.TotalHits > 0
}

// Report is a persisted screening result.
type Report struct {
	ID      string   `json:"id"`
	Sources []Source `json:"sources"`
	Result  Result   `json:"result"`
}
