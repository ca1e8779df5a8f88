package screening

import (
	"context"
	"io"
	"time"
)

// Scraper produces hits for an entity from one source.
type Scraper interface {
	Scrape(ctx context.Context, name EntityName) ([]Hit, error)
}

// ScraperFunc adapts a function to the Scraper interface.
type ScraperFunc func(ctx context.Context, name EntityName) ([]Hit, error)

// Scrape calls f.
func (f ScraperFunc) Scrape(ctx context.Context, name EntityName) ([]Hit, error) {
	return f(ctx, name)
}

// Registry maps each source to the single capability that serves it. Hybrid
// sources register their selector here.
type Registry map[Source]Scraper

// Screener runs one screening across the requested sources.
type Screener interface {
	Screen(ctx context.Context, name EntityName, sources []Source) (Result, error)
}

// RateLimiter admits or rejects calls per client identifier. Admit returns a
// *RateLimitExceededError when the client is over quota.
type RateLimiter interface {
	Admit(ctx context.Context, clientID string) error
	Remaining(ctx context.Context, clientID string) (int, error)
	Limit() int
}

// ResultStore persists screening reports.
type ResultStore interface {
	SaveReport(ctx context.Context, report Report) error
	GetReport(ctx context.Context, id string) (Report, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces report IDs.
type IDGenerator interface {
	NewID() (string, error)
}
