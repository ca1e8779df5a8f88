package screening

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEntityName marks an entity name outside the accepted bounds.
	ErrInvalidEntityName = errors.New("invalid entity name")
	// ErrInvalidSources marks an empty, oversized, or unknown source set.
	ErrInvalidSources = errors.New("invalid sources")
	// ErrSourceUnavailable means no scraper is registered for a requested source.
	ErrSourceUnavailable = errors.New("source not available")
	// ErrReportNotFound is returned when a stored report id is unknown.
	ErrReportNotFound = errors.New("report not found")
)

// IsInvalidInput reports whether err is an input-contract violation.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidEntityName) || errors.Is(err, ErrInvalidSources)
}

// RateLimitExceededError rejects a call that exceeded the client's quota. It is a
// typed condition, not a failure, and always carries the retry-after hint.
type RateLimitExceededError struct {
	ClientID   string
	Limit      int
	RetryAfter time.Duration
}

// Error implements error.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds())
}

// RetryAfterSeconds returns the whole-second hint exposed to callers: the
// truncated duration plus one, never below one.
func (e *RateLimitExceededError) RetryAfterSeconds() int {
	secs := int(e.RetryAfter/time.Second) + 1
	if secs < 1 {
		return 1
	}
	return secs
}

// AsRateLimitExceeded unwraps a RateLimitExceededError.
func AsRateLimitExceeded(err error) (*RateLimitExceededError, bool) {
	var rle *RateLimitExceededError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// ScrapingError tags a scraper failure with its source.
type ScrapingError struct {
	Source Source
	Err    error
}

// NewScrapingError wraps err for source. A nil err yields nil.
func NewScrapingError(source Source, err error) error {
	if err == nil {
		return nil
	}
	var existing *ScrapingError
	if errors.As(err, &existing) && existing.Source == source {
		return err
	}
	return &ScrapingError{Source: source, Err: err}
}

// Error implements error.
func (e *ScrapingError) Error() string {
	return fmt.Sprintf("error scraping %s: %v", e.Source, e.Err)
}

// Unwrap exposes the cause.
func (e *ScrapingError) Unwrap() error {
	return e.Err
}
