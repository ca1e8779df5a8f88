package resilience

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/risk-screener/internal/metrics"
	"github.com/JakeFAU/risk-screener/internal/screening"
)

// ThrottleConfig holds the outbound request budget for one source.
type ThrottleConfig struct {
	RPS   float64
	Burst int
}

// Throttle spaces out calls to one upstream source with a token bucket.
type Throttle struct {
	source  screening.Source
	limiter *rate.Limiter
	next    screening.Scraper
}

// NewThrottle wraps next. RPS <= 0 disables throttling.
func NewThrottle(source screening.Source, cfg ThrottleConfig, next screening.Scraper) *Throttle {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		source:  source,
		limiter: rate.NewLimiter(r, burst),
		next:    next,
	}
}

// Wait blocks until a token is available, respecting ctx.
func (t *Throttle) Wait(ctx context.Context) error {
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	// Immediate grants are not interesting.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveThrottleDelay(t.source.String(), d)
	}
	return nil
}

// Scrape waits for a token, then delegates.
func (t *Throttle) Scrape(ctx context.Context, name screening.EntityName) ([]screening.Hit, error) {
	if err := t.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Scrape(ctx, name)
}

var _ screening.Scraper = (*Throttle)(nil)
