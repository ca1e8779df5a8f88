// Package ratelimit implements per-client sliding-window admission control.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/metrics"
	"github.com/JakeFAU/risk-screener/internal/screening"
)

// Defaults mirror the service's documented quota.
const (
	DefaultMaxCalls = 20
	DefaultWindow   = 60 * time.Second
)

// Config holds limiter configuration.
type Config struct {
	MaxCalls int
	Window   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxCalls <= 0 {
		c.MaxCalls = DefaultMaxCalls
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Limiter keeps a window of admission timestamps per client. The
// prune-check-append sequence for a client runs under one lock.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	cfg     Config
	clock   screening.Clock
	logger  *zap.Logger
}

type window struct {
	stamps    []time.Time
	expiresAt time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock injects the time source.
func WithClock(c screening.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		cfg:     cfg.withDefaults(),
		clock:   systemClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the per-window quota.
func (l *Limiter) Limit() int {
	return l.cfg.MaxCalls
}

// Admit records a call for clientID, or returns a *screening.RateLimitExceededError.
func (l *Limiter) Admit(_ context.Context, clientID string) error {
	if clientID == "" {
		return errors.New("client id is required")
	}
	now := l.clock.Now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[clientID]
	if !ok {
		w = &window{}
		l.windows[clientID] = w
	}
	w.stamps = prune(w.stamps, cutoff)

	if len(w.stamps) >= l.cfg.MaxCalls {
		retryAfter := w.stamps[0].Add(l.cfg.Window).Sub(now)
		metrics.ObserveRateLimitRejection()
		l.logger.Info("rate limit exceeded",
			zap.String("client_id", clientID),
			zap.Int("limit", l.cfg.MaxCalls),
			zap.Duration("retry_after", retryAfter),
		)
		return &screening.RateLimitExceededError{
			ClientID:   clientID,
			Limit:      l.cfg.MaxCalls,
			RetryAfter: retryAfter,
		}
	}
	w.stamps = append(w.stamps, now)
	w.expiresAt = now.Add(l.cfg.Window)
	return nil
}

// Remaining reports how many calls clientID may still make in the current
// window. It never records a call.
func (l *Limiter) Remaining(_ context.Context, clientID string) (int, error) {
	cutoff := l.clock.Now().Add(-l.cfg.Window)

	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.windows[clientID]
	if !ok {
		return l.cfg.MaxCalls, nil
	}
	live := 0
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			live++
		}
	}
	return max(0, l.cfg.MaxCalls-live), nil
}

// Sweep evicts clients whose window has fully elapsed and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, w := range l.windows {
		if !now.Before(w.expiresAt) {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Run sweeps idle clients every window until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("evicted idle rate limit windows", zap.Int("count", n))
			}
		}
	}
}

// clients returns the number of tracked clients.
func (l *Limiter) clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// prune drops timestamps at or before cutoff. Stamps are appended in order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

var _ screening.RateLimiter = (*Limiter)(nil)

// String describes the limiter configuration.
func (l *Limiter) String() string {
	return fmt.Sprintf("sliding window: %d calls per %s", l.cfg.MaxCalls, l.cfg.Window)
}
