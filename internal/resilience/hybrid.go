package resilience

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/metrics"
	"github.com/JakeFAU/risk-screener/internal/screening"
)

// Mode selects which strategy serves a dual-strategy source.
type Mode string

// Supported modes.
const (
	// ModeAPI uses only the primary (API) strategy.
	ModeAPI Mode = "api"
	// ModeDirect uses only the secondary (direct scrape) strategy.
	ModeDirect Mode = "direct"
	// ModeHybrid tries the secondary first and falls back to the primary.
	ModeHybrid Mode = "hybrid"
)

// ParseMode maps a config string to a Mode. Empty means ModeAPI.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeAPI:
		return ModeAPI, nil
	case ModeDirect:
		return ModeDirect, nil
	case ModeHybrid:
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown scraping mode %q", raw)
	}
}

// Selector is the single capability registered for a dual-strategy source.
type Selector struct {
	source    screening.Source
	mode      Mode
	primary   screening.Scraper
	secondary screening.Scraper
	logger    *zap.Logger
}

// NewSelector builds a Selector. A nil secondary forces ModeAPI.
func NewSelector(source screening.Source, mode Mode, primary, secondary screening.Scraper, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secondary == nil {
		mode = ModeAPI
	}
	return &Selector{
		source:    source,
		mode:      mode,
		primary:   primary,
		secondary: secondary,
		logger:    logger.With(zap.String("source", source.String()), zap.String("mode", string(mode))),
	}
}

// Mode returns the effective mode.
func (s *Selector) Mode() Mode {
	return s.mode
}

// Scrape dispatches by mode. In hybrid mode the secondary runs first; its error
// or an empty result triggers one sequential call to the primary, whose outcome
// is final. Cancellation skips the fallback.
func (s *Selector) Scrape(ctx context.Context, name screening.EntityName) ([]screening.Hit, error) {
	switch s.mode {
	case ModeDirect:
		return s.secondary.Scrape(ctx, name)
	case ModeHybrid:
		hits, err := s.secondary.Scrape(ctx, name)
		if err == nil && len(hits) > 0 {
			return hits, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		reason := "empty"
		if err != nil {
			reason = "error"
			s.logger.Warn("direct strategy failed, falling back to api", zap.Error(err))
		} else {
			s.logger.Info("direct strategy returned no hits, falling back to api")
		}
		metrics.ObserveHybridFallback(s.source.String(), reason)
		return s.primary.Scrape(ctx, name)
	default:
		return s.primary.Scrape(ctx, name)
	}
}

var _ screening.Scraper = (*Selector)(nil)
