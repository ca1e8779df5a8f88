package screening

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/risk-screener/internal/metrics"
)

const tracerName = "github.com/JakeFAU/risk-screener/internal/screening"

// Orchestrator fans a screening out to every requested source concurrently and
// merges the outcomes. A failing source never aborts its siblings.
type Orchestrator struct {
	registry Registry
	clock    Clock
	logger   *zap.Logger
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the wall clock that stamps SearchedAt when a screening starts.
func WithClock(c Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// NewOrchestrator wires a registry of scrapers.
func NewOrchestrator(registry Registry, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		registry: registry,
		clock:    utcClock{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// outcome is the private buffer one task writes exactly once.
type outcome struct {
	hits []Hit
	err  error
}

// Screen runs every requested source and returns the merged result. Per-source
// failures become error entries; only caller cancellation fails the call.
func (o *Orchestrator) Screen(ctx context.Context, name EntityName, sources []Source) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "screening.Screen")
	defer span.End()
	span.SetAttributes(
		attribute.String("screening.entity", name.String()),
		attribute.Int("screening.sources", len(sources)),
	)

	start := time.Now()
	searchedAt := o.clock.Now()
	if err := ctx.Err(); err != nil {
		metrics.ObserveScreening("canceled")
		return Result{}, fmt.Errorf("screening canceled: %w", err)
	}

	outcomes := make([]outcome, len(sources))
	g := new(errgroup.Group)
	for i, src := range sources {
		scraper, ok := o.registry[src]
		if !ok || scraper == nil {
			outcomes[i] = outcome{err: ErrSourceUnavailable}
			continue
		}
		g.Go(func() error {
			outcomes[i] = o.run(ctx, src, scraper, name)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "canceled")
		metrics.ObserveScreening("canceled")
		o.logger.Info("screening canceled", zap.String("entity", name.String()), zap.Error(err))
		return Result{}, fmt.Errorf("screening canceled: %w", err)
	}

	result := Result{
		SearchedEntity: name,
		Hits:           []Hit{},
		Errors:         []string{},
		SearchedAt:     searchedAt,
	}
	for i, src := range sources {
		out := outcomes[i]
		if out.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", src, errorMessage(out.err)))
			continue
		}
		for _, hit := range out.hits {
			// Hits are attributed to the source whose task produced them.
			hit.Source = src
			result.Hits = append(result.Hits, hit)
		}
	}
	result.TotalHits = len(result.Hits)
	result.ExecutionTime = time.Since(start)

	status := "clean"
	if result.HasErrors() {
		status = "partial"
		if len(result.Errors) == len(sources) {
			status = "failed"
		}
	}
	metrics.ObserveScreening(status)
	span.SetAttributes(
		attribute.Int("screening.total_hits", result.TotalHits),
		attribute.Int("screening.errors", len(result.Errors)),
	)
	o.logger.Info("screening completed",
		zap.String("entity", name.String()),
		zap.Int("total_hits", result.TotalHits),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("elapsed", result.ExecutionTime),
	)
	return result, nil
}

// run executes one source task, converting panics into errors.
func (o *Orchestrator) run(ctx context.Context, src Source, scraper Scraper, name EntityName) (out outcome) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "screening.source")
	defer span.End()
	span.SetAttributes(attribute.String("screening.source", src.String()))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("scraper panic: %v", r)}
		}
		label := "success"
		if out.err != nil {
			label = "error"
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
			o.logger.Warn("source failed",
				zap.String("source", src.String()),
				zap.String("entity", name.String()),
				zap.Error(out.err),
			)
		}
		metrics.ObserveScrape(src.String(), label, time.Since(start))
	}()

	hits, err := scraper.Scrape(ctx, name)
	if err != nil {
		return outcome{err: err}
	}
	o.logger.Debug("source completed",
		zap.String("source", src.String()),
		zap.Int("hits", len(hits)),
	)
	return outcome{hits: hits}
}

// errorMessage strips the ScrapingError prefix so entries read "<source>: <cause>".
func errorMessage(err error) string {
	if se, ok := err.(*ScrapingError); ok && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
