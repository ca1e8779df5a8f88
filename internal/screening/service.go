package screening

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/metrics"
)

// CompletedEvent is published after each screening.
type CompletedEvent struct {
	ReportID   string   `json:"report_id"`
	Entity     string   `json:"entity"`
	Sources    []Source `json:"sources"`
	TotalHits  int      `json:"total_hits"`
	Errors     []string `json:"errors"`
	ArchiveURI string   `json:"archive_uri,omitempty"`
}

// ServiceConfig tunes the post-screening persistence steps.
type ServiceConfig struct {
	ArchivePrefix string
	Topic         string
}

// Service validates raw requests, runs the screener, and records the outcome.
// Storage, archive, and publishing are optional and best-effort.
type Service struct {
	screener  Screener
	store     ResultStore
	blobs     BlobStore
	publisher Publisher
	ids       IDGenerator
	cfg       ServiceConfig
	logger    *zap.Logger
}

// ServiceDeps groups the collaborators of a Service. Nil stores are skipped.
type ServiceDeps struct {
	Screener  Screener
	Store     ResultStore
	Blobs     BlobStore
	Publisher Publisher
	IDs       IDGenerator
	Logger    *zap.Logger
}

// NewService builds a Service.
func NewService(cfg ServiceConfig, deps ServiceDeps) (*Service, error) {
	if deps.Screener == nil {
		return nil, errors.New("screener is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "screenings"
	}
	if cfg.Topic == "" {
		cfg.Topic = "screening.completed"
	}
	return &Service{
		screener:  deps.Screener,
		store:     deps.Store,
		blobs:     deps.Blobs,
		publisher: deps.Publisher,
		ids:       deps.IDs,
		cfg:       cfg,
		logger:    deps.Logger,
	}, nil
}

// Screen validates the raw name and sources, screens, and persists the report.
func (s *Service) Screen(ctx context.Context, rawName string, rawSources []string) (Report, error) {
	name, err := NewEntityName(rawName)
	if err != nil {
		return Report{}, err
	}
	sources, err := ParseSources(rawSources)
	if err != nil {
		return Report{}, err
	}

	result, err := s.screener.Screen(ctx, name, sources)
	if err != nil {
		return Report{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate report id: %w", err)
	}
	report := Report{ID: id, Sources: sources, Result: result}
	// A client that disconnects after screening completes still gets its report recorded.
	s.persist(context.WithoutCancel(ctx), report)
	return report, nil
}

// Get loads a stored report.
func (s *Service) Get(ctx context.Context, id string) (Report, error) {
	if s.store == nil {
		return Report{}, ErrReportNotFound
	}
	return s.store.GetReport(ctx, id)
}

func (s *Service) persist(ctx context.Context, report Report) {
	logger := s.logger.With(zap.String("report_id", report.ID))

	if s.store != nil {
		if err := s.store.SaveReport(ctx, report); err != nil {
			metrics.ObservePersistenceFailure("store")
			logger.Error("failed to save report", zap.Error(err))
		}
	}

	var archiveURI string
	if s.blobs != nil {
		uri, err := s.archive(ctx, report)
		if err != nil {
			metrics.ObservePersistenceFailure("archive")
			logger.Error("failed to archive report", zap.Error(err))
		}
		archiveURI = uri
	}

	if s.publisher != nil {
		event := CompletedEvent{
			ReportID:   report.ID,
			Entity:     report.Result.SearchedEntity.String(),
			Sources:    report.Sources,
			TotalHits:  report.Result.TotalHits,
			Errors:     report.Result.Errors,
			ArchiveURI: archiveURI,
		}
		msgID, err := s.publisher.Publish(ctx, s.cfg.Topic, event)
		if err != nil {
			metrics.ObservePersistenceFailure("publish")
			logger.Error("failed to publish screening event", zap.Error(err))
			return
		}
		logger.Debug("published screening event", zap.String("message_id", msgID))
	}
}

func (s *Service) archive(ctx context.Context, report Report) (string, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	objectPath := ArchivePath(s.cfg.ArchivePrefix, report)
	return s.blobs.PutObject(ctx, objectPath, "application/json", bytes.NewReader(body))
}

// ArchivePath returns "<prefix>/<yyyy>/<mm>/<dd>/<id>.json" keyed by SearchedAt (UTC).
func ArchivePath(prefix string, report Report) string {
	at := report.Result.SearchedAt.UTC()
	return path.Join(prefix, at.Format("2006"), at.Format("01"), at.Format("02"), report.ID+".json")
}
