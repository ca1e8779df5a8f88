// Package storage selects the archive and result-store backends from configuration.
package storage

import (
	"context"
	"fmt"
	"strings"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/screening"
	"github.com/JakeFAU/risk-screener/internal/storage/gcs"
	"github.com/JakeFAU/risk-screener/internal/storage/local"
	"github.com/JakeFAU/risk-screener/internal/storage/memory"
	"github.com/JakeFAU/risk-screener/internal/storage/postgres"
)

// Backend names accepted by storage.backend.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// BlobConfig selects and configures the report archive.
type BlobConfig struct {
	Backend string
	Bucket  string
	BaseDir string
}

// ResultConfig selects the result store. An empty DSN keeps reports in memory.
type ResultConfig struct {
	Postgres   postgres.Config
	MaxInMem   int
	AutoCreate bool
}

// NewBlobStore builds the configured archive. The returned close func is never nil.
// Backend "none" returns a nil store, which disables archiving.
func NewBlobStore(ctx context.Context, cfg BlobConfig, logger *zap.Logger) (screening.BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		logger.Info("archiving reports in memory")
		return memory.NewBlobStore(), noop, nil
	case BackendNone:
		logger.Info("report archiving disabled")
		return nil, noop, nil
	case BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, noop, fmt.Errorf("local blob store: %w", err)
		}
		logger.Info("archiving reports on disk", zap.String("base_dir", cfg.BaseDir))
		return store, noop, nil
	case BackendGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create storage client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		if err := store.Check(ctx); err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		logger.Info("archiving reports to GCS", zap.String("bucket", cfg.Bucket))
		return store, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewResultStore builds the configured result store. The returned close func is never nil.
func NewResultStore(ctx context.Context, cfg ResultConfig, logger *zap.Logger) (screening.ResultStore, func(), error) {
	if strings.TrimSpace(cfg.Postgres.DSN) == "" {
		logger.Info("keeping screening reports in memory", zap.Int("max_reports", cfg.MaxInMem))
		return memory.NewResultStore(cfg.MaxInMem), func() {}, nil
	}
	store, err := postgres.NewResultStore(ctx, cfg.Postgres)
	if err != nil {
		return nil, func() {}, err
	}
	if cfg.AutoCreate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, func() {}, err
		}
	}
	logger.Info("persisting screening reports to postgres", zap.String("table", cfg.Postgres.Table))
	return store, store.Close, nil
}
