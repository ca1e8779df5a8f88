// Package postgres persists screening reports in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/risk-screener/internal/screening"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable holds one row per screening.
const DefaultTable = "screenings"

// Config controls the Postgres connection pool used for screening reports.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// ResultStore writes and reads screening reports.
type ResultStore struct {
	pool  pool
	table string
}

// NewResultStore connects to Postgres using cfg.
func NewResultStore(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{pool: p, table: table}, nil
}

// NewResultStoreWithPool wraps an existing pool.
func NewResultStoreWithPool(p pool, table string) (*ResultStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Ping checks the connection for readiness probes.
func (s *ResultStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the table if it is missing.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id              TEXT PRIMARY KEY,
	searched_entity TEXT NOT NULL,
	sources         TEXT[] NOT NULL,
	total_hits      INTEGER NOT NULL,
	error_count     INTEGER NOT NULL,
	searched_at     TIMESTAMPTZ NOT NULL,
	execution_ms    BIGINT NOT NULL,
	result          JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// SaveReport upserts the report keyed by its id.
func (s *ResultStore) SaveReport(ctx context.Context, report screening.Report) error {
	if report.ID == "" {
		return fmt.Errorf("report id is required")
	}
	resultJSON, err := json.Marshal(report.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	searched_entity,
	sources,
	total_hits,
	error_count,
	searched_at,
	execution_ms,
	result
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (id) DO UPDATE SET
	total_hits = EXCLUDED.total_hits,
	error_count = EXCLUDED.error_count,
	result = EXCLUDED.result`, s.table)

	args := []any{
		report.ID,
		report.Result.SearchedEntity.String(),
		sourceNames(report.Sources),
		report.Result.TotalHits,
		len(report.Result.Errors),
		report.Result.SearchedAt,
		report.Result.ExecutionTime.Milliseconds(),
		resultJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert screening: %w", err)
	}
	return nil
}

// GetReport loads a report or returns screening.ErrReportNotFound.
func (s *ResultStore) GetReport(ctx context.Context, id string) (screening.Report, error) {
	query := fmt.Sprintf(`SELECT id, sources, result FROM %s WHERE id = $1`, s.table)

	var (
		report     screening.Report
		sources    []string
		resultJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(&report.ID, &sources, &resultJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return screening.Report{}, fmt.Errorf("report %q: %w", id, screening.ErrReportNotFound)
	}
	if err != nil {
		return screening.Report{}, fmt.Errorf("select screening: %w", err)
	}
	if err := json.Unmarshal(resultJSON, &report.Result); err != nil {
		return screening.Report{}, fmt.Errorf("decode result: %w", err)
	}
	report.Sources = make([]screening.Source, 0, len(sources))
	for _, name := range sources {
		report.Sources = append(report.Sources, screening.Source(name))
	}
	return report, nil
}

func sourceNames(sources []screening.Source) []string {
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		out = append(out, string(src))
	}
	return out
}

var _ screening.ResultStore = (*ResultStore)(nil)
