package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/risk-screener/internal/screening"
)

// DefaultMaxReports bounds the in-memory ResultStore.
const DefaultMaxReports = 1000

// ResultStore keeps the most recent reports, evicting the oldest once full.
type ResultStore struct {
	mu      sync.RWMutex
	max     int
	order   []string
	reports map[string]screening.Report
}

// NewResultStore builds a ResultStore holding at most maxReports entries.
// maxReports <= 0 uses DefaultMaxReports.
func NewResultStore(maxReports int) *ResultStore {
	if maxReports <= 0 {
		maxReports = DefaultMaxReports
	}
	return &ResultStore{
		max:     maxReports,
		reports: make(map[string]screening.Report),
	}
}

// SaveReport stores the report, replacing any report with the same id.
func (s *ResultStore) SaveReport(_ context.Context, report screening.Report) error {
	if report.ID == "" {
		return fmt.Errorf("report id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[report.ID]; !exists {
		s.order = append(s.order, report.ID)
	}
	s.reports[report.ID] = report
	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.reports, oldest)
	}
	return nil
}

// GetReport returns the report or screening.ErrReportNotFound.
func (s *ResultStore) GetReport(_ context.Context, id string) (screening.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[id]
	if !ok {
		return screening.Report{}, fmt.Errorf("report %q: %w", id, screening.ErrReportNotFound)
	}
	return report, nil
}

var _ screening.ResultStore = (*ResultStore)(nil)
