package screening

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubScreener struct {
	result Result
	err    error
	calls  int
}

func (s *stubScreener) Screen(_ context.Context, name EntityName, _ []Source) (Result, error) {
	s.calls++
	if s.err != nil {
		return Result{}, s.err
	}
	res := s.result
	res.SearchedEntity = name
	return res, nil
}

type fakeStore struct {
	mu      sync.Mutex
	reports map[string]Report
	err     error
}

func (f *fakeStore) SaveReport(_ context.Context, r Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.reports == nil {
		f.reports = map[string]Report{}
	}
	f.reports[r.ID] = r
	return nil
}

func (f *fakeStore) GetReport(_ context.Context, id string) (Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return Report{}, ErrReportNotFound
	}
	return r, nil
}

type fakeBlobs struct {
	paths  []string
	bodies [][]byte
}

func (f *fakeBlobs) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	f.paths = append(f.paths, path)
	f.bodies = append(f.bodies, body)
	return "memory://" + path, nil
}

type fakePublisher struct {
	topics   []string
	payloads []any
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return "msg-1", nil
}

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

func TestServiceScreenPersistsReport(t *testing.T) {
	t.Parallel()
	searchedAt := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	screener := &stubScreener{result: Result{
		Hits:       []Hit{NewHit("Bank Rossiya", SourceOFAC, nil, nil, searchedAt)},
		TotalHits:  1,
		Errors:     []string{},
		SearchedAt: searchedAt,
	}}
	store := &fakeStore{}
	blobs := &fakeBlobs{}
	pub := &fakePublisher{}

	svc, err := NewService(ServiceConfig{ArchivePrefix: "archive", Topic: "screening.completed"}, ServiceDeps{
		Screener:  screener,
		Store:     store,
		Blobs:     blobs,
		Publisher: pub,
		IDs:       staticIDs{id: "r-1"},
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	report, err := svc.Screen(context.Background(), "  bank  ", []string{"ofac", "OFAC"})
	require.NoError(t, err)
	require.Equal(t, "r-1", report.ID)
	require.Equal(t, []Source{SourceOFAC}, report.Sources)
	require.Equal(t, "bank", report.Result.SearchedEntity.String())

	stored, err := svc.Get(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, report.ID, stored.ID)

	require.Equal(t, []string{"archive/2026/03/09/r-1.json"}, blobs.paths)
	var archived Report
	require.NoError(t, json.Unmarshal(blobs.bodies[0], &archived))
	require.Equal(t, 1, archived.Result.TotalHits)

	require.Equal(t, []string{"screening.completed"}, pub.topics)
	event, ok := pub.payloads[0].(CompletedEvent)
	require.True(t, ok)
	require.Equal(t, "r-1", event.ReportID)
	require.Equal(t, "memory://archive/2026/03/09/r-1.json", event.ArchiveURI)
}

func TestServiceScreenRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	screener := &stubScreener{}
	svc, err := NewService(ServiceConfig{}, ServiceDeps{Screener: screener, IDs: staticIDs{id: "x"}})
	require.NoError(t, err)

	_, err = svc.Screen(context.Background(), " ", []string{"OFAC"})
	require.ErrorIs(t, err, ErrInvalidEntityName)

	_, err = svc.Screen(context.Background(), "Putin", nil)
	require.ErrorIs(t, err, ErrInvalidSources)

	_, err = svc.Screen(context.Background(), "Putin", []string{"OFAC", "nope"})
	require.ErrorIs(t, err, ErrInvalidSources)

	require.Zero(t, screener.calls)
}

func TestServiceScreenIsBestEffort(t *testing.T) {
	t.Parallel()
	svc, err := NewService(ServiceConfig{}, ServiceDeps{
		Screener:  &stubScreener{result: Result{Hits: []Hit{}, Errors: []string{}}},
		Store:     &fakeStore{err: errors.New("db down")},
		Publisher: &fakePublisher{err: errors.New("pubsub down")},
		IDs:       staticIDs{id: "r-2"},
	})
	require.NoError(t, err)

	report, err := svc.Screen(context.Background(), "Hezbollah", []string{"OFAC"})
	require.NoError(t, err)
	require.Equal(t, "r-2", report.ID)
}

func TestServiceScreenPropagatesCancellation(t *testing.T) {
	t.Parallel()
	svc, err := NewService(ServiceConfig{}, ServiceDeps{
		Screener: &stubScreener{err: context.Canceled},
		IDs:      staticIDs{id: "r-3"},
	})
	require.NoError(t, err)

	_, err = svc.Screen(context.Background(), "Taliban", []string{"OFAC"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestServiceGetWithoutStore(t *testing.T) {
	t.Parallel()
	svc, err := NewService(ServiceConfig{}, ServiceDeps{Screener: &stubScreener{}, IDs: staticIDs{}})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrReportNotFound)
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := NewService(ServiceConfig{}, ServiceDeps{IDs: staticIDs{}})
	require.Error(t, err)
	_, err = NewService(ServiceConfig{}, ServiceDeps{Screener: &stubScreener{}})
	require.Error(t, err)
}
