package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// mockRowStore is a test helper.
type mockRowStore struct {
	session *sessionRow
	job     *jobRow
	err     error

	progress []Progress
	statuses []JobStatus
	reports  map[string][]byte
}

func (m *mockRowStore) LookupSession(_ context.Context, _, _ string) (*sessionRow, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

func (m *mockRowStore) ClaimPendingJob(_ context.Context) (*jobRow, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.job, nil
}

func (m *mockRowStore) WriteJobProgress(_ context.Context, _ string, p Progress) error {
	m.progress = append(m.progress, p)
	return nil
}

func (m *mockRowStore) WriteJobStatus(_ context.Context, _ string, status JobStatus, _ string) error {
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockRowStore) InsertReport(_ context.Context, jobID, sessionID string, report []byte) error {
	if m.reports == nil {
		m.reports = make(map[string][]byte)
	}
	m.reports[jobID+":"+sessionID] = report
	return nil
}

func TestPostgresStore_GetSession(t *testing.T) {
	mock := &mockRowStore{
		session: &sessionRow{
			ID:         "sess-1",
			ProjectID:  "proj-1",
			Transcript: `{"messages":[]}`,
			CreatedAt:  time.Now(),
		},
	}
	s := newPostgresStoreWithStore(mock, zap.NewNop())

	rec, err := s.GetSession(context.Background(), "proj-1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "sess-1" || string(rec.Transcript) != `{"messages":[]}` {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPostgresStore_GetSessionNotFound(t *testing.T) {
	s := newPostgresStoreWithStore(&mockRowStore{err: sql.ErrNoRows}, zap.NewNop())

	_, err := s.GetSession(context.Background(), "proj-1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_ClaimNextJob(t *testing.T) {
	mock := &mockRowStore{
		job: &jobRow{
			ID:         "job-1",
			ProjectID:  "proj-1",
			SessionIDs: `["sess-1","sess-2"]`,
			PolicyIDs:  `["pol-1","pol-2","pol-3"]`,
		},
	}
	s := newPostgresStoreWithStore(mock, zap.NewNop())

	job, err := s.ClaimNextJob(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != JobRunning {
		t.Errorf("claimed job status = %s, want RUNNING", job.Status)
	}
	if len(job.SessionIDs) != 2 || len(job.PolicyIDs) != 3 {
		t.Fatalf("id lists not parsed: %+v", job)
	}
	if job.TotalItems != 6 {
		t.Errorf("total_items = %d, want sessions×policies = 6", job.TotalItems)
	}
}

func TestPostgresStore_ClaimNextJobEmptyQueue(t *testing.T) {
	s := newPostgresStoreWithStore(&mockRowStore{err: sql.ErrNoRows}, zap.NewNop())

	_, err := s.ClaimNextJob(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound on empty queue, got %v", err)
	}
}

func TestPostgresStore_ClaimNextJobMalformedIDs(t *testing.T) {
	mock := &mockRowStore{
		job: &jobRow{ID: "job-1", SessionIDs: `not json`, PolicyIDs: `[]`},
	}
	s := newPostgresStoreWithStore(mock, zap.NewNop())

	if _, err := s.ClaimNextJob(context.Background()); err == nil {
		t.Fatal("expected error for malformed session_ids")
	}
}

func TestPostgresStore_JobWrites(t *testing.T) {
	mock := &mockRowStore{}
	s := newPostgresStoreWithStore(mock, zap.NewNop())
	ctx := context.Background()

	if err := s.UpdateJobProgress(ctx, "job-1", Progress{TotalItems: 4, CompletedItems: 2, ProgressPercent: 50}); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishJob(ctx, "job-1", JobCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveReport(ctx, "job-1", "sess-1", []byte(`{"is_compliant":true}`)); err != nil {
		t.Fatal(err)
	}

	if len(mock.progress) != 1 || mock.progress[0].CompletedItems != 2 {
		t.Errorf("progress writes = %+v", mock.progress)
	}
	if len(mock.statuses) != 1 || mock.statuses[0] != JobCompleted {
		t.Errorf("status writes = %+v", mock.statuses)
	}
	if string(mock.reports["job-1:sess-1"]) != `{"is_compliant":true}` {
		t.Errorf("report not saved: %+v", mock.reports)
	}
}
