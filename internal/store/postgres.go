package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// rowStore abstracts DB queries for testability.
type rowStore interface {
	LookupSession(ctx context.Context, projectID, sessionID string) (*sessionRow, error)
	ClaimPendingJob(ctx context.Context) (*jobRow, error)
	WriteJobProgress(ctx context.Context, jobID string, p Progress) error
	WriteJobStatus(ctx context.Context, jobID string, status JobStatus, errMessage string) error
	InsertReport(ctx context.Context, jobID, sessionID string, report []byte) error
}

type sessionRow struct {
	ID         string
	ProjectID  string
	Transcript string // JSONB as string
	CreatedAt  time.Time
}

type jobRow struct {
	ID         string
	ProjectID  string
	SessionIDs string // JSONB array as string
	PolicyIDs  string // JSONB array as string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// sqlStore is the real implementation using *sql.DB.
type sqlStore struct {
	db *sql.DB
}

func (s *sqlStore) LookupSession(ctx context.Context, projectID, sessionID string) (*sessionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, transcript, created_at
		FROM sessions
		WHERE project_id = $1 AND id = $2
	`, projectID, sessionID)

	var r sessionRow
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Transcript, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// ClaimPendingJob moves the oldest PENDING job to RUNNING and returns it.
// SKIP LOCKED lets multiple workers poll the same queue without contention.
func (s *sqlStore) ClaimPendingJob(ctx context.Context) (*jobRow, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE evaluation_jobs
		SET status = 'RUNNING', updated_at = now()
		WHERE id = (
			SELECT id FROM evaluation_jobs
			WHERE status = 'PENDING'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, project_id, session_ids, policy_ids, created_at, updated_at
	`)

	var r jobRow
	if err := row.Scan(&r.ID, &r.ProjectID, &r.SessionIDs, &r.PolicyIDs, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqlStore) WriteJobProgress(ctx context.Context, jobID string, p Progress) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE evaluation_jobs
		SET total_items = $2, completed_items = $3, failed_items = $4,
		    progress_percent = $5, updated_at = now()
		WHERE id = $1
	`, jobID, p.TotalItems, p.CompletedItems, p.FailedItems, p.ProgressPercent)
	return err
}

func (s *sqlStore) WriteJobStatus(ctx context.Context, jobID string, status JobStatus, errMessage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE evaluation_jobs
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`, jobID, string(status), errMessage)
	return err
}

func (s *sqlStore) InsertReport(ctx context.Context, jobID, sessionID string, report []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_reports (job_id, session_id, report, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (job_id, session_id) DO UPDATE
		SET report = EXCLUDED.report, created_at = now()
	`, jobID, sessionID, report)
	return err
}

// PostgresStore implements SessionStore and JobStore over the shared schema.
type PostgresStore struct {
	store  rowStore
	logger *zap.Logger
}

// PostgresStoreConfig configures the PostgresStore.
type PostgresStoreConfig struct {
	DB     *sql.DB
	Logger *zap.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(cfg PostgresStoreConfig) *PostgresStore {
	return &PostgresStore{
		store:  &sqlStore{db: cfg.DB},
		logger: cfg.Logger,
	}
}

// newPostgresStoreWithStore creates a store with a custom row store (for testing).
func newPostgresStoreWithStore(store rowStore, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{store: store, logger: logger}
}

func (s *PostgresStore) GetSession(ctx context.Context, projectID, sessionID string) (*SessionRecord, error) {
	row, err := s.store.LookupSession(ctx, projectID, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetSession: %w", err)
	}
	return &SessionRecord{
		ID:         row.ID,
		ProjectID:  row.ProjectID,
		Transcript: json.RawMessage(row.Transcript),
		CreatedAt:  row.CreatedAt,
	}, nil
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*Job, error) {
	row, err := s.store.ClaimPendingJob(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ClaimNextJob: %w", err)
	}
	return parseJobRow(row)
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, p Progress) error {
	if err := s.store.WriteJobProgress(ctx, jobID, p); err != nil {
		return fmt.Errorf("UpdateJobProgress: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishJob(ctx context.Context, jobID string, status JobStatus, errMessage string) error {
	if err := s.store.WriteJobStatus(ctx, jobID, status, errMessage); err != nil {
		return fmt.Errorf("FinishJob: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, jobID, sessionID string, report json.RawMessage) error {
	if err := s.store.InsertReport(ctx, jobID, sessionID, report); err != nil {
		return fmt.Errorf("SaveReport: %w", err)
	}
	return nil
}

func parseJobRow(row *jobRow) (*Job, error) {
	job := &Job{
		ID:        row.ID,
		ProjectID: row.ProjectID,
		Status:    JobRunning,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}

	if row.SessionIDs != "" {
		if err := json.Unmarshal([]byte(row.SessionIDs), &job.SessionIDs); err != nil {
			return nil, fmt.Errorf("parseJobRow: session_ids: %w", err)
		}
	}
	if row.PolicyIDs != "" {
		if err := json.Unmarshal([]byte(row.PolicyIDs), &job.PolicyIDs); err != nil {
			return nil, fmt.Errorf("parseJobRow: policy_ids: %w", err)
		}
	}

	job.TotalItems = len(job.SessionIDs) * len(job.PolicyIDs)
	return job, nil
}
