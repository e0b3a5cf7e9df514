// Package store provides session, policy, and evaluation-job persistence.
// The worker binary is driven entirely through these interfaces; the REST
// layer that enqueues jobs lives in a separate service and shares only the
// database schema.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// SessionRecord is a stored agent conversation transcript.
type SessionRecord struct {
	ID         string
	ProjectID  string
	Transcript json.RawMessage
	CreatedAt  time.Time
}

// JobStatus is the lifecycle state of an evaluation job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Job is one queued evaluation request: a set of sessions to evaluate
// against a set of policies. Counters are owned by the worker processing
// the job; nothing else writes them after the claim.
type Job struct {
	ID         string
	ProjectID  string
	SessionIDs []string
	PolicyIDs  []string

	Status          JobStatus
	TotalItems      int
	CompletedItems  int
	FailedItems     int
	ProgressPercent float64
	ErrorMessage    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Progress is a snapshot of job counters written back during a run.
type Progress struct {
	TotalItems      int
	CompletedItems  int
	FailedItems     int
	ProgressPercent float64
}

// SessionStore fetches stored transcripts.
type SessionStore interface {
	// GetSession returns ErrNotFound when the session does not exist.
	GetSession(ctx context.Context, projectID, sessionID string) (*SessionRecord, error)
}

// JobStore is the worker's view of the evaluation job queue.
type JobStore interface {
	// ClaimNextJob atomically claims the oldest PENDING job, moving it to
	// RUNNING. Returns ErrNotFound when the queue is empty.
	ClaimNextJob(ctx context.Context) (*Job, error)

	// UpdateJobProgress writes the counter snapshot for a running job.
	UpdateJobProgress(ctx context.Context, jobID string, p Progress) error

	// FinishJob records the terminal status. errMessage is empty unless
	// status is FAILED.
	FinishJob(ctx context.Context, jobID string, status JobStatus, errMessage string) error

	// SaveReport persists the serialized per-session compliance report.
	SaveReport(ctx context.Context, jobID, sessionID string, report json.RawMessage) error
}
