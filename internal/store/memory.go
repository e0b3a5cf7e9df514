package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/triage-ai/comply/internal/policy"
)

// MemoryStore is an in-memory SessionStore + PolicyProvider + JobStore used
// by tests and local runs without a database.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionRecord // key: projectID:sessionID
	policies map[string]*policy.Policy // key: projectID:policyID
	jobs     []*Job
	reports  map[string]json.RawMessage // key: jobID:sessionID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*SessionRecord),
		policies: make(map[string]*policy.Policy),
		reports:  make(map[string]json.RawMessage),
	}
}

// AddSession registers a transcript.
func (m *MemoryStore) AddSession(rec *SessionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.ProjectID+":"+rec.ID] = rec
}

// AddPolicy registers a parsed policy.
func (m *MemoryStore) AddPolicy(projectID string, p *policy.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[projectID+":"+p.ID] = p
}

// EnqueueJob appends a PENDING job to the queue.
func (m *MemoryStore) EnqueueJob(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Status = JobPending
	job.TotalItems = len(job.SessionIDs) * len(job.PolicyIDs)
	m.jobs = append(m.jobs, job)
}

func (m *MemoryStore) GetSession(_ context.Context, projectID, sessionID string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[projectID+":"+sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) GetPolicy(_ context.Context, projectID, policyID string) (*policy.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policies[projectID+":"+policyID], nil
}

func (m *MemoryStore) ClaimNextJob(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Status == JobPending {
			job.Status = JobRunning
			return job, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateJobProgress(_ context.Context, jobID string, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == jobID {
			job.TotalItems = p.TotalItems
			job.CompletedItems = p.CompletedItems
			job.FailedItems = p.FailedItems
			job.ProgressPercent = p.ProgressPercent
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) FinishJob(_ context.Context, jobID string, status JobStatus, errMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == jobID {
			job.Status = status
			job.ErrorMessage = errMessage
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) SaveReport(_ context.Context, jobID, sessionID string, report json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[jobID+":"+sessionID] = report
	return nil
}

// Report returns a saved report, or nil if none exists.
func (m *MemoryStore) Report(jobID, sessionID string) json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[jobID+":"+sessionID]
}

// JobByID returns the job with the given id, or nil.
func (m *MemoryStore) JobByID(jobID string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == jobID {
			return job
		}
	}
	return nil
}
