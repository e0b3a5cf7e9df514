// Package jobs runs claimed evaluation jobs: it fans (session × policy) work
// items across a bounded worker pool, tracks progress atomically, and
// persists per-session compliance reports plus per-evaluation analytics
// events.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/comply/internal/engine"
	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/session"
	"github.com/triage-ai/comply/internal/storage"
	"github.com/triage-ai/comply/internal/store"
	"go.uber.org/zap"
)

const (
	defaultWorkers   = 8
	progressInterval = 2 * time.Second
)

// Runner executes evaluation jobs end to end.
type Runner struct {
	engine   *engine.Engine
	sessions store.SessionStore
	policies store.PolicyProvider
	jobs     store.JobStore
	events   storage.EventWriter
	workers  int
	logger   *zap.Logger
}

// Config wires a Runner. Workers defaults to 8 when zero; Events may be nil
// to skip analytics.
type Config struct {
	Engine   *engine.Engine
	Sessions store.SessionStore
	Policies store.PolicyProvider
	Jobs     store.JobStore
	Events   storage.EventWriter
	Workers  int
	Logger   *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Runner{
		engine:   cfg.Engine,
		sessions: cfg.Sessions,
		policies: cfg.Policies,
		jobs:     cfg.Jobs,
		events:   cfg.Events,
		workers:  workers,
		logger:   cfg.Logger,
	}
}

// sessionSlot collects the evaluations of one session across workers.
type sessionSlot struct {
	id    string
	sess  *session.Session
	mu    sync.Mutex
	evals []engine.PolicyEvaluation
}

func (s *sessionSlot) add(eval engine.PolicyEvaluation) {
	s.mu.Lock()
	s.evals = append(s.evals, eval)
	s.mu.Unlock()
}

// workItem is one (session, policy) evaluation unit.
type workItem struct {
	slot *sessionSlot
	pol  *policy.Policy
}

// counters is the job's live progress state, owned by the run.
type counters struct {
	total     int64
	completed atomic.Int64
	failed    atomic.Int64
}

func (c *counters) snapshot() store.Progress {
	completed := c.completed.Load()
	failed := c.failed.Load()
	var percent float64
	if c.total > 0 {
		percent = float64(completed+failed) / float64(c.total) * 100
	}
	return store.Progress{
		TotalItems:      int(c.total),
		CompletedItems:  int(completed),
		FailedItems:     int(failed),
		ProgressPercent: percent,
	}
}

// Run executes one claimed job. Cancellation stops dispatch; items already in
// flight finish naturally and their results are discarded. The job reaches
// FAILED only on infrastructure errors (storage); evaluation-level problems
// are counted as failed items and the job still completes.
func (r *Runner) Run(ctx context.Context, job *store.Job) error {
	start := time.Now()
	ctr := &counters{total: int64(len(job.SessionIDs) * len(job.PolicyIDs))}

	r.logger.Info("job started",
		zap.String("job_id", job.ID),
		zap.Int("sessions", len(job.SessionIDs)),
		zap.Int("policies", len(job.PolicyIDs)),
		zap.Int64("total_items", ctr.total),
	)

	// Resolve policies once per job; a missing policy fails its items rather
	// than the job. The failed-item charge happens after session resolution
	// so each undispatchable (session, policy) pair counts exactly once.
	pols := make([]*policy.Policy, 0, len(job.PolicyIDs))
	for _, pid := range job.PolicyIDs {
		pol, err := r.policies.GetPolicy(ctx, job.ProjectID, pid)
		if err != nil {
			return r.fail(ctx, job, fmt.Errorf("loading policy %s: %w", pid, err))
		}
		if pol == nil {
			r.logger.Warn("policy not found, skipping its items",
				zap.String("job_id", job.ID),
				zap.String("policy_id", pid),
			)
			continue
		}
		pols = append(pols, pol)
	}

	// Load and parse sessions; a malformed transcript fails its row of items.
	slots := make([]*sessionSlot, 0, len(job.SessionIDs))
	for _, sid := range job.SessionIDs {
		rec, err := r.sessions.GetSession(ctx, job.ProjectID, sid)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				r.logger.Warn("session not found, skipping its items",
					zap.String("job_id", job.ID),
					zap.String("session_id", sid),
				)
				continue
			}
			return r.fail(ctx, job, fmt.Errorf("loading session %s: %w", sid, err))
		}
		sess, err := session.Parse(sid, rec.Transcript)
		if err != nil {
			r.logger.Warn("malformed transcript, skipping its items",
				zap.String("job_id", job.ID),
				zap.String("session_id", sid),
				zap.Error(err),
			)
			continue
		}
		slots = append(slots, &sessionSlot{id: sid, sess: sess})
	}

	// Every pair that cannot be dispatched is one failed item. Charging from
	// the resolved sets keeps a pair of a missing session and a missing policy
	// from being counted twice.
	ctr.failed.Add(ctr.total - int64(len(slots)*len(pols)))

	// Background progress flusher.
	flushStop := make(chan struct{})
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.writeProgress(job.ID, ctr)
			case <-ctx.Done():
				return
			case <-flushStop:
				return
			}
		}
	}()

	// Bounded worker pool over the item stream.
	items := make(chan workItem)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range items {
				r.runItem(ctx, job, item, ctr)
			}
		}()
	}

dispatch:
	for _, s := range slots {
		for _, pol := range pols {
			select {
			case items <- workItem{slot: s, pol: pol}:
			case <-ctx.Done():
				break dispatch
			}
		}
	}
	close(items)
	wg.Wait()
	close(flushStop)
	<-flushDone

	if ctx.Err() != nil {
		r.logger.Info("job canceled, discarding results",
			zap.String("job_id", job.ID),
			zap.Duration("elapsed", time.Since(start)),
		)
		return ctx.Err()
	}

	// Build and persist per-session reports.
	for _, s := range slots {
		report := engine.BuildReport(s.id, s.evals)
		raw, err := json.Marshal(report)
		if err != nil {
			return r.fail(ctx, job, fmt.Errorf("encoding report for %s: %w", s.id, err))
		}
		if err := r.jobs.SaveReport(ctx, job.ID, s.id, raw); err != nil {
			return r.fail(ctx, job, fmt.Errorf("saving report for %s: %w", s.id, err))
		}
	}

	r.writeProgress(job.ID, ctr)
	if err := r.jobs.FinishJob(ctx, job.ID, store.JobCompleted, ""); err != nil {
		return fmt.Errorf("finishing job %s: %w", job.ID, err)
	}

	snap := ctr.snapshot()
	r.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Int("completed_items", snap.CompletedItems),
		zap.Int("failed_items", snap.FailedItems),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (r *Runner) runItem(ctx context.Context, job *store.Job, item workItem, ctr *counters) {
	defer func() {
		if rec := recover(); rec != nil {
			ctr.failed.Add(1)
			r.logger.Error("evaluation panicked",
				zap.String("job_id", job.ID),
				zap.String("session_id", item.slot.id),
				zap.String("policy_id", item.pol.ID),
				zap.Any("panic", rec),
			)
		}
	}()

	start := time.Now()
	eval := r.engine.EvaluatePolicy(ctx, item.slot.sess, item.pol)
	latency := time.Since(start)

	if ctx.Err() != nil {
		// Canceled mid-flight: the result is discarded, not counted.
		return
	}

	item.slot.add(eval)
	ctr.completed.Add(1)
	r.writeEvent(job, item, &eval, latency)
}

func (r *Runner) writeEvent(job *store.Job, item workItem, eval *engine.PolicyEvaluation, latency time.Duration) {
	if r.events == nil {
		return
	}
	usage := eval.Usage()
	r.events.Write(&storage.EvaluationEvent{
		EvaluationID: uuid.NewString(),
		JobID:        job.ID,
		ProjectID:    job.ProjectID,
		SessionID:    item.slot.id,
		Timestamp:    time.Now().UTC(),

		PolicyID:      eval.PolicyID,
		PolicyName:    eval.PolicyName,
		Severity:      eval.Severity,
		IsCompliant:   eval.IsCompliant,
		ViolationType: eval.ViolationType,

		TriggeredChecks:         int32(len(eval.TriggeredChecks)),
		FailedTriggers:          int32(len(eval.FailedTriggers)),
		PassedRequirements:      int32(len(eval.PassedRequirements)),
		FailedRequirements:      int32(len(eval.FailedRequirements)),
		ForbiddenChecks:         int32(len(eval.ForbiddenChecks)),
		ForbiddenChecksAvoided:  int32(len(eval.ForbiddenChecksAvoided)),
		UnevaluatedRequirements: int32(len(eval.UnevaluatedRequirements)),

		LLMProvider:     usage.Provider,
		LLMModel:        usage.Model,
		LLMAPICalls:     int32(usage.APICalls),
		LLMInputTokens:  int64(usage.InputTokens),
		LLMOutputTokens: int64(usage.OutputTokens),
		LLMCostUSD:      usage.CostUSD,

		LatencyMs: float32(latency.Milliseconds()),
	})
}

func (r *Runner) writeProgress(jobID string, ctr *counters) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.jobs.UpdateJobProgress(ctx, jobID, ctr.snapshot()); err != nil {
		r.logger.Warn("progress write failed",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}

// fail records the terminal FAILED status for infrastructure errors. The
// status write uses a fresh context so cancellation of the run does not lose
// the terminal state.
func (r *Runner) fail(_ context.Context, job *store.Job, cause error) error {
	r.logger.Error("job failed",
		zap.String("job_id", job.ID),
		zap.Error(cause),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.jobs.FinishJob(ctx, job.ID, store.JobFailed, cause.Error()); err != nil {
		r.logger.Error("recording job failure failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
	return cause
}
