// Package engine evaluates compliance policies against normalized agent
// sessions: one pure evaluator per check type, combined per policy through
// its violation logic into a PolicyEvaluation.
package engine

import (
	"context"
	"fmt"

	"github.com/triage-ai/comply/internal/grading"
	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/ratelimit"
	"github.com/triage-ai/comply/internal/session"
	"go.uber.org/zap"
)

// GraderSource supplies an LLM grader for a provider/model pair. The engine
// never constructs graders itself so tests can substitute deterministic ones.
type GraderSource interface {
	GraderFor(provider, model string) (grading.Grader, error)
}

// Engine evaluates checks and policies. It is safe for concurrent use; all
// evaluation state is carried in arguments and return values.
type Engine struct {
	graders GraderSource
	limiter *ratelimit.Bucket // nil = LLM calls are not rate limited
	logger  *zap.Logger
}

// New creates an Engine. graders may be nil when no policy uses LLM-backed
// checks; limiter may be nil to disable rate limiting.
func New(graders GraderSource, limiter *ratelimit.Bucket, logger *zap.Logger) *Engine {
	return &Engine{
		graders: graders,
		limiter: limiter,
		logger:  logger,
	}
}

// EvaluateCheck runs a single check against a session. The switch is
// deliberately exhaustive over every check type so that adding a type
// without an evaluator fails loudly here rather than silently passing.
// Errors never escape: every failure mode degrades to a FAILED result with
// a message.
func (e *Engine) EvaluateCheck(ctx context.Context, sess *session.Session, checkID string, chk *policy.Check) CheckResult {
	switch chk.Type {
	case policy.CheckToolCall:
		return evalToolCall(sess, checkID, chk)
	case policy.CheckToolResponse:
		return evalToolResponse(sess, checkID, chk)
	case policy.CheckLLMToolResponse:
		return e.evalLLMToolResponse(ctx, sess, checkID, chk)
	case policy.CheckResponseLength:
		return evalResponseLength(sess, checkID, chk)
	case policy.CheckToolCallCount:
		return evalToolCallCount(sess, checkID, chk)
	case policy.CheckLLMResponseValidation:
		return e.evalLLMResponseValidation(ctx, sess, checkID, chk)
	case policy.CheckResponseContains:
		return evalResponseContains(sess, checkID, chk)
	case policy.CheckToolAbsence:
		return evalToolAbsence(sess, checkID, chk)
	default:
		return CheckResult{
			CheckID: checkID,
			Status:  StatusFailed,
			Message: fmt.Sprintf("unknown check type %q", chk.Type),
		}
	}
}

// grade resolves a grader for the check and runs one grading call, honoring
// the shared rate limiter.
func (e *Engine) grade(ctx context.Context, chk *policy.Check, text string) (*grading.Result, error) {
	if e.graders == nil {
		return nil, fmt.Errorf("no grader source configured")
	}
	g, err := e.graders.GraderFor(chk.LLMProvider, chk.LLMModel)
	if err != nil {
		return nil, err
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	res, err := g.Grade(ctx, chk.ValidationPrompt, text)
	if err != nil {
		e.logger.Warn("llm grading call failed",
			zap.String("provider", g.ProviderName()),
			zap.String("model", g.ModelName()),
			zap.Error(err),
		)
	}
	return res, err
}

func failedResult(checkID, format string, args ...any) CheckResult {
	return CheckResult{
		CheckID: checkID,
		Status:  StatusFailed,
		Message: fmt.Sprintf(format, args...),
	}
}

func notEvaluatedResult(checkID, message string) CheckResult {
	return CheckResult{
		CheckID: checkID,
		Status:  StatusNotEvaluated,
		Message: message,
	}
}
