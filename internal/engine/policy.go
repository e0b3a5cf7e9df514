package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/session"
)

// EvaluatePolicy combines the policy's trigger/requirement/forbidden check
// results through its violation logic into a single PolicyEvaluation. Checks
// within a role list run concurrently; results keep list order.
func (e *Engine) EvaluatePolicy(ctx context.Context, sess *session.Session, p *policy.Policy) PolicyEvaluation {
	eval := PolicyEvaluation{
		PolicyID:    p.ID,
		PolicyName:  p.Name,
		Severity:    string(p.Severity),
		IsCompliant: true,
	}

	switch p.ViolationLogic {
	case policy.IfAnyThenAll:
		e.evalConditional(ctx, sess, p, &eval, false)
	case policy.IfAllThenAll:
		e.evalConditional(ctx, sess, p, &eval, true)
	case policy.RequireAll:
		results := e.evalChecks(ctx, sess, p, p.Requirements)
		for _, r := range results {
			if r.Passed() {
				eval.PassedRequirements = append(eval.PassedRequirements, r)
			} else {
				eval.FailedRequirements = append(eval.FailedRequirements, r)
			}
		}
		eval.IsCompliant = len(eval.FailedRequirements) == 0
	case policy.RequireAny:
		results := e.evalChecks(ctx, sess, p, p.Requirements)
		for _, r := range results {
			if r.Passed() {
				eval.PassedRequirements = append(eval.PassedRequirements, r)
			} else {
				eval.FailedRequirements = append(eval.FailedRequirements, r)
			}
		}
		// An empty requirement list is vacuously satisfied.
		eval.IsCompliant = len(p.Requirements) == 0 || len(eval.PassedRequirements) > 0
	case policy.ForbidAll:
		e.evalForbidAll(ctx, sess, p, &eval)
	default:
		eval.IsCompliant = false
		eval.ViolationType = "UNKNOWN_LOGIC"
		return eval
	}

	if !eval.IsCompliant {
		eval.ViolationType = string(p.ViolationLogic)
	}
	return eval
}

// evalConditional implements IF_ANY_THEN_ALL and IF_ALL_THEN_ALL. The
// requirement phase only runs when the trigger condition holds; otherwise the
// policy is vacuously compliant and requirements stay NOT_EVALUATED.
func (e *Engine) evalConditional(ctx context.Context, sess *session.Session, p *policy.Policy, eval *PolicyEvaluation, needAll bool) {
	triggers := e.evalChecks(ctx, sess, p, p.Triggers)
	for _, t := range triggers {
		if t.Passed() {
			eval.TriggeredChecks = append(eval.TriggeredChecks, t)
		} else {
			eval.FailedTriggers = append(eval.FailedTriggers, t)
		}
	}

	fired := len(eval.TriggeredChecks) > 0
	if needAll {
		fired = len(eval.FailedTriggers) == 0 && len(p.Triggers) > 0
	}
	if !fired {
		eval.UnevaluatedRequirements = skippedChecks(p.Requirements, "trigger condition did not fire")
		return
	}

	results := e.evalChecks(ctx, sess, p, p.Requirements)
	for _, r := range results {
		if r.Passed() {
			eval.PassedRequirements = append(eval.PassedRequirements, r)
		} else {
			eval.FailedRequirements = append(eval.FailedRequirements, r)
		}
	}
	eval.IsCompliant = len(eval.FailedRequirements) == 0
}

// evalForbidAll implements FORBID_ALL. A passed forbidden check is a
// violation unless some requirement (an authorization check) also passed, in
// which case the hit moves to forbidden_checks_avoided. Requirements are only
// evaluated once a forbidden check actually hits.
func (e *Engine) evalForbidAll(ctx context.Context, sess *session.Session, p *policy.Policy, eval *PolicyEvaluation) {
	forbidden := e.evalChecks(ctx, sess, p, p.Forbidden)

	var hits []CheckResult
	for _, f := range forbidden {
		if f.Passed() {
			hits = append(hits, f)
		} else {
			// Forbidden behavior not observed. Kept in a separate bucket so
			// forbidden_checks holds only violating hits.
			eval.ForbiddenChecksAbsent = append(eval.ForbiddenChecksAbsent, f)
		}
	}

	if len(hits) == 0 {
		eval.UnevaluatedRequirements = skippedChecks(p.Requirements, "no forbidden check hit, authorization not needed")
		return
	}

	authorized := false
	if len(p.Requirements) > 0 {
		results := e.evalChecks(ctx, sess, p, p.Requirements)
		for _, r := range results {
			if r.Passed() {
				eval.PassedRequirements = append(eval.PassedRequirements, r)
				authorized = true
			} else {
				eval.FailedRequirements = append(eval.FailedRequirements, r)
			}
		}
	}

	if authorized {
		eval.ForbiddenChecksAvoided = append(eval.ForbiddenChecksAvoided, hits...)
		return
	}
	eval.ForbiddenChecks = append(eval.ForbiddenChecks, hits...)
	eval.IsCompliant = false
}

// evalChecks runs the listed checks concurrently and returns results in list
// order. Unknown ids were rejected by policy validation; if one slips through
// it degrades to a FAILED result like any other evaluator error.
func (e *Engine) evalChecks(ctx context.Context, sess *session.Session, p *policy.Policy, ids []string) []CheckResult {
	results := make([]CheckResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		chk, ok := p.Checks[id]
		if !ok {
			results[i] = failedResult(id, "check %q is not defined in policy %q", id, p.ID)
			continue
		}
		wg.Add(1)
		go func(i int, id string, chk policy.Check) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = failedResult(id, "check evaluation panicked: %v", r)
				}
			}()
			results[i] = e.EvaluateCheck(ctx, sess, id, &chk)
		}(i, id, chk)
	}
	wg.Wait()
	return results
}

// skippedChecks builds NOT_EVALUATED placeholders for a role list that the
// active logic never needed to run.
func skippedChecks(ids []string, reason string) []CheckResult {
	if len(ids) == 0 {
		return nil
	}
	out := make([]CheckResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, notEvaluatedResult(id, fmt.Sprintf("not evaluated: %s", reason)))
	}
	return out
}
