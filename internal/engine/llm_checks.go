package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/triage-ai/comply/internal/grading"
	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/session"
)

// evalLLMToolResponse grades the results of the named tool with an LLM
// against the check's validation prompt. All responses are graded in one
// call; usage is attached to the result even when the provider call fails.
func (e *Engine) evalLLMToolResponse(ctx context.Context, sess *session.Session, checkID string, chk *policy.Check) CheckResult {
	calls := sess.CallsNamed(chk.ToolName)
	if len(calls) == 0 {
		return failedResult(checkID, "tool %q was never called, nothing to grade", chk.ToolName)
	}

	var (
		parts   []string
		matched []MatchedItem
	)
	for _, call := range calls {
		res := sess.ResultForCall(call.ID)
		if res == nil {
			continue
		}
		if chk.ExpectSuccess && res.IsError {
			return CheckResult{
				CheckID: checkID,
				Status:  StatusFailed,
				Message: fmt.Sprintf("tool %q returned an error result", chk.ToolName),
				MatchedItems: []MatchedItem{{
					ToolName:     chk.ToolName,
					MessageIndex: res.MessageIndex(),
				}},
			}
		}
		parts = append(parts, fmt.Sprintf("[response at message %d]\n%s",
			res.MessageIndex(), contentAsText(res.Content)))
		matched = append(matched, MatchedItem{
			ToolName:     chk.ToolName,
			MessageIndex: res.MessageIndex(),
		})
	}
	if len(parts) == 0 {
		return failedResult(checkID, "tool %q was called but produced no result to grade", chk.ToolName)
	}

	result, err := e.grade(ctx, chk, strings.Join(parts, "\n\n"))
	return gradedCheckResult(checkID, result, err, matched)
}

// evalLLMResponseValidation grades the assistant's own text output. With
// max_messages set, only the last N assistant messages are included.
func (e *Engine) evalLLMResponseValidation(ctx context.Context, sess *session.Session, checkID string, chk *policy.Check) CheckResult {
	texts := sess.AssistantTexts()
	if len(texts) == 0 {
		return failedResult(checkID, "session has no assistant text to grade")
	}
	if chk.MaxMessages > 0 && len(texts) > chk.MaxMessages {
		texts = texts[len(texts)-chk.MaxMessages:]
	}

	var (
		parts   []string
		matched []MatchedItem
	)
	for _, t := range texts {
		parts = append(parts, t.Text)
		matched = append(matched, MatchedItem{MessageIndex: t.MessageIndex()})
	}

	result, err := e.grade(ctx, chk, strings.Join(parts, "\n\n"))
	return gradedCheckResult(checkID, result, err, matched)
}

// gradedCheckResult converts a grading outcome into a CheckResult. A grading
// error degrades to FAILED with the error in the message; usage reported by
// the provider client is kept in both cases so failed attempts are billed.
func gradedCheckResult(checkID string, result *grading.Result, err error, matched []MatchedItem) CheckResult {
	var usage *grading.Usage
	if result != nil {
		u := result.Usage
		usage = &u
	}

	if err != nil {
		return CheckResult{
			CheckID:  checkID,
			Status:   StatusFailed,
			Message:  fmt.Sprintf("llm grading failed: %v", err),
			LLMUsage: usage,
		}
	}

	status := StatusFailed
	if result.Verdict == grading.VerdictCompliant {
		status = StatusPassed
	}
	return CheckResult{
		CheckID:      checkID,
		Status:       status,
		Message:      result.Reasoning,
		MatchedItems: matched,
		LLMUsage:     usage,
	}
}
