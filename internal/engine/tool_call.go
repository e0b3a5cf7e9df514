package engine

import (
	"fmt"

	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/session"
)

// evalToolCall passes when at least one tool call matches the configured
// name and every parameter predicate. Each matching call becomes a matched
// item carrying its message index and arguments.
func evalToolCall(sess *session.Session, checkID string, chk *policy.Check) CheckResult {
	calls := sess.CallsNamed(chk.ToolName)
	if len(calls) == 0 {
		return failedResult(checkID, "tool %q was never called", chk.ToolName)
	}

	var matched []MatchedItem
	for _, call := range calls {
		if toolCallMatches(call, chk) {
			matched = append(matched, MatchedItem{
				ToolName:     call.Name,
				MessageIndex: call.MessageIndex(),
				Params:       call.Params,
			})
		}
	}

	if len(matched) == 0 {
		return failedResult(checkID, "tool %q was called %d time(s) but no call satisfied the parameter conditions",
			chk.ToolName, len(calls))
	}

	return CheckResult{
		CheckID:      checkID,
		Status:       StatusPassed,
		Message:      fmt.Sprintf("%d call(s) to %q matched", len(matched), chk.ToolName),
		MatchedItems: matched,
	}
}

// toolCallMatches reports whether every parameter predicate holds for the
// call. A predicate on a missing argument does not match.
func toolCallMatches(call *session.ToolCall, chk *policy.Check) bool {
	for param, pred := range chk.Params {
		actual, ok := call.Params[param]
		if !ok {
			return false
		}
		if !predicateHolds(pred, actual) {
			return false
		}
	}
	return true
}
