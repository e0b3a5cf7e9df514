package engine

import (
	"fmt"

	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/session"
)

// evalToolAbsence passes only when the named tool was never called. Matched
// items point at the offending calls on failure.
func evalToolAbsence(sess *session.Session, checkID string, chk *policy.Check) CheckResult {
	calls := sess.CallsNamed(chk.ToolName)
	if len(calls) == 0 {
		return CheckResult{
			CheckID: checkID,
			Status:  StatusPassed,
			Message: fmt.Sprintf("tool %q was never called", chk.ToolName),
		}
	}

	var matched []MatchedItem
	for _, call := range calls {
		matched = append(matched, MatchedItem{
			ToolName:     call.Name,
			MessageIndex: call.MessageIndex(),
			Params:       call.Params,
		})
	}
	return CheckResult{
		CheckID:      checkID,
		Status:       StatusFailed,
		Message:      fmt.Sprintf("tool %q was called %d time(s)", chk.ToolName, len(calls)),
		MatchedItems: matched,
	}
}
