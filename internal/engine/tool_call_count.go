package engine

import (
	"fmt"

	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/session"
)

// evalToolCallCount bounds how many times the named tool was called. Both
// bounds are inclusive; min_count == max_count pins an exact count, and a
// zero max_count with zero calls passes (equivalent to tool_absence).
func evalToolCallCount(sess *session.Session, checkID string, chk *policy.Check) CheckResult {
	calls := sess.CallsNamed(chk.ToolName)
	n := len(calls)

	if chk.MinCount != nil && n < *chk.MinCount {
		return failedResult(checkID, "tool %q was called %d time(s), below minimum %d",
			chk.ToolName, n, *chk.MinCount)
	}
	if chk.MaxCount != nil && n > *chk.MaxCount {
		return failedResult(checkID, "tool %q was called %d time(s), above maximum %d",
			chk.ToolName, n, *chk.MaxCount)
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
		Status:       StatusPassed,
		Message:      fmt.Sprintf("tool %q was called %d time(s), within bounds", chk.ToolName, n),
		MatchedItems: matched,
	}
}
