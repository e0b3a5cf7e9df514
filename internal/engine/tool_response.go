package engine

import (
	"encoding/json"
	"fmt"

	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/session"
)

// evalToolResponse inspects the results correlated to calls of the named
// tool. With expect_success set, an is_error result fails the check. With
// parameter/expected_value set, the named field of the result content must
// equal the expected value on at least one result.
func evalToolResponse(sess *session.Session, checkID string, chk *policy.Check) CheckResult {
	calls := sess.CallsNamed(chk.ToolName)
	if len(calls) == 0 {
		return failedResult(checkID, "tool %q was never called, so no response exists", chk.ToolName)
	}

	var matched []MatchedItem
	sawResult := false

	for _, call := range calls {
		res := sess.ResultForCall(call.ID)
		if res == nil {
			continue
		}
		sawResult = true

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

		if chk.Parameter == "" {
			matched = append(matched, MatchedItem{
				ToolName:     chk.ToolName,
				MessageIndex: res.MessageIndex(),
			})
			continue
		}

		value, ok := resultField(res.Content, chk.Parameter)
		if !ok {
			continue
		}
		if looselyEqual(value, chk.ExpectedValue) {
			matched = append(matched, MatchedItem{
				ToolName:     chk.ToolName,
				MessageIndex: res.MessageIndex(),
				Params:       map[string]any{chk.Parameter: value},
			})
		}
	}

	if !sawResult {
		return failedResult(checkID, "tool %q was called but produced no result", chk.ToolName)
	}
	if len(matched) == 0 {
		return failedResult(checkID, "no %q response had %s == %v",
			chk.ToolName, chk.Parameter, chk.ExpectedValue)
	}

	return CheckResult{
		CheckID:      checkID,
		Status:       StatusPassed,
		Message:      fmt.Sprintf("%d response(s) from %q satisfied the condition", len(matched), chk.ToolName),
		MatchedItems: matched,
	}
}

// resultField extracts a named field from tool result content. Content may
// arrive as a decoded object, a JSON string, or a plain string.
func resultField(content any, field string) (any, bool) {
	switch c := content.(type) {
	case map[string]any:
		v, ok := c[field]
		return v, ok
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(c), &obj); err == nil {
			v, ok := obj[field]
			return v, ok
		}
		return nil, false
	case []any:
		// Anthropic-style nested content blocks: look inside text blocks.
		for _, block := range c {
			if m, ok := block.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					if v, found := resultField(text, field); found {
						return v, true
					}
				}
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// contentAsText renders tool result content as text for LLM grading.
func contentAsText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case nil:
		return ""
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(b)
	}
}
