package engine

import (
	"fmt"
	"strings"

	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/session"
)

// evalResponseContains checks the assistant's combined text output for
// required and forbidden substrings, case-insensitively. Every must_contain
// entry must appear somewhere; no must_not_contain entry may appear anywhere.
func evalResponseContains(sess *session.Session, checkID string, chk *policy.Check) CheckResult {
	texts := sess.AssistantTexts()

	var b strings.Builder
	var matched []MatchedItem
	for _, t := range texts {
		b.WriteString(t.Text)
		b.WriteByte('\n')
		matched = append(matched, MatchedItem{MessageIndex: t.MessageIndex()})
	}
	combined := strings.ToLower(b.String())

	for _, want := range chk.MustContain {
		if !strings.Contains(combined, strings.ToLower(want)) {
			return failedResult(checkID, "assistant output does not contain required text %q", want)
		}
	}
	for _, banned := range chk.MustNotContain {
		if banned == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(banned)) {
			return failedResult(checkID, "assistant output contains forbidden text %q", banned)
		}
	}

	return CheckResult{
		CheckID:      checkID,
		Status:       StatusPassed,
		Message:      fmt.Sprintf("assistant output satisfied %d required and %d forbidden substring condition(s)", len(chk.MustContain), len(chk.MustNotContain)),
		MatchedItems: matched,
	}
}
