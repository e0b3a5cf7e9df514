package engine

import (
	"fmt"
	"strings"

	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/session"
)

// evalResponseLength bounds the estimated token count of the assistant's
// combined text output. A nil bound is unbounded on that side.
func evalResponseLength(sess *session.Session, checkID string, chk *policy.Check) CheckResult {
	var total int
	var matched []MatchedItem
	for _, t := range sess.AssistantTexts() {
		total += estimateTokens(t.Text)
		matched = append(matched, MatchedItem{MessageIndex: t.MessageIndex()})
	}

	if chk.MinTokens != nil && total < *chk.MinTokens {
		return failedResult(checkID, "assistant output is ~%d tokens, below minimum %d", total, *chk.MinTokens)
	}
	if chk.MaxTokens != nil && total > *chk.MaxTokens {
		return failedResult(checkID, "assistant output is ~%d tokens, above maximum %d", total, *chk.MaxTokens)
	}

	return CheckResult{
		CheckID:      checkID,
		Status:       StatusPassed,
		Message:      fmt.Sprintf("assistant output is ~%d tokens, within bounds", total),
		MatchedItems: matched,
	}
}

// estimateTokens approximates a tokenizer without importing one: each
// whitespace-separated word is one token, and long words contribute one more
// per 4 characters beyond 8, since subword tokenizers split them.
func estimateTokens(text string) int {
	words := strings.Fields(text)
	count := len(words)
	for _, w := range words {
		if len(w) > 8 {
			count += (len(w) - 8) / 4
		}
	}
	return count
}
