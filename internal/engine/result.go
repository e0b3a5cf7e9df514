package engine

import "github.com/triage-ai/comply/internal/grading"

// CheckStatus is the tri-state outcome of a single check. NOT_EVALUATED is
// distinct from FAILED: it means the policy's logic never required the check
// to run (e.g. no trigger fired).
type CheckStatus string

const (
	StatusPassed       CheckStatus = "PASSED"
	StatusFailed       CheckStatus = "FAILED"
	StatusNotEvaluated CheckStatus = "NOT_EVALUATED"
)

// MatchedItem links a check result back to a specific message in the raw
// transcript so violations can be overlaid on the conversation.
type MatchedItem struct {
	ToolName     string         `json:"tool_name,omitempty"`
	MessageIndex int            `json:"message_index"`
	Params       map[string]any `json:"params,omitempty"`
}

// CheckResult is the outcome of evaluating one check against one session.
type CheckResult struct {
	CheckID      string         `json:"check_id"`
	Status       CheckStatus    `json:"status"`
	Message      string         `json:"message,omitempty"`
	MatchedItems []MatchedItem  `json:"matched_items,omitempty"`
	LLMUsage     *grading.Usage `json:"llm_usage,omitempty"`
}

// Passed reports whether the check evaluated to PASSED.
func (r *CheckResult) Passed() bool { return r.Status == StatusPassed }

// PolicyEvaluation is the combined verdict for one (session, policy) pair.
// The check results are partitioned by the role they played under the
// policy's violation logic.
type PolicyEvaluation struct {
	PolicyID      string `json:"policy_id"`
	PolicyName    string `json:"policy_name"`
	Severity      string `json:"severity"`
	IsCompliant   bool   `json:"is_compliant"`
	ViolationType string `json:"violation_type"`

	TriggeredChecks         []CheckResult `json:"triggered_checks"`
	FailedTriggers          []CheckResult `json:"failed_triggers"`
	PassedRequirements      []CheckResult `json:"passed_requirements"`
	FailedRequirements      []CheckResult `json:"failed_requirements"`
	ForbiddenChecks         []CheckResult `json:"forbidden_checks"`
	ForbiddenChecksAvoided  []CheckResult `json:"forbidden_checks_avoided"`
	ForbiddenChecksAbsent   []CheckResult `json:"forbidden_checks_absent,omitempty"`
	UnevaluatedRequirements []CheckResult `json:"unevaluated_requirements"`
}

// Usage sums the LLM usage across every check result in the evaluation.
func (e *PolicyEvaluation) Usage() grading.Usage {
	var total grading.Usage
	for _, group := range [][]CheckResult{
		e.TriggeredChecks, e.FailedTriggers,
		e.PassedRequirements, e.FailedRequirements,
		e.ForbiddenChecks, e.ForbiddenChecksAvoided,
		e.ForbiddenChecksAbsent, e.UnevaluatedRequirements,
	} {
		for i := range group {
			if group[i].LLMUsage != nil {
				total.Add(*group[i].LLMUsage)
			}
		}
	}
	return total
}
