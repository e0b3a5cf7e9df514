// Package policy defines the compliance policy and check configuration model
// and validates policy documents before they reach the evaluation engine.
package policy

// CheckType discriminates the eight check variants. The evaluation engine
// dispatches on this with a closed switch; adding a ninth type is a
// compile-time change there.
type CheckType string

const (
	CheckToolCall              CheckType = "tool_call"
	CheckToolResponse          CheckType = "tool_response"
	CheckLLMToolResponse       CheckType = "llm_tool_response"
	CheckResponseLength        CheckType = "response_length"
	CheckToolCallCount         CheckType = "tool_call_count"
	CheckLLMResponseValidation CheckType = "llm_response_validation"
	CheckResponseContains      CheckType = "response_contains"
	CheckToolAbsence           CheckType = "tool_absence"
)

// Operator is a parameter predicate operator.
type Operator string

const (
	OpGT       Operator = "gt"
	OpGTE      Operator = "gte"
	OpLT       Operator = "lt"
	OpLTE      Operator = "lte"
	OpEQ       Operator = "eq"
	OpContains Operator = "contains"
)

// Severity classifies how serious a policy violation is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ViolationLogic is the boolean combinator that turns check results into an
// overall compliance verdict.
type ViolationLogic string

const (
	IfAnyThenAll ViolationLogic = "IF_ANY_THEN_ALL"
	IfAllThenAll ViolationLogic = "IF_ALL_THEN_ALL"
	RequireAll   ViolationLogic = "REQUIRE_ALL"
	RequireAny   ViolationLogic = "REQUIRE_ANY"
	ForbidAll    ViolationLogic = "FORBID_ALL"
)

// ParamPredicate is one parameter condition on a tool call argument.
type ParamPredicate struct {
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Check is the tagged union over all check variants. Only the fields relevant
// to the declared Type are populated; Validate enforces per-type requirements.
type Check struct {
	Type CheckType `json:"type"`

	// tool_call, tool_response, llm_tool_response, tool_call_count, tool_absence
	ToolName string `json:"tool_name,omitempty"`

	// tool_call
	Params map[string]ParamPredicate `json:"params,omitempty"`

	// tool_response, llm_tool_response
	ExpectSuccess bool   `json:"expect_success,omitempty"`
	Parameter     string `json:"parameter,omitempty"`
	ExpectedValue any    `json:"expected_value,omitempty"`

	// llm_tool_response, llm_response_validation
	ValidationPrompt string `json:"validation_prompt,omitempty"`
	LLMProvider      string `json:"llm_provider,omitempty"`
	LLMModel         string `json:"llm_model,omitempty"`

	// llm_response_validation: grade only the last N assistant messages.
	// Zero means all.
	MaxMessages int `json:"max_messages,omitempty"`

	// response_length (nil bound = unbounded on that side)
	MinTokens *int `json:"min_tokens,omitempty"`
	MaxTokens *int `json:"max_tokens,omitempty"`

	// tool_call_count
	MinCount *int `json:"min_count,omitempty"`
	MaxCount *int `json:"max_count,omitempty"`

	// response_contains
	MustContain    []string `json:"must_contain,omitempty"`
	MustNotContain []string `json:"must_not_contain,omitempty"`
}

// IsLLMBacked reports whether evaluating this check requires an LLM call.
func (c *Check) IsLLMBacked() bool {
	return c.Type == CheckLLMToolResponse || c.Type == CheckLLMResponseValidation
}

// Policy is a named set of checks partitioned into trigger, requirement, and
// forbidden roles, combined by a violation logic type.
type Policy struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	PolicyType     string           `json:"policy_type"`
	Severity       Severity         `json:"severity"`
	ViolationLogic ViolationLogic   `json:"violation_logic_type"`
	Triggers       []string         `json:"triggers"`
	Requirements   []string         `json:"requirements"`
	Forbidden      []string         `json:"forbidden"`
	Checks         map[string]Check `json:"checks"`
}

// HasLLMChecks reports whether any check in the policy is LLM-backed.
// The batch runner uses this to decide whether rate limiting applies.
func (p *Policy) HasLLMChecks() bool {
	for id := range p.Checks {
		c := p.Checks[id]
		if c.IsLLMBacked() {
			return true
		}
	}
	return false
}
