package policy

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError rejects a malformed policy document before evaluation.
type ValidationError struct {
	PolicyID string
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("policy %q: invalid field %q: %s", e.PolicyID, e.Field, e.Message)
	}
	return fmt.Sprintf("policy %q: %s", e.PolicyID, e.Message)
}

// policySchema is the structural contract for composite policy documents.
// Semantic rules (check references, role exclusivity, per-type fields) are
// enforced separately in Validate.
const policySchema = `{
	"type": "object",
	"required": ["id", "name", "policy_type", "violation_logic_type", "checks"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 1},
		"policy_type": {"const": "composite"},
		"severity": {"enum": ["error", "warning", "info"]},
		"violation_logic_type": {
			"enum": ["IF_ANY_THEN_ALL", "IF_ALL_THEN_ALL", "REQUIRE_ALL", "REQUIRE_ANY", "FORBID_ALL"]
		},
		"triggers": {"type": "array", "items": {"type": "string"}},
		"requirements": {"type": "array", "items": {"type": "string"}},
		"forbidden": {"type": "array", "items": {"type": "string"}},
		"checks": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["type"],
				"properties": {
					"type": {
						"enum": ["tool_call", "tool_response", "llm_tool_response", "response_length",
							"tool_call_count", "llm_response_validation", "response_contains", "tool_absence"]
					},
					"params": {
						"type": "object",
						"additionalProperties": {
							"type": "object",
							"required": ["operator", "value"],
							"properties": {
								"operator": {"enum": ["gt", "gte", "lt", "lte", "eq", "contains"]}
							}
						}
					}
				}
			}
		}
	}
}`

var compiledPolicySchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(policySchema), &doc); err != nil {
		panic(fmt.Sprintf("policy schema unmarshal: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("policy.json", doc); err != nil {
		panic(fmt.Sprintf("policy schema resource: %v", err))
	}
	sch, err := c.Compile("policy.json")
	if err != nil {
		panic(fmt.Sprintf("policy schema compile: %v", err))
	}
	return sch
}

// Load parses and fully validates a raw composite policy document.
// A non-nil error is always a *ValidationError.
func Load(raw []byte) (*Policy, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := compiledPolicySchema.Validate(doc); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("schema validation failed: %v", err)}
	}

	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("decode failed: %v", err)}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate enforces the semantic invariants of an already-decoded policy:
// every referenced check id exists, a check id appears in at most one role
// list, and each check carries the fields its type requires.
func (p *Policy) Validate() error {
	if p.Severity == "" {
		p.Severity = SeverityError
	}

	seen := make(map[string]string) // check id -> role it already appeared in
	for _, role := range []struct {
		name string
		ids  []string
	}{
		{"triggers", p.Triggers},
		{"requirements", p.Requirements},
		{"forbidden", p.Forbidden},
	} {
		for _, id := range role.ids {
			if _, ok := p.Checks[id]; !ok {
				return &ValidationError{
					PolicyID: p.ID,
					Field:    role.name,
					Message:  fmt.Sprintf("check %q is not defined in checks", id),
				}
			}
			if prev, dup := seen[id]; dup {
				return &ValidationError{
					PolicyID: p.ID,
					Field:    role.name,
					Message:  fmt.Sprintf("check %q already appears in %s", id, prev),
				}
			}
			seen[id] = role.name
		}
	}

	for id := range p.Checks {
		c := p.Checks[id]
		if err := validateCheck(p.ID, id, &c); err != nil {
			return err
		}
	}

	switch p.ViolationLogic {
	case IfAnyThenAll, IfAllThenAll:
		if len(p.Triggers) == 0 {
			return &ValidationError{PolicyID: p.ID, Field: "triggers",
				Message: fmt.Sprintf("%s requires at least one trigger", p.ViolationLogic)}
		}
	case RequireAll, RequireAny:
		if len(p.Requirements) == 0 {
			return &ValidationError{PolicyID: p.ID, Field: "requirements",
				Message: fmt.Sprintf("%s requires at least one requirement", p.ViolationLogic)}
		}
	case ForbidAll:
		if len(p.Forbidden) == 0 {
			return &ValidationError{PolicyID: p.ID, Field: "forbidden",
				Message: "FORBID_ALL requires at least one forbidden check"}
		}
	default:
		return &ValidationError{PolicyID: p.ID, Field: "violation_logic_type",
			Message: fmt.Sprintf("unknown violation logic %q", p.ViolationLogic)}
	}

	return nil
}

func validateCheck(policyID, checkID string, c *Check) error {
	fail := func(field, msg string) error {
		return &ValidationError{
			PolicyID: policyID,
			Field:    fmt.Sprintf("checks.%s.%s", checkID, field),
			Message:  msg,
		}
	}

	switch c.Type {
	case CheckToolCall, CheckToolAbsence, CheckToolCallCount:
		if c.ToolName == "" {
			return fail("tool_name", "required")
		}
	case CheckToolResponse:
		if c.ToolName == "" {
			return fail("tool_name", "required")
		}
	case CheckLLMToolResponse:
		if c.ToolName == "" {
			return fail("tool_name", "required")
		}
		if c.ValidationPrompt == "" {
			return fail("validation_prompt", "required")
		}
	case CheckLLMResponseValidation:
		if c.ValidationPrompt == "" {
			return fail("validation_prompt", "required")
		}
	case CheckResponseLength:
		if c.MinTokens == nil && c.MaxTokens == nil {
			return fail("min_tokens", "at least one of min_tokens/max_tokens required")
		}
		if c.MinTokens != nil && c.MaxTokens != nil && *c.MinTokens > *c.MaxTokens {
			return fail("min_tokens", "min_tokens exceeds max_tokens")
		}
	case CheckResponseContains:
		if len(c.MustContain) == 0 && len(c.MustNotContain) == 0 {
			return fail("must_contain", "at least one of must_contain/must_not_contain required")
		}
	default:
		return fail("type", fmt.Sprintf("unknown check type %q", c.Type))
	}

	if c.Type == CheckToolCallCount {
		if c.MinCount == nil && c.MaxCount == nil {
			return fail("min_count", "at least one of min_count/max_count required")
		}
		if c.MinCount != nil && c.MaxCount != nil && *c.MinCount > *c.MaxCount {
			return fail("min_count", "min_count exceeds max_count")
		}
	}

	return nil
}
