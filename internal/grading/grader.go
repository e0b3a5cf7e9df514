// Package grading wraps LLM providers behind a single semantic-judgment
// interface: given a validation prompt and some transcript text, classify the
// text as compliant or a violation and account for the tokens spent doing it.
package grading

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Verdict is the binary outcome of a semantic grading call.
type Verdict string

const (
	VerdictCompliant Verdict = "compliant"
	VerdictViolation Verdict = "violation"
)

// Usage is the accounting record for one or more grading calls.
type Usage struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	APICalls     int     `json:"api_calls"`
	InputTokens  int     `json:"total_input_tokens"`
	OutputTokens int     `json:"total_output_tokens"`
	CostUSD      float64 `json:"total_cost_usd"`
}

// Add merges another usage record into this one. Provider/model are taken
// from the first non-empty record.
func (u *Usage) Add(other Usage) {
	if u.Provider == "" {
		u.Provider = other.Provider
		u.Model = other.Model
	}
	u.APICalls += other.APICalls
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

// Result is the outcome of a single Grade call.
type Result struct {
	Verdict   Verdict
	Reasoning string
	Usage     Usage
}

// Grader classifies transcript text against a validation prompt.
// Implementations must respect context cancellation and must populate Usage
// on every attempt, including failed final attempts, so cost accounting stays
// accurate.
type Grader interface {
	Grade(ctx context.Context, prompt, contextText string) (*Result, error)
	ProviderName() string
	ModelName() string
}

// Config configures a grader instance.
type Config struct {
	Provider   string // "anthropic" or "openai"
	Model      string
	APIKey     string
	BaseURL    string // empty = provider default
	Timeout    time.Duration
	MaxRetries int
}

// New builds a Grader for the configured provider.
func New(cfg Config, logger *zap.Logger) (Grader, error) {
	if cfg.Model == "" {
		return nil, &ConfigError{Provider: cfg.Provider, Field: "model", Message: "model is required"}
	}
	if cfg.APIKey == "" {
		return nil, &ConfigError{Provider: cfg.Provider, Field: "api_key", Message: "API key is required"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	switch cfg.Provider {
	case "anthropic":
		return newAnthropicGrader(cfg, logger), nil
	case "openai":
		return newOpenAIGrader(cfg, logger), nil
	default:
		return nil, &ConfigError{Provider: cfg.Provider, Field: "provider",
			Message: "unknown provider (want anthropic or openai)"}
	}
}

// gradingInstruction is appended to every validation prompt so the model
// answers in a machine-parseable form.
const gradingInstruction = "Respond with exactly one word on the first line: " +
	"COMPLIANT if the content satisfies the rule, VIOLATION if it does not. " +
	"You may add a short justification on following lines."

// buildGradingPrompt assembles the user message sent to the provider.
func buildGradingPrompt(prompt, contextText string) string {
	var b strings.Builder
	b.WriteString("Rule to evaluate:\n")
	b.WriteString(prompt)
	b.WriteString("\n\nContent under evaluation:\n")
	b.WriteString(contextText)
	b.WriteString("\n\n")
	b.WriteString(gradingInstruction)
	return b.String()
}

// parseVerdict extracts the verdict from the model's reply. The first line
// wins; the whole reply is scanned only when the first line carries no
// verdict.
func parseVerdict(provider, content string) (Verdict, error) {
	trimmed := strings.TrimSpace(content)
	firstLine := trimmed
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		firstLine = trimmed[:i]
	}
	if v, ok := classifyVerdict(firstLine); ok {
		return v, nil
	}
	if v, ok := classifyVerdict(trimmed); ok {
		return v, nil
	}
	return "", &ParseError{
		Provider: provider,
		Raw:      trimmed,
		Cause:    errNoVerdict,
	}
}

// classifyVerdict matches negated forms first: "NON-COMPLIANT" contains the
// substring COMPLIANT and must not read as a pass.
func classifyVerdict(s string) (Verdict, bool) {
	upper := strings.ToUpper(s)
	switch {
	case strings.Contains(upper, "NON-COMPLIANT"),
		strings.Contains(upper, "NON COMPLIANT"),
		strings.Contains(upper, "NOT COMPLIANT"),
		strings.Contains(upper, "VIOLATION"):
		return VerdictViolation, true
	case strings.Contains(upper, "COMPLIANT"):
		return VerdictCompliant, true
	}
	return "", false
}

var errNoVerdict = errors.New("no COMPLIANT/VIOLATION verdict in model reply")
