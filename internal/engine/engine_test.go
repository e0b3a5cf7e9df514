package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/triage-ai/comply/internal/grading"
	"github.com/triage-ai/comply/internal/policy"
	"github.com/triage-ai/comply/internal/session"
	"go.uber.org/zap"
)

func intPtr(n int) *int { return &n }

func mustSession(t *testing.T, events ...session.Event) *session.Session {
	t.Helper()
	s, err := session.New("sess-1", events)
	if err != nil {
		t.Fatalf("building session: %v", err)
	}
	return s
}

// fakeGrader returns a canned result or error for every call.
type fakeGrader struct {
	result *grading.Result
	err    error
	calls  int
}

func (g *fakeGrader) Grade(_ context.Context, _, _ string) (*grading.Result, error) {
	g.calls++
	return g.result, g.err
}

func (g *fakeGrader) ProviderName() string { return "fake" }
func (g *fakeGrader) ModelName() string    { return "fake-model" }

type fakeGraderSource struct {
	grader grading.Grader
	err    error
}

func (s *fakeGraderSource) GraderFor(_, _ string) (grading.Grader, error) {
	return s.grader, s.err
}

func newTestEngine(g grading.Grader) *Engine {
	var src GraderSource
	if g != nil {
		src = &fakeGraderSource{grader: g}
	}
	return New(src, nil, zap.NewNop())
}

func TestEvalToolCallMatchesPredicates(t *testing.T) {
	sess := mustSession(t,
		&session.ToolCall{Index: 1, ID: "c1", Name: "transfer_funds", Params: map[string]any{"amount": float64(50)}},
		&session.ToolCall{Index: 3, ID: "c2", Name: "transfer_funds", Params: map[string]any{"amount": float64(5000)}},
	)
	chk := &policy.Check{
		Type:     policy.CheckToolCall,
		ToolName: "transfer_funds",
		Params: map[string]policy.ParamPredicate{
			"amount": {Operator: policy.OpGT, Value: float64(1000)},
		},
	}

	e := newTestEngine(nil)
	res := e.EvaluateCheck(context.Background(), sess, "big-transfer", chk)
	if res.Status != StatusPassed {
		t.Fatalf("status = %s, want PASSED (%s)", res.Status, res.Message)
	}
	if len(res.MatchedItems) != 1 {
		t.Fatalf("matched items = %d, want 1", len(res.MatchedItems))
	}
	if res.MatchedItems[0].MessageIndex != 3 {
		t.Errorf("matched message index = %d, want 3", res.MatchedItems[0].MessageIndex)
	}
}

func TestEvalToolCallNeverCalled(t *testing.T) {
	sess := mustSession(t, &session.AssistantText{Index: 0, Text: "hello"})
	chk := &policy.Check{Type: policy.CheckToolCall, ToolName: "transfer_funds"}

	res := newTestEngine(nil).EvaluateCheck(context.Background(), sess, "c", chk)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", res.Status)
	}
}

func TestEvalToolCallMissingParamNoMatch(t *testing.T) {
	sess := mustSession(t,
		&session.ToolCall{Index: 1, ID: "c1", Name: "lookup", Params: map[string]any{"id": "abc"}},
	)
	chk := &policy.Check{
		Type:     policy.CheckToolCall,
		ToolName: "lookup",
		Params: map[string]policy.ParamPredicate{
			"region": {Operator: policy.OpEQ, Value: "eu"},
		},
	}
	res := newTestEngine(nil).EvaluateCheck(context.Background(), sess, "c", chk)
	if res.Status != StatusFailed {
		t.Fatalf("predicate on absent argument should fail, got %s", res.Status)
	}
}

func TestEvalToolResponseExpectSuccess(t *testing.T) {
	sess := mustSession(t,
		&session.ToolCall{Index: 1, ID: "c1", Name: "approval", Params: nil},
		&session.ToolResult{Index: 2, ToolUseID: "c1", Content: map[string]any{"status": "approved"}, IsError: true},
	)
	chk := &policy.Check{Type: policy.CheckToolResponse, ToolName: "approval", ExpectSuccess: true}

	res := newTestEngine(nil).EvaluateCheck(context.Background(), sess, "c", chk)
	if res.Status != StatusFailed {
		t.Fatalf("error result with expect_success should fail, got %s", res.Status)
	}
}

func TestEvalToolResponseFieldComparison(t *testing.T) {
	cases := []struct {
		name    string
		content any
		want    CheckStatus
	}{
		{"object content", map[string]any{"status": "approved"}, StatusPassed},
		{"json string content", `{"status":"approved"}`, StatusPassed},
		{"wrong value", map[string]any{"status": "denied"}, StatusFailed},
		{"missing field", map[string]any{"other": 1}, StatusFailed},
		{"non-json string", "plain text", StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := mustSession(t,
				&session.ToolCall{Index: 1, ID: "c1", Name: "approval", Params: nil},
				&session.ToolResult{Index: 2, ToolUseID: "c1", Content: tc.content},
			)
			chk := &policy.Check{
				Type:          policy.CheckToolResponse,
				ToolName:      "approval",
				Parameter:     "status",
				ExpectedValue: "approved",
			}
			res := newTestEngine(nil).EvaluateCheck(context.Background(), sess, "c", chk)
			if res.Status != tc.want {
				t.Fatalf("status = %s, want %s (%s)", res.Status, tc.want, res.Message)
			}
		})
	}
}

func TestEvalToolResponseNoResult(t *testing.T) {
	sess := mustSession(t,
		&session.ToolCall{Index: 1, ID: "c1", Name: "approval", Params: nil},
	)
	chk := &policy.Check{Type: policy.CheckToolResponse, ToolName: "approval", ExpectSuccess: true}
	res := newTestEngine(nil).EvaluateCheck(context.Background(), sess, "c", chk)
	if res.Status != StatusFailed {
		t.Fatalf("call without result should fail, got %s", res.Status)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"one two three", 3},
		// "internationalization" is 20 chars: 1 + (20-8)/4 = 4 tokens.
		{"internationalization", 4},
		{"a internationalization b", 6},
	}
	for _, tc := range cases {
		if got := estimateTokens(tc.text); got != tc.want {
			t.Errorf("estimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestEvalResponseLengthBounds(t *testing.T) {
	sess := mustSession(t,
		&session.AssistantText{Index: 0, Text: "one two three four"},
		&session.AssistantText{Index: 2, Text: "five six"},
	)

	cases := []struct {
		name string
		chk  policy.Check
		want CheckStatus
	}{
		{"within", policy.Check{Type: policy.CheckResponseLength, MinTokens: intPtr(3), MaxTokens: intPtr(10)}, StatusPassed},
		{"below min", policy.Check{Type: policy.CheckResponseLength, MinTokens: intPtr(10)}, StatusFailed},
		{"above max", policy.Check{Type: policy.CheckResponseLength, MaxTokens: intPtr(3)}, StatusFailed},
		{"unbounded", policy.Check{Type: policy.CheckResponseLength}, StatusPassed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := newTestEngine(nil).EvaluateCheck(context.Background(), sess, "c", &tc.chk)
			if res.Status != tc.want {
				t.Fatalf("status = %s, want %s (%s)", res.Status, tc.want, res.Message)
			}
		})
	}
}

func TestEvalToolCallCountBoundary(t *testing.T) {
	// min_count = max_count = 0 means the tool must never be called.
	chk := &policy.Check{
		Type:     policy.CheckToolCallCount,
		ToolName: "delete_customer",
		MinCount: intPtr(0),
		MaxCount: intPtr(0),
	}

	empty := mustSession(t, &session.AssistantText{Index: 0, Text: "ok"})
	res := newTestEngine(nil).EvaluateCheck(context.Background(), empty, "c", chk)
	if res.Status != StatusPassed {
		t.Fatalf("zero calls with 0..0 bounds should pass, got %s", res.Status)
	}

	once := mustSession(t,
		&session.ToolCall{Index: 1, ID: "c1", Name: "delete_customer", Params: nil},
	)
	res = newTestEngine(nil).EvaluateCheck(context.Background(), once, "c", chk)
	if res.Status != StatusFailed {
		t.Fatalf("one call with 0..0 bounds should fail, got %s", res.Status)
	}
}

func TestEvalResponseContains(t *testing.T) {
	sess := mustSession(t,
		&session.AssistantText{Index: 0, Text: "I cannot share that information."},
		&session.AssistantText{Index: 2, Text: "Please contact Support for help."},
	)

	cases := []struct {
		name string
		chk  policy.Check
		want CheckStatus
	}{
		{
			"required present case-insensitive",
			policy.Check{Type: policy.CheckResponseContains, MustContain: []string{"support", "CANNOT"}},
			StatusPassed,
		},
		{
			"required missing",
			policy.Check{Type: policy.CheckResponseContains, MustContain: []string{"refund"}},
			StatusFailed,
		},
		{
			"forbidden present",
			policy.Check{Type: policy.CheckResponseContains, MustNotContain: []string{"Information"}},
			StatusFailed,
		},
		{
			"forbidden absent",
			policy.Check{Type: policy.CheckResponseContains, MustNotContain: []string{"password"}},
			StatusPassed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := newTestEngine(nil).EvaluateCheck(context.Background(), sess, "c", &tc.chk)
			if res.Status != tc.want {
				t.Fatalf("status = %s, want %s (%s)", res.Status, tc.want, res.Message)
			}
		})
	}
}

func TestEvalToolAbsence(t *testing.T) {
	chk := &policy.Check{Type: policy.CheckToolAbsence, ToolName: "delete_customer"}

	clean := mustSession(t, &session.AssistantText{Index: 0, Text: "done"})
	res := newTestEngine(nil).EvaluateCheck(context.Background(), clean, "c", chk)
	if res.Status != StatusPassed {
		t.Fatalf("absent tool should pass, got %s", res.Status)
	}

	dirty := mustSession(t,
		&session.ToolCall{Index: 1, ID: "c1", Name: "delete_customer", Params: map[string]any{"id": "42"}},
	)
	res = newTestEngine(nil).EvaluateCheck(context.Background(), dirty, "c", chk)
	if res.Status != StatusFailed {
		t.Fatalf("present tool should fail, got %s", res.Status)
	}
	if len(res.MatchedItems) != 1 || res.MatchedItems[0].MessageIndex != 1 {
		t.Errorf("matched items should point at the offending call, got %+v", res.MatchedItems)
	}
}

func TestEvalLLMToolResponseVerdicts(t *testing.T) {
	sess := mustSession(t,
		&session.ToolCall{Index: 1, ID: "c1", Name: "send_email", Params: nil},
		&session.ToolResult{Index: 2, ToolUseID: "c1", Content: "Dear customer, ..."},
	)
	chk := &policy.Check{
		Type:             policy.CheckLLMToolResponse,
		ToolName:         "send_email",
		ValidationPrompt: "The email must not promise refunds.",
		LLMProvider:      "anthropic",
		LLMModel:         "claude-3-5-haiku-latest",
	}

	usage := grading.Usage{Provider: "fake", Model: "fake-model", APICalls: 1, InputTokens: 100, OutputTokens: 10, CostUSD: 0.001}

	t.Run("compliant verdict passes", func(t *testing.T) {
		g := &fakeGrader{result: &grading.Result{Verdict: grading.VerdictCompliant, Reasoning: "ok", Usage: usage}}
		res := newTestEngine(g).EvaluateCheck(context.Background(), sess, "c", chk)
		if res.Status != StatusPassed {
			t.Fatalf("status = %s, want PASSED", res.Status)
		}
		if res.LLMUsage == nil || res.LLMUsage.APICalls != 1 {
			t.Fatalf("usage not recorded: %+v", res.LLMUsage)
		}
	})

	t.Run("violation verdict fails", func(t *testing.T) {
		g := &fakeGrader{result: &grading.Result{Verdict: grading.VerdictViolation, Reasoning: "promises refund", Usage: usage}}
		res := newTestEngine(g).EvaluateCheck(context.Background(), sess, "c", chk)
		if res.Status != StatusFailed {
			t.Fatalf("status = %s, want FAILED", res.Status)
		}
		if res.Message != "promises refund" {
			t.Errorf("message = %q, want grader reasoning", res.Message)
		}
	})

	t.Run("provider error degrades to FAILED with usage", func(t *testing.T) {
		g := &fakeGrader{
			result: &grading.Result{Usage: usage},
			err:    &grading.ProviderError{Provider: "fake", StatusCode: 503, Message: "unavailable"},
		}
		res := newTestEngine(g).EvaluateCheck(context.Background(), sess, "c", chk)
		if res.Status != StatusFailed {
			t.Fatalf("status = %s, want FAILED", res.Status)
		}
		if res.LLMUsage == nil || res.LLMUsage.InputTokens != 100 {
			t.Fatalf("failed attempt usage must be kept, got %+v", res.LLMUsage)
		}
	})

	t.Run("no grader source", func(t *testing.T) {
		res := newTestEngine(nil).EvaluateCheck(context.Background(), sess, "c", chk)
		if res.Status != StatusFailed {
			t.Fatalf("status = %s, want FAILED", res.Status)
		}
	})
}

func TestEvalLLMResponseValidationMaxMessages(t *testing.T) {
	sess := mustSession(t,
		&session.AssistantText{Index: 0, Text: "first"},
		&session.AssistantText{Index: 2, Text: "second"},
		&session.AssistantText{Index: 4, Text: "third"},
	)
	chk := &policy.Check{
		Type:             policy.CheckLLMResponseValidation,
		ValidationPrompt: "Must be polite.",
		LLMProvider:      "openai",
		LLMModel:         "gpt-4o-mini",
		MaxMessages:      2,
	}

	g := &fakeGrader{result: &grading.Result{Verdict: grading.VerdictCompliant}}
	res := newTestEngine(g).EvaluateCheck(context.Background(), sess, "c", chk)
	if res.Status != StatusPassed {
		t.Fatalf("status = %s, want PASSED", res.Status)
	}
	if len(res.MatchedItems) != 2 {
		t.Fatalf("matched items = %d, want last 2 messages", len(res.MatchedItems))
	}
	if res.MatchedItems[0].MessageIndex != 2 || res.MatchedItems[1].MessageIndex != 4 {
		t.Errorf("matched indices = %+v, want [2 4]", res.MatchedItems)
	}
}

func TestEvaluateCheckUnknownType(t *testing.T) {
	sess := mustSession(t, &session.AssistantText{Index: 0, Text: "x"})
	chk := &policy.Check{Type: policy.CheckType("mystery")}
	res := newTestEngine(nil).EvaluateCheck(context.Background(), sess, "c", chk)
	if res.Status != StatusFailed {
		t.Fatalf("unknown type must fail, got %s", res.Status)
	}
}

func TestGraderSourceErrorDegrades(t *testing.T) {
	sess := mustSession(t, &session.AssistantText{Index: 0, Text: "x"})
	e := New(&fakeGraderSource{err: errors.New("no key configured")}, nil, zap.NewNop())
	chk := &policy.Check{
		Type:             policy.CheckLLMResponseValidation,
		ValidationPrompt: "p",
		LLMProvider:      "anthropic",
		LLMModel:         "m",
	}
	res := e.EvaluateCheck(context.Background(), sess, "c", chk)
	if res.Status != StatusFailed {
		t.Fatalf("grader source error must degrade to FAILED, got %s", res.Status)
	}
}
