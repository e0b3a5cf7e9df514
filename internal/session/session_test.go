package session

import "testing"

func TestNew_CorrelatesCallsAndResults(t *testing.T) {
	events := []Event{
		&ToolCall{Index: 0, ID: "tc_1", Name: "create_invoice", Params: map[string]any{"amount": 1500.0}},
		&ToolCall{Index: 1, ID: "tc_2", Name: "request_human_approval"},
		&ToolResult{Index: 2, ToolUseID: "tc_2", Content: map[string]any{"status": "approved"}},
	}

	s, err := New("sess_1", events)
	if err != nil {
		t.Fatal(err)
	}

	if got := len(s.ToolCalls()); got != 2 {
		t.Fatalf("expected 2 tool calls, got %d", got)
	}

	res := s.ResultForCall("tc_2")
	if res == nil {
		t.Fatal("expected result for tc_2")
	}
	if res.MessageIndex() != 2 {
		t.Fatalf("expected message index 2, got %d", res.MessageIndex())
	}
	if s.ResultForCall("tc_1") != nil {
		t.Fatal("tc_1 has no result, expected nil")
	}
}

func TestNew_OrphanResultFails(t *testing.T) {
	events := []Event{
		&ToolResult{Index: 0, ToolUseID: "tc_missing"},
	}
	if _, err := New("sess_1", events); err == nil {
		t.Fatal("expected error for orphan tool result")
	}
}

func TestNew_DuplicateCallIDFails(t *testing.T) {
	events := []Event{
		&ToolCall{Index: 0, ID: "tc_1", Name: "a"},
		&ToolCall{Index: 1, ID: "tc_1", Name: "b"},
	}
	if _, err := New("sess_1", events); err == nil {
		t.Fatal("expected error for duplicate tool call id")
	}
}

func TestNew_DuplicateResultFails(t *testing.T) {
	events := []Event{
		&ToolCall{Index: 0, ID: "tc_1", Name: "a"},
		&ToolResult{Index: 1, ToolUseID: "tc_1"},
		&ToolResult{Index: 2, ToolUseID: "tc_1"},
	}
	if _, err := New("sess_1", events); err == nil {
		t.Fatal("expected error for double result on one call")
	}
}

func TestCallsNamed(t *testing.T) {
	events := []Event{
		&ToolCall{Index: 0, ID: "a", Name: "search"},
		&ToolCall{Index: 1, ID: "b", Name: "delete_customer"},
		&ToolCall{Index: 2, ID: "c", Name: "search"},
	}
	s, err := New("sess_1", events)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.CallsNamed("search")); got != 2 {
		t.Fatalf("expected 2 search calls, got %d", got)
	}
	if got := len(s.CallsNamed("missing")); got != 0 {
		t.Fatalf("expected 0 calls, got %d", got)
	}
}
