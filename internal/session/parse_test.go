package session

import "testing"

const sampleTranscript = `{
	"messages": [
		{"role": "user", "content": "Create an invoice for ACME for $1500"},
		{"role": "assistant", "content": [
			{"type": "text", "text": "Creating the invoice now."},
			{"type": "tool_use", "id": "tc_1", "name": "create_invoice", "input": {"amount": 1500, "customer": "ACME"}}
		]},
		{"role": "user", "content": [
			{"type": "tool_result", "tool_use_id": "tc_1", "content": {"invoice_id": "inv_9"}}
		]},
		{"role": "assistant", "content": "Done. Invoice inv_9 created."}
	]
}`

func TestParse_MixedContent(t *testing.T) {
	s, err := Parse("sess_1", []byte(sampleTranscript))
	if err != nil {
		t.Fatal(err)
	}

	if got := len(s.Events()); got != 4 {
		t.Fatalf("expected 4 events, got %d", got)
	}
	if got := len(s.AssistantTexts()); got != 2 {
		t.Fatalf("expected 2 assistant texts, got %d", got)
	}

	calls := s.CallsNamed("create_invoice")
	if len(calls) != 1 {
		t.Fatalf("expected 1 create_invoice call, got %d", len(calls))
	}
	if calls[0].MessageIndex() != 1 {
		t.Fatalf("expected call at message 1, got %d", calls[0].MessageIndex())
	}
	if calls[0].Params["customer"] != "ACME" {
		t.Fatalf("unexpected params: %v", calls[0].Params)
	}

	res := s.ResultForCall("tc_1")
	if res == nil {
		t.Fatal("expected correlated result")
	}
	if res.MessageIndex() != 2 {
		t.Fatalf("expected result at message 2, got %d", res.MessageIndex())
	}
}

func TestParse_UserTextIsNotAnEvent(t *testing.T) {
	raw := `{"messages": [{"role": "user", "content": "hello"}]}`
	s, err := Parse("sess_1", []byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.Events()); got != 0 {
		t.Fatalf("expected 0 events, got %d", got)
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := Parse("sess_1", []byte(`{"messages": [`)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestParse_OrphanToolResult(t *testing.T) {
	raw := `{"messages": [
		{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "nope"}]}
	]}`
	if _, err := Parse("sess_1", []byte(raw)); err == nil {
		t.Fatal("expected error for orphan tool_result")
	}
}

func TestParse_MalformedContentShape(t *testing.T) {
	raw := `{"messages": [{"role": "assistant", "content": 42}]}`
	if _, err := Parse("sess_1", []byte(raw)); err == nil {
		t.Fatal("expected error for numeric content")
	}
}
