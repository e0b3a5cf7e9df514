// Package session normalizes raw agent conversation transcripts into an
// ordered, typed event log with call/result correlation.
package session

import "fmt"

// Event is one entry in a normalized session. Exactly three kinds exist:
// AssistantText, ToolCall, and ToolResult. The unexported marker keeps the
// union closed so a new event kind forces updates at every switch site.
type Event interface {
	// MessageIndex returns the 0-based position of the originating message
	// in the raw transcript's messages array.
	MessageIndex() int

	event()
}

// AssistantText is a plain text block produced by the assistant.
type AssistantText struct {
	Index int
	Text  string
}

// ToolCall is a tool invocation requested by the assistant.
type ToolCall struct {
	Index  int
	ID     string
	Name   string
	Params map[string]any
}

// ToolResult is the outcome of a prior ToolCall, correlated by ToolUseID.
type ToolResult struct {
	Index     int
	ToolUseID string
	Content   any
	IsError   bool
}

func (e *AssistantText) MessageIndex() int { return e.Index }
func (e *ToolCall) MessageIndex() int      { return e.Index }
func (e *ToolResult) MessageIndex() int    { return e.Index }

func (*AssistantText) event() {}
func (*ToolCall) event()      {}
func (*ToolResult) event()    {}

// Session is an immutable, ordered event log for one agent conversation.
// Correlation between tool calls and results is computed once at build time;
// evaluators never rescan the event list to pair them up.
type Session struct {
	ID     string
	events []Event

	toolCalls      []*ToolCall
	assistantTexts []*AssistantText
	callByID       map[string]*ToolCall
	resultByCallID map[string]*ToolResult
}

// New builds a Session from an ordered event list and computes the
// call/result correlation index. Returns an error if a ToolResult references
// an unknown or duplicate tool_use_id, or if two ToolCalls share an id.
func New(id string, events []Event) (*Session, error) {
	s := &Session{
		ID:             id,
		events:         events,
		callByID:       make(map[string]*ToolCall),
		resultByCallID: make(map[string]*ToolResult),
	}

	for _, ev := range events {
		switch e := ev.(type) {
		case *AssistantText:
			s.assistantTexts = append(s.assistantTexts, e)
		case *ToolCall:
			if e.ID != "" {
				if _, dup := s.callByID[e.ID]; dup {
					return nil, fmt.Errorf("session %s: duplicate tool call id %q", id, e.ID)
				}
				s.callByID[e.ID] = e
			}
			s.toolCalls = append(s.toolCalls, e)
		case *ToolResult:
			call, ok := s.callByID[e.ToolUseID]
			if !ok {
				return nil, fmt.Errorf("session %s: tool result at message %d references unknown tool_use_id %q",
					id, e.Index, e.ToolUseID)
			}
			if _, dup := s.resultByCallID[call.ID]; dup {
				return nil, fmt.Errorf("session %s: tool call %q has multiple results", id, call.ID)
			}
			s.resultByCallID[call.ID] = e
		}
	}

	return s, nil
}

// Events returns the ordered event list.
func (s *Session) Events() []Event { return s.events }

// ToolCalls returns all tool call events in transcript order.
func (s *Session) ToolCalls() []*ToolCall { return s.toolCalls }

// AssistantTexts returns all assistant text events in transcript order.
func (s *Session) AssistantTexts() []*AssistantText { return s.assistantTexts }

// ResultForCall returns the ToolResult correlated to the given tool call id,
// or nil if the call never received a result.
func (s *Session) ResultForCall(callID string) *ToolResult {
	return s.resultByCallID[callID]
}

// CallForResult returns the ToolCall a result's tool_use_id references, or
// nil for an unknown id.
func (s *Session) CallForResult(toolUseID string) *ToolCall {
	return s.callByID[toolUseID]
}

// CallsNamed returns all tool calls with the given tool name, in order.
func (s *Session) CallsNamed(toolName string) []*ToolCall {
	var calls []*ToolCall
	for _, c := range s.toolCalls {
		if c.Name == toolName {
			calls = append(calls, c)
		}
	}
	return calls
}
