package session

import (
	"encoding/json"
	"fmt"
)

// Transcript mirrors the raw session JSON contract supplied by the API layer.
type Transcript struct {
	Messages []Message `json:"messages"`
}

// Message is one raw transcript message. Content is either a plain string or
// an array of typed content blocks.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentBlock is one element of an array-form message content.
type contentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   any            `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// Parse decodes a raw transcript JSON document and normalizes it into a
// Session. Message indices are preserved so evaluation results can be
// overlaid on the original messages array.
func Parse(id string, raw []byte) (*Session, error) {
	var t Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("session %s: invalid transcript JSON: %w", id, err)
	}
	return FromTranscript(id, &t)
}

// FromTranscript normalizes an already-decoded transcript into a Session.
func FromTranscript(id string, t *Transcript) (*Session, error) {
	var events []Event

	for i, msg := range t.Messages {
		if len(msg.Content) == 0 {
			continue
		}

		// String-form content: only assistant text is an event.
		var text string
		if err := json.Unmarshal(msg.Content, &text); err == nil {
			if msg.Role == "assistant" && text != "" {
				events = append(events, &AssistantText{Index: i, Text: text})
			}
			continue
		}

		var blocks []contentBlock
		if err := json.Unmarshal(msg.Content, &blocks); err != nil {
			return nil, fmt.Errorf("session %s: message %d: content is neither string nor block array", id, i)
		}

		for _, b := range blocks {
			switch b.Type {
			case "text":
				if msg.Role == "assistant" && b.Text != "" {
					events = append(events, &AssistantText{Index: i, Text: b.Text})
				}
			case "tool_use":
				events = append(events, &ToolCall{
					Index:  i,
					ID:     b.ID,
					Name:   b.Name,
					Params: b.Input,
				})
			case "tool_result":
				events = append(events, &ToolResult{
					Index:     i,
					ToolUseID: b.ToolUseID,
					Content:   b.Content,
					IsError:   b.IsError,
				})
			}
		}
	}

	return New(id, events)
}
