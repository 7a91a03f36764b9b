package llm

import (
	"encoding/json"
	"strings"
)

// AssistantReply is the structured final answer the agent requests from
// the model when a JSON-schema text format is attached.
type AssistantReply struct {
	Message string `json:"message"`
}

// AssistantReplyFormat is the text format used for the agent's final turn.
func AssistantReplyFormat() *TextFormat {
	return &TextFormat{
		Name: "assistant_response",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required":             []string{"message"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

// ParsedMessage returns the structured message when the request carried a
// text format and the output text parses as an AssistantReply.
func (r *Response) ParsedMessage() string {
	if !r.hasFormat {
		return ""
	}
	text := strings.TrimSpace(r.Raw.OutputText())
	if text == "" {
		return ""
	}
	var reply AssistantReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return ""
	}
	return reply.Message
}

// FinalText extracts the assistant's final message. Preference order:
// parsed structured message, aggregated output text, first output_text
// content block. Returns "" when the response carries no text at all.
func (r *Response) FinalText() string {
	if msg := strings.TrimSpace(r.ParsedMessage()); msg != "" {
		return msg
	}
	if text := strings.TrimSpace(r.Raw.OutputText()); text != "" {
		return text
	}
	for _, item := range r.Raw.Output {
		if item.Type != "message" {
			continue
		}
		for _, block := range item.Content {
			if block.Type != "output_text" {
				continue
			}
			if text := strings.TrimSpace(block.Text); text != "" {
				return text
			}
		}
	}
	return ""
}
