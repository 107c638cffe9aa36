package session

import (
	"encoding/json"
	"fmt"

	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/internal/status"
)

// Envelope is the JSON-mode response shape:
// {action, message_text, value, status_code, status, success}.
type Envelope struct {
	Action      string `json:"action"`
	MessageText string `json:"message_text"`
	Value       any    `json:"value"`
	StatusCode  int    `json:"status_code"`
	Status      string `json:"status"`
	Success     bool   `json:"success"`
}

// NewEnvelope builds an Envelope from a command result.
func NewEnvelope(action, messageText string, value codec.Value, code status.Code) Envelope {
	return Envelope{
		Action:      action,
		MessageText: messageText,
		Value:       codec.ToNative(value),
		StatusCode:  int(code),
		Status:      code.Symbol(),
		Success:     code.Success(),
	}
}

// Render encodes the envelope as a single JSON line (no trailing
// newline).
func (e Envelope) Render() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("session: encode envelope: %w", err)
	}

	return string(data), nil
}
