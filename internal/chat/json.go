package chat

import (
	"bytes"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// LoadMessagesJSON reads a JSON file that is either a messages array
// or an object with a "messages" field.
func LoadMessagesJSON(path string) ([]Message, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMessagesJSON(raw)
}

func ParseMessagesJSON(raw []byte) ([]Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("messages json is empty")
	}
	switch raw[0] {
	case '[':
		var msgs []Message
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("parse messages json: %w", err)
		}
		return msgs, nil
	case '{':
		var wrapper struct {
			Messages *[]Message `json:"messages"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, fmt.Errorf("parse messages json: %w", err)
		}
		if wrapper.Messages == nil {
			return nil, fmt.Errorf("messages json object missing \"messages\" field")
		}
		return *wrapper.Messages, nil
	default:
		return nil, fmt.Errorf("messages json must be array or object")
	}
}

// ParseParams decodes template data given as a JSON object.
func ParseParams(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse template params: %w", err)
	}
	return data, nil
}
