package api

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/wavvy/internal/chat"
	"github.com/samcharles93/wavvy/internal/inference"
)

// chatMessagesToConversation maps request messages onto template messages.
// Assistant turns are sanitized so earlier reasoning and end markers do not
// leak back into the prompt.
func chatMessagesToConversation(msgs []ChatMessage) ([]chat.Message, error) {
	out := make([]chat.Message, 0, len(msgs))
	for i, m := range msgs {
		role, err := parseRequestRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		content, err := messageText(m.Content)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		if role == chat.Assistant {
			content = inference.SanitizeAssistantForContext(content)
		}
		out = append(out, chat.Message{Role: role, Content: content})
	}
	return out, nil
}

// parseRequestRole accepts OpenAI's developer role as a system turn.
func parseRequestRole(role string) (chat.Role, error) {
	if strings.EqualFold(strings.TrimSpace(role), "developer") {
		return chat.System, nil
	}
	return chat.ParseRole(role)
}

func messageText(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []any:
		var parts []string
		for _, part := range v {
			pm, ok := part.(map[string]any)
			if !ok {
				return "", fmt.Errorf("invalid content part")
			}
			typ, _ := pm["type"].(string)
			switch typ {
			case "text", "input_text":
				if text, ok := pm["text"].(string); ok {
					parts = append(parts, text)
				}
			default:
				return "", fmt.Errorf("unsupported content type %q", typ)
			}
		}
		return strings.Join(parts, "\n"), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("message content: unsupported type")
		}
		return string(b), nil
	}
}

// configOptions maps request sampling fields onto engine overrides.
func (r *ChatCompletionRequest) configOptions() (inference.ConfigOptions, error) {
	var opts inference.ConfigOptions
	opts.SampleLen = r.MaxTokens
	if r.MaxCompletionTokens != nil {
		opts.SampleLen = r.MaxCompletionTokens
	}
	opts.Temperature = r.Temperature
	opts.TopP = r.TopP
	opts.TopK = r.TopK
	opts.RepeatLastN = r.RepeatLastN
	opts.SplitPrompt = r.SplitPrompt
	if r.Seed != nil {
		if *r.Seed < 0 {
			return opts, newInvalidRequest("seed must be non-negative")
		}
		opts.Seed = ptr(uint64(*r.Seed))
	}
	if r.RepeatPenalty != nil {
		opts.RepeatPenalty = ptr(float32(*r.RepeatPenalty))
	}
	return opts, nil
}

// splitReasoning reports whether think blocks are separated from content.
func (r *ChatCompletionRequest) splitReasoning(v chat.Variant) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(r.ReasoningFormat)) {
	case "", "auto":
		return v == chat.Alternate, nil
	case "none":
		return false, nil
	case "deepseek", "parsed":
		return true, nil
	default:
		return false, newInvalidRequest(fmt.Sprintf("unknown reasoning_format %q", r.ReasoningFormat))
	}
}

func (r *ChatCompletionRequest) templateData() any {
	if len(r.TemplateParams) == 0 {
		return nil
	}
	return r.TemplateParams
}
