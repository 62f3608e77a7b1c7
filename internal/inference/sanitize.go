package inference

import (
	"strings"

	"github.com/samcharles93/wavvy/internal/reasoning"
)

var contextMarkers = []string{
	"<|im_start|>",
	"<|im_end|>",
	"<｜end▁of▁sentence｜>",
	"<|endoftext|>",
	"</s>",
}

// SanitizeAssistantForContext removes reasoning and turn markers before
// assistant text is fed back into subsequent turns. An unclosed think block
// drops the rest of the text.
func SanitizeAssistantForContext(text string) string {
	s := reasoning.SplitRaw(text).Content
	for _, token := range contextMarkers {
		s = strings.ReplaceAll(s, token, "")
	}
	return strings.TrimSpace(s)
}
