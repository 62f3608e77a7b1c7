package inference

import (
	"context"
	"time"

	"github.com/samcharles93/wavvy/internal/chat"
)

// Model is the forward pass of a causal language model. It keeps a cache
// keyed by sequence position.
type Model interface {
	// Forward consumes tokens starting at pos and returns the logits for the
	// last one. The returned slice belongs to the caller.
	Forward(ctx context.Context, tokens []int, pos int) ([]float32, error)
	// Reset clears the position cache.
	Reset()
}

// Finish reasons reported on the final response of a generation.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// ChatResponse is one streamed increment or the aggregated result of a
// generation. TotalTokens is always PromptTokens + CompletionTokens.
type ChatResponse struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	FinishReason     string `json:"finish_reason,omitempty"`
}

type Stats struct {
	PromptTokens    int
	TokensGenerated int
	PromptDuration  time.Duration
	Duration        time.Duration
	TPS             float64
}

// Observer receives one call per generation when it terminates or fails.
type Observer interface {
	ObserveGeneration(v chat.Variant, stats Stats, finish string, err error)
}
