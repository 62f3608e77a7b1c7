package inference

import (
	"fmt"

	"github.com/samcharles93/wavvy/internal/logits"
)

const (
	DefaultSampleLen     = 1000
	DefaultTemperature   = 0.8
	DefaultSeed          = 299792458
	DefaultRepeatPenalty = 1.1
	DefaultRepeatLastN   = 64
)

// SamplingConfig controls one generation. It is copied into the generation
// at start and never changes afterwards.
type SamplingConfig struct {
	// SampleLen is the token budget, including the first token.
	SampleLen   int
	Temperature float64
	// TopP and TopK are unset when nil.
	TopP *float64
	TopK *int
	Seed uint64
	// SplitPrompt feeds the prompt one token per forward call instead of a
	// single batched call.
	SplitPrompt   bool
	RepeatPenalty float32
	RepeatLastN   int
}

func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		SampleLen:     DefaultSampleLen,
		Temperature:   DefaultTemperature,
		Seed:          DefaultSeed,
		SplitPrompt:   true,
		RepeatPenalty: DefaultRepeatPenalty,
		RepeatLastN:   DefaultRepeatLastN,
	}
}

// Validate reports the first invalid field as an ErrConfig error.
func (c SamplingConfig) Validate() error {
	switch {
	case c.SampleLen < 1:
		return configError("validate", fmt.Errorf("sample_len must be at least 1, got %d", c.SampleLen))
	case c.Temperature < 0:
		return configError("validate", fmt.Errorf("temperature must be >= 0, got %g", c.Temperature))
	case c.TopP != nil && (*c.TopP <= 0 || *c.TopP > 1):
		return configError("validate", fmt.Errorf("top_p must be in (0, 1], got %g", *c.TopP))
	case c.TopK != nil && *c.TopK < 1:
		return configError("validate", fmt.Errorf("top_k must be at least 1, got %d", *c.TopK))
	case c.RepeatPenalty < 1:
		return configError("validate", fmt.Errorf("repeat_penalty must be >= 1, got %g", c.RepeatPenalty))
	case c.RepeatLastN < 0:
		return configError("validate", fmt.Errorf("repeat_last_n must be >= 0, got %d", c.RepeatLastN))
	}
	return nil
}

// Strategy reports the sampling policy the config selects.
func (c SamplingConfig) Strategy() logits.Strategy {
	return c.samplerConfig().Strategy()
}

func (c SamplingConfig) samplerConfig() logits.SamplerConfig {
	sc := logits.SamplerConfig{
		Seed:        c.Seed,
		Temperature: c.Temperature,
	}
	if c.TopK != nil {
		sc.TopK = *c.TopK
	}
	if c.TopP != nil {
		sc.TopP = *c.TopP
	}
	return sc
}

func (c SamplingConfig) repeatPenalty() logits.RepeatPenalty {
	return logits.RepeatPenalty{Penalty: c.RepeatPenalty, LastN: c.RepeatLastN}
}
