package inference

// ConfigOptions carries per-request overrides. Nil fields keep the value
// from the defaults.
type ConfigOptions struct {
	SampleLen     *int
	Temperature   *float64
	TopP          *float64
	TopK          *int
	Seed          *uint64
	SplitPrompt   *bool
	RepeatPenalty *float32
	RepeatLastN   *int
}

// GenDefaults are sampling hints shipped with a model, usually from its
// generation_config.json.
type GenDefaults struct {
	Temperature       *float64 `json:"temperature"`
	TopK              *int     `json:"top_k"`
	TopP              *float64 `json:"top_p"`
	RepetitionPenalty *float64 `json:"repetition_penalty"`
	MaxNewTokens      *int     `json:"max_new_tokens"`
}

// ResolveConfig layers model defaults and then explicit options over base.
// Out-of-range model hints are ignored; explicit options are kept as given
// and left to Validate.
func ResolveConfig(base SamplingConfig, defaults GenDefaults, opts ConfigOptions) SamplingConfig {
	cfg := base

	if defaults.Temperature != nil && *defaults.Temperature >= 0 {
		cfg.Temperature = *defaults.Temperature
	}
	if defaults.TopK != nil && *defaults.TopK > 0 {
		k := *defaults.TopK
		cfg.TopK = &k
	}
	if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP <= 1 {
		p := *defaults.TopP
		cfg.TopP = &p
	}
	if defaults.RepetitionPenalty != nil && *defaults.RepetitionPenalty >= 1 {
		cfg.RepeatPenalty = float32(*defaults.RepetitionPenalty)
	}
	if defaults.MaxNewTokens != nil && *defaults.MaxNewTokens > 0 {
		cfg.SampleLen = *defaults.MaxNewTokens
	}

	if opts.SampleLen != nil {
		cfg.SampleLen = *opts.SampleLen
	}
	if opts.Temperature != nil {
		cfg.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		p := *opts.TopP
		cfg.TopP = &p
	}
	if opts.TopK != nil {
		k := *opts.TopK
		cfg.TopK = &k
	}
	if opts.Seed != nil {
		cfg.Seed = *opts.Seed
	}
	if opts.SplitPrompt != nil {
		cfg.SplitPrompt = *opts.SplitPrompt
	}
	if opts.RepeatPenalty != nil {
		cfg.RepeatPenalty = *opts.RepeatPenalty
	}
	if opts.RepeatLastN != nil {
		cfg.RepeatLastN = *opts.RepeatLastN
	}
	return cfg
}
