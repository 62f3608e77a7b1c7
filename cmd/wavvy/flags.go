package main

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wavvy/internal/inference"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

// modelFlags locate the files an engine loads from.
type modelFlags struct {
	modelDir         string
	variant          string
	tokenizerJSON    string
	tokenizerConfig  string
	generationConfig string
	modelSpec        string
	encodeCacheTTL   time.Duration
}

func (f *modelFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model-dir",
			Aliases:     []string{"d"},
			Usage:       "directory holding tokenizer.json and friends (defaults to $" + envModelDir + ")",
			Destination: &f.modelDir,
		},
		&cli.StringFlag{
			Name:        "variant",
			Aliases:     []string{"which"},
			Usage:       "chat template family (primary, alternate)",
			Value:       "primary",
			Destination: &f.variant,
		},
		&cli.StringFlag{
			Name:        "tokenizer",
			Aliases:     []string{"tokenizer-json"},
			Usage:       "override path to tokenizer.json",
			Destination: &f.tokenizerJSON,
		},
		&cli.StringFlag{
			Name:        "tokenizer-config",
			Usage:       "override path to tokenizer_config.json",
			Destination: &f.tokenizerConfig,
		},
		&cli.StringFlag{
			Name:        "generation-config",
			Usage:       "override path to generation_config.json",
			Destination: &f.generationConfig,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "forward pass to run (toy, toy:<hidden>, toy:<vocab>x<hidden>)",
			Value:       "toy",
			Destination: &f.modelSpec,
		},
		&cli.DurationFlag{
			Name:        "encode-cache-ttl",
			Usage:       "cache prompt encodings for this long (0 disables)",
			Destination: &f.encodeCacheTTL,
		},
	}
}

// samplingFlags hold the per-generation overrides. Values only apply when
// the flag is set so model defaults can show through.
type samplingFlags struct {
	sampleLen     int64
	temperature   float64
	topP          float64
	topK          int64
	seed          uint64
	splitPrompt   bool
	repeatPenalty float64
	repeatLastN   int64
}

func (f *samplingFlags) flags() []cli.Flag {
	d := inference.DefaultSamplingConfig()
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "sample-len",
			Aliases:     []string{"n", "max-tokens"},
			Usage:       "maximum number of tokens to generate",
			Value:       int64(d.SampleLen),
			Destination: &f.sampleLen,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       d.Temperature,
			Destination: &f.temperature,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p"},
			Usage:       "nucleus sampling probability cutoff",
			Destination: &f.topP,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k"},
			Usage:       "only sample among the top K tokens",
			Destination: &f.topK,
		},
		&cli.Uint64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed",
			Value:       d.Seed,
			Destination: &f.seed,
		},
		&cli.BoolFlag{
			Name:        "split-prompt",
			Usage:       "ingest the prompt one token at a time",
			Value:       d.SplitPrompt,
			Destination: &f.splitPrompt,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Aliases:     []string{"repeat_penalty"},
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       float64(d.RepeatPenalty),
			Destination: &f.repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "repeat-last-n",
			Aliases:     []string{"repeat_last_n"},
			Usage:       "context size considered by the repeat penalty",
			Value:       int64(d.RepeatLastN),
			Destination: &f.repeatLastN,
		},
	}
}

// options returns overrides for the flags the user set explicitly.
func (f *samplingFlags) options(c *cli.Command) inference.ConfigOptions {
	var opts inference.ConfigOptions
	if c.IsSet("sample-len") {
		opts.SampleLen = ptr(int(f.sampleLen))
	}
	if c.IsSet("temperature") {
		opts.Temperature = ptr(f.temperature)
	}
	if c.IsSet("top-p") {
		opts.TopP = ptr(f.topP)
	}
	if c.IsSet("top-k") {
		opts.TopK = ptr(int(f.topK))
	}
	if c.IsSet("seed") {
		opts.Seed = ptr(f.seed)
	}
	if c.IsSet("split-prompt") {
		opts.SplitPrompt = ptr(f.splitPrompt)
	}
	if c.IsSet("repeat-penalty") {
		opts.RepeatPenalty = ptr(float32(f.repeatPenalty))
	}
	if c.IsSet("repeat-last-n") {
		opts.RepeatLastN = ptr(int(f.repeatLastN))
	}
	return opts
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "path to config.yaml",
		Value:       defaultConfigPath(),
		Destination: &configFile,
	}
}

func ptr[T any](v T) *T {
	return &v
}
