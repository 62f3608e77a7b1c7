package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/wavvy/internal/inference"
)

// Config represents the wavvy configuration file (~/.config/wavvy/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	ModelConfig `yaml:",inline"`

	// Sampling defaults. Model generation_config.json hints and flags
	// override these.
	SampleLen     *int     `yaml:"sample_len"`
	Temperature   *float64 `yaml:"temperature"`
	TopP          *float64 `yaml:"top_p"`
	TopK          *int     `yaml:"top_k"`
	Seed          *uint64  `yaml:"seed"`
	SplitPrompt   *bool    `yaml:"split_prompt"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	RepeatLastN   *int     `yaml:"repeat_last_n"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string                 `yaml:"server_address"`
	Models        map[string]ModelConfig `yaml:"models"`
}

// ModelConfig locates one model's files.
type ModelConfig struct {
	ModelDir         string        `yaml:"model_dir"`
	Variant          string        `yaml:"variant"`
	Tokenizer        string        `yaml:"tokenizer"`
	TokenizerConfig  string        `yaml:"tokenizer_config"`
	GenerationConfig string        `yaml:"generation_config"`
	Model            string        `yaml:"model"`
	EncodeCacheTTL   time.Duration `yaml:"encode_cache_ttl"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "wavvy", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Base returns the sampling defaults with config file values applied.
func (c Config) Base() inference.SamplingConfig {
	base := inference.DefaultSamplingConfig()
	if c.SampleLen != nil {
		base.SampleLen = *c.SampleLen
	}
	if c.Temperature != nil {
		base.Temperature = *c.Temperature
	}
	if c.TopP != nil {
		base.TopP = ptr(*c.TopP)
	}
	if c.TopK != nil {
		base.TopK = ptr(*c.TopK)
	}
	if c.Seed != nil {
		base.Seed = *c.Seed
	}
	if c.SplitPrompt != nil {
		base.SplitPrompt = *c.SplitPrompt
	}
	if c.RepeatPenalty != nil {
		base.RepeatPenalty = float32(*c.RepeatPenalty)
	}
	if c.RepeatLastN != nil {
		base.RepeatLastN = *c.RepeatLastN
	}
	return base
}

// applyLoggingConfig applies config file defaults to the logging flags when
// they were not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file defaults to model flags when the
// corresponding flag was not explicitly set.
func applyModelConfig(c *cli.Command, cfg ModelConfig, f *modelFlags) {
	if cfg.ModelDir != "" && !c.IsSet("model-dir") {
		f.modelDir = cfg.ModelDir
	}
	if cfg.Variant != "" && !c.IsSet("variant") {
		f.variant = cfg.Variant
	}
	if cfg.Tokenizer != "" && !c.IsSet("tokenizer") {
		f.tokenizerJSON = cfg.Tokenizer
	}
	if cfg.TokenizerConfig != "" && !c.IsSet("tokenizer-config") {
		f.tokenizerConfig = cfg.TokenizerConfig
	}
	if cfg.GenerationConfig != "" && !c.IsSet("generation-config") {
		f.generationConfig = cfg.GenerationConfig
	}
	if cfg.Model != "" && !c.IsSet("model") {
		f.modelSpec = cfg.Model
	}
	if cfg.EncodeCacheTTL > 0 && !c.IsSet("encode-cache-ttl") {
		f.encodeCacheTTL = cfg.EncodeCacheTTL
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFromContext(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}
