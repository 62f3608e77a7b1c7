package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v3"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file is empty config", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Temperature != nil || cfg.Models != nil {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := LoadConfig(""); err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
	})

	t.Run("parses fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeFile(t, path, `
model_dir: /models/qwen
variant: alternate
encode_cache_ttl: 2m
temperature: 0.2
top_k: 5
seed: 42
split_prompt: false
repeat_penalty: 1.3
log_level: debug
server_address: 0.0.0.0:9090
models:
  small:
    tokenizer: /models/small/tokenizer.json
    model: toy:32
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.ModelDir != "/models/qwen" || cfg.Variant != "alternate" {
			t.Fatalf("inline model config not parsed: %+v", cfg.ModelConfig)
		}
		if cfg.EncodeCacheTTL != 2*time.Minute {
			t.Fatalf("encode_cache_ttl: got %v", cfg.EncodeCacheTTL)
		}
		if cfg.LogLevel != "debug" || cfg.ServerAddress != "0.0.0.0:9090" {
			t.Fatalf("unexpected output fields: %+v", cfg)
		}
		small, ok := cfg.Models["small"]
		if !ok || small.Model != "toy:32" || small.Tokenizer != "/models/small/tokenizer.json" {
			t.Fatalf("models not parsed: %+v", cfg.Models)
		}

		base := cfg.Base()
		if base.Temperature != 0.2 || base.Seed != 42 || base.SplitPrompt {
			t.Fatalf("unexpected base config: %+v", base)
		}
		if base.TopK == nil || *base.TopK != 5 {
			t.Fatalf("top_k not applied: %v", base.TopK)
		}
		if base.TopP != nil {
			t.Fatalf("top_p should stay unset, got %v", *base.TopP)
		}
		if base.RepeatPenalty != float32(1.3) {
			t.Fatalf("repeat_penalty: got %v", base.RepeatPenalty)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeFile(t, path, "temperature: [oops")
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected parse error")
		}
	})
}

func TestApplyModelConfigKeepsExplicitFlags(t *testing.T) {
	var mf modelFlags
	cfg := ModelConfig{
		Variant:        "r1",
		Model:          "toy:32",
		Tokenizer:      "/cfg/tokenizer.json",
		EncodeCacheTTL: time.Minute,
	}

	cmd := &cli.Command{
		Name:  "test",
		Flags: mf.flags(),
		Action: func(_ context.Context, c *cli.Command) error {
			applyModelConfig(c, cfg, &mf)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"test", "--variant", "primary", "--tokenizer", "/flag/tokenizer.json"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if mf.variant != "primary" {
		t.Fatalf("explicit --variant overridden: %q", mf.variant)
	}
	if mf.tokenizerJSON != "/flag/tokenizer.json" {
		t.Fatalf("explicit --tokenizer overridden: %q", mf.tokenizerJSON)
	}
	if mf.modelSpec != "toy:32" {
		t.Fatalf("config model not applied: %q", mf.modelSpec)
	}
	if mf.encodeCacheTTL != time.Minute {
		t.Fatalf("config encode cache ttl not applied: %v", mf.encodeCacheTTL)
	}
}

func TestSamplingOptionsOnlySetFlags(t *testing.T) {
	var sf samplingFlags
	cmd := &cli.Command{
		Name:   "test",
		Flags:  sf.flags(),
		Action: func(context.Context, *cli.Command) error { return nil },
	}
	if err := cmd.Run(context.Background(), []string{"test", "--temp", "0", "--top-k", "3", "--seed", "9"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	opts := sf.options(cmd)
	if opts.Temperature == nil || *opts.Temperature != 0 {
		t.Fatalf("temperature: %v", opts.Temperature)
	}
	if opts.TopK == nil || *opts.TopK != 3 {
		t.Fatalf("top_k: %v", opts.TopK)
	}
	if opts.Seed == nil || *opts.Seed != 9 {
		t.Fatalf("seed: %v", opts.Seed)
	}
	if opts.SampleLen != nil || opts.TopP != nil || opts.RepeatPenalty != nil || opts.SplitPrompt != nil {
		t.Fatalf("unset flags leaked into options: %+v", opts)
	}
}

func TestConfigContext(t *testing.T) {
	if got := configFromContext(context.Background()); got.Models != nil {
		t.Fatalf("expected zero config from bare context")
	}
	ctx := withConfig(context.Background(), Config{ServerAddress: ":1"})
	if got := configFromContext(ctx); got.ServerAddress != ":1" {
		t.Fatalf("config not carried on context: %+v", got)
	}
}
