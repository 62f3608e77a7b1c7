package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/wavvy/internal/chat"
	"github.com/samcharles93/wavvy/internal/inference"
)

const (
	envModelDir = "WAVVY_MODEL_DIR"

	tokenizerJSONName    = "tokenizer.json"
	tokenizerConfigName  = "tokenizer_config.json"
	generationConfigName = "generation_config.json"
)

// resolveLoader turns model flags into a Loader. Explicit file flags win;
// otherwise files are looked up in the model directory, which defaults to
// $WAVVY_MODEL_DIR.
func resolveLoader(f modelFlags) (inference.Loader, error) {
	variant, err := chat.ParseVariant(f.variant)
	if err != nil {
		return inference.Loader{}, err
	}

	dir := strings.TrimSpace(f.modelDir)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(envModelDir))
	}

	tokPath := strings.TrimSpace(f.tokenizerJSON)
	if tokPath == "" {
		if dir == "" {
			return inference.Loader{}, fmt.Errorf("--tokenizer or --model-dir is required unless %s is set", envModelDir)
		}
		tokPath = filepath.Join(dir, tokenizerJSONName)
	}
	if !fileExists(tokPath) {
		return inference.Loader{}, fmt.Errorf("tokenizer not found: %s", tokPath)
	}

	return inference.Loader{
		TokenizerJSONPath:    filepath.Clean(tokPath),
		TokenizerConfigPath:  optionalFile(f.tokenizerConfig, dir, tokenizerConfigName),
		GenerationConfigPath: optionalFile(f.generationConfig, dir, generationConfigName),
		ModelSpec:            f.modelSpec,
		Variant:              variant,
		EncodeCacheTTL:       f.encodeCacheTTL,
	}, nil
}

// optionalFile returns the explicit path, or name inside dir when it exists.
func optionalFile(explicit, dir, name string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return filepath.Clean(explicit)
	}
	if dir == "" {
		return ""
	}
	cand := filepath.Join(dir, name)
	if fileExists(cand) {
		return cand
	}
	return ""
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
