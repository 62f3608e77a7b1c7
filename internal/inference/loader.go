package inference

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/wavvy/internal/chat"
	"github.com/samcharles93/wavvy/internal/tokenizer"
	"github.com/samcharles93/wavvy/internal/toy"
)

const defaultToyHidden = 64

// Loader assembles an Engine from files on disk.
type Loader struct {
	TokenizerJSONPath    string
	TokenizerConfigPath  string
	GenerationConfigPath string
	// ModelSpec selects the forward pass: "toy", "toy:<hidden>" or
	// "toy:<vocab>x<hidden>".
	ModelSpec string
	Variant   chat.Variant

	// EncodeCacheTTL enables prompt encode caching when positive.
	EncodeCacheTTL  time.Duration
	EncodeCacheSize uint64
}

type LoadResult struct {
	Engine             *Engine
	Tokenizer          tokenizer.Tokenizer
	TokenizerConfig    tokenizer.Config
	GenerationDefaults GenDefaults
	Config             SamplingConfig

	cache *tokenizer.CachedEncoder
}

// Close releases background resources held by the result.
func (r *LoadResult) Close() error {
	if r == nil {
		return nil
	}
	if r.cache != nil {
		r.cache.Close()
		r.cache = nil
	}
	return nil
}

// EncodeCacheStats reports encode cache usage. ok is false when caching is
// disabled.
func (r *LoadResult) EncodeCacheStats() (tokenizer.CacheStats, bool) {
	if r == nil || r.cache == nil {
		return tokenizer.CacheStats{}, false
	}
	return r.cache.Stats(), true
}

// Load builds the tokenizer and model, layers generation_config.json and
// opts over base, and returns a ready Engine.
func (l Loader) Load(base SamplingConfig, opts ConfigOptions, engineOpts ...Option) (*LoadResult, error) {
	if strings.TrimSpace(l.TokenizerJSONPath) == "" {
		return nil, configError("load", fmt.Errorf("tokenizer.json path is required"))
	}
	hf, err := tokenizer.LoadHF(l.TokenizerJSONPath, l.TokenizerConfigPath)
	if err != nil {
		return nil, tokenizerError("load tokenizer", err)
	}

	defaults, err := loadGenDefaults(l.GenerationConfigPath)
	if err != nil {
		return nil, configError("load generation config", err)
	}
	cfg := ResolveConfig(base, defaults, opts)

	m, err := NewModel(l.ModelSpec, vocabSize(hf))
	if err != nil {
		return nil, err
	}

	res := &LoadResult{
		Tokenizer:          hf,
		TokenizerConfig:    hf.Config(),
		GenerationDefaults: defaults,
		Config:             cfg,
	}
	var tok tokenizer.Tokenizer = hf
	if l.EncodeCacheTTL > 0 {
		res.cache = tokenizer.NewCachedEncoder(hf, l.EncodeCacheTTL, l.EncodeCacheSize)
		tok = res.cache
	}

	engine, err := NewEngine(m, tok, l.Variant, cfg, engineOpts...)
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	if _, err := ResolveEOS(tok, l.Variant); err != nil {
		_ = res.Close()
		return nil, err
	}
	res.Engine = engine
	return res, nil
}

// NewModel parses a model spec. vocab is the tokenizer's id range; a toy
// model must cover it.
func NewModel(spec string, vocab int) (Model, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = "toy"
	}
	name, arg, _ := strings.Cut(spec, ":")
	if name != "toy" {
		return nil, configError("load model", fmt.Errorf("unsupported model %q (want toy, toy:<hidden> or toy:<vocab>x<hidden>)", spec))
	}

	v, hidden := vocab, defaultToyHidden
	if arg != "" {
		vs, hs, hasVocab := strings.Cut(arg, "x")
		if !hasVocab {
			hs, vs = vs, ""
		}
		var err error
		if hidden, err = strconv.Atoi(hs); err != nil || hidden < 1 {
			return nil, configError("load model", fmt.Errorf("invalid hidden size in %q", spec))
		}
		if vs != "" {
			if v, err = strconv.Atoi(vs); err != nil || v < 1 {
				return nil, configError("load model", fmt.Errorf("invalid vocab size in %q", spec))
			}
		}
	}
	if v < vocab {
		return nil, configError("load model", fmt.Errorf("model vocab %d smaller than tokenizer vocab %d", v, vocab))
	}
	if v < 1 {
		return nil, configError("load model", fmt.Errorf("empty vocabulary"))
	}
	return toy.New(v, hidden, 0), nil
}

func vocabSize(tok tokenizer.Tokenizer) int {
	n := 0
	for _, id := range tok.Vocabulary(true) {
		n = max(n, id+1)
	}
	return n
}

func loadGenDefaults(path string) (GenDefaults, error) {
	if strings.TrimSpace(path) == "" {
		return GenDefaults{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return GenDefaults{}, err
	}
	return ParseGenDefaults(raw)
}

// ParseGenDefaults reads the sampling fields of a generation_config.json.
func ParseGenDefaults(raw []byte) (GenDefaults, error) {
	var d GenDefaults
	if len(raw) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return GenDefaults{}, fmt.Errorf("parse generation_config.json: %w", err)
	}
	return d, nil
}
