package api

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/wavvy/internal/inference"
)

// EngineProvider hands out engines by model name. fn runs with exclusive
// use of the engine.
type EngineProvider interface {
	WithEngine(ctx context.Context, modelID string, fn func(engine *inference.Engine) error) error
	ListModels() []string
}

type EngineProviderConfig struct {
	// Models maps a served model name to the files it loads from.
	Models map[string]inference.Loader
	// DefaultModel answers requests that name no model. With a single
	// configured model it may be left empty.
	DefaultModel string
	Base         inference.SamplingConfig
	Options      inference.ConfigOptions
	EngineOpts   []inference.Option
}

// CachedEngineProvider loads each model on first use and keeps it.
// Concurrent first requests share one load.
type CachedEngineProvider struct {
	cfg   EngineProviderConfig
	group singleflight.Group
	mu    sync.Mutex
	cache map[string]*engineEntry
}

type engineEntry struct {
	result *inference.LoadResult
	mu     sync.Mutex
}

func NewCachedEngineProvider(cfg EngineProviderConfig) *CachedEngineProvider {
	return &CachedEngineProvider{
		cfg:   cfg,
		cache: make(map[string]*engineEntry),
	}
}

func (p *CachedEngineProvider) WithEngine(ctx context.Context, modelID string, fn func(engine *inference.Engine) error) error {
	name, err := p.resolveModel(modelID)
	if err != nil {
		return err
	}
	entry, err := p.getOrLoad(name)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(entry.result.Engine)
}

func (p *CachedEngineProvider) ListModels() []string {
	names := make([]string, 0, len(p.cfg.Models))
	for name := range p.cfg.Models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close releases every loaded engine.
func (p *CachedEngineProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for name, entry := range p.cache {
		errs = append(errs, entry.result.Close())
		delete(p.cache, name)
	}
	return errors.Join(errs...)
}

func (p *CachedEngineProvider) getOrLoad(name string) (*engineEntry, error) {
	p.mu.Lock()
	entry, ok := p.cache[name]
	p.mu.Unlock()
	if ok {
		return entry, nil
	}

	v, err, _ := p.group.Do(name, func() (any, error) {
		p.mu.Lock()
		if existing, ok := p.cache[name]; ok {
			p.mu.Unlock()
			return existing, nil
		}
		p.mu.Unlock()

		result, err := p.cfg.Models[name].Load(p.cfg.Base, p.cfg.Options, p.cfg.EngineOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, name, err)
		}
		newEntry := &engineEntry{result: result}

		p.mu.Lock()
		p.cache[name] = newEntry
		p.mu.Unlock()
		return newEntry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*engineEntry), nil
}

func (p *CachedEngineProvider) resolveModel(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if _, ok := p.cfg.Models[modelID]; !ok {
			return "", fmt.Errorf("%w: %q", ErrModelNotFound, modelID)
		}
		return modelID, nil
	}
	if p.cfg.DefaultModel != "" {
		if _, ok := p.cfg.Models[p.cfg.DefaultModel]; !ok {
			return "", fmt.Errorf("%w: default %q", ErrModelNotFound, p.cfg.DefaultModel)
		}
		return p.cfg.DefaultModel, nil
	}
	switch len(p.cfg.Models) {
	case 0:
		return "", fmt.Errorf("%w: no models configured", ErrModelNotFound)
	case 1:
		return p.ListModels()[0], nil
	default:
		return "", newInvalidRequest("multiple models configured; specify model")
	}
}
