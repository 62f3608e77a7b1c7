package inference

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/samcharles93/wavvy/internal/chat"
	"github.com/samcharles93/wavvy/internal/logger"
	"github.com/samcharles93/wavvy/internal/logits"
	"github.com/samcharles93/wavvy/internal/tokenizer"
)

// Engine runs generations for one model and tokenizer. It runs a single
// generation at a time: starting a new one supersedes any generation that
// has not finished. An Engine is not safe for concurrent use.
type Engine struct {
	model    Model
	tok      tokenizer.Tokenizer
	variant  chat.Variant
	renderer chat.Renderer
	cfg      SamplingConfig
	log      logger.Logger
	observer Observer

	epoch atomic.Uint64
}

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithRenderer sets the renderer used by Chat when template data is given.
func WithRenderer(r chat.Renderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// NewEngine validates cfg and binds the collaborators.
func NewEngine(m Model, tok tokenizer.Tokenizer, v chat.Variant, cfg SamplingConfig, opts ...Option) (*Engine, error) {
	if m == nil {
		return nil, configError("new engine", errors.New("model is required"))
	}
	if tok == nil {
		return nil, configError("new engine", errors.New("tokenizer is required"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		model:    m,
		tok:      tok,
		variant:  v,
		renderer: chat.MustacheRenderer{},
		cfg:      cfg,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Variant() chat.Variant { return e.variant }

func (e *Engine) Config() SamplingConfig { return e.cfg }

func (e *Engine) Tokenizer() tokenizer.Tokenizer { return e.tok }

// Start encodes prompt, ingests it and samples the first token using the
// engine's default config.
func (e *Engine) Start(ctx context.Context, prompt string) (*Generation, error) {
	return e.StartWithConfig(ctx, prompt, e.cfg)
}

// StartWithConfig is Start with an explicit sampling config.
func (e *Engine) StartWithConfig(ctx context.Context, prompt string, cfg SamplingConfig) (*Generation, error) {
	if ctx == nil {
		return nil, configError("start", errors.New("context is required"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	eos, err := ResolveEOS(e.tok, e.variant)
	if err != nil {
		e.observe(Stats{}, "", err)
		return nil, err
	}

	g := &Generation{
		engine:  e,
		epoch:   e.epoch.Add(1),
		cfg:     cfg,
		eos:     eos,
		penalty: cfg.repeatPenalty(),
		decoder: tokenizer.NewStream(e.tok),
		state:   PromptIngesting,
		started: time.Now(),
	}
	if err := g.ingest(ctx, prompt); err != nil {
		g.state = Failed
		g.err = err
		e.observe(g.stats(), "", err)
		return nil, err
	}
	g.state = Stepping
	e.log.Debug("prompt ingested",
		"variant", e.variant.String(),
		"prompt_tokens", g.promptLen,
		"split_prompt", cfg.SplitPrompt,
		"strategy", cfg.Strategy().String(),
		"duration", g.promptDur,
	)
	return g, nil
}

// Invoke runs a generation to completion and returns the aggregated
// response.
func (e *Engine) Invoke(ctx context.Context, prompt string) (*ChatResponse, error) {
	g, err := e.Start(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return g.Collect(ctx)
}

// Stream yields one response per generation step. A failure is yielded once
// and ends the sequence.
func (e *Engine) Stream(ctx context.Context, prompt string) iter.Seq2[ChatResponse, error] {
	return func(yield func(ChatResponse, error) bool) {
		g, err := e.Start(ctx, prompt)
		if err != nil {
			yield(ChatResponse{}, err)
			return
		}
		for resp, err := range g.All(ctx) {
			if !yield(resp, err) {
				return
			}
		}
	}
}

// Chat formats msgs for the engine's variant and invokes the model. When
// data is non-nil the formatted prompt is rendered with it first.
func (e *Engine) Chat(ctx context.Context, msgs []chat.Message, data any) (*ChatResponse, error) {
	prompt, err := e.Prompt(msgs, data)
	if err != nil {
		return nil, err
	}
	return e.Invoke(ctx, prompt)
}

// ChatStream is the streaming form of Chat.
func (e *Engine) ChatStream(ctx context.Context, msgs []chat.Message, data any) iter.Seq2[ChatResponse, error] {
	prompt, err := e.Prompt(msgs, data)
	if err != nil {
		return func(yield func(ChatResponse, error) bool) {
			yield(ChatResponse{}, err)
		}
	}
	return e.Stream(ctx, prompt)
}

// Prompt formats msgs with the engine's variant. Render failures are
// ErrPrompt errors.
func (e *Engine) Prompt(msgs []chat.Message, data any) (string, error) {
	if data == nil {
		return chat.Format(e.variant, msgs), nil
	}
	prompt, err := chat.FormatWithParams(e.variant, msgs, data, e.renderer)
	if err != nil {
		return "", promptError("render template", err)
	}
	return prompt, nil
}

func (e *Engine) current(epoch uint64) bool {
	return e.epoch.Load() == epoch
}

func (e *Engine) observe(stats Stats, finish string, err error) {
	if e.observer != nil {
		e.observer.ObserveGeneration(e.variant, stats, finish, err)
	}
}

func safeReset(m Model) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Reset: %v", rec)
		}
	}()
	m.Reset()
	return nil
}

func safeEncode(tok tokenizer.Tokenizer, prompt string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(prompt, true)
}

func safeForward(ctx context.Context, m Model, tokens []int, pos int) (out []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Forward: %v", rec)
		}
	}()
	return m.Forward(ctx, tokens, pos)
}

func safeSample(s *logits.Sampler, lv []float32) (id int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Sample: %v", rec)
		}
	}()
	return s.Sample(lv)
}

func safePush(d *tokenizer.Stream, id int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	text, _, err = d.Push(id)
	return text, err
}
