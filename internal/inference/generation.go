package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"time"

	"github.com/samcharles93/wavvy/internal/logits"
	"github.com/samcharles93/wavvy/internal/tokenizer"
)

// State is the lifecycle position of a Generation.
type State uint8

const (
	Uninitialized State = iota
	PromptIngesting
	Stepping
	Terminated
	Failed
	Superseded
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case PromptIngesting:
		return "prompt_ingesting"
	case Stepping:
		return "stepping"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	case Superseded:
		return "superseded"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Generation is one run of the model over a prompt. It is advanced one token
// per Step and is never reused. Once Failed or Superseded every call returns
// the same error.
type Generation struct {
	engine  *Engine
	epoch   uint64
	cfg     SamplingConfig
	eos     int
	sampler *logits.Sampler
	penalty logits.RepeatPenalty
	decoder *tokenizer.Stream

	// history holds the prompt followed by every produced token.
	history   []int
	promptLen int
	next      int
	produced  int

	state  State
	err    error
	finish string

	started   time.Time
	promptDur time.Duration
	duration  time.Duration
}

func (g *Generation) ingest(ctx context.Context, prompt string) error {
	m := g.engine.model
	if err := safeReset(m); err != nil {
		return promptError("reset model", err)
	}
	ids, err := safeEncode(g.engine.tok, prompt)
	if err != nil {
		return tokenizerError("encode prompt", err)
	}
	if len(ids) == 0 {
		return tokenizerError("encode prompt", errors.New("prompt encodes to no tokens"))
	}
	g.promptLen = len(ids)
	g.history = make([]int, 0, len(ids)+min(g.cfg.SampleLen, 4096))
	g.history = append(g.history, ids...)
	g.sampler = logits.NewSampler(g.cfg.samplerConfig())

	// Only the final position is sampled, so split and batched ingestion
	// consume the same sampler draws.
	var lv []float32
	if g.cfg.SplitPrompt {
		for pos := range ids {
			lv, err = safeForward(ctx, m, ids[pos:pos+1], pos)
			if err != nil {
				break
			}
		}
	} else {
		lv, err = safeForward(ctx, m, ids, 0)
	}
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return promptError("forward prompt", err)
	}

	g.next, err = safeSample(g.sampler, lv)
	if err != nil {
		return promptError("sample", err)
	}
	g.promptDur = time.Since(g.started)
	return nil
}

// Step produces one token. The first call emits the token sampled from the
// prompt; later calls run one forward pass over the previous token, apply
// the repeat penalty over the trailing window of the full history and
// sample. The step that produces the EOS token or exhausts SampleLen carries
// any withheld text and a FinishReason. After that Step returns io.EOF.
func (g *Generation) Step(ctx context.Context) (ChatResponse, error) {
	switch g.state {
	case Stepping:
	case Terminated:
		return ChatResponse{}, io.EOF
	case Failed, Superseded:
		return ChatResponse{}, g.err
	default:
		return ChatResponse{}, fmt.Errorf("generation is %s", g.state)
	}
	if !g.engine.current(g.epoch) {
		g.state = Superseded
		g.err = ErrSuperseded
		g.engine.observe(g.stats(), "", g.err)
		return ChatResponse{}, g.err
	}
	if err := ctx.Err(); err != nil {
		return g.fail(err)
	}

	tok := g.next
	if g.produced > 0 {
		prev := len(g.history) - 1
		lv, err := safeForward(ctx, g.engine.model, []int{g.history[prev]}, prev)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return g.fail(cerr)
			}
			return g.fail(promptError("forward", err))
		}
		g.penalty.Apply(lv, g.history)
		tok, err = safeSample(g.sampler, lv)
		if err != nil {
			return g.fail(promptError("sample", err))
		}
	}
	g.history = append(g.history, tok)
	g.produced++

	text, err := safePush(g.decoder, tok)
	if err != nil {
		return g.fail(tokenizerError("decode", err))
	}

	switch {
	case tok == g.eos:
		g.finish = FinishStop
	case g.produced >= g.cfg.SampleLen:
		g.finish = FinishLength
	}
	if g.finish != "" {
		tail, err := safeFlush(g.decoder)
		if err != nil {
			g.finish = ""
			return g.fail(tokenizerError("decode", err))
		}
		text += tail
		g.state = Terminated
		g.duration = time.Since(g.started)
		stats := g.stats()
		g.engine.log.Debug("generation finished",
			"finish_reason", g.finish,
			"prompt_tokens", stats.PromptTokens,
			"tokens", stats.TokensGenerated,
			"duration", stats.Duration,
			"tps", stats.TPS,
		)
		g.engine.observe(stats, g.finish, nil)
	}

	resp := g.response(text)
	resp.FinishReason = g.finish
	return resp, nil
}

// All yields one response per Step until the generation terminates. A
// failure is yielded once and ends the sequence.
func (g *Generation) All(ctx context.Context) iter.Seq2[ChatResponse, error] {
	return func(yield func(ChatResponse, error) bool) {
		for {
			resp, err := g.Step(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(ChatResponse{}, err)
				return
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}

// Collect drives the generation to completion and returns the whole
// completion decoded in one pass.
func (g *Generation) Collect(ctx context.Context) (*ChatResponse, error) {
	for {
		_, err := g.Step(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	content, err := safeDecodeAll(g.decoder)
	if err != nil {
		return nil, tokenizerError("decode", err)
	}
	resp := g.response(content)
	resp.FinishReason = g.finish
	return &resp, nil
}

func (g *Generation) State() State { return g.state }

// Err returns the error that ended the generation, if any.
func (g *Generation) Err() error { return g.err }

func (g *Generation) FinishReason() string { return g.finish }

// PromptTokens returns a copy of the encoded prompt.
func (g *Generation) PromptTokens() []int {
	return slices.Clone(g.history[:g.promptLen])
}

// Tokens returns a copy of the produced token ids.
func (g *Generation) Tokens() []int {
	return slices.Clone(g.history[g.promptLen:])
}

func (g *Generation) Stats() Stats { return g.stats() }

func (g *Generation) fail(err error) (ChatResponse, error) {
	g.state = Failed
	g.err = err
	g.duration = time.Since(g.started)
	g.engine.log.Debug("generation failed", "kind", Kind(err), "tokens", g.produced, "error", err)
	g.engine.observe(g.stats(), "", err)
	return ChatResponse{}, err
}

func (g *Generation) response(content string) ChatResponse {
	completion := g.decoder.TotalTokens()
	return ChatResponse{
		Content:          content,
		PromptTokens:     g.promptLen,
		CompletionTokens: completion,
		TotalTokens:      g.promptLen + completion,
	}
}

func (g *Generation) stats() Stats {
	d := g.duration
	if d == 0 && !g.started.IsZero() {
		d = time.Since(g.started)
	}
	s := Stats{
		PromptTokens:    g.promptLen,
		TokensGenerated: g.produced,
		PromptDuration:  g.promptDur,
		Duration:        d,
	}
	if d.Seconds() > 0 {
		s.TPS = float64(g.produced) / d.Seconds()
	}
	return s
}

func safeFlush(d *tokenizer.Stream) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return d.Flush()
}

func safeDecodeAll(d *tokenizer.Stream) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return d.DecodeAll()
}
