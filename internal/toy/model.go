// Package toy provides a small deterministic causal language model. It is
// used to exercise the generation loop end to end without real weights.
package toy

import (
	"context"
	"fmt"

	"github.com/samcharles93/wavvy/internal/tensor"
)

// Model is a single-layer recurrent LM. The hidden state at position t is
//
//	h[t] = tanh(Emb[tok[t]] + Rec * h[t-1])
//
// and the logits are Out * rmsnorm(h[t]) + Bias. Hidden states are cached
// per position, so feeding a prompt in one call or one token at a time
// yields bit-identical logits.
type Model struct {
	Vocab  int
	Hidden int

	Emb  tensor.Mat // [Vocab x Hidden]
	Rec  tensor.Mat // [Hidden x Hidden]
	Out  tensor.Mat // [Vocab x Hidden]
	Norm []float32  // [Hidden]
	Bias []float32  // [Vocab]

	states [][]float32
	mix    []float32
	normed []float32
}

// New builds a model whose weights are derived from seed.
func New(vocab, hidden int, seed uint64) *Model {
	if vocab <= 0 || hidden <= 0 {
		panic("toy: vocab and hidden must be positive")
	}
	m := &Model{
		Vocab:  vocab,
		Hidden: hidden,
		Emb:    tensor.NewMat(vocab, hidden),
		Rec:    tensor.NewMat(hidden, hidden),
		Out:    tensor.NewMat(vocab, hidden),
		Norm:   make([]float32, hidden),
		Bias:   make([]float32, vocab),
		mix:    make([]float32, hidden),
		normed: make([]float32, hidden),
	}
	tensor.FillRand(&m.Emb, seed+11, 2)
	tensor.FillRand(&m.Rec, seed+23, 1)
	tensor.FillRand(&m.Out, seed+37, 4)
	for i := range m.Norm {
		m.Norm[i] = 1
	}
	return m
}

// Forward consumes tokens starting at position pos and returns the logits
// for the last one. pos may rewind into the cache but not skip past it.
func (m *Model) Forward(ctx context.Context, tokens []int, pos int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("toy: forward with no tokens")
	}
	if pos < 0 || pos > len(m.states) {
		return nil, fmt.Errorf("toy: position %d outside cache of %d", pos, len(m.states))
	}
	m.states = m.states[:pos]

	for _, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tok < 0 || tok >= m.Vocab {
			return nil, fmt.Errorf("toy: token %d outside vocabulary of %d", tok, m.Vocab)
		}
		h := make([]float32, m.Hidden)
		copy(h, m.Emb.Row(tok))
		if n := len(m.states); n > 0 {
			tensor.MatVec(m.mix, &m.Rec, m.states[n-1])
			tensor.Add(h, m.mix)
		}
		tensor.Tanh(h)
		m.states = append(m.states, h)
	}

	tensor.RMSNorm(m.normed, m.states[len(m.states)-1], m.Norm, 1e-6)
	logits := make([]float32, m.Vocab)
	tensor.MatVec(logits, &m.Out, m.normed)
	tensor.Add(logits, m.Bias)
	return logits, nil
}

// Reset drops all cached positions.
func (m *Model) Reset() {
	m.states = m.states[:0]
}

// Len reports the number of cached positions.
func (m *Model) Len() int { return len(m.states) }
