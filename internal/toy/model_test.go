package toy

import (
	"context"
	"math"
	"testing"
)

// TestForwardMatchesNaive compares Forward against a hand-computed reference
// for a single token.
func TestForwardMatchesNaive(t *testing.T) {
	vocab, hidden := 8, 6
	model := New(vocab, hidden, 5)
	tok := 3

	logits, err := model.Forward(context.Background(), []int{tok}, 0)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	h := make([]float64, hidden)
	var ss float64
	for i := range h {
		h[i] = math.Tanh(float64(model.Emb.Row(tok)[i]))
		ss += h[i] * h[i]
	}
	scale := 1 / math.Sqrt(ss/float64(hidden)+1e-6)
	for j := 0; j < vocab; j++ {
		var sum float64
		for i := 0; i < hidden; i++ {
			sum += float64(model.Out.Row(j)[i]) * h[i] * scale
		}
		if math.Abs(sum-float64(logits[j])) > 1e-4 {
			t.Fatalf("logit mismatch at %d: got %f, want %f", j, logits[j], sum)
		}
	}
}

// TestBatchedMatchesSequential checks that prompt ingestion in one call
// equals feeding one token per call.
func TestBatchedMatchesSequential(t *testing.T) {
	ctx := context.Background()
	tokens := []int{1, 4, 2, 7, 0, 3}

	batched := New(9, 12, 42)
	want, err := batched.Forward(ctx, tokens, 0)
	if err != nil {
		t.Fatalf("batched: %v", err)
	}

	seq := New(9, 12, 42)
	var got []float32
	for i, tok := range tokens {
		got, err = seq.Forward(ctx, []int{tok}, i)
		if err != nil {
			t.Fatalf("sequential %d: %v", i, err)
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("logit %d: sequential %g batched %g", i, got[i], want[i])
		}
	}
	if seq.Len() != len(tokens) {
		t.Fatalf("cache len %d want %d", seq.Len(), len(tokens))
	}
}

func TestRewindAndReset(t *testing.T) {
	ctx := context.Background()
	m := New(6, 4, 1)

	first, err := m.Forward(ctx, []int{1, 2}, 0)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if _, err := m.Forward(ctx, []int{5}, 2); err != nil {
		t.Fatalf("extend: %v", err)
	}
	again, err := m.Forward(ctx, []int{2}, 1)
	if err != nil {
		t.Fatalf("rewind: %v", err)
	}
	for i := range first {
		if first[i] != again[i] {
			t.Fatalf("rewind changed logit %d", i)
		}
	}

	m.Reset()
	if m.Len() != 0 {
		t.Fatalf("reset left %d positions", m.Len())
	}
	if _, err := m.Forward(ctx, []int{1}, 1); err == nil {
		t.Fatalf("expected error when skipping past the cache")
	}
}

func TestForwardErrors(t *testing.T) {
	m := New(4, 3, 2)
	ctx := context.Background()

	if _, err := m.Forward(ctx, nil, 0); err == nil {
		t.Fatalf("expected error for empty input")
	}
	if _, err := m.Forward(ctx, []int{4}, 0); err == nil {
		t.Fatalf("expected error for out of range token")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.Forward(cancelled, []int{1}, 0); err != context.Canceled {
		t.Fatalf("got %v want context.Canceled", err)
	}
}

func TestSameSeedSameWeights(t *testing.T) {
	a := New(5, 3, 9)
	b := New(5, 3, 9)
	for i := range a.Emb.Data {
		if a.Emb.Data[i] != b.Emb.Data[i] {
			t.Fatalf("embedding %d differs", i)
		}
	}
}
