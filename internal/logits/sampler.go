package logits

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// ErrEmptyLogits is returned when Sample is called with no candidates.
var ErrEmptyLogits = errors.New("logits: empty logits vector")

// ErrDegenerate is returned when the logits do not form a usable distribution
// (all -Inf, NaN, or zero mass after truncation).
var ErrDegenerate = errors.New("logits: degenerate distribution")

// Strategy is the sampling policy selected once from a SamplerConfig.
type Strategy uint8

const (
	ArgMax Strategy = iota
	All
	TopK
	TopP
	TopKThenTopP
)

func (s Strategy) String() string {
	switch s {
	case ArgMax:
		return "argmax"
	case All:
		return "all"
	case TopK:
		return "top_k"
	case TopP:
		return "top_p"
	case TopKThenTopP:
		return "top_k+top_p"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// SamplerConfig configures the behaviour of a Sampler. A zero TopK or a TopP
// outside (0, 1) leaves that truncation disabled.
type SamplerConfig struct {
	Seed        uint64
	Temperature float64
	TopK        int
	TopP        float64
}

// Strategy reports which policy a sampler built from cfg will apply.
func (cfg SamplerConfig) Strategy() Strategy {
	if cfg.Temperature <= 0 {
		return ArgMax
	}
	hasK := cfg.TopK > 0
	hasP := cfg.TopP > 0 && cfg.TopP < 1
	switch {
	case hasK && hasP:
		return TopKThenTopP
	case hasK:
		return TopK
	case hasP:
		return TopP
	default:
		return All
	}
}

// Sampler picks token ids from logit vectors. It owns a PRNG seeded once at
// construction; every non-greedy call consumes exactly one draw.
type Sampler struct {
	rng      *rand.Rand
	cfg      SamplerConfig
	strategy Strategy

	idx  []int
	prob []float64
}

// NewSampler returns a new sampler with the provided configuration.
func NewSampler(cfg SamplerConfig) *Sampler {
	return &Sampler{
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		cfg:      cfg,
		strategy: cfg.Strategy(),
	}
}

func (s *Sampler) Strategy() Strategy { return s.strategy }

// Sample draws a single index from the provided logits vector. The logits
// are not modified.
//
//  1. Temperature <= 0 returns the argmax, lowest index on ties.
//  2. Otherwise the logits are scaled by 1/Temperature and softmaxed.
//  3. TopK keeps the k most probable candidates.
//  4. TopP keeps the shortest prefix (by descending probability) whose
//     cumulative mass reaches p, after any TopK truncation.
//  5. One uniform draw selects from the renormalised survivors.
func (s *Sampler) Sample(logits []float32) (int, error) {
	if len(logits) == 0 {
		return 0, ErrEmptyLogits
	}
	if s.strategy == ArgMax {
		return argmax(logits), nil
	}

	if err := s.softmax(logits); err != nil {
		return 0, err
	}

	switch s.strategy {
	case All:
		// idx is in vocabulary order; no truncation needed.
	case TopK:
		s.truncateTopK(min(s.cfg.TopK, len(logits)))
	case TopP:
		s.sortDescending()
		s.truncateTopP(s.cfg.TopP)
	case TopKThenTopP:
		s.truncateTopK(min(s.cfg.TopK, len(logits)))
		s.renormalize()
		s.truncateTopP(s.cfg.TopP)
	}
	return s.draw()
}

// softmax fills s.idx with 0..V-1 and s.prob with the tempered distribution.
func (s *Sampler) softmax(logits []float32) error {
	n := len(logits)
	if cap(s.idx) < n {
		s.idx = make([]int, n)
		s.prob = make([]float64, n)
	}
	s.idx = s.idx[:n]
	s.prob = s.prob[:n]

	invTemp := 1.0 / s.cfg.Temperature
	maxv := math.Inf(-1)
	for _, l := range logits {
		if v := float64(l) * invTemp; v > maxv {
			maxv = v
		}
	}
	if math.IsInf(maxv, -1) || math.IsNaN(maxv) {
		return ErrDegenerate
	}

	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l)*invTemp - maxv)
		if math.IsNaN(e) {
			e = 0
		}
		s.idx[i] = i
		s.prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsInf(sum, 0) {
		return ErrDegenerate
	}
	for i := range s.prob {
		s.prob[i] /= sum
	}
	return nil
}

// truncateTopK keeps the k most probable entries, ordered descending.
// This is an O(V*K) insertion for small k and a full sort otherwise.
func (s *Sampler) truncateTopK(k int) {
	if k >= len(s.idx) {
		s.sortDescending()
		return
	}
	if k > 64 {
		s.sortDescending()
		s.idx = s.idx[:k]
		s.prob = s.prob[:k]
		return
	}

	topIdx := make([]int, 0, k+1)
	topVal := make([]float64, 0, k+1)
	for i, p := range s.prob {
		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < p {
			pos--
		}
		if pos >= k {
			continue
		}
		topIdx = slices.Insert(topIdx, pos, s.idx[i])
		topVal = slices.Insert(topVal, pos, p)
		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	s.idx = append(s.idx[:0], topIdx...)
	s.prob = append(s.prob[:0], topVal...)
}

// truncateTopP expects s.prob sorted descending and normalised.
func (s *Sampler) truncateTopP(p float64) {
	var c float64
	for i, v := range s.prob {
		c += v
		if c >= p {
			s.idx = s.idx[:i+1]
			s.prob = s.prob[:i+1]
			return
		}
	}
}

func (s *Sampler) sortDescending() {
	order := make([]int, len(s.idx))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case s.prob[a] > s.prob[b]:
			return -1
		case s.prob[a] < s.prob[b]:
			return 1
		}
		return s.idx[a] - s.idx[b]
	})
	idx := make([]int, len(order))
	prob := make([]float64, len(order))
	for i, o := range order {
		idx[i] = s.idx[o]
		prob[i] = s.prob[o]
	}
	s.idx = idx
	s.prob = prob
}

func (s *Sampler) renormalize() {
	var sum float64
	for _, v := range s.prob {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range s.prob {
		s.prob[i] /= sum
	}
}

func (s *Sampler) draw() (int, error) {
	var total float64
	for _, v := range s.prob {
		total += v
	}
	if total <= 0 || len(s.idx) == 0 {
		return 0, ErrDegenerate
	}
	r := s.rng.Float64() * total
	var c float64
	for i, v := range s.prob {
		c += v
		if r < c {
			return s.idx[i], nil
		}
	}
	return s.idx[len(s.idx)-1], nil
}

// argmax returns the index of the maximum value. Ties resolve to the lowest
// index; NaN entries never win.
func argmax(x []float32) int {
	bestI := 0
	bestV := float32(math.Inf(-1))
	found := false
	for i, v := range x {
		if v != v {
			continue
		}
		if !found || v > bestV {
			bestV = v
			bestI = i
			found = true
		}
	}
	return bestI
}
