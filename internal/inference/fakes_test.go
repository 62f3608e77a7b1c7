package inference

import (
	"context"
	"fmt"
	"slices"

	"github.com/samcharles93/wavvy/internal/chat"
)

const (
	imEndID   = 256
	r1EOSID   = 257
	imStartID = 258
	byteVocab = 259
)

// byteTokenizer maps every byte to its own id and decodes token by token.
type byteTokenizer struct {
	withoutEOS  bool
	encodePanic bool
	encoded     []string
}

func (t *byteTokenizer) Encode(text string, addSpecial bool) ([]int, error) {
	if t.encodePanic {
		panic("encode boom")
	}
	t.encoded = append(t.encoded, text)
	ids := make([]int, len(text))
	for i := range len(text) {
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (t *byteTokenizer) Decode(ids []int) (string, error) {
	b := make([]byte, 0, len(ids))
	for _, id := range ids {
		switch {
		case id >= 0 && id < 256:
			b = append(b, byte(id))
		case id < byteVocab:
		default:
			return "", fmt.Errorf("token id out of range: %d", id)
		}
	}
	return string(b), nil
}

func (t *byteTokenizer) Vocabulary(withAdded bool) map[string]int {
	v := make(map[string]int, byteVocab)
	for i := range 256 {
		v[fmt.Sprintf("<0x%02X>", i)] = i
	}
	if withAdded && !t.withoutEOS {
		v["<|im_end|>"] = imEndID
		v["<｜end▁of▁sentence｜>"] = r1EOSID
		v["<|im_start|>"] = imStartID
	}
	return v
}

type forwardCall struct {
	tokens []int
	pos    int
}

// funcModel puts all logit mass on next(pos, tok), where pos and tok are the
// position and id of the last input token.
type funcModel struct {
	vocab    int
	next     func(pos, tok int) int
	calls    []forwardCall
	resets   int
	err      error
	errAfter int
}

func (m *funcModel) Forward(_ context.Context, tokens []int, pos int) ([]float32, error) {
	m.calls = append(m.calls, forwardCall{tokens: slices.Clone(tokens), pos: pos})
	if m.err != nil && len(m.calls) > m.errAfter {
		return nil, m.err
	}
	last := pos + len(tokens) - 1
	lv := make([]float32, m.vocab)
	lv[m.next(last, tokens[len(tokens)-1])] = 10
	return lv, nil
}

func (m *funcModel) Reset() { m.resets++ }

// scripted returns a next function that emits out in order once the prompt
// of promptLen tokens has been consumed, repeating the last entry.
func scripted(promptLen int, out ...int) func(pos, tok int) int {
	return func(pos, _ int) int {
		i := pos - (promptLen - 1)
		switch {
		case i < 0:
			return 0
		case i >= len(out):
			return out[len(out)-1]
		default:
			return out[i]
		}
	}
}

// constModel returns the same logits for every call.
type constModel struct {
	logits []float32
}

func (m constModel) Forward(context.Context, []int, int) ([]float32, error) {
	return slices.Clone(m.logits), nil
}

func (constModel) Reset() {}

type panicModel struct {
	onReset   bool
	onForward bool
}

func (m panicModel) Forward(context.Context, []int, int) ([]float32, error) {
	if m.onForward {
		panic("forward boom")
	}
	return make([]float32, byteVocab), nil
}

func (m panicModel) Reset() {
	if m.onReset {
		panic("reset boom")
	}
}

type observation struct {
	stats  Stats
	finish string
	err    error
}

type recordingObserver struct {
	seen []observation
}

func (o *recordingObserver) ObserveGeneration(_ chat.Variant, stats Stats, finish string, err error) {
	o.seen = append(o.seen, observation{stats: stats, finish: finish, err: err})
}
