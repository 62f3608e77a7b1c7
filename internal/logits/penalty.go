package logits

// RepeatPenalty discourages recently seen tokens. The zero value is a no-op.
type RepeatPenalty struct {
	Penalty float32
	LastN   int

	seenMark  []uint32
	seenEpoch uint32
	seenList  []int
}

// Enabled reports whether Apply can change any logit.
func (r *RepeatPenalty) Enabled() bool {
	return r != nil && r.Penalty != 1 && r.Penalty > 0 && r.LastN > 0
}

// Apply penalises, in place, every distinct id in the trailing LastN entries
// of history. Positive logits are divided by Penalty, the rest multiplied.
// Ids outside the logits range are ignored.
func (r *RepeatPenalty) Apply(logits []float32, history []int) {
	if !r.Enabled() || len(history) == 0 {
		return
	}
	window := RepeatWindow(history, r.LastN)

	if len(r.seenMark) < len(logits) {
		r.seenMark = make([]uint32, len(logits))
	}
	r.seenEpoch++
	if r.seenEpoch == 0 {
		clear(r.seenMark)
		r.seenEpoch = 1
	}
	r.seenList = r.seenList[:0]
	for _, id := range window {
		if id >= 0 && id < len(logits) && r.seenMark[id] != r.seenEpoch {
			r.seenMark[id] = r.seenEpoch
			r.seenList = append(r.seenList, id)
		}
	}
	for _, id := range r.seenList {
		logits[id] = penalize(logits[id], r.Penalty)
	}
}

// ApplyRepeatPenalty penalises each distinct id in window once. It is a
// no-op when penalty is 1.
func ApplyRepeatPenalty(logits []float32, window []int, penalty float32) {
	if penalty == 1 || len(window) == 0 {
		return
	}
	rp := RepeatPenalty{Penalty: penalty, LastN: len(window)}
	rp.Apply(logits, window)
}

// RepeatWindow returns the trailing n ids of history.
func RepeatWindow(history []int, n int) []int {
	if n <= 0 {
		return nil
	}
	start := max(len(history)-n, 0)
	return history[start:]
}

func penalize(v, penalty float32) float32 {
	if v > 0 {
		return v / penalty
	}
	return v * penalty
}
