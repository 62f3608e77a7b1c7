package tokenizer

// Decoder turns token ids back into text. The returned text may end in an
// incomplete UTF-8 sequence when a multi-byte character spans tokens.
type Decoder interface {
	Decode(ids []int) (string, error)
}

// Tokenizer is the tokenizer surface the generation engine depends on.
type Tokenizer interface {
	Decoder
	// Encode converts text to ids. addSpecial controls BOS/EOS insertion
	// configured by the tokenizer.
	Encode(text string, addSpecial bool) ([]int, error)
	// Vocabulary maps token strings to ids, optionally including added
	// tokens such as chat markers.
	Vocabulary(withAdded bool) map[string]int
}

// LookupToken resolves a single token string through the vocabulary,
// including added tokens.
func LookupToken(tok Tokenizer, token string) (int, bool) {
	id, ok := tok.Vocabulary(true)[token]
	return id, ok
}
