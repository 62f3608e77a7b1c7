package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Stream incrementally decodes a token sequence into text. It withholds
// output while the decoded tail ends inside a multi-byte character and
// releases it once a later token completes the character.
//
// Emitted text is the suffix of decode(tokens[prev:]) beyond
// decode(tokens[prev:current]); prev and current advance on every emission.
// Invalid bytes become U+FFFD one byte at a time, so the concatenation of
// all Push results and Flush equals DecodeAll for decoders that decode
// token by token.
type Stream struct {
	dec     Decoder
	tokens  []int
	prev    int
	current int
}

func NewStream(dec Decoder) *Stream {
	return &Stream{dec: dec}
}

// Push appends id and returns any text that became decodable.
func (s *Stream) Push(id int) (string, bool, error) {
	prevText, err := s.decode(s.prev, s.current)
	if err != nil {
		return "", false, err
	}
	s.tokens = append(s.tokens, id)
	text, err := s.decode(s.prev, len(s.tokens))
	if err != nil {
		return "", false, err
	}
	if len(text) <= len(prevText) || incompleteTail(text) {
		return "", false, nil
	}
	s.prev = s.current
	s.current = len(s.tokens)
	return validUTF8(text[len(prevText):]), true, nil
}

// Flush emits any withheld tail, replacing bytes that never formed a
// character with U+FFFD.
func (s *Stream) Flush() (string, error) {
	prevText, err := s.decode(s.prev, s.current)
	if err != nil {
		return "", err
	}
	text, err := s.decode(s.prev, len(s.tokens))
	if err != nil {
		return "", err
	}
	if len(text) <= len(prevText) {
		return "", nil
	}
	s.prev = s.current
	s.current = len(s.tokens)
	return validUTF8(text[len(prevText):]), nil
}

// DecodeAll decodes the whole history in one pass with the same
// replacement policy as Push and Flush.
func (s *Stream) DecodeAll() (string, error) {
	text, err := s.dec.Decode(s.tokens)
	if err != nil {
		return "", err
	}
	return validUTF8(text), nil
}

// Tokens returns the pushed ids. The slice must not be modified.
func (s *Stream) Tokens() []int { return s.tokens }

// TotalTokens counts tokens that have contributed to emitted text.
func (s *Stream) TotalTokens() int { return s.current }

func (s *Stream) Reset() {
	s.tokens = s.tokens[:0]
	s.prev = 0
	s.current = 0
}

func (s *Stream) decode(from, to int) (string, error) {
	if from >= to {
		return "", nil
	}
	return s.dec.Decode(s.tokens[from:to])
}

// incompleteTail reports whether text ends with a truncated but so far valid
// UTF-8 sequence.
func incompleteTail(text string) bool {
	lo := max(len(text)-utf8.UTFMax, 0)
	for i := len(text) - 1; i >= lo; i-- {
		if utf8.RuneStart(text[i]) {
			return !utf8.FullRuneInString(text[i:])
		}
	}
	return false
}

// validUTF8 replaces every invalid byte with U+FFFD.
func validUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}
