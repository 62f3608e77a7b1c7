// Package reasoning separates <think> blocks emitted by reasoning models from
// the visible answer.
package reasoning

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

type SplitResult struct {
	Content   string
	Reasoning string
}

// SplitRaw separates content and reasoning from complete model output. Tags
// match case-insensitively. If a think block is opened but not closed, the
// remainder is treated as reasoning.
func SplitRaw(raw string) SplitResult {
	var s Splitter
	c1, r1 := s.Push(raw)
	c2, r2 := s.Flush()
	return SplitResult{Content: c1 + c2, Reasoning: r1 + r2}
}

// Splitter incrementally separates streamed text. Text that could be the
// start of a tag is held back until the next Push or Flush decides it.
type Splitter struct {
	inThink bool
	pending string
}

// NewSplitter returns a Splitter. startInReasoning treats the output as
// already inside a think block, for templates that open the block in the
// prompt.
func NewSplitter(startInReasoning bool) *Splitter {
	return &Splitter{inThink: startInReasoning}
}

// InReasoning reports whether the splitter is inside a think block.
func (s *Splitter) InReasoning() bool { return s.inThink }

func (s *Splitter) Push(delta string) (contentDelta, reasoningDelta string) {
	if delta == "" {
		return "", ""
	}
	buf := s.pending + delta
	s.pending = ""

	var content, reasoning strings.Builder
	emit := func(text string) {
		if s.inThink {
			reasoning.WriteString(text)
		} else {
			content.WriteString(text)
		}
	}
	for buf != "" {
		tag := openTag
		if s.inThink {
			tag = closeTag
		}
		if i := indexFold(buf, tag); i >= 0 {
			emit(buf[:i])
			buf = buf[i+len(tag):]
			s.inThink = !s.inThink
			continue
		}
		keep := partialSuffix(buf, tag)
		emit(buf[:len(buf)-keep])
		s.pending = buf[len(buf)-keep:]
		break
	}
	return content.String(), reasoning.String()
}

// Flush releases held-back text to the current side.
func (s *Splitter) Flush() (contentDelta, reasoningDelta string) {
	text := s.pending
	s.pending = ""
	if s.inThink {
		return "", text
	}
	return text, ""
}

func indexFold(s, tag string) int {
	for i := 0; i+len(tag) <= len(s); i++ {
		if hasPrefixFold(s[i:], tag) {
			return i
		}
	}
	return -1
}

// partialSuffix returns the length of the longest proper suffix of s that is
// a prefix of tag.
func partialSuffix(s, tag string) int {
	for n := min(len(tag)-1, len(s)); n > 0; n-- {
		if hasPrefixFold(tag, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}

// hasPrefixFold reports whether s starts with prefix, folding ASCII case.
func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := range len(prefix) {
		if lowerASCII(s[i]) != lowerASCII(prefix[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
