package tokenizer

import (
	"slices"
	"strings"
)

// Pair represents a pair of BPE tokens.
type Pair struct {
	A string
	B string
}

type textPart struct {
	text    string
	isAdded bool
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func mergePair(word []string, pair Pair) []string {
	out := make([]string, 0, len(word))
	for i := 0; i < len(word); i++ {
		if i < len(word)-1 && word[i] == pair.A && word[i+1] == pair.B {
			out = append(out, word[i]+word[i+1])
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

// longestFirst orders tokens so that a greedy scan prefers the longest match.
func longestFirst(tokens []string) []string {
	out := slices.Clone(tokens)
	slices.SortStableFunc(out, func(a, b string) int {
		return len(b) - len(a)
	})
	return out
}

// splitAdded cuts text around verbatim occurrences of added tokens.
func splitAdded(text string, added []string) []textPart {
	if len(added) == 0 || text == "" {
		return []textPart{{text: text}}
	}
	var parts []textPart
	start := 0
	for i := 0; i < len(text); {
		match := ""
		for _, tok := range added {
			if strings.HasPrefix(text[i:], tok) {
				match = tok
				break
			}
		}
		if match == "" {
			i++
			continue
		}
		if start < i {
			parts = append(parts, textPart{text: text[start:i]})
		}
		parts = append(parts, textPart{text: match, isAdded: true})
		i += len(match)
		start = i
	}
	if start < len(text) {
		parts = append(parts, textPart{text: text[start:]})
	}
	return parts
}

// bytesToUnicode maps bytes to printable runes to make byte-level BPE
// reversible.
func bytesToUnicode() (map[byte]string, map[rune]byte) {
	var bs []int
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := int('¡'); i <= int('¬'); i++ {
		bs = append(bs, i)
	}
	for i := int('®'); i <= int('ÿ'); i++ {
		bs = append(bs, i)
	}

	cs := slices.Clone(bs)
	n := 0
	for b := range 256 {
		if !slices.Contains(bs, b) {
			bs = append(bs, b)
			cs = append(cs, 256+n)
			n++
		}
	}

	byteEncoder := make(map[byte]string, len(bs))
	byteDecoder := make(map[rune]byte, len(bs))
	for i := range bs {
		b := byte(bs[i])
		r := rune(cs[i])
		byteEncoder[b] = string(r)
		byteDecoder[r] = b
	}
	return byteEncoder, byteDecoder
}
