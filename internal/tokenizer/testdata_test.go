package tokenizer

import "testing"

// tinyTokenizerJSON is a byte-level BPE vocabulary covering "hi", " hi",
// "!", the two bytes of "é" and three chat markers.
const tinyTokenizerJSON = `{
	"model": {
		"type": "BPE",
		"vocab": {"h": 0, "i": 1, "hi": 2, "Ġ": 3, "Ġhi": 4, "Ã": 5, "©": 6, "!": 7},
		"merges": ["h i", ["Ġ", "hi"]]
	},
	"pre_tokenizer": {"type": "ByteLevel"},
	"added_tokens": [
		{"id": 8, "content": "<|im_start|>", "special": true},
		{"id": 9, "content": "<|im_end|>", "special": true},
		{"id": 10, "content": "<｜end▁of▁sentence｜>", "special": true},
		{"id": 11, "content": "<think>", "special": false}
	]
}`

func newTinyTokenizer(t *testing.T, tokConfig string) *HF {
	t.Helper()
	var cfg []byte
	if tokConfig != "" {
		cfg = []byte(tokConfig)
	}
	tok, err := LoadHFBytes([]byte(tinyTokenizerJSON), cfg)
	if err != nil {
		t.Fatalf("load tokenizer: %v", err)
	}
	return tok
}
