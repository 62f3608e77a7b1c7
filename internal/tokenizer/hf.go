package tokenizer

import (
	"fmt"
	"maps"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// HF is a byte-level BPE tokenizer loaded from a HuggingFace tokenizer.json.
// Added tokens are matched verbatim before pre-tokenisation; those marked
// special are dropped by Decode.
type HF struct {
	cfg          Config
	vocab        map[string]int
	added        map[string]int
	decoder      []string
	special      []bool
	addedOrder   []string
	bpeRanks     map[Pair]int
	byteEncoder  map[byte]string
	byteDecoder  map[rune]byte
	pattern      *regexp.Regexp
	ignoreMerges bool

	mu    sync.Mutex
	cache map[string][]string
}

type hfPreTokenizer struct {
	Type    string `json:"type"`
	Pattern struct {
		Regex  string `json:"Regex"`
		String string `json:"String"`
	} `json:"pattern"`
	Pretokenizers []hfPreTokenizer `json:"pretokenizers"`
}

type hfProcessor struct {
	Type          string `json:"type"`
	SpecialTokens map[string]struct {
		IDs []int `json:"ids"`
	} `json:"special_tokens"`
	Processors []hfProcessor `json:"processors"`
}

func (p hfProcessor) all() []hfProcessor {
	if len(p.Processors) == 0 {
		return []hfProcessor{p}
	}
	return p.Processors
}

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer  hfPreTokenizer `json:"pre_tokenizer"`
	PostProcessor hfProcessor    `json:"post_processor"`
	AddedTokens   []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// LoadHF reads tokenizer.json and, when tokConfig is non-empty,
// tokenizer_config.json from disk.
func LoadHF(tokJSON, tokConfig string) (*HF, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, err
	}
	var cfg []byte
	if tokConfig != "" {
		cfg, err = os.ReadFile(tokConfig)
		if err != nil {
			return nil, err
		}
	}
	return LoadHFBytes(data, cfg)
}

// LoadHFBytes builds a tokenizer from in-memory tokenizer.json and
// tokenizer_config.json contents. tokConfig may be nil.
func LoadHFBytes(tokJSON []byte, tokConfig []byte) (*HF, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}
	cfg, err := resolveConfig(&tj, tokConfig)
	if err != nil {
		return nil, err
	}

	maxID := -1
	for _, id := range tj.Model.Vocab {
		maxID = max(maxID, id)
	}
	for _, at := range tj.AddedTokens {
		maxID = max(maxID, at.ID)
	}
	decoder := make([]string, maxID+1)
	special := make([]bool, maxID+1)
	for tok, id := range tj.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d for %q", id, tok)
		}
		decoder[id] = tok
	}
	added := make(map[string]int, len(tj.AddedTokens))
	addedOrder := make([]string, 0, len(tj.AddedTokens))
	for _, at := range tj.AddedTokens {
		if at.ID < 0 || at.Content == "" {
			continue
		}
		decoder[at.ID] = at.Content
		special[at.ID] = at.Special
		added[at.Content] = at.ID
		addedOrder = append(addedOrder, at.Content)
	}

	byteEncoder, byteDecoder := bytesToUnicode()
	pat, err := buildHFPattern(tj.PreTokenizer)
	if err != nil {
		return nil, err
	}

	return &HF{
		cfg:          cfg,
		vocab:        tj.Model.Vocab,
		added:        added,
		decoder:      decoder,
		special:      special,
		addedOrder:   longestFirst(addedOrder),
		bpeRanks:     parseMerges(tj.Model.Merges),
		byteEncoder:  byteEncoder,
		byteDecoder:  byteDecoder,
		pattern:      pat,
		ignoreMerges: tj.Model.IgnoreMerges,
		cache:        make(map[string][]string),
	}, nil
}

// Config returns the resolved special token configuration.
func (t *HF) Config() Config { return t.cfg }

func (t *HF) Encode(text string, addSpecial bool) ([]int, error) {
	var ids []int
	if addSpecial && t.cfg.AddBOS && t.cfg.BOSTokenID >= 0 {
		ids = append(ids, t.cfg.BOSTokenID)
	}
	for _, part := range splitAdded(text, t.addedOrder) {
		if part.isAdded {
			ids = append(ids, t.added[part.text])
			continue
		}
		for _, word := range t.pattern.FindAllString(part.text, -1) {
			for _, piece := range t.bpe(t.byteEncode(word)) {
				id, ok := t.vocab[piece]
				if !ok {
					if t.cfg.UNKTokenID >= 0 {
						ids = append(ids, t.cfg.UNKTokenID)
						continue
					}
					return nil, fmt.Errorf("unknown token: %q", piece)
				}
				ids = append(ids, id)
			}
		}
	}
	if addSpecial && t.cfg.AddEOS && t.cfg.EOSTokenID >= 0 {
		ids = append(ids, t.cfg.EOSTokenID)
	}
	return ids, nil
}

// Decode maps ids back to raw bytes, skipping special added tokens. The
// result is not forced to valid UTF-8.
func (t *HF) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		if t.special[id] {
			continue
		}
		token := t.decoder[id]
		if _, ok := t.added[token]; ok {
			b = append(b, token...)
			continue
		}
		for _, r := range token {
			if by, ok := t.byteDecoder[r]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b), nil
}

func (t *HF) Vocabulary(withAdded bool) map[string]int {
	out := maps.Clone(t.vocab)
	if out == nil {
		out = make(map[string]int, len(t.added))
	}
	if withAdded {
		maps.Copy(out, t.added)
	}
	return out
}

// TokenString returns the raw vocabulary entry for id.
func (t *HF) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

// VocabSize is the number of addressable ids.
func (t *HF) VocabSize() int { return len(t.decoder) }

func (t *HF) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *HF) bpe(token string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.cache[token]; ok {
		return v
	}
	if t.ignoreMerges {
		if _, ok := t.vocab[token]; ok {
			out := []string{token}
			t.cache[token] = out
			return out
		}
	}
	word := splitRunes(token)
	for len(word) > 1 {
		bestRank := int(^uint(0) >> 1)
		var bestPair Pair
		found := false
		for i := 0; i+1 < len(word); i++ {
			p := Pair{A: word[i], B: word[i+1]}
			if rank, ok := t.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
	}
	t.cache[token] = word
	return word
}

func parseMerges(raw []any) map[Pair]int {
	ranks := make(map[Pair]int, len(raw))
	rank := 0
	for _, m := range raw {
		line := ""
		switch v := m.(type) {
		case string:
			line = v
		case []any:
			if len(v) == 2 {
				a, aok := v[0].(string)
				b, bok := v[1].(string)
				if aok && bok {
					line = a + " " + b
				}
			}
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a, b, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		p := Pair{A: a, B: b}
		if _, ok := ranks[p]; !ok {
			ranks[p] = rank
			rank++
		}
	}
	return ranks
}

const (
	gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	// RE2 has no lookahead; this is the llama.cpp rendition of the
	// Llama3/Qwen2 split regex.
	llama3Pattern = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
)

func buildHFPattern(pre hfPreTokenizer) (*regexp.Regexp, error) {
	pat := gpt2Pattern
	if rx := findSplitRegex(pre); rx != "" {
		pat = rx
	}
	if strings.Contains(pat, `(?!\S)`) || strings.Contains(pat, "(?i:") {
		pat = llama3Pattern
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, fmt.Errorf("compile pre-tokenizer regex: %w", err)
	}
	return re, nil
}

func findSplitRegex(pre hfPreTokenizer) string {
	if pre.Type == "Split" && pre.Pattern.Regex != "" {
		return pre.Pattern.Regex
	}
	for _, p := range pre.Pretokenizers {
		if rx := findSplitRegex(p); rx != "" {
			return rx
		}
	}
	return ""
}
