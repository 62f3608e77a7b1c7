package tokenizer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Config is the subset of tokenizer.json and tokenizer_config.json that
// controls special token handling.
type Config struct {
	AddBOS       bool
	AddEOS       bool
	BOSToken     string
	EOSToken     string
	BOSTokenID   int
	EOSTokenID   int
	UNKTokenID   int
	ChatTemplate string
}

type hfTokenizerConfig struct {
	AddBOS       *bool    `json:"add_bos_token"`
	AddEOS       *bool    `json:"add_eos_token"`
	BOS          tokenRef `json:"bos_token"`
	EOS          tokenRef `json:"eos_token"`
	UNK          tokenRef `json:"unk_token"`
	ChatTemplate any      `json:"chat_template"`
}

// tokenRef accepts either "<s>" or {"content": "<s>", ...}.
type tokenRef string

func (t *tokenRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = tokenRef(s)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*t = tokenRef(obj.Content)
	return nil
}

// ParseConfigBytes resolves special token ids from tokenizer.json and an
// optional tokenizer_config.json.
func ParseConfigBytes(tokJSON, tokConfig []byte) (Config, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return Config{}, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return Config{}, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}
	return resolveConfig(&tj, tokConfig)
}

func resolveConfig(tj *hfTokenizerJSON, tokConfig []byte) (Config, error) {
	cfg := Config{BOSTokenID: -1, EOSTokenID: -1, UNKTokenID: -1}

	var hc hfTokenizerConfig
	if len(tokConfig) > 0 {
		if err := json.Unmarshal(tokConfig, &hc); err != nil {
			return Config{}, fmt.Errorf("parse tokenizer_config.json: %w", err)
		}
	}
	if hc.AddBOS != nil {
		cfg.AddBOS = *hc.AddBOS
	}
	if hc.AddEOS != nil {
		cfg.AddEOS = *hc.AddEOS
	}
	if s, ok := hc.ChatTemplate.(string); ok {
		cfg.ChatTemplate = s
	}

	lookup := func(tok string) int {
		if tok == "" {
			return -1
		}
		for _, at := range tj.AddedTokens {
			if at.Content == tok {
				return at.ID
			}
		}
		if id, ok := tj.Model.Vocab[tok]; ok {
			return id
		}
		return -1
	}

	cfg.BOSToken = string(hc.BOS)
	cfg.EOSToken = string(hc.EOS)
	cfg.BOSTokenID = lookup(cfg.BOSToken)
	cfg.EOSTokenID = lookup(cfg.EOSToken)

	unk := string(hc.UNK)
	if unk == "" {
		unk = tj.Model.UnkToken
	}
	cfg.UNKTokenID = lookup(unk)

	// A TemplateProcessing post-processor with a single special token is a
	// BOS prefix.
	for _, proc := range tj.PostProcessor.all() {
		if proc.Type != "TemplateProcessing" || len(proc.SpecialTokens) != 1 {
			continue
		}
		for tok, spec := range proc.SpecialTokens {
			if len(spec.IDs) > 0 {
				cfg.BOSToken = tok
				cfg.BOSTokenID = spec.IDs[0]
				cfg.AddBOS = true
			}
		}
	}
	return cfg, nil
}
