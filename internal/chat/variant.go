package chat

import (
	"fmt"
	"strings"
)

// Variant selects the prompt format and end-of-sequence marker of a model
// family.
type Variant uint8

const (
	// Primary is the ChatML family (<|im_start|> / <|im_end|>).
	Primary Variant = iota
	// Alternate is the DeepSeek-R1 family (<｜User｜> / <｜Assistant｜>).
	Alternate
)

const (
	imStart = "<|im_start|>"
	imEnd   = "<|im_end|>"

	r1Open          = "<｜"
	r1Close         = "｜>"
	r1EndOfSentence = "<｜end▁of▁sentence｜>"
)

func (v Variant) String() string {
	switch v {
	case Primary:
		return "primary"
	case Alternate:
		return "alternate"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// EOSToken is the vocabulary entry that ends an assistant turn.
func (v Variant) EOSToken() string {
	if v == Alternate {
		return r1EndOfSentence
	}
	return imEnd
}

// ParseVariant resolves a variant name. Family aliases are accepted.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "chatml", "qwen", "w":
		return Primary, nil
	case "alternate", "r1", "deepseek-r1", "deepseek":
		return Alternate, nil
	default:
		return 0, fmt.Errorf("unknown model variant %q (want primary or alternate)", s)
	}
}

func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Variant) UnmarshalText(b []byte) error {
	p, err := ParseVariant(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}
