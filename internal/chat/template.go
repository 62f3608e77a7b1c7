package chat

import (
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"
)

// Renderer substitutes data into template text.
type Renderer interface {
	Render(tpl string, data any) (string, error)
}

// MustacheRenderer renders {{name}} placeholders. Missing variables render
// empty.
type MustacheRenderer struct{}

func (MustacheRenderer) Render(tpl string, data any) (string, error) {
	t, err := mustache.ParseString(tpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	out, err := t.Render(data)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Template is a conversation bound to a prompt format.
type Template struct {
	Variant  Variant
	Messages []Message
}

func New(v Variant, msgs ...Message) Template {
	return Template{Variant: v, Messages: msgs}
}

func (t Template) Format() string {
	return Format(t.Variant, t.Messages)
}

func (t Template) FormatWithParams(data any, r Renderer) (string, error) {
	return FormatWithParams(t.Variant, t.Messages, data, r)
}

// Format renders msgs and leaves the prompt open for the assistant turn.
//
// Primary:   <|im_start|>{role}\n{content}<|im_end|>\n ... <|im_start|>assistant\n
// Alternate: <｜{Role}｜>{content}\n ... <｜Assistant｜>
func Format(v Variant, msgs []Message) string {
	var b strings.Builder
	switch v {
	case Alternate:
		for _, m := range msgs {
			b.WriteString(r1Open)
			b.WriteString(m.Role.Title())
			b.WriteString(r1Close)
			b.WriteString(m.Content)
			b.WriteByte('\n')
		}
		b.WriteString(r1Open)
		b.WriteString(Assistant.Title())
		b.WriteString(r1Close)
	default:
		for _, m := range msgs {
			b.WriteString(imStart)
			b.WriteString(m.Role.String())
			b.WriteByte('\n')
			b.WriteString(m.Content)
			b.WriteString(imEnd)
			b.WriteByte('\n')
		}
		b.WriteString(imStart)
		b.WriteString(Assistant.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatWithParams formats msgs and then renders the result through r with
// data. A nil r uses MustacheRenderer. Render failures are returned with no
// partial output.
func FormatWithParams(v Variant, msgs []Message, data any, r Renderer) (string, error) {
	if r == nil {
		r = MustacheRenderer{}
	}
	out, err := r.Render(Format(v, msgs), data)
	if err != nil {
		return "", err
	}
	return out, nil
}
