package inference

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine matches exactly one of
// these with errors.Is, or is a context error.
var (
	ErrTokenizer = errors.New("tokenizer error")
	ErrPrompt    = errors.New("prompt error")
	ErrConfig    = errors.New("config error")

	// ErrSuperseded is returned by a generation after the engine has started
	// a newer one.
	ErrSuperseded = errors.New("generation superseded")
)

// Error records the failing operation and its cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func tokenizerError(op string, err error) error {
	return &Error{Kind: ErrTokenizer, Op: op, Err: err}
}

func promptError(op string, err error) error {
	return &Error{Kind: ErrPrompt, Op: op, Err: err}
}

func configError(op string, err error) error {
	return &Error{Kind: ErrConfig, Op: op, Err: err}
}

// Kind names the category of err for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrTokenizer):
		return "tokenizer"
	case errors.Is(err, ErrPrompt):
		return "prompt"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
