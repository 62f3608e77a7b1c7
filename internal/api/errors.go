package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/samcharles93/wavvy/internal/inference"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrModelNotFound  = errors.New("model not found")
	ErrModelLoad      = errors.New("model load failed")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// errorStatus maps an error to an HTTP status and OpenAI error type.
// Load failures are server errors even when the loader reports a
// configuration problem.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrModelLoad):
		return http.StatusInternalServerError, "server_error"
	case errors.Is(err, ErrModelNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, inference.ErrConfig):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, inference.ErrSuperseded):
		return http.StatusConflict, "superseded_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout_error"
	default:
		return http.StatusInternalServerError, inference.Kind(err) + "_error"
	}
}
