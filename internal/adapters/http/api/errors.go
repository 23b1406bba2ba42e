package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/scoreboard/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("feature unavailable")
)

// Error tags a failure with the handler operation that produced it. Kind is
// an API sentinel, Err the underlying cause; both take part in errors.Is.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of the given kind with no further cause.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap tags err with op.
func Wrap(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// WrapKind tags err with op and kind.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// statusFor maps an error to an HTTP status and a machine-readable code.
// Order matters: a bad API key is also an Unauthorized error.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrUnavailable):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrBadAPIKey):
		return http.StatusBadRequest, "bad_api_key"
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, model.ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid_credential"
	case errors.Is(err, model.ErrInvalidScore):
		return http.StatusUnprocessableEntity, "invalid_score"
	case errors.Is(err, model.ErrInvalidLevel):
		return http.StatusBadRequest, "invalid_level"
	case errors.Is(err, model.ErrInvalidName):
		return http.StatusUnprocessableEntity, "invalid_name"
	case errors.Is(err, model.ErrDuplicateName):
		return http.StatusConflict, "duplicate_name"
	case errors.Is(err, model.ErrAlreadyLinked):
		return http.StatusConflict, "already_linked"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrRankUnavailable):
		return http.StatusServiceUnavailable, "rank_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
