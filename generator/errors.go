package generator

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies why a generation did not produce a result.
type ErrorKind string

const (
	KindEmptyPrompt       ErrorKind = "empty_prompt"
	KindBusy              ErrorKind = "busy"
	KindNoResult          ErrorKind = "no_result"
	KindNetworkFailure    ErrorKind = "network_failure"
	KindServiceError      ErrorKind = "service_error"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// GenerationError is returned by every session operation that talks to the model.
type GenerationError struct {
	Kind ErrorKind `json:"kind"`
	// StatusCode is the remote HTTP status for ServiceError, zero otherwise.
	StatusCode int       `json:"status_code,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Err        error     `json:"-"`
}

func (e *GenerationError) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Detail == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is matches another GenerationError of the same kind, so the sentinels below
// work with errors.Is.
func (e *GenerationError) Is(target error) bool {
	var t *GenerationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether a later attempt may succeed.
func (e *GenerationError) Retryable() bool {
	switch e.Kind {
	case KindNetworkFailure:
		return true
	case KindServiceError:
		return e.StatusCode == 429 || e.StatusCode >= 500
	default:
		return false
	}
}

var (
	ErrEmptyPrompt       = &GenerationError{Kind: KindEmptyPrompt}
	ErrBusy              = &GenerationError{Kind: KindBusy}
	ErrNoResult          = &GenerationError{Kind: KindNoResult}
	ErrNetworkFailure    = &GenerationError{Kind: KindNetworkFailure}
	ErrServiceError      = &GenerationError{Kind: KindServiceError}
	ErrMalformedResponse = &GenerationError{Kind: KindMalformedResponse}
)

// ErrSavedFull is returned when the saved prompt list is at capacity.
var ErrSavedFull = errors.New("saved prompts list is full")

// ErrNotFound is returned by the load operations for an unknown id.
var ErrNotFound = errors.New("entry not found")

func newError(kind ErrorKind, detail string, err error) *GenerationError {
	return &GenerationError{Kind: kind, Detail: detail, Err: err, OccurredAt: time.Now()}
}

// NetworkError wraps a transport failure where no response was received.
func NetworkError(err error) *GenerationError {
	return newError(KindNetworkFailure, "", err)
}

// ServiceErrorf builds a ServiceError carrying the remote status and detail verbatim.
func ServiceErrorf(status int, detail string, err error) *GenerationError {
	ge := newError(KindServiceError, detail, err)
	ge.StatusCode = status
	return ge
}

// MalformedError marks a successful transport with an unusable payload.
func MalformedError(detail string) *GenerationError {
	return newError(KindMalformedResponse, detail, nil)
}

// AsGenerationError converts any error into the taxonomy. Errors that did not
// come from an adapter are treated as transport failures.
func AsGenerationError(err error) *GenerationError {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge
	}
	return NetworkError(err)
}
