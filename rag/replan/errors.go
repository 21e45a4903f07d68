package replan

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of a request.
type ErrorKind string

const (
	KindPlanGeneration          ErrorKind = "PlanGenerationError"
	KindClassificationAmbiguous ErrorKind = "ClassificationAmbiguous"
	KindRetrievalUnavailable    ErrorKind = "RetrievalUnavailable"
	KindEmbeddingUnavailable    ErrorKind = "EmbeddingUnavailable"
	KindSynthesisUnavailable    ErrorKind = "SynthesisUnavailable"
	// KindRetryBudgetExhausted never fails a request; it is reported on the
	// Result and in logs.
	KindRetryBudgetExhausted ErrorKind = "RetryBudgetExhausted"
	KindCancelled            ErrorKind = "Cancelled"
	// KindInternal marks a violated controller invariant.
	KindInternal ErrorKind = "Internal"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrPlanGeneration          = &Error{Kind: KindPlanGeneration}
	ErrClassificationAmbiguous = &Error{Kind: KindClassificationAmbiguous}
	ErrRetrievalUnavailable    = &Error{Kind: KindRetrievalUnavailable}
	ErrEmbeddingUnavailable    = &Error{Kind: KindEmbeddingUnavailable}
	ErrSynthesisUnavailable    = &Error{Kind: KindSynthesisUnavailable}
	ErrCancelled               = &Error{Kind: KindCancelled}
)

// Error is the error type surfaced by the controller and its adapters.
type Error struct {
	Kind  ErrorKind
	Phase Phase
	Err   error
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Error implements error.
func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Phase != "" {
		prefix = fmt.Sprintf("%s in %s", e.Kind, e.Phase)
	}
	if e.Err == nil {
		return prefix
	}
	return prefix + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf extracts the ErrorKind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Transient reports whether the controller may retry an error of this kind.
func Transient(kind ErrorKind) bool {
	switch kind {
	case KindRetrievalUnavailable, KindEmbeddingUnavailable, KindSynthesisUnavailable:
		return true
	}
	return false
}
