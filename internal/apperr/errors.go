// Package apperr defines the error categories shared by services and handlers.
// Call sites wrap one of the sentinels so that errors.Is can classify a failure
// no matter how deep it was produced.
package apperr

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrValidation marks missing or malformed client input.
	ErrValidation = goerr.New("validation error")
	// ErrNotFound marks an unknown persona or resource.
	ErrNotFound = goerr.New("not found")
	// ErrSessionNotFound marks an unknown, closed or expired chat session.
	ErrSessionNotFound = goerr.Wrap(ErrNotFound, "session not found")
	// ErrUpstream marks a failed embedding or language model call.
	ErrUpstream = goerr.New("upstream error")
	// ErrParse marks a model reply that could not be decoded or validated.
	ErrParse = goerr.New("parse error")
	// ErrCorpus marks a malformed persona corpus.
	ErrCorpus = goerr.New("corpus error")
	// ErrEmptyCorpus marks a corpus without any persona.
	ErrEmptyCorpus = goerr.Wrap(ErrCorpus, "empty corpus")
)

// Validation builds a validation error with optional context values.
func Validation(msg string, opts ...goerr.Option) error {
	return goerr.Wrap(ErrValidation, msg, opts...)
}

// NotFound builds a not-found error with optional context values.
func NotFound(msg string, opts ...goerr.Option) error {
	return goerr.Wrap(ErrNotFound, msg, opts...)
}

// Upstream tags cause as an upstream failure.
func Upstream(cause error, msg string, opts ...goerr.Option) error {
	return goerr.Wrap(&categorized{category: ErrUpstream, cause: cause}, msg, opts...)
}

// Parse tags cause as a parse failure. cause may be nil.
func Parse(cause error, msg string, opts ...goerr.Option) error {
	if cause == nil {
		return goerr.Wrap(ErrParse, msg, opts...)
	}
	return goerr.Wrap(&categorized{category: ErrParse, cause: cause}, msg, opts...)
}

// Corpus tags cause as a corpus failure. cause may be nil.
func Corpus(cause error, msg string, opts ...goerr.Option) error {
	if cause == nil {
		return goerr.Wrap(ErrCorpus, msg, opts...)
	}
	return goerr.Wrap(&categorized{category: ErrCorpus, cause: cause}, msg, opts...)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstream)
}

// categorized joins a category sentinel with the underlying cause so both
// remain reachable through errors.Is and errors.As.
type categorized struct {
	category error
	cause    error
}

func (c *categorized) Error() string {
	return c.cause.Error()
}

func (c *categorized) Unwrap() []error {
	return []error{c.category, c.cause}
}
