// Package fetch defines the common contract shared by all fetch strategies
// and the transient/fatal failure taxonomy the orchestrator recovers on.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind string

// Failure kinds. Transient failures may succeed on a later attempt or a
// different strategy; fatal failures will not.
const (
	KindTransient Kind = "transient"
	KindFatal     Kind = "fatal"
)

// ErrAuthExpired is wrapped into a fatal Error when the upstream rejects the
// session credential. Callers mark the credential invalid on seeing it.
var ErrAuthExpired = errors.New("session credential rejected upstream")

// Error is a classified fetch failure attributed to one strategy.
type Error struct {
	Strategy string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s fetch (%s): %v", e.Strategy, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient failure of the named strategy.
func Transient(strategy string, err error) *Error {
	return &Error{Strategy: strategy, Kind: KindTransient, Err: err}
}

// Fatal wraps err as a fatal failure of the named strategy.
func Fatal(strategy string, err error) *Error {
	return &Error{Strategy: strategy, Kind: KindFatal, Err: err}
}

// IsFatal reports whether err carries a fatal classification.
func IsFatal(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindFatal
}

// Request captures everything needed to fetch one result page.
type Request struct {
	// Target is the full network-search URL.
	Target string
	// Page is the 1-based result page to fetch.
	Page int
	// Credential is the principal's raw session cookie string.
	Credential string
}

// Result is the raw content returned by a strategy.
type Result struct {
	Content    []byte
	StatusCode int
}

// Strategy is one interchangeable implementation of the fetch capability.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, req Request) (Result, error)
}
