// Package errors defines the orchestration core's closed error taxonomy (§7) on top of
// github.com/pkg/errors, matching the teacher's errors.Wrap/errors.WithStack idiom used
// throughout netadapter and blockdag.
package errors

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an error for disposition purposes (§7 table).
type Kind int

const (
	KindTransient Kind = iota
	KindInProgress
	KindInvalidConfig
	KindProtocol
	KindTimeout
	KindByzantine
	KindNotFound
	KindInternal
)

// Error is a typed, wrapped error carrying a Kind so callers (background loops, HTTP handlers)
// can dispatch on disposition without string matching.
type Error struct {
	Kind Kind
	msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.msg + ": " + e.Err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, Err: err}
}

// Wrap attaches msg and a Kind to err, preserving the stack trace via pkg/errors.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return newErr(kind, msg, errors.WithStack(err))
}

func New(kind Kind, msg string) error {
	return newErr(kind, msg, errors.New(msg))
}

// Sentinel constructors used pervasively by ceremony/ and presig/ (§7 table row 2: these are
// "not an error" in leader-loop eyes — they are KindInProgress so callers can special-case them).
func SessionAlreadyExists(sessionID string) error {
	return newErr(KindInProgress, "session already exists: "+sessionID, nil)
}

func CeremonyInProgress(what string) error {
	return newErr(KindInProgress, "ceremony in progress: "+what, nil)
}

func NotFound(what string) error {
	return newErr(KindNotFound, "not found: "+what, nil)
}

func Timeout(what string) error {
	return newErr(KindTimeout, "timeout: "+what, nil)
}

func Byzantine(what string) error {
	return newErr(KindByzantine, "byzantine violation: "+what, nil)
}

func InvalidConfig(what string) error {
	return newErr(KindInvalidConfig, "invalid config: "+what, nil)
}

// KindOf extracts the Kind from err, defaulting to KindInternal for errors outside this
// package's taxonomy (e.g. a raw network error that hasn't been classified yet).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsInProgress reports whether err represents a "skip this tick" condition rather than a real
// failure (§7: CeremonyInProgress / SessionAlreadyExists disposition).
func IsInProgress(err error) bool {
	return KindOf(err) == KindInProgress
}

// HTTPStatus maps a Kind to the status code HTTP handlers should return (§7 propagation policy).
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidConfig:
		return http.StatusBadRequest
	case KindInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
