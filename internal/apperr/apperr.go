// Package apperr is the error taxonomy shared by the matching services.
//
// Services return *Error values; callers branch with errors.Is against the
// kind sentinels (apperr.Conflict) or a specific coded error
// (apperr.ErrQuotaExceeded).
package apperr

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindInvalidState
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindDependency:
		return "dependency_failure"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind whose code is empty or equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// Kind sentinels for errors.Is.
var (
	Validation   = &Error{Kind: KindValidation}
	NotFound     = &Error{Kind: KindNotFound}
	Forbidden    = &Error{Kind: KindForbidden}
	Conflict     = &Error{Kind: KindConflict}
	InvalidState = &Error{Kind: KindInvalidState}
	Dependency   = &Error{Kind: KindDependency}
)

// Coded errors that callers commonly branch on.
var (
	ErrSelfSwipe      = &Error{Kind: KindValidation, Code: "self_swipe", Msg: "cannot swipe on yourself"}
	ErrDuplicateSwipe = &Error{Kind: KindConflict, Code: "duplicate_swipe", Msg: "target already swiped for this sport"}
	ErrQuotaExceeded  = &Error{Kind: KindConflict, Code: "quota_exceeded", Msg: "daily super like quota exhausted"}
	ErrNotParticipant = &Error{Kind: KindForbidden, Code: "not_participant", Msg: "caller is not a participant"}
	ErrProposalOpen   = &Error{Kind: KindConflict, Code: "proposal_open", Msg: "match already has an open proposal"}
)

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, code string, err error, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain, falling back to
// the kind name.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		return e.Kind.String()
	}
	return "internal"
}
