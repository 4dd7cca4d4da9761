// Package apperr implements the error taxonomy from spec.md §7. Every
// package boundary in this core maps persistence/transport faults onto
// one of these kinds; no raw driver error is allowed to leak to a caller.
package apperr

import (
	"errors"
	"fmt"
)

// Code is the numeric code surfaced in the response envelope (spec.md §6).
type Code int

const (
	CodeBadRequest   Code = 400
	CodeAuthFailed   Code = 401
	CodeNotFound     Code = 404
	CodeTimeout      Code = 408
	CodeGone         Code = 410
	CodeUnprocess    Code = 422
	CodeLocked       Code = 423
	CodeRateLimited  Code = 429
	CodeInternal     Code = 500
	CodeUnavailable  Code = 503
)

// Kind names the specific condition within a Code, matching spec.md §7's
// taxonomy column exactly.
type Kind string

const (
	KindBadRequest          Kind = "BadRequest"
	KindAuthFailed          Kind = "AuthFailed"
	KindAuthExpired         Kind = "AuthExpired"
	KindAuthMalformed       Kind = "AuthMalformed"
	KindNotFound            Kind = "NotFound"
	KindTimeout             Kind = "Timeout"
	KindGone                Kind = "Gone"
	KindDepthExceeded       Kind = "DepthExceeded"
	KindSelfFavoriteForbid  Kind = "SelfFavoriteForbidden"
	KindConcurrentKey       Kind = "ConcurrentKey"
	KindAlreadyUsed         Kind = "AlreadyUsed"
	KindForbidden           Kind = "Forbidden"
	KindLocked              Kind = "Locked"
	KindBusy                Kind = "Busy"
	KindRateLimited         Kind = "RateLimited"
	KindInternal            Kind = "Internal"
	KindUnavailable         Kind = "Unavailable"
)

var kindCode = map[Kind]Code{
	KindBadRequest:         CodeBadRequest,
	KindAuthFailed:         CodeAuthFailed,
	KindAuthExpired:        CodeAuthFailed,
	KindAuthMalformed:      CodeAuthFailed,
	KindNotFound:           CodeNotFound,
	KindTimeout:            CodeTimeout,
	KindGone:               CodeGone,
	KindDepthExceeded:      CodeUnprocess,
	KindSelfFavoriteForbid: CodeUnprocess,
	KindConcurrentKey:      CodeUnprocess,
	KindAlreadyUsed:        CodeUnprocess,
	KindForbidden:          CodeUnprocess,
	KindLocked:             CodeLocked,
	KindBusy:               CodeLocked,
	KindRateLimited:        CodeRateLimited,
	KindInternal:           CodeInternal,
	KindUnavailable:        CodeUnavailable,
}

// Dimension names which rate-limit dimension tripped (spec.md §4.B).
type Dimension string

const (
	DimensionActor    Dimension = "actor"
	DimensionIP       Dimension = "ip"
	DimensionCooldown Dimension = "cooldown"
)

// Error is the typed error every engine returns at its public boundary.
type Error struct {
	Kind      Kind
	Message   string
	Dimension Dimension // only set for RateLimited
	cause     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Code returns the numeric §7 code for this error's Kind.
func (e *Error) Code() Code { return kindCode[e.Kind] }

// New constructs an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap constructs an Error of the given kind, preserving cause for
// errors.Is/As/Unwrap chains while keeping the taxonomy at the boundary.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// RateLimited constructs the 429 error carrying which dimension tripped.
func RateLimited(dim Dimension) *Error {
	return &Error{Kind: KindRateLimited, Dimension: dim, Message: fmt.Sprintf("rate limited on %s", dim)}
}

// Is lets errors.Is match on Kind regardless of message/cause.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.Kind == e.Kind
	}
	return false
}

// Convenience constructors used pervasively across engines.
func NotFound(msg string) *Error   { return New(KindNotFound, msg) }
func Gone(msg string) *Error       { return New(KindGone, msg) }
func Locked(msg string) *Error     { return New(KindLocked, msg) }
func Busy(msg string) *Error       { return New(KindBusy, msg) }
func Timeout(msg string) *Error    { return New(KindTimeout, msg) }
func BadRequest(msg string) *Error { return New(KindBadRequest, msg) }
func Internal(cause error, msg string) *Error {
	return Wrap(KindInternal, cause, msg)
}
func Unavailable(msg string) *Error { return New(KindUnavailable, msg) }
