// Package xerrors carries the error kinds surfaced to callers of the gateway.
package xerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInternal          Kind = "internal"
	KindBadRequest        Kind = "bad_request"
	KindNotFound          Kind = "not_found"
	KindNotImplemented    Kind = "not_implemented"
	KindUpstream          Kind = "upstream_failure"
	KindInsufficientFunds Kind = "insufficient_funds"
)

// Error is a classified error. Missing is only set for KindInsufficientFunds
// and holds the shortfall as a decimal string.
type Error struct {
	Kind    Kind
	Msg     string
	Missing string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrWalletNotFound   = &Error{Kind: KindNotFound, Msg: "wallet not found"}
	ErrOwnerNotFound    = &Error{Kind: KindNotFound, Msg: "owner not found"}
	ErrSecretsRequired  = &Error{Kind: KindBadRequest, Msg: "signing secrets required"}
	ErrInvalidAmount    = &Error{Kind: KindBadRequest, Msg: "amount must be a positive decimal"}
	ErrAssetNotAllowed  = &Error{Kind: KindBadRequest, Msg: "asset not permitted for institutional wallet"}
	ErrWalletExists     = &Error{Kind: KindBadRequest, Msg: "wallet already exists"}
	ErrSignedTxRequired = &Error{Kind: KindNotImplemented, Msg: "send requires an externally signed transaction"}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func BadRequest(format string, args ...any) error {
	return New(KindBadRequest, format, args...)
}

func NotFound(format string, args ...any) error {
	return New(KindNotFound, format, args...)
}

func NotImplemented(format string, args ...any) error {
	return New(KindNotImplemented, format, args...)
}

func Upstream(err error, format string, args ...any) error {
	return Wrap(KindUpstream, err, format, args...)
}

// InsufficientFunds reports a liquidity shortfall of exactly missing.
func InsufficientFunds(missing string, format string, args ...any) error {
	e := New(KindInsufficientFunds, format, args...)
	e.Missing = missing
	return e
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Permanent reports whether retrying err against another endpoint cannot help.
func Permanent(err error) bool {
	switch KindOf(err) {
	case KindBadRequest, KindNotFound, KindNotImplemented, KindInsufficientFunds:
		return true
	}
	return false
}

// MissingAmount extracts the shortfall from an insufficient funds error.
func MissingAmount(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindInsufficientFunds {
		return e.Missing, true
	}
	return "", false
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindUpstream:
		return http.StatusBadGateway
	case KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
