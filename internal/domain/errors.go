package domain

import (
	"errors"
	"strings"
)

// Kind is an error category. Kinds form a small tree so that callers can test for
// either the precise kind or its family, e.g. errors.Is(err, ErrConflict) also
// matches ErrAlreadyAccepted.
type Kind struct {
	name   string
	code   string
	parent *Kind
}

func (k *Kind) Error() string { return k.name }

// Code is the stable machine-readable name sent to the UI.
func (k *Kind) Code() string { return k.code }

func (k *Kind) Is(target error) bool {
	for p := k.parent; p != nil; p = p.parent {
		if target == p {
			return true
		}
	}
	return false
}

func newKind(name, code string, parent *Kind) *Kind {
	return &Kind{name: name, code: code, parent: parent}
}

var (
	ErrAuthenticationRequired = newKind("authentication required", "authentication_required", nil)
	ErrInvalidParameters      = newKind("invalid parameters", "invalid_parameters", nil)
	ErrInvalidAmount          = newKind("invalid amount", "invalid_amount", ErrInvalidParameters)
	ErrInsufficientFunds      = newKind("insufficient funds", "insufficient_funds", nil)
	ErrConflict               = newKind("conflict", "conflict", nil)
	ErrInvalidState           = newKind("invalid state", "invalid_state", ErrConflict)
	ErrAlreadyAccepted        = newKind("match already accepted", "already_accepted", ErrConflict)
	ErrNotFound               = newKind("not found", "not_found", nil)
	ErrForbidden              = newKind("forbidden", "forbidden", nil)
	ErrRequestInFlight        = newKind("request already in flight", "request_in_flight", nil)
	ErrNetwork                = newKind("network or server failure", "network_failure", nil)
	ErrMalformedResponse      = newKind("malformed server response", "malformed_response", ErrNetwork)
	ErrReconciliationGap      = newKind("payment not reconciled with ledger", "reconciliation_gap", nil)
)

var kinds = []*Kind{
	ErrAuthenticationRequired, ErrInvalidParameters, ErrInvalidAmount, ErrInsufficientFunds,
	ErrConflict, ErrInvalidState, ErrAlreadyAccepted, ErrNotFound, ErrForbidden,
	ErrRequestInFlight, ErrNetwork, ErrMalformedResponse, ErrReconciliationGap,
}

// Error is a categorized failure of an operation.
type Error struct {
	Kind *Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
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

// E builds an *Error of the given kind.
func E(kind *Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind *Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the most specific kind found in err, or nil.
func KindOf(err error) *Kind {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Kind != nil {
		return de.Kind
	}
	var k *Kind
	if errors.As(err, &k) {
		return k
	}
	return nil
}

// Message returns the user-facing text of err without the operation prefix.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Msg != "" {
			return de.Msg
		}
		if de.Kind != nil {
			return de.Kind.Error()
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsRecoverable reports whether the user can fix the failure by changing input.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrInvalidParameters) || errors.Is(err, ErrInsufficientFunds)
}

// KindByCode looks a kind up by its wire code.
func KindByCode(code string) *Kind {
	for _, k := range kinds {
		if k.code == code {
			return k
		}
	}
	return nil
}
