package repository

import (
	"errors"
	"net/http"
	"strings"

	"fgcmatch/internal/domain"
	"fgcmatch/pkg/backend"
)

// keyword rules applied to backend messages, most specific first
var messageRules = []struct {
	needle string
	kind   *domain.Kind
}{
	{"insufficient", domain.ErrInsufficientFunds},
	{"already accepted", domain.ErrAlreadyAccepted},
	{"already been accepted", domain.ErrAlreadyAccepted},
	{"no longer available", domain.ErrAlreadyAccepted},
	{"not available", domain.ErrAlreadyAccepted},
	{"not authenticated", domain.ErrAuthenticationRequired},
	{"jwt expired", domain.ErrAuthenticationRequired},
	{"own match", domain.ErrForbidden},
	{"not authorized", domain.ErrForbidden},
	{"not allowed", domain.ErrForbidden},
	{"only the creator", domain.ErrForbidden},
	{"not a participant", domain.ErrForbidden},
	{"permission denied", domain.ErrForbidden},
	{"row-level security", domain.ErrForbidden},
	{"not in progress", domain.ErrInvalidState},
	{"invalid state", domain.ErrInvalidState},
	{"invalid status", domain.ErrInvalidState},
	{"cannot be cancelled", domain.ErrInvalidState},
	{"already completed", domain.ErrInvalidState},
	{"already cancelled", domain.ErrInvalidState},
	{"not found", domain.ErrNotFound},
	{"invalid amount", domain.ErrInvalidAmount},
	{"amount must", domain.ErrInvalidAmount},
	{"invalid", domain.ErrInvalidParameters},
	{"must be", domain.ErrInvalidParameters},
}

func kindFromMessage(msg string) *domain.Kind {
	m := strings.ToLower(msg)
	for _, r := range messageRules {
		if strings.Contains(m, r.needle) {
			return r.kind
		}
	}
	return nil
}

// classify maps a gateway failure to a domain error. It is the only place raw
// backend errors are interpreted.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != nil {
		return err
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return &domain.Error{Kind: kindFromBackend(be), Op: op, Msg: be.Message, Err: err}
	}
	var de *backend.DecodeError
	if errors.As(err, &de) {
		return domain.Wrap(domain.ErrMalformedResponse, op, err)
	}
	// transport failures, timeouts and cancellations
	return domain.Wrap(domain.ErrNetwork, op, err)
}

func kindFromBackend(be *backend.Error) *domain.Kind {
	switch be.Code {
	case "PGRST116":
		return domain.ErrNotFound
	case "PGRST301", "PGRST302":
		return domain.ErrAuthenticationRequired
	case "42501":
		return domain.ErrForbidden
	case "23505":
		return domain.ErrConflict
	case "22P02", "23514", "22023":
		if k := kindFromMessage(be.Text()); k != nil {
			return k
		}
		return domain.ErrInvalidParameters
	}
	if k := kindFromMessage(be.Text()); k != nil {
		return k
	}
	switch {
	case be.Status == http.StatusUnauthorized:
		return domain.ErrAuthenticationRequired
	case be.Status == http.StatusForbidden:
		return domain.ErrForbidden
	case be.Status == http.StatusNotFound, be.Status == http.StatusNotAcceptable:
		return domain.ErrNotFound
	case be.Status == http.StatusConflict:
		return domain.ErrConflict
	case be.Status == http.StatusPaymentRequired:
		return domain.ErrInsufficientFunds
	case be.Status >= 400 && be.Status < 500:
		return domain.ErrInvalidParameters
	}
	return domain.ErrNetwork
}

// rejected turns a {success:false,error} envelope into a domain error.
func rejected(op, msg string) error {
	if msg == "" {
		msg = "request rejected"
	}
	k := kindFromMessage(msg)
	if k == nil {
		k = domain.ErrConflict
	}
	return domain.E(k, op, msg)
}

// malformed reports a payload that decoded but failed validation.
func malformed(op string, err error) error {
	return domain.Wrap(domain.ErrMalformedResponse, op, err)
}
