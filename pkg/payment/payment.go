// Package payment completes charges with the payment providers once the
// backend has brokered an intent (card) or an order (hosted button).
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	ProviderCard   = "card"
	ProviderHosted = "hosted"
	ProviderStub   = "stub"
)

// Normalized charge states.
const (
	StatusSucceeded      = "SUCCEEDED"
	StatusRequiresAction = "REQUIRES_ACTION"
	StatusPending        = "PENDING"
	StatusFailed         = "FAILED"
)

type PaymentRequest struct {
	IntentID       string // payment intent id or order id brokered by the backend
	ClientSecret   string // card provider only
	PaymentMethod  string // card provider only, e.g. pm_card_visa
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

type PaymentResponse struct {
	Reference   string // provider-side id of the charge
	Status      string
	AmountCents int64
	Currency    string
	Message     string
}

func (r *PaymentResponse) Succeeded() bool { return r.Status == StatusSucceeded }

type Provider interface {
	Name() string
	// Confirm completes the charge. A declined charge is returned as a response
	// with StatusFailed, not as an error.
	Confirm(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
	// Verify reads the current state of a charge without changing it.
	Verify(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
}

var ErrUnknownProvider = errors.New("unknown payment provider")

// Registry selects a provider by name.
type Registry map[string]Provider

func (r Registry) Get(name string) (Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// ParseAmount converts a decimal string such as "12.5" to cents.
func ParseAmount(v string) (int64, error) {
	v = strings.TrimSpace(v)
	whole, frac, _ := strings.Cut(v, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", v)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", v, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("amount %q: bad fraction", v)
	}
	if strings.HasPrefix(v, "-") {
		return w*100 - f, nil
	}
	return w*100 + f, nil
}

// FormatAmount renders cents as a decimal string with two places.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
