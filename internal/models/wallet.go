package models

import (
	"fmt"
	"time"
)

// Wallet is the server-side balance row of a user. The client only ever holds a
// display copy of it.
type Wallet struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	BalanceCents int64      `json:"balance_cents"`
	Currency     string     `json:"currency,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func (w *Wallet) Validate() error {
	if w.BalanceCents < 0 {
		return fmt.Errorf("wallet %s: negative balance %d", w.ID, w.BalanceCents)
	}
	return nil
}

// Formatted renders the balance as dollars, e.g. "$12.50".
func (w *Wallet) Formatted() string {
	return FormatCents(w.BalanceCents)
}

func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
