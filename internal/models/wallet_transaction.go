package models

import (
	"fmt"
	"time"

	"fgcmatch/internal/domain"
)

// Transaction is an immutable ledger entry. Positive amounts credit the wallet.
type Transaction struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Type        string    `json:"type"` // DEPOSIT, WITHDRAWAL, ENTRY_FEE, PAYOUT, REFUND
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func (t *Transaction) Validate() error {
	switch t.Type {
	case domain.TxDeposit, domain.TxWithdrawal, domain.TxEntryFee, domain.TxPayout, domain.TxRefund:
		return nil
	}
	return fmt.Errorf("transaction %s: unknown type %q", t.ID, t.Type)
}
