package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	PaymentPending     = "PENDING"     // intent brokered, provider not yet charged
	PaymentCaptured    = "CAPTURED"    // provider confirmed the charge, ledger not yet reconciled
	PaymentReconciled  = "RECONCILED"  // ledger credited by the backend
	PaymentFailed      = "FAILED"      // provider declined, nothing charged
	PaymentUnconfirmed = "UNCONFIRMED" // confirm sent, provider answer lost or inconclusive
)

// Payment is the local journal entry of a real-money deposit. A row stuck in
// CAPTURED or UNCONFIRMED is a reconciliation gap that needs follow-up.
type Payment struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	UserID         string         `gorm:"size:64;not null;index" json:"user_id"`
	AmountCents    int64          `gorm:"not null" json:"amount_cents"`
	Currency       string         `gorm:"size:3;default:'usd'" json:"currency"`
	Provider       string         `gorm:"size:32;not null" json:"provider"`
	IntentID       string         `gorm:"size:255;index" json:"intent_id"`
	ProviderSecret string         `gorm:"size:255" json:"-"`
	ProviderRef    string         `gorm:"size:255;index" json:"provider_ref,omitempty"`
	Status         string         `gorm:"size:20;not null;index" json:"status"`
	IdempotencyKey string         `gorm:"size:64;uniqueIndex" json:"-"`
	LastError      string         `gorm:"type:text" json:"last_error,omitempty"`
	TicketID       string         `gorm:"size:64" json:"ticket_id,omitempty"`
	Attempts       int            `gorm:"not null;default:0" json:"attempts"`
	CapturedAt     *time.Time     `json:"captured_at"`
	ReconciledAt   *time.Time     `json:"reconciled_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) IsGap() bool {
	return p.Status == PaymentCaptured || p.Status == PaymentUnconfirmed
}
