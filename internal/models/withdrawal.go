package models

import "time"

// WithdrawalRequest is queued server-side for manual review; it is not an instant payout.
type WithdrawalRequest struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	AmountCents    int64             `json:"amount_cents"`
	Method         string            `json:"method"` // BANK, PAYPAL, UPI
	AccountDetails map[string]string `json:"account_details,omitempty"`
	Status         string            `json:"status"` // PENDING, APPROVED, REJECTED, PAID
	CreatedAt      time.Time         `json:"created_at"`
}

// WithdrawalResult is the envelope returned by request_withdrawal.
type WithdrawalResult struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DepositResult is the envelope returned by mock_deposit and reconcile_deposit.
type DepositResult struct {
	Success    bool   `json:"success"`
	NewBalance *int64 `json:"new_balance,omitempty"`
	Error      string `json:"error,omitempty"`
}
