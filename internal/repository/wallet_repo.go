package repository

import (
	"context"
	"fmt"
	"strconv"

	"fgcmatch/internal/models"
	"fgcmatch/pkg/backend"
)

type WalletRepository struct {
	c *backend.Client
}

func NewWalletRepository(c *backend.Client) *WalletRepository {
	return &WalletRepository{c: c}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	const op = "get wallet"
	var w models.Wallet
	if err := r.c.From("wallets").Select("*").Eq("user_id", userID).Single(ctx, &w); err != nil {
		return nil, classify(op, err)
	}
	if err := w.Validate(); err != nil {
		return nil, malformed(op, err)
	}
	return &w, nil
}

func (r *WalletRepository) Transactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	const op = "list transactions"
	var list []models.Transaction
	q := r.c.From("transactions").Select("*").Eq("user_id", userID).Order("created_at", false)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Get(ctx, &list); err != nil {
		return nil, classify(op, err)
	}
	for i := range list {
		if err := list[i].Validate(); err != nil {
			return nil, malformed(op, err)
		}
	}
	return list, nil
}

func (r *WalletRepository) Withdrawals(ctx context.Context, userID string) ([]models.WithdrawalRequest, error) {
	var list []models.WithdrawalRequest
	err := r.c.From("withdrawal_requests").Select("*").Eq("user_id", userID).Order("created_at", false).Get(ctx, &list)
	if err != nil {
		return nil, classify("list withdrawals", err)
	}
	return list, nil
}

// MockDeposit credits test money through the mock_deposit procedure.
func (r *WalletRepository) MockDeposit(ctx context.Context, amountCents int64) (*models.DepositResult, error) {
	const op = "mock deposit"
	var res models.DepositResult
	if err := r.c.RPC(ctx, "mock_deposit", map[string]int64{"amount_cents": amountCents}, &res); err != nil {
		return nil, classify(op, err)
	}
	if !res.Success {
		return nil, rejected(op, res.Error)
	}
	return &res, nil
}

// CardIntent is the server-brokered intent of the embedded card provider.
type CardIntent struct {
	ClientSecret string `json:"clientSecret"`
	ID           string `json:"id"`
	Error        string `json:"error,omitempty"`
}

// CreateCardIntent asks the payment edge function for a card payment intent.
// Only the amount travels; the server prices nothing else.
func (r *WalletRepository) CreateCardIntent(ctx context.Context, amountCents int64, currency string) (*CardIntent, error) {
	const op = "create card intent"
	var out CardIntent
	body := map[string]interface{}{"amount": amountCents, "currency": currency}
	if err := r.c.Invoke(ctx, "stripe-payment-intent", body, &out); err != nil {
		return nil, classify(op, err)
	}
	if out.Error != "" {
		return nil, rejected(op, out.Error)
	}
	if out.ClientSecret == "" {
		return nil, malformed(op, fmt.Errorf("no client secret"))
	}
	return &out, nil
}

// HostedOrder is the server-brokered order of the hosted-button provider.
type HostedOrder struct {
	ID         string `json:"id"`
	ApproveURL string `json:"approve_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (r *WalletRepository) CreateHostedOrder(ctx context.Context, amountCents int64, currency string) (*HostedOrder, error) {
	const op = "create hosted order"
	var out HostedOrder
	body := map[string]string{
		"amount":   strconv.FormatFloat(float64(amountCents)/100, 'f', 2, 64),
		"currency": currency,
	}
	if err := r.c.Invoke(ctx, "paypal-create-order", body, &out); err != nil {
		return nil, classify(op, err)
	}
	if out.Error != "" {
		return nil, rejected(op, out.Error)
	}
	if out.ID == "" {
		return nil, malformed(op, fmt.Errorf("no order id"))
	}
	return &out, nil
}

type ReconcileInput struct {
	Provider       string `json:"p_provider"`
	Reference      string `json:"p_reference"`
	AmountCents    int64  `json:"p_amount_cents"`
	IdempotencyKey string `json:"p_idempotency_key"`
}

// ReconcileDeposit asks the server to credit a provider-confirmed charge. The
// server deduplicates on the reference, so repeating it is safe.
func (r *WalletRepository) ReconcileDeposit(ctx context.Context, in ReconcileInput) (*models.DepositResult, error) {
	const op = "reconcile deposit"
	var res models.DepositResult
	if err := r.c.RPC(ctx, "reconcile_deposit", in, &res); err != nil {
		return nil, classify(op, err)
	}
	if !res.Success {
		return nil, rejected(op, res.Error)
	}
	return &res, nil
}

type withdrawalInput struct {
	AmountCents    int64             `json:"p_amount_cents"`
	Method         string            `json:"p_method"`
	AccountDetails map[string]string `json:"p_account_details"`
}

// RequestWithdrawal queues a withdrawal for manual review.
func (r *WalletRepository) RequestWithdrawal(ctx context.Context, amountCents int64, method string, details map[string]string) (*models.WithdrawalResult, error) {
	const op = "request withdrawal"
	var res models.WithdrawalResult
	in := withdrawalInput{AmountCents: amountCents, Method: method, AccountDetails: details}
	if err := r.c.RPC(ctx, "request_withdrawal", in, &res); err != nil {
		return nil, classify(op, err)
	}
	if !res.Success {
		return nil, rejected(op, res.Error)
	}
	return &res, nil
}
