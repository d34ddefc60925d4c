package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fgcmatch/config"
	"fgcmatch/internal/cache"
	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/internal/repository"
	"fgcmatch/pkg/payment"

	"github.com/google/uuid"
)

const (
	opDeposit  = "deposit"
	opWithdraw = "withdraw"

	transactionPage = 50
)

// Deposit is a brokered real-money payment waiting for the player to pay.
type Deposit struct {
	PaymentID    string `json:"payment_id"`
	Provider     string `json:"provider"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
	ApproveURL   string `json:"approve_url,omitempty"`
}

// WalletService keeps the displayed balance in line with the server ledger.
// Balances are never adjusted locally: every change is a server call followed
// by a refetch, and realtime pushes replace the cached wallet outright.
type WalletService struct {
	repo      *repository.WalletRepository
	journal   repository.PaymentJournal
	support   *repository.SupportRepository
	providers payment.Registry
	cache     *cache.Cache
	id        Identity
	guard     *inflight
	wait      time.Duration
	currency  string
	logger    *slog.Logger
	now       func() time.Time
}

func NewWalletService(cfg *config.Config, repo *repository.WalletRepository, journal repository.PaymentJournal, support *repository.SupportRepository, providers payment.Registry, c *cache.Cache, id Identity, logger *slog.Logger) *WalletService {
	return &WalletService{
		repo:      repo,
		journal:   journal,
		support:   support,
		providers: providers,
		cache:     c,
		id:        id,
		guard:     newInflight(),
		wait:      cfg.Session.MutationWait,
		currency:  cfg.Payment.Currency,
		logger:    logger.With("component", "wallet"),
		now:       time.Now,
	}
}

// loadWallet reads the cached wallet of userID, fetching it when stale. A user
// without a wallet row has a zero balance; the row appears on first funding.
func loadWallet(ctx context.Context, c *cache.Cache, repo *repository.WalletRepository, userID string) (models.Wallet, error) {
	return cache.FetchAs(ctx, c, cache.WalletKey(userID), func(ctx context.Context) (models.Wallet, error) {
		w, err := repo.GetByUserID(ctx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return models.Wallet{UserID: userID}, nil
		}
		if err != nil {
			return models.Wallet{}, err
		}
		return *w, nil
	})
}

func (s *WalletService) GetWallet(ctx context.Context) (models.Wallet, error) {
	sess, err := requireUser(s.id, "get wallet")
	if err != nil {
		return models.Wallet{}, err
	}
	return loadWallet(ctx, s.cache, s.repo, sess.UserID())
}

func (s *WalletService) Transactions(ctx context.Context) ([]models.Transaction, error) {
	sess, err := requireUser(s.id, "list transactions")
	if err != nil {
		return nil, err
	}
	uid := sess.UserID()
	return cache.FetchAs(ctx, s.cache, cache.TransactionsKey(uid), func(ctx context.Context) ([]models.Transaction, error) {
		return s.repo.Transactions(ctx, uid, transactionPage)
	})
}

func (s *WalletService) Withdrawals(ctx context.Context) ([]models.WithdrawalRequest, error) {
	sess, err := requireUser(s.id, "list withdrawals")
	if err != nil {
		return nil, err
	}
	uid := sess.UserID()
	return cache.FetchAs(ctx, s.cache, cache.WithdrawalsKey(uid), func(ctx context.Context) ([]models.WithdrawalRequest, error) {
		return s.repo.Withdrawals(ctx, uid)
	})
}

func (s *WalletService) refresh(userID string, extra ...string) {
	keys := append([]string{cache.WalletKey(userID), cache.TransactionsKey(userID)}, extra...)
	s.cache.Invalidate(keys...)
}

// AddFunds credits test money through the mock procedure.
func (s *WalletService) AddFunds(ctx context.Context, amountCents int64) (*models.DepositResult, error) {
	const op = "add funds"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	if amountCents <= 0 || amountCents > domain.MaxDepositCents {
		return nil, domain.E(domain.ErrInvalidAmount, op, "amount must be positive and at most "+models.FormatCents(domain.MaxDepositCents))
	}
	uid := sess.UserID()
	release, err := s.guard.acquire(opDeposit, uid)
	if err != nil {
		return nil, err
	}
	defer release()

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	res, err := s.repo.MockDeposit(mctx, amountCents)
	if err != nil {
		if errors.Is(err, domain.ErrNetwork) {
			s.refresh(uid)
		}
		return nil, err
	}
	s.refresh(uid)
	return res, nil
}

// BeginDeposit has the backend broker a provider intent for amountCents and
// journals the payment before the player is charged.
func (s *WalletService) BeginDeposit(ctx context.Context, provider string, amountCents int64) (*Deposit, error) {
	const op = "begin deposit"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	if amountCents < domain.MinDepositCents || amountCents > domain.MaxDepositCents {
		return nil, domain.E(domain.ErrInvalidAmount, op, fmt.Sprintf("deposit must be between %s and %s",
			models.FormatCents(domain.MinDepositCents), models.FormatCents(domain.MaxDepositCents)))
	}
	if _, err := s.providers.Get(provider); err != nil {
		return nil, domain.E(domain.ErrInvalidParameters, op, err.Error())
	}

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	d := &Deposit{PaymentID: uuid.NewString(), Provider: provider, AmountCents: amountCents, Currency: s.currency}
	p := &models.Payment{
		ID:             d.PaymentID,
		UserID:         sess.UserID(),
		AmountCents:    amountCents,
		Currency:       s.currency,
		Provider:       provider,
		Status:         models.PaymentPending,
		IdempotencyKey: uuid.NewString(),
	}
	switch provider {
	case payment.ProviderCard:
		in, err := s.repo.CreateCardIntent(mctx, amountCents, s.currency)
		if err != nil {
			return nil, err
		}
		p.IntentID, p.ProviderSecret = in.ID, in.ClientSecret
		d.ClientSecret = in.ClientSecret
	case payment.ProviderHosted:
		o, err := s.repo.CreateHostedOrder(mctx, amountCents, s.currency)
		if err != nil {
			return nil, err
		}
		p.IntentID = o.ID
		d.ApproveURL = o.ApproveURL
	default:
		p.IntentID = uuid.NewString()
	}
	if err := s.journal.Create(mctx, p); err != nil {
		return nil, fmt.Errorf("journaling payment: %w", err)
	}
	s.logger.Info("deposit started", "payment_id", p.ID, "provider", provider, "amount_cents", amountCents)
	return d, nil
}

func (s *WalletService) owned(ctx context.Context, op, userID, paymentID string) (*models.Payment, error) {
	p, err := s.journal.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.E(domain.ErrNotFound, op, "payment not found")
	}
	return p, nil
}

func chargeRequest(p *models.Payment, paymentMethod string) payment.PaymentRequest {
	return payment.PaymentRequest{
		IntentID:       p.IntentID,
		ClientSecret:   p.ProviderSecret,
		PaymentMethod:  paymentMethod,
		AmountCents:    p.AmountCents,
		Currency:       p.Currency,
		IdempotencyKey: p.IdempotencyKey,
	}
}

// CompleteDeposit charges the journaled payment with its provider and then
// asks the backend to credit the ledger. The balance only changes once the
// backend has verified the charge. A charge the backend fails to credit is
// kept as a reconciliation gap and reported with ErrReconciliationGap.
func (s *WalletService) CompleteDeposit(ctx context.Context, paymentID, paymentMethod string) (*models.Payment, error) {
	const op = "complete deposit"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	release, err := s.guard.acquire(opDeposit, paymentID)
	if err != nil {
		return nil, err
	}
	defer release()

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	p, err := s.owned(mctx, op, sess.UserID(), paymentID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case models.PaymentReconciled:
		return p, nil
	case models.PaymentFailed:
		return nil, domain.E(domain.ErrInvalidState, op, "payment was declined; start a new deposit")
	case models.PaymentCaptured:
		return s.reconcileLedger(mctx, op, p)
	case models.PaymentUnconfirmed:
		return s.verifyCharge(mctx, op, p)
	}

	prov, err := s.providers.Get(p.Provider)
	if err != nil {
		return nil, domain.E(domain.ErrInvalidParameters, op, err.Error())
	}
	resp, err := prov.Confirm(mctx, chargeRequest(p, paymentMethod))
	if err != nil {
		return p, s.unconfirmed(mctx, op, p, err.Error(), err)
	}
	switch resp.Status {
	case payment.StatusSucceeded:
	case payment.StatusFailed:
		p.Status = models.PaymentFailed
		p.LastError = resp.Message
		s.save(mctx, p)
		msg := "payment declined"
		if resp.Message != "" {
			msg += ": " + resp.Message
		}
		return nil, domain.E(domain.ErrInvalidParameters, op, msg)
	default:
		return p, s.unconfirmed(mctx, op, p, "provider reported "+strings.ToLower(resp.Status), nil)
	}

	s.captured(mctx, p, resp.Reference)
	return s.reconcileLedger(mctx, op, p)
}

func (s *WalletService) captured(ctx context.Context, p *models.Payment, reference string) {
	now := s.now()
	p.Status = models.PaymentCaptured
	if reference != "" {
		p.ProviderRef = reference
	}
	p.CapturedAt = &now
	p.LastError = ""
	if err := s.journal.Update(ctx, p); err != nil {
		// the charge went through; losing the journal row would hide a gap
		s.logger.Error("payment journal update failed", "payment_id", p.ID, "reference", p.ProviderRef, "error", err)
	}
	s.logger.Info("deposit captured", "payment_id", p.ID, "provider", p.Provider, "reference", p.ProviderRef)
}

// unconfirmed journals a charge whose outcome the provider did not report. It
// may have gone through, so it is listed with the gaps and verified on retry
// instead of being confirmed a second time.
func (s *WalletService) unconfirmed(ctx context.Context, op string, p *models.Payment, reason string, cause error) error {
	p.Status = models.PaymentUnconfirmed
	p.LastError = reason
	if err := s.journal.Update(ctx, p); err != nil {
		s.logger.Error("payment journal update failed", "payment_id", p.ID, "error", err)
	}
	s.logger.Error("charge outcome unknown",
		"payment_id", p.ID, "provider", p.Provider, "amount_cents", p.AmountCents, "reason", reason)
	return &domain.Error{
		Kind: domain.ErrReconciliationGap,
		Op:   op,
		Msg: fmt.Sprintf("the outcome of your %s payment of %s is not confirmed yet; it will be checked again before any new charge",
			p.Provider, models.FormatCents(p.AmountCents)),
		Err: cause,
	}
}

// verifyCharge asks the provider for the state of a charge whose confirm
// answer was lost and settles the journal row accordingly.
func (s *WalletService) verifyCharge(ctx context.Context, op string, p *models.Payment) (*models.Payment, error) {
	prov, err := s.providers.Get(p.Provider)
	if err != nil {
		return nil, domain.E(domain.ErrInvalidParameters, op, err.Error())
	}
	resp, err := prov.Verify(ctx, chargeRequest(p, ""))
	if err != nil {
		return p, domain.Wrap(domain.ErrReconciliationGap, op, err)
	}
	switch resp.Status {
	case payment.StatusSucceeded:
		s.captured(ctx, p, resp.Reference)
		return s.reconcileLedger(ctx, op, p)
	case payment.StatusFailed:
		p.Status = models.PaymentFailed
		p.LastError = resp.Message
		s.save(ctx, p)
		s.logger.Info("unconfirmed charge was not taken", "payment_id", p.ID, "provider", p.Provider)
		return p, nil
	}
	return p, domain.E(domain.ErrReconciliationGap, op, "provider reports the charge as "+strings.ToLower(resp.Status))
}

func (s *WalletService) save(ctx context.Context, p *models.Payment) {
	if err := s.journal.Update(ctx, p); err != nil {
		s.logger.Warn("payment journal update failed", "payment_id", p.ID, "error", err)
	}
}

func (s *WalletService) reconcileLedger(ctx context.Context, op string, p *models.Payment) (*models.Payment, error) {
	p.Attempts++
	_, err := s.repo.ReconcileDeposit(ctx, repository.ReconcileInput{
		Provider:       p.Provider,
		Reference:      p.ProviderRef,
		AmountCents:    p.AmountCents,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		p.LastError = err.Error()
		s.logger.Error("reconciliation gap",
			"payment_id", p.ID, "provider", p.Provider, "reference", p.ProviderRef,
			"amount_cents", p.AmountCents, "attempts", p.Attempts, "error", err)
		if p.TicketID == "" {
			p.TicketID = s.openGapTicket(ctx, p)
		}
		s.save(ctx, p)
		return p, &domain.Error{
			Kind: domain.ErrReconciliationGap,
			Op:   op,
			Msg: fmt.Sprintf("your payment of %s was charged by %s but not yet credited; support has been notified (reference %s)",
				models.FormatCents(p.AmountCents), p.Provider, p.ProviderRef),
			Err: err,
		}
	}
	now := s.now()
	p.Status = models.PaymentReconciled
	p.ReconciledAt = &now
	p.LastError = ""
	s.save(ctx, p)
	s.refresh(p.UserID)
	s.logger.Info("deposit reconciled", "payment_id", p.ID, "reference", p.ProviderRef, "amount_cents", p.AmountCents)
	return p, nil
}

func (s *WalletService) openGapTicket(ctx context.Context, p *models.Payment) string {
	if s.support == nil {
		return ""
	}
	t, err := s.support.Create(ctx, &models.SupportTicket{
		UserID:   p.UserID,
		Subject:  "Deposit not credited",
		Category: "PAYMENT",
		Message: fmt.Sprintf("Payment %s of %s via %s (reference %s) was charged but not credited: %s",
			p.ID, models.FormatCents(p.AmountCents), p.Provider, p.ProviderRef, p.LastError),
	})
	if err != nil {
		s.logger.Warn("gap ticket not opened", "payment_id", p.ID, "error", err)
		return ""
	}
	return t.ID
}

// Gaps lists the caller's charges that the ledger has not credited yet,
// including charges whose outcome the provider never reported.
func (s *WalletService) Gaps(ctx context.Context) ([]models.Payment, error) {
	sess, err := requireUser(s.id, "list gaps")
	if err != nil {
		return nil, err
	}
	var gaps []models.Payment
	for _, status := range []string{models.PaymentCaptured, models.PaymentUnconfirmed} {
		list, err := s.journal.ListByStatus(ctx, sess.UserID(), status)
		if err != nil {
			return nil, err
		}
		gaps = append(gaps, list...)
	}
	return gaps, nil
}

// RetryReconciliation re-reads a gap's charge from its provider and asks the
// backend again to credit it. The backend deduplicates on the reference.
func (s *WalletService) RetryReconciliation(ctx context.Context, gapID string) (*models.Payment, error) {
	const op = "retry reconciliation"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	release, err := s.guard.acquire(opDeposit, gapID)
	if err != nil {
		return nil, err
	}
	defer release()

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	p, err := s.owned(mctx, op, sess.UserID(), gapID)
	if err != nil {
		return nil, err
	}
	switch {
	case p.Status == models.PaymentReconciled:
		return p, nil
	case p.Status == models.PaymentUnconfirmed:
		return s.verifyCharge(mctx, op, p)
	case !p.IsGap():
		return nil, domain.E(domain.ErrInvalidState, op, "payment was never charged")
	}
	prov, err := s.providers.Get(p.Provider)
	if err != nil {
		return nil, domain.E(domain.ErrInvalidParameters, op, err.Error())
	}
	resp, err := prov.Verify(mctx, chargeRequest(p, ""))
	if err != nil {
		return p, domain.Wrap(domain.ErrReconciliationGap, op, err)
	}
	if !resp.Succeeded() {
		return p, domain.E(domain.ErrReconciliationGap, op, "provider reports the charge as "+strings.ToLower(resp.Status))
	}
	if resp.Reference != "" {
		p.ProviderRef = resp.Reference
	}
	return s.reconcileLedger(mctx, op, p)
}

// RetryGaps retries every open gap of the caller, e.g. after sign-in.
func (s *WalletService) RetryGaps(ctx context.Context) int {
	gaps, err := s.Gaps(ctx)
	if err != nil {
		return 0
	}
	fixed := 0
	for _, g := range gaps {
		if _, err := s.RetryReconciliation(ctx, g.ID); err != nil {
			s.logger.Warn("gap still open", "payment_id", g.ID, "error", err)
			continue
		}
		fixed++
	}
	return fixed
}

// RequestWithdrawal queues a payout for manual review.
func (s *WalletService) RequestWithdrawal(ctx context.Context, amountCents int64, method string, details map[string]string) (*models.WithdrawalResult, error) {
	const op = "request withdrawal"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	switch {
	case amountCents <= 0:
		return nil, domain.E(domain.ErrInvalidAmount, op, "amount must be greater than zero")
	case !domain.IsWithdrawalMethod(method):
		return nil, domain.E(domain.ErrInvalidParameters, op, "withdrawal method must be BANK, PAYPAL or UPI")
	case len(details) == 0:
		return nil, domain.E(domain.ErrInvalidParameters, op, "account details are required")
	}
	uid := sess.UserID()
	w, err := loadWallet(ctx, s.cache, s.repo, uid)
	if err != nil {
		return nil, err
	}
	if amountCents > w.BalanceCents {
		return nil, domain.E(domain.ErrInsufficientFunds, op, "insufficient funds: balance is "+w.Formatted())
	}
	release, err := s.guard.acquire(opWithdraw, uid)
	if err != nil {
		return nil, err
	}
	defer release()

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	res, err := s.repo.RequestWithdrawal(mctx, amountCents, method, details)
	if err != nil {
		if errors.Is(err, domain.ErrNetwork) || errors.Is(err, domain.ErrConflict) {
			s.refresh(uid, cache.WithdrawalsKey(uid))
		}
		return nil, err
	}
	s.refresh(uid, cache.WithdrawalsKey(uid))
	s.logger.Info("withdrawal requested", "request_id", res.RequestID, "amount_cents", amountCents, "method", method)
	return res, nil
}

// Apply replaces the cached wallet with a server snapshot. The server always
// wins, so applying the same snapshot twice leaves the same balance. A
// snapshot older than the cached row is ignored, and a fetch that was already
// running when the snapshot arrived cannot overwrite it.
func (s *WalletService) Apply(w models.Wallet) {
	if w.UserID == "" {
		return
	}
	stored := s.cache.Update(cache.WalletKey(w.UserID), func(old interface{}, ok bool) (interface{}, bool) {
		if cur, isWallet := old.(models.Wallet); ok && isWallet && olderThan(w.UpdatedAt, cur.UpdatedAt) {
			return nil, false
		}
		return w, true
	})
	if !stored {
		s.logger.Debug("ignoring out-of-date wallet snapshot", "user_id", w.UserID)
		return
	}
	s.cache.Invalidate(cache.TransactionsKey(w.UserID))
}

func olderThan(a, b *time.Time) bool {
	return a != nil && b != nil && a.Before(*b)
}
