package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fgcmatch/internal/backendtest"
	"fgcmatch/internal/cache"
	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/pkg/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFundsRefetchesBalance(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ctx := context.Background()
	assert.Equal(t, int64(1000), ryu.balance(t))

	res, err := ryu.wallet.AddFunds(ctx, 500)
	require.NoError(t, err)
	require.NotNil(t, res.NewBalance)
	assert.Equal(t, int64(1500), *res.NewBalance)
	assert.Equal(t, int64(1500), ryu.balance(t))

	txs, err := ryu.wallet.Transactions(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, txs)
	assert.Equal(t, domain.TxDeposit, txs[0].Type)

	_, err = ryu.wallet.AddFunds(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, 1, srv.Calls("mock_deposit"))
}

func TestCardDepositReconcilesOnce(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ctx := context.Background()

	d, err := ryu.wallet.BeginDeposit(ctx, payment.ProviderCard, 2500)
	require.NoError(t, err)
	assert.NotEmpty(t, d.ClientSecret)
	assert.Equal(t, int64(1000), srv.Balance(ryu.uid), "nothing is credited before the charge")

	p, err := ryu.wallet.CompleteDeposit(ctx, d.PaymentID, "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReconciled, p.Status)
	assert.NotEmpty(t, p.ProviderRef)
	assert.Equal(t, int64(3500), ryu.balance(t))

	again, err := ryu.wallet.CompleteDeposit(ctx, d.PaymentID, "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReconciled, again.Status)
	assert.Equal(t, int64(3500), srv.Balance(ryu.uid))
	assert.Equal(t, 1, srv.Calls("reconcile_deposit"))
}

func TestHostedDepositUsesCaptureReference(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 0)
	ctx := context.Background()

	d, err := ryu.wallet.BeginDeposit(ctx, payment.ProviderHosted, 1250)
	require.NoError(t, err)
	assert.NotEmpty(t, d.ApproveURL)

	p, err := ryu.wallet.CompleteDeposit(ctx, d.PaymentID, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.ProviderRef, "CAP-"), p.ProviderRef)
	assert.Equal(t, int64(1250), ryu.balance(t))
}

func TestStubDeposit(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 0)
	ctx := context.Background()

	d, err := ryu.wallet.BeginDeposit(ctx, payment.ProviderStub, 1000)
	require.NoError(t, err)
	p, err := ryu.wallet.CompleteDeposit(ctx, d.PaymentID, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.ProviderRef, "stub_"))
	assert.Equal(t, int64(1000), srv.Balance(ryu.uid))
}

func TestBeginDepositValidation(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 0)
	ctx := context.Background()

	_, err := ryu.wallet.BeginDeposit(ctx, payment.ProviderCard, 50)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = ryu.wallet.BeginDeposit(ctx, "crypto", 1000)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
	assert.Equal(t, 0, srv.Calls("stripe-payment-intent"))
}

func TestDeclinedCardIsNotCredited(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ctx := context.Background()
	srv.DeclineCards = true

	d, err := ryu.wallet.BeginDeposit(ctx, payment.ProviderCard, 2000)
	require.NoError(t, err)
	_, err = ryu.wallet.CompleteDeposit(ctx, d.PaymentID, "pm_card_chargeDeclined")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
	assert.Contains(t, domain.Message(err), "declined")

	p, err := ryu.journal.GetByID(ctx, d.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, p.Status)
	assert.Equal(t, int64(1000), srv.Balance(ryu.uid))
	assert.Equal(t, 0, srv.Calls("reconcile_deposit"))

	_, err = ryu.wallet.CompleteDeposit(ctx, d.PaymentID, "pm_card_visa")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestReconciliationGapIsRecordedAndRetried(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ctx := context.Background()

	d, err := ryu.wallet.BeginDeposit(ctx, payment.ProviderCard, 2000)
	require.NoError(t, err)
	srv.FailNext("reconcile_deposit", 500, "", "boom")

	p, err := ryu.wallet.CompleteDeposit(ctx, d.PaymentID, "pm_card_visa")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReconciliationGap)
	require.NotNil(t, p)
	assert.Equal(t, models.PaymentCaptured, p.Status)
	assert.NotEmpty(t, p.TicketID)
	assert.Equal(t, int64(1000), srv.Balance(ryu.uid))

	tickets := srv.Rows("support_tickets")
	require.Len(t, tickets, 1)
	assert.Equal(t, "PAYMENT", tickets[0]["category"])

	gaps, err := ryu.wallet.Gaps(ctx)
	require.NoError(t, err)
	require.Len(t, gaps, 1)

	fixed, err := ryu.wallet.RetryReconciliation(ctx, gaps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReconciled, fixed.Status)
	assert.Equal(t, int64(3000), ryu.balance(t))

	gaps, err = ryu.wallet.Gaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, gaps)
	assert.Equal(t, 0, ryu.wallet.RetryGaps(ctx))
}

func TestRetryGapsAfterOutage(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 0)
	ctx := context.Background()

	d, err := ryu.wallet.BeginDeposit(ctx, payment.ProviderStub, 700)
	require.NoError(t, err)
	srv.FailNext("reconcile_deposit", 503, "", "upstream unavailable")
	_, err = ryu.wallet.CompleteDeposit(ctx, d.PaymentID, "")
	require.ErrorIs(t, err, domain.ErrReconciliationGap)

	assert.Equal(t, 1, ryu.wallet.RetryGaps(ctx))
	assert.Equal(t, int64(700), srv.Balance(ryu.uid))
}

func TestRequestWithdrawal(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ctx := context.Background()
	details := map[string]string{"email": "ryu@fgc.gg"}

	cases := []struct {
		name    string
		amount  int64
		method  string
		details map[string]string
		kind    error
	}{
		{"zero amount", 0, "PAYPAL", details, domain.ErrInvalidAmount},
		{"unknown method", 100, "CRYPTO", details, domain.ErrInvalidParameters},
		{"no details", 100, "BANK", nil, domain.ErrInvalidParameters},
		{"over balance", 5000, "PAYPAL", details, domain.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ryu.wallet.RequestWithdrawal(ctx, tc.amount, tc.method, tc.details)
			assert.ErrorIs(t, err, tc.kind)
		})
	}
	assert.Equal(t, 0, srv.Calls("request_withdrawal"))

	res, err := ryu.wallet.RequestWithdrawal(ctx, 400, " paypal ", details)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, int64(600), ryu.balance(t))

	list, err := ryu.wallet.Withdrawals(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.WithdrawPayPal, list[0].Method)
}

func TestWalletApplyReplacesCachedBalance(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	assert.Equal(t, int64(1000), ryu.balance(t))

	pushed := models.Wallet{UserID: ryu.uid, BalanceCents: 1450, Currency: "usd"}
	ryu.wallet.Apply(pushed)
	ryu.wallet.Apply(pushed)

	w, ok := cache.GetAs[models.Wallet](ryu.cache, cache.WalletKey(ryu.uid))
	require.True(t, ok)
	assert.Equal(t, int64(1450), w.BalanceCents)
	assert.Equal(t, int64(1000), srv.Balance(ryu.uid))
}

func TestWalletPushWinsOverSlowerFetch(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	key := cache.WalletKey(ryu.uid)

	started, release := make(chan struct{}), make(chan struct{})
	fetched := make(chan models.Wallet, 1)
	go func() {
		w, err := cache.FetchAs(context.Background(), ryu.cache, key, func(context.Context) (models.Wallet, error) {
			close(started)
			<-release
			return models.Wallet{UserID: ryu.uid, BalanceCents: 1000}, nil
		})
		assert.NoError(t, err)
		fetched <- w
	}()
	<-started
	ryu.wallet.Apply(models.Wallet{UserID: ryu.uid, BalanceCents: 1950})
	close(release)

	assert.Equal(t, int64(1950), (<-fetched).BalanceCents)
	assert.Equal(t, int64(1950), ryu.balance(t))
	assert.False(t, ryu.cache.IsStale(key))
}

func TestWalletApplyIgnoresOlderSnapshot(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	now := time.Now()
	earlier := now.Add(-time.Minute)

	ryu.wallet.Apply(models.Wallet{UserID: ryu.uid, BalanceCents: 1950, UpdatedAt: &now})
	ryu.wallet.Apply(models.Wallet{UserID: ryu.uid, BalanceCents: 1200, UpdatedAt: &earlier})
	assert.Equal(t, int64(1950), ryu.balance(t))
}

// lostReplyProvider charges like the stub but loses the confirm answer.
type lostReplyProvider struct {
	payment.StubProvider
	verifyDown bool
}

func (p *lostReplyProvider) Confirm(ctx context.Context, req payment.PaymentRequest) (*payment.PaymentResponse, error) {
	if _, err := p.StubProvider.Confirm(ctx, req); err != nil {
		return nil, err
	}
	return nil, errors.New("read tcp: connection reset by peer")
}

func (p *lostReplyProvider) Verify(ctx context.Context, req payment.PaymentRequest) (*payment.PaymentResponse, error) {
	if p.verifyDown {
		return nil, errors.New("dial tcp: i/o timeout")
	}
	return p.StubProvider.Verify(ctx, req)
}

func TestLostConfirmReplyIsKeptAsGap(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 0)
	ctx := context.Background()
	lost := &lostReplyProvider{verifyDown: true}
	ryu.wallet.providers[payment.ProviderStub] = lost

	d, err := ryu.wallet.BeginDeposit(ctx, payment.ProviderStub, 700)
	require.NoError(t, err)
	p, err := ryu.wallet.CompleteDeposit(ctx, d.PaymentID, "")
	require.ErrorIs(t, err, domain.ErrReconciliationGap)
	require.NotNil(t, p)
	assert.Equal(t, models.PaymentUnconfirmed, p.Status)

	gaps, err := ryu.wallet.Gaps(ctx)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, d.PaymentID, gaps[0].ID)

	_, err = ryu.wallet.RetryReconciliation(ctx, d.PaymentID)
	assert.ErrorIs(t, err, domain.ErrReconciliationGap)
	assert.Equal(t, 0, ryu.wallet.RetryGaps(ctx))
	assert.Equal(t, int64(0), srv.Balance(ryu.uid))

	lost.verifyDown = false
	assert.Equal(t, 1, ryu.wallet.RetryGaps(ctx))
	assert.Equal(t, int64(700), srv.Balance(ryu.uid))
	assert.Equal(t, 1, srv.Calls("reconcile_deposit"))

	gaps, err = ryu.wallet.Gaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}
