package payment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{"5.00": 500, "12.5": 1250, "0.07": 7, "100": 10000, "-1.50": -150}
	for in, want := range cases {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAmount("1.234")
	assert.Error(t, err)
	_, err = ParseAmount("abc")
	assert.Error(t, err)
	assert.Equal(t, "9.50", FormatAmount(950))
}

func TestCardProviderConfirm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_1/confirm", r.URL.Path)
		assert.Equal(t, "Bearer pk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_1_secret_abc", r.PostForm.Get("client_secret"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "pi_1", "status": "succeeded", "amount": 2500, "currency": "usd"})
	}))
	defer srv.Close()

	p := NewCardProvider(srv.URL, "pk_test", quietLogger())
	res, err := p.Confirm(context.Background(), PaymentRequest{ClientSecret: "pi_1_secret_abc", PaymentMethod: "pm_card_visa", IdempotencyKey: "idem-1"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "pi_1", res.Reference)
	assert.Equal(t, int64(2500), res.AmountCents)
}

func TestCardProviderDecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "pi_2", "status": "requires_payment_method", "amount": 500,
			"last_payment_error": map[string]string{"message": "Your card was declined."},
		})
	}))
	defer srv.Close()

	res, err := NewCardProvider(srv.URL, "pk", quietLogger()).Confirm(context.Background(), PaymentRequest{IntentID: "pi_2", ClientSecret: "pi_2_secret_x"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Your card was declined.", res.Message)
}

func TestHostedProviderCapture(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "cid", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v2/checkout/orders/ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("PayPal-Request-Id"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP-9","status":"COMPLETED","amount":{"value":"10.00","currency_code":"USD"}}]}}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHostedProvider(srv.URL, "cid", "secret", quietLogger())
	res, err := p.Confirm(context.Background(), PaymentRequest{IntentID: "ORDER-1", IdempotencyKey: "req-1"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "CAP-9", res.Reference)
	assert.Equal(t, int64(1000), res.AmountCents)
	assert.Equal(t, "usd", res.Currency)
}

func TestRegistry(t *testing.T) {
	reg := Registry{ProviderStub: &StubProvider{}}
	p, err := reg.Get(ProviderStub)
	require.NoError(t, err)
	res, err := p.Confirm(context.Background(), PaymentRequest{IntentID: "x", AmountCents: 100})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
