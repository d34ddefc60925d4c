package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CardProvider confirms payment intents of the embedded card element provider
// with the publishable key and the intent's client secret, the way the
// browser SDK does.
type CardProvider struct {
	BaseURL        string
	PublishableKey string
	client         *http.Client
	logger         *slog.Logger
}

func NewCardProvider(baseURL, publishableKey string, logger *slog.Logger) *CardProvider {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &CardProvider{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		PublishableKey: publishableKey,
		client:         &http.Client{Timeout: 30 * time.Second},
		logger:         logger.With("component", "payment.card"),
	}
}

func (p *CardProvider) Name() string { return ProviderCard }

type cardIntent struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (i *cardIntent) response() *PaymentResponse {
	r := &PaymentResponse{Reference: i.ID, AmountCents: i.Amount, Currency: i.Currency}
	switch i.Status {
	case "succeeded":
		r.Status = StatusSucceeded
	case "requires_action", "requires_confirmation":
		r.Status = StatusRequiresAction
	case "processing":
		r.Status = StatusPending
	default:
		r.Status = StatusFailed
	}
	if i.LastPaymentError != nil {
		r.Message = i.LastPaymentError.Message
	}
	return r
}

func (p *CardProvider) call(ctx context.Context, method, path string, form url.Values, idem string) (*cardIntent, error) {
	var body io.Reader
	u := p.BaseURL + path
	if method == http.MethodGet {
		u += "?" + form.Encode()
	} else {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.PublishableKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out cardIntent
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("card %s: decoding response: %w", path, err)
	}
	// card declines come back as 402 with the intent attached
	if resp.StatusCode == http.StatusPaymentRequired && out.ID != "" {
		return &out, nil
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, fmt.Errorf("card %s: %d %s", path, resp.StatusCode, msg)
	}
	return &out, nil
}

func intentID(clientSecret string) string {
	id, _, _ := strings.Cut(clientSecret, "_secret_")
	return id
}

func (p *CardProvider) Confirm(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	id := req.IntentID
	if id == "" {
		id = intentID(req.ClientSecret)
	}
	form := url.Values{"client_secret": {req.ClientSecret}}
	if req.PaymentMethod != "" {
		form.Set("payment_method", req.PaymentMethod)
	}
	in, err := p.call(ctx, http.MethodPost, "/v1/payment_intents/"+id+"/confirm", form, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	r := in.response()
	p.logger.Info("card payment confirmed", "intent", r.Reference, "status", r.Status, "amount_cents", r.AmountCents)
	return r, nil
}

func (p *CardProvider) Verify(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	id := req.IntentID
	if id == "" {
		id = intentID(req.ClientSecret)
	}
	in, err := p.call(ctx, http.MethodGet, "/v1/payment_intents/"+id, url.Values{"client_secret": {req.ClientSecret}}, "")
	if err != nil {
		return nil, err
	}
	return in.response(), nil
}
