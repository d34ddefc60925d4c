package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// HostedProvider captures orders of the hosted-button provider after the
// buyer approved them in the browser.
type HostedProvider struct {
	BaseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHostedProvider authenticates with the client-credentials grant; the
// token is cached and renewed by the oauth2 transport.
func NewHostedProvider(baseURL, clientID, clientSecret string, logger *slog.Logger) *HostedProvider {
	baseURL = strings.TrimRight(baseURL, "/")
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := &http.Client{Timeout: 30 * time.Second}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cc.Client(ctx)
	httpClient.Timeout = 30 * time.Second
	return &HostedProvider{
		BaseURL: baseURL,
		client:  httpClient,
		logger:  logger.With("component", "payment.hosted"),
	}
}

func (p *HostedProvider) Name() string { return ProviderHosted }

type hostedOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Amount *struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					Value        string `json:"value"`
					CurrencyCode string `json:"currency_code"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

func (o *hostedOrder) response() (*PaymentResponse, error) {
	r := &PaymentResponse{Reference: o.ID}
	switch o.Status {
	case "COMPLETED":
		r.Status = StatusSucceeded
	case "APPROVED", "PAYER_ACTION_REQUIRED", "CREATED", "SAVED":
		r.Status = StatusRequiresAction
	default:
		r.Status = StatusFailed
	}
	if len(o.PurchaseUnits) == 0 {
		return r, nil
	}
	pu := o.PurchaseUnits[0]
	value, currency := "", ""
	if caps := pu.Payments.Captures; len(caps) > 0 {
		r.Reference = caps[0].ID
		value, currency = caps[0].Amount.Value, caps[0].Amount.CurrencyCode
		if caps[0].Status != "COMPLETED" && r.Status == StatusSucceeded {
			r.Status = StatusPending
		}
	} else if pu.Amount != nil {
		value, currency = pu.Amount.Value, pu.Amount.CurrencyCode
	}
	if value != "" {
		cents, err := ParseAmount(value)
		if err != nil {
			return nil, err
		}
		r.AmountCents = cents
		r.Currency = strings.ToLower(currency)
	}
	return r, nil
}

func (p *HostedProvider) do(ctx context.Context, method, path, idem string) (*hostedOrder, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idem != "" {
		req.Header.Set("PayPal-Request-Id", idem)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out hostedOrder
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("hosted %s: decoding response: %w", path, err)
	}
	if resp.StatusCode == http.StatusUnprocessableEntity {
		// declined or not approved by the buyer
		out.Status = "DECLINED"
		return &out, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("hosted %s: %d %s", path, resp.StatusCode, out.Message)
	}
	return &out, nil
}

func (p *HostedProvider) Confirm(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	o, err := p.do(ctx, http.MethodPost, "/v2/checkout/orders/"+req.IntentID+"/capture", req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	r, err := o.response()
	if err != nil {
		return nil, err
	}
	if r.Status == StatusFailed && o.Message != "" {
		r.Message = o.Message
	}
	p.logger.Info("hosted order captured", "order", req.IntentID, "capture", r.Reference, "status", r.Status)
	return r, nil
}

func (p *HostedProvider) Verify(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	o, err := p.do(ctx, http.MethodGet, "/v2/checkout/orders/"+req.IntentID, "")
	if err != nil {
		return nil, err
	}
	return o.response()
}
