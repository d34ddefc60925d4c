package payment

import (
	"context"
	"strings"
)

// StubProvider approves every charge. It backs the deposit flow in
// development when no provider keys are configured.
type StubProvider struct{}

func (s *StubProvider) Name() string { return ProviderStub }

func (s *StubProvider) Confirm(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	return &PaymentResponse{
		Reference:   "stub_" + req.IntentID,
		Status:      StatusSucceeded,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}, nil
}

func (s *StubProvider) Verify(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	status := StatusFailed
	if req.IntentID != "" {
		status = StatusSucceeded
	}
	return &PaymentResponse{Reference: "stub_" + strings.TrimPrefix(req.IntentID, "stub_"), Status: status, AmountCents: req.AmountCents, Currency: req.Currency}, nil
}
