package auth

import (
	"context"
	"strings"

	"fgcmatch/internal/domain"
	"fgcmatch/pkg/backend"
)

func (p *Provider) EnrollTOTP(ctx context.Context, friendlyName string) (*backend.TOTPEnrollment, error) {
	token, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	e, err := p.client.EnrollTOTP(ctx, token, friendlyName)
	if err != nil {
		return nil, authError("enroll factor", err)
	}
	return e, nil
}

func (p *Provider) ChallengeFactor(ctx context.Context, factorID string) (*backend.Challenge, error) {
	token, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	c, err := p.client.ChallengeFactor(ctx, token, factorID)
	if err != nil {
		return nil, authError("challenge factor", err)
	}
	return c, nil
}

// VerifyFactor answers a challenge and swaps in the upgraded session.
func (p *Provider) VerifyFactor(ctx context.Context, factorID, challengeID, code string) (*Session, error) {
	const op = "verify factor"
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return nil, domain.E(domain.ErrInvalidParameters, op, "code must be 6 digits")
	}
	token, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	bs, err := p.client.VerifyFactor(ctx, token, factorID, challengeID, code)
	if err != nil {
		return nil, authError(op, err)
	}
	s, err := p.fromBackend(bs)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMalformedResponse, op, err)
	}
	p.activate(s, EventMFAVerified)
	return s, nil
}

func (p *Provider) UnenrollFactor(ctx context.Context, factorID string) error {
	token, err := p.AccessToken(ctx)
	if err != nil {
		return err
	}
	if err := p.client.UnenrollFactor(ctx, token, factorID); err != nil {
		return authError("unenroll factor", err)
	}
	return nil
}

func (p *Provider) ListFactors(ctx context.Context) ([]backend.Factor, error) {
	token, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	u, err := p.client.GetUser(ctx, token)
	if err != nil {
		return nil, authError("list factors", err)
	}
	return u.Factors, nil
}
