package backend

import (
	"context"
	"net/http"
)

type Factor struct {
	ID           string `json:"id"`
	FriendlyName string `json:"friendly_name,omitempty"`
	FactorType   string `json:"factor_type"`
	Status       string `json:"status"` // verified, unverified
}

type TOTPEnrollment struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	TOTP struct {
		QRCode string `json:"qr_code"`
		Secret string `json:"secret"`
		URI    string `json:"uri"`
	} `json:"totp"`
}

type Challenge struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

func (c *Client) EnrollTOTP(ctx context.Context, accessToken, friendlyName string) (*TOTPEnrollment, error) {
	var out TOTPEnrollment
	body := map[string]string{"factor_type": "totp", "friendly_name": friendlyName}
	if err := c.do(ctx, &request{method: http.MethodPost, path: "/auth/v1/factors", header: c.withBearer(accessToken), body: body, noToken: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ChallengeFactor(ctx context.Context, accessToken, factorID string) (*Challenge, error) {
	var out Challenge
	if err := c.do(ctx, &request{method: http.MethodPost, path: "/auth/v1/factors/" + factorID + "/challenge", header: c.withBearer(accessToken), noToken: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyFactor answers a challenge; on success the server issues an upgraded (aal2) session.
func (c *Client) VerifyFactor(ctx context.Context, accessToken, factorID, challengeID, code string) (*Session, error) {
	var out Session
	body := map[string]string{"challenge_id": challengeID, "code": code}
	if err := c.do(ctx, &request{method: http.MethodPost, path: "/auth/v1/factors/" + factorID + "/verify", header: c.withBearer(accessToken), body: body, noToken: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UnenrollFactor(ctx context.Context, accessToken, factorID string) error {
	return c.do(ctx, &request{method: http.MethodDelete, path: "/auth/v1/factors/" + factorID, header: c.withBearer(accessToken), noToken: true}, nil)
}
