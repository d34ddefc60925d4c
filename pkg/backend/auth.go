package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Role         string                 `json:"role"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	AppMetadata  map[string]interface{} `json:"app_metadata"`
	Factors      []Factor               `json:"factors,omitempty"`
	CreatedAt    *time.Time             `json:"created_at,omitempty"`
}

// Session is the token set returned by the auth API.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Expiry returns the absolute expiry, deriving it from ExpiresIn when the server
// omitted expires_at.
func (s *Session) Expiry(now time.Time) time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	return now.Add(time.Duration(s.ExpiresIn) * time.Second)
}

func (c *Client) grant(ctx context.Context, grantType string, body interface{}) (*Session, error) {
	var s Session
	q := url.Values{"grant_type": {grantType}}
	err := c.do(ctx, &request{method: http.MethodPost, path: "/auth/v1/token", query: q, body: body, noToken: true}, &s)
	if err != nil {
		return nil, err
	}
	if s.ExpiresAt == 0 {
		s.ExpiresAt = s.Expiry(time.Now()).Unix()
	}
	return &s, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return c.grant(ctx, "password", map[string]string{"email": email, "password": password})
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	return c.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// ExchangeCodeForSession completes a PKCE OAuth sign-in.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code, verifier string) (*Session, error) {
	return c.grant(ctx, "pkce", map[string]string{"auth_code": code, "code_verifier": verifier})
}

// AuthorizePath is the endpoint a browser is sent to for an OAuth sign-in.
const AuthorizePath = "/auth/v1/authorize"

func (c *Client) withBearer(accessToken string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	return h
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	err := c.do(ctx, &request{method: http.MethodGet, path: "/auth/v1/user", header: c.withBearer(accessToken), noToken: true}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type UserAttributes struct {
	Email    string                 `json:"email,omitempty"`
	Password string                 `json:"password,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

func (c *Client) UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (*User, error) {
	var u User
	err := c.do(ctx, &request{method: http.MethodPut, path: "/auth/v1/user", header: c.withBearer(accessToken), body: attrs, noToken: true}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, &request{method: http.MethodPost, path: "/auth/v1/logout", header: c.withBearer(accessToken), noToken: true}, nil)
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	return c.do(ctx, &request{method: http.MethodPost, path: "/auth/v1/recover", query: q, body: map[string]string{"email": email}, noToken: true}, nil)
}
