package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"fgcmatch/internal/domain"
	"fgcmatch/pkg/backend"

	"golang.org/x/oauth2"
)

// OAuthProviders are the identity providers enabled on the backend project.
var OAuthProviders = []string{"twitch", "discord", "google"}

// StateParam carries the flow id through the redirect back to the daemon.
const StateParam = "fgc_state"

const flowTTL = 10 * time.Minute

type oauthFlow struct {
	verifier string
	created  time.Time
}

var randRead = rand.Read

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := randRead(b); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SignInWithOAuth starts a PKCE sign-in and returns the URL to open in the
// browser together with the flow state to pass back to ExchangeOAuthCode.
func (p *Provider) SignInWithOAuth(provider, redirectTo string) (authURL, state string, err error) {
	const op = "oauth sign in"
	known := false
	for _, name := range OAuthProviders {
		if name == provider {
			known = true
		}
	}
	if !known {
		return "", "", domain.E(domain.ErrInvalidParameters, op, "unsupported provider "+provider)
	}
	if redirectTo == "" {
		redirectTo = p.redirect
	}
	state, err = newState()
	if err != nil {
		return "", "", err
	}
	verifier := oauth2.GenerateVerifier()

	redirect, err := url.Parse(redirectTo)
	if err != nil || redirectTo == "" {
		return "", "", domain.E(domain.ErrInvalidParameters, op, "invalid redirect url")
	}
	q := redirect.Query()
	q.Set(StateParam, state)
	redirect.RawQuery = q.Encode()

	cfg := oauth2.Config{
		Endpoint: oauth2.Endpoint{AuthURL: p.client.BaseURL() + backend.AuthorizePath},
	}
	authURL = cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("provider", provider),
		oauth2.SetAuthURLParam("redirect_to", redirect.String()),
	)

	p.flowsMu.Lock()
	now := p.now()
	for k, f := range p.flows {
		if now.Sub(f.created) > flowTTL {
			delete(p.flows, k)
		}
	}
	p.flows[state] = oauthFlow{verifier: verifier, created: now}
	p.flowsMu.Unlock()
	return authURL, state, nil
}

// ExchangeOAuthCode finishes a flow started by SignInWithOAuth.
func (p *Provider) ExchangeOAuthCode(ctx context.Context, code, state string) (*Session, error) {
	const op = "oauth callback"
	p.flowsMu.Lock()
	flow, ok := p.flows[state]
	delete(p.flows, state)
	p.flowsMu.Unlock()
	if !ok || p.now().Sub(flow.created) > flowTTL {
		return nil, domain.E(domain.ErrInvalidParameters, op, "unknown or expired sign-in attempt")
	}
	if code == "" {
		return nil, domain.E(domain.ErrInvalidParameters, op, "missing authorization code")
	}
	bs, err := p.client.ExchangeCodeForSession(ctx, code, flow.verifier)
	if err != nil {
		return nil, authError(op, err)
	}
	s, err := p.fromBackend(bs)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMalformedResponse, op, err)
	}
	p.activate(s, EventSignedIn)
	p.logger.Info("signed in with oauth", "user_id", s.UserID())
	return s, nil
}
