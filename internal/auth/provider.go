// Package auth owns the player's backend session: its lifecycle, refresh,
// persistence and the identity read from it.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"fgcmatch/config"
	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/pkg/backend"
)

type State int32

const (
	StateInitializing State = iota
	StateActive
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateInvalidated:
		return "invalidated"
	}
	return "unknown"
}

type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
	EventMFAVerified    EventType = "MFA_CHALLENGE_VERIFIED"
)

// Event is delivered to OnChange listeners. Session is nil after sign-out.
type Event struct {
	Type    EventType
	Session *Session
}

// Session is an immutable snapshot of the signed-in state.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         models.User
	Claims       *Claims

	raw backend.Session
}

func (s *Session) UserID() string { return s.User.ID }

func (s *Session) IsAdmin() bool {
	if s.Claims != nil && s.Claims.IsAdmin() {
		return true
	}
	return roleOf(s.User.AppMetadata) == domain.RoleAdmin || roleOf(s.User.UserMetadata) == domain.RoleAdmin
}

type Provider struct {
	client   *backend.Client
	store    Store
	logger   *slog.Logger
	margin   time.Duration
	secret   string
	redirect string
	now      func() time.Time

	mu        sync.RWMutex
	state     State
	session   *Session
	listeners map[int]func(Event)
	nextID    int

	refreshMu sync.Mutex
	flowsMu   sync.Mutex
	flows     map[string]oauthFlow
}

func NewProvider(client *backend.Client, store Store, cfg config.SessionConfig, logger *slog.Logger) *Provider {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Provider{
		client:    client,
		store:     store,
		logger:    logger.With("component", "session"),
		margin:    cfg.RefreshMargin,
		secret:    cfg.JWTSecret,
		redirect:  cfg.OAuthRedirect,
		now:       time.Now,
		listeners: make(map[int]func(Event)),
		flows:     make(map[string]oauthFlow),
	}
}

// Initialize restores the persisted session, refreshing it when it is about to
// expire, and settles the provider in Active or Invalidated.
func (p *Provider) Initialize(ctx context.Context) error {
	stored, err := p.store.Load()
	if err != nil {
		p.logger.Warn("discarding unreadable session", "error", err)
		_ = p.store.Clear()
	}
	if stored == nil || stored.AccessToken == "" {
		p.settleInvalidated()
		return nil
	}
	s, err := p.fromBackend(stored)
	if err != nil {
		p.logger.Warn("discarding invalid stored session", "error", err)
		_ = p.store.Clear()
		p.settleInvalidated()
		return nil
	}
	p.mu.Lock()
	p.session = s
	p.state = StateActive
	p.mu.Unlock()

	if !p.fresh(s) {
		if _, err := p.refresh(ctx, s); err != nil {
			if errors.Is(err, domain.ErrAuthenticationRequired) {
				return nil
			}
			p.logger.Warn("session refresh deferred", "error", err)
		}
	}
	if cur := p.Current(); cur != nil {
		p.logger.Info("session restored", "user_id", cur.UserID())
		p.emit(Event{Type: EventInitialSession, Session: cur})
	}
	return nil
}

func (p *Provider) settleInvalidated() {
	p.mu.Lock()
	p.state = StateInvalidated
	p.session = nil
	p.mu.Unlock()
}

func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Current returns the active session or nil.
func (p *Provider) Current() *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != StateActive {
		return nil
	}
	return p.session
}

// Require returns the active session or ErrAuthenticationRequired.
func (p *Provider) Require() (*Session, error) {
	s := p.Current()
	if s == nil {
		return nil, domain.E(domain.ErrAuthenticationRequired, "", "sign in required")
	}
	return s, nil
}

func (p *Provider) User() (models.User, bool) {
	s := p.Current()
	if s == nil {
		return models.User{}, false
	}
	return s.User, true
}

func (p *Provider) UserID() string {
	if s := p.Current(); s != nil {
		return s.UserID()
	}
	return ""
}

func (p *Provider) IsAdmin() bool {
	s := p.Current()
	return s != nil && s.IsAdmin()
}

// OnChange registers fn for session events and returns its unsubscribe func.
// Listeners run synchronously on the goroutine that changed the session and
// must not block.
func (p *Provider) OnChange(fn func(Event)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) emit(ev Event) {
	p.mu.RLock()
	fns := make([]func(Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Provider) fresh(s *Session) bool {
	return p.now().Add(p.margin).Before(s.ExpiresAt)
}

// AccessToken returns a token valid for at least the refresh margin, refreshing
// the session first when needed.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	s, err := p.Require()
	if err != nil {
		return "", err
	}
	if p.fresh(s) {
		return s.AccessToken, nil
	}
	s, err = p.refresh(ctx, s)
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// TokenSource adapts the provider for the backend client: without a session
// requests go out with the anon key.
func (p *Provider) TokenSource() backend.TokenSource {
	return func(ctx context.Context) (string, error) {
		if p.State() != StateActive {
			return "", nil
		}
		return p.AccessToken(ctx)
	}
}

func (p *Provider) refresh(ctx context.Context, seen *Session) (*Session, error) {
	const op = "refresh session"
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	cur := p.Current()
	if cur == nil {
		return nil, domain.E(domain.ErrAuthenticationRequired, op, "sign in required")
	}
	if cur.AccessToken != seen.AccessToken && p.fresh(cur) {
		return cur, nil
	}
	bs, err := p.client.RefreshSession(ctx, cur.RefreshToken)
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) && be.Status >= 400 && be.Status < 500 {
			p.logger.Info("refresh token rejected, signing out", "status", be.Status)
			p.invalidate()
			return nil, domain.Wrap(domain.ErrAuthenticationRequired, op, err)
		}
		if p.now().Before(cur.ExpiresAt) {
			p.logger.Warn("refresh failed, using current token", "error", err)
			return cur, nil
		}
		return nil, domain.Wrap(domain.ErrNetwork, op, err)
	}
	s, err := p.fromBackend(bs)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMalformedResponse, op, err)
	}
	p.activate(s, EventTokenRefreshed)
	return s, nil
}

func (p *Provider) fromBackend(bs *backend.Session) (*Session, error) {
	claims, err := ParseAccessToken(p.secret, bs.AccessToken)
	if err != nil {
		return nil, err
	}
	s := &Session{
		AccessToken:  bs.AccessToken,
		RefreshToken: bs.RefreshToken,
		Claims:       claims,
		raw:          *bs,
	}
	switch {
	case bs.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(bs.ExpiresAt, 0)
	case claims.ExpiresAt != nil:
		s.ExpiresAt = claims.ExpiresAt.Time
	default:
		s.ExpiresAt = bs.Expiry(p.now())
	}
	if bs.User.ID != "" {
		s.User = userFrom(&bs.User)
	} else {
		s.User = models.User{
			ID:           claims.Subject,
			Email:        claims.Email,
			Role:         claims.Role,
			UserMetadata: claims.UserMetadata,
			AppMetadata:  claims.AppMetadata,
		}
	}
	if s.User.ID != claims.Subject {
		return nil, errors.New("session user does not match token subject")
	}
	return s, nil
}

func userFrom(u *backend.User) models.User {
	return models.User{
		ID:           u.ID,
		Email:        u.Email,
		Role:         u.Role,
		UserMetadata: u.UserMetadata,
		AppMetadata:  u.AppMetadata,
		CreatedAt:    u.CreatedAt,
	}
}

func (p *Provider) activate(s *Session, ev EventType) {
	p.mu.Lock()
	p.session = s
	p.state = StateActive
	p.mu.Unlock()
	if err := p.store.Save(&s.raw); err != nil {
		p.logger.Warn("persisting session failed", "error", err)
	}
	p.emit(Event{Type: ev, Session: s})
}

func (p *Provider) invalidate() {
	p.mu.Lock()
	was := p.state
	p.state = StateInvalidated
	p.session = nil
	p.mu.Unlock()
	if err := p.store.Clear(); err != nil {
		p.logger.Warn("clearing stored session failed", "error", err)
	}
	if was == StateActive {
		p.emit(Event{Type: EventSignedOut})
	}
}

// authError maps an auth API failure to a domain error.
func authError(op string, err error) error {
	var be *backend.Error
	if errors.As(err, &be) {
		switch {
		case be.Status == http.StatusTooManyRequests:
			return &domain.Error{Kind: domain.ErrConflict, Op: op, Msg: "too many attempts, try again later", Err: err}
		case be.Status == http.StatusUnauthorized, be.Status == http.StatusForbidden,
			strings.Contains(strings.ToLower(be.Message), "invalid login"):
			return &domain.Error{Kind: domain.ErrAuthenticationRequired, Op: op, Msg: be.Message, Err: err}
		case be.Status >= 400 && be.Status < 500:
			return &domain.Error{Kind: domain.ErrInvalidParameters, Op: op, Msg: be.Message, Err: err}
		}
	}
	var de *backend.DecodeError
	if errors.As(err, &de) {
		return domain.Wrap(domain.ErrMalformedResponse, op, err)
	}
	return domain.Wrap(domain.ErrNetwork, op, err)
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	const op = "sign in"
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, domain.E(domain.ErrInvalidParameters, op, "email and password are required")
	}
	bs, err := p.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, authError(op, err)
	}
	s, err := p.fromBackend(bs)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMalformedResponse, op, err)
	}
	p.activate(s, EventSignedIn)
	p.logger.Info("signed in", "user_id", s.UserID())
	return s, nil
}

// SignOut revokes the session remotely when possible and always forgets it locally.
func (p *Provider) SignOut(ctx context.Context) error {
	if s := p.Current(); s != nil {
		if err := p.client.SignOut(ctx, s.AccessToken); err != nil {
			p.logger.Warn("remote sign-out failed", "error", err)
		}
	}
	p.invalidate()
	return nil
}

func (p *Provider) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	const op = "reset password"
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.E(domain.ErrInvalidParameters, op, "email is required")
	}
	if redirectTo == "" {
		redirectTo = p.redirect
	}
	if err := p.client.ResetPasswordForEmail(ctx, email, redirectTo); err != nil {
		return authError(op, err)
	}
	return nil
}

// UpdateUser changes email, password or metadata of the signed-in user.
func (p *Provider) UpdateUser(ctx context.Context, attrs backend.UserAttributes) (*models.User, error) {
	const op = "update user"
	token, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	u, err := p.client.UpdateUser(ctx, token, attrs)
	if err != nil {
		return nil, authError(op, err)
	}
	cur := p.Current()
	if cur == nil {
		return nil, domain.E(domain.ErrAuthenticationRequired, op, "signed out during update")
	}
	next := *cur
	next.User = userFrom(u)
	next.raw.User = *u
	p.activate(&next, EventUserUpdated)
	return &next.User, nil
}
