package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fgcmatch/config"
	"fgcmatch/internal/auth"
	"fgcmatch/internal/backendtest"
	"fgcmatch/internal/cache"
	"fgcmatch/internal/realtime"
	"fgcmatch/internal/repository"
	"fgcmatch/internal/service"
	"fgcmatch/internal/ws"
	"fgcmatch/pkg/backend"
	"fgcmatch/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type api struct {
	engine   *gin.Engine
	srv      *backendtest.Server
	provider *auth.Provider
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := backendtest.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Cache.RetryDelay = time.Millisecond
	cfg.Session.JWTSecret = backendtest.Secret

	client := backend.NewClient(srv.URL, backendtest.AnonKey)
	provider := auth.NewProvider(client, auth.NewMemoryStore(), cfg.Session, logger)
	client.SetTokenSource(provider.TokenSource())
	require.NoError(t, provider.Initialize(context.Background()))

	c := cache.New(cfg.Cache, logger)
	t.Cleanup(c.Close)
	matchRepo := repository.NewMatchRepository(client)
	walletRepo := repository.NewWalletRepository(client)
	supportRepo := repository.NewSupportRepository(client)
	providers := payment.Registry{payment.ProviderStub: &payment.StubProvider{}}

	matches := service.NewMatchService(cfg, matchRepo, walletRepo, c, provider, logger)
	wallet := service.NewWalletService(cfg, walletRepo, repository.NewMemoryPaymentJournal(), supportRepo, providers, c, provider, logger)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(client), c, provider, logger)
	hub := ws.NewHub()
	bridge := realtime.NewBridge(srv.URL, backendtest.AnonKey, provider.AccessToken, config.RealtimeConfig{}, logger)

	engine := Setup(cfg, Deps{
		Provider:      provider,
		Matches:       matches,
		Wallet:        wallet,
		Notifications: notifications,
		Leaderboard:   service.NewLeaderboardService(repository.NewRankingRepository(backend.NewAPIClient(srv.URL, client)), matchRepo, c, provider, logger),
		Support:       service.NewSupportService(supportRepo, repository.NewIntegrityRepository(client), nil, provider, logger),
		Profile:       service.NewProfileService(repository.NewProfileRepository(client), provider, nil, provider, logger),
		Reconciler:    service.NewReconciler(bridge, matches, wallet, notifications, c, hub, logger),
		Hub:           hub,
		Logger:        logger,
	})
	return &api{engine: engine, srv: srv, provider: provider}
}

func (a *api) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	out := map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (a *api) login(t *testing.T, email string) {
	t.Helper()
	w, body := a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": "password1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "active", body["state"])
	assert.NotContains(t, w.Body.String(), "access_token")
}

func TestSignedOutRequestsAreRejected(t *testing.T) {
	a := newAPI(t)
	w, body := a.do(t, http.MethodGet, "/api/v1/wallet", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication_required", body["code"])

	w, body = a.do(t, http.MethodGet, "/api/v1/auth/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invalidated", body["state"])

	w, _ = a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWalletAndMatchFlow(t *testing.T) {
	a := newAPI(t)
	a.srv.AddUser("ryu@fgc.gg", "password1", 1000)
	a.login(t, "ryu@fgc.gg")

	w, body := a.do(t, http.MethodGet, "/api/v1/wallet", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1000), body["balance_cents"])
	assert.Equal(t, "$10.00", body["balance"])

	w, body = a.do(t, http.MethodPost, "/api/v1/wallet/mock-deposit", map[string]string{"amount": "5.00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1500), body["new_balance"])

	w, body = a.do(t, http.MethodPost, "/api/v1/matches", map[string]interface{}{"game": "Tekken 8", "stake_cents": 5000, "best_of": 3})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "insufficient_funds", body["code"])

	w, body = a.do(t, http.MethodPost, "/api/v1/matches", map[string]interface{}{"game": "Tekken 8", "stake_cents": 50, "best_of": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_amount", body["code"])

	w, body = a.do(t, http.MethodPost, "/api/v1/matches", map[string]interface{}{"game": "Tekken 8", "stake_cents": 500, "best_of": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := body["match_id"].(string)
	require.NotEmpty(t, id)

	w, body = a.do(t, http.MethodGet, "/api/v1/matches/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CREATED", body["status"])

	w, _ = a.do(t, http.MethodPost, "/api/v1/matches/"+id+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = a.do(t, http.MethodPost, "/api/v1/matches/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(1500), a.srv.Balance(a.provider.UserID()))
}

func TestAdminRoutesNeedAdmin(t *testing.T) {
	a := newAPI(t)
	a.srv.AddUser("ryu@fgc.gg", "password1", 0)
	a.login(t, "ryu@fgc.gg")

	w, body := a.do(t, http.MethodGet, "/api/v1/admin/tickets", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", body["code"])

	w, _ = a.do(t, http.MethodPost, "/api/v1/support/tickets", map[string]string{"subject": "Payout", "message": "missing"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, body = a.do(t, http.MethodGet, "/api/v1/support/tickets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["tickets"], 1)
}

func TestLogoutClearsSession(t *testing.T) {
	a := newAPI(t)
	a.srv.AddUser("ryu@fgc.gg", "password1", 0)
	a.login(t, "ryu@fgc.gg")

	w, _ := a.do(t, http.MethodPost, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = a.do(t, http.MethodGet, "/api/v1/notifications", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := a.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invalidated", body["session"])
}
