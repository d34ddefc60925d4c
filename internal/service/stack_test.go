package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"fgcmatch/config"
	"fgcmatch/internal/auth"
	"fgcmatch/internal/backendtest"
	"fgcmatch/internal/cache"
	"fgcmatch/internal/repository"
	"fgcmatch/pkg/backend"
	"fgcmatch/pkg/payment"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Cache.StaleTime = time.Minute
	cfg.Cache.RetryDelay = time.Millisecond
	cfg.Session.JWTSecret = backendtest.Secret
	cfg.Session.MutationWait = 5 * time.Second
	return cfg
}

// fakeMedia records uploads instead of talking to the media store.
type fakeMedia struct {
	mu      sync.Mutex
	uploads []string
	deleted []string
}

func (f *fakeMedia) UploadImage(_ context.Context, file io.Reader, folder, publicID string) (string, string, error) {
	if _, err := io.ReadAll(file); err != nil {
		return "", "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	url := fmt.Sprintf("https://res.cloudinary.com/test/image/upload/v%d/%s/%s.png", len(f.uploads)+1, folder, publicID)
	f.uploads = append(f.uploads, url)
	return url, url, nil
}

func (f *fakeMedia) DeleteByURL(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return nil
}

// player is one signed-in daemon wired against the fake backend.
type player struct {
	uid     string
	auth    *auth.Provider
	cache   *cache.Cache
	journal *repository.MemoryPaymentJournal
	media   *fakeMedia

	matches       *MatchService
	wallet        *WalletService
	notifications *NotificationService
	leaderboard   *LeaderboardService
	support       *SupportService
	profile       *ProfileService
}

func newPlayer(t *testing.T, srv *backendtest.Server, email string, balanceCents int64) *player {
	t.Helper()
	return signIn(t, srv, email, srv.AddUser(email, "password1", balanceCents))
}

func signIn(t *testing.T, srv *backendtest.Server, email, uid string) *player {
	t.Helper()
	cfg := testConfig()
	logger := quietLogger()
	client := backend.NewClient(srv.URL, backendtest.AnonKey)
	provider := auth.NewProvider(client, auth.NewMemoryStore(), cfg.Session, logger)
	client.SetTokenSource(provider.TokenSource())
	require.NoError(t, provider.Initialize(context.Background()))
	_, err := provider.SignInWithPassword(context.Background(), email, "password1")
	require.NoError(t, err)

	c := cache.New(cfg.Cache, logger)
	t.Cleanup(c.Close)
	journal := repository.NewMemoryPaymentJournal()
	media := &fakeMedia{}
	providers := payment.Registry{
		payment.ProviderCard:   payment.NewCardProvider(srv.URL, "pk_test", logger),
		payment.ProviderHosted: payment.NewHostedProvider(srv.URL, "client", "secret", logger),
		payment.ProviderStub:   &payment.StubProvider{},
	}
	matchRepo := repository.NewMatchRepository(client)
	walletRepo := repository.NewWalletRepository(client)
	supportRepo := repository.NewSupportRepository(client)

	return &player{
		uid:           uid,
		auth:          provider,
		cache:         c,
		journal:       journal,
		media:         media,
		matches:       NewMatchService(cfg, matchRepo, walletRepo, c, provider, logger),
		wallet:        NewWalletService(cfg, walletRepo, journal, supportRepo, providers, c, provider, logger),
		notifications: NewNotificationService(repository.NewNotificationRepository(client), c, provider, logger),
		leaderboard:   NewLeaderboardService(repository.NewRankingRepository(backend.NewAPIClient(srv.URL, client)), matchRepo, c, provider, logger),
		support:       NewSupportService(supportRepo, repository.NewIntegrityRepository(client), media, provider, logger),
		profile:       NewProfileService(repository.NewProfileRepository(client), provider, media, provider, logger),
	}
}

func (p *player) balance(t *testing.T) int64 {
	t.Helper()
	w, err := p.wallet.GetWallet(context.Background())
	require.NoError(t, err)
	return w.BalanceCents
}

func duel(stake int64) CreateMatchParams {
	return CreateMatchParams{Game: "Street Fighter 6", StakeCents: stake, BestOf: 3}
}
