package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fgcmatch/config"
	"fgcmatch/internal/auth"
	"fgcmatch/internal/cache"
	"fgcmatch/internal/database"
	"fgcmatch/internal/models"
	"fgcmatch/internal/realtime"
	"fgcmatch/internal/repository"
	"fgcmatch/internal/router"
	"fgcmatch/internal/service"
	"fgcmatch/internal/ws"
	"fgcmatch/pkg/backend"
	"fgcmatch/pkg/cloudinary"
	"fgcmatch/pkg/payment"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := backend.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey, backend.WithTimeout(cfg.Backend.Timeout))
	var store auth.Store = auth.NewMemoryStore()
	if fs, err := auth.NewFileStore(cfg.Session.File, cfg.Session.Passphrase); err == nil {
		store = fs
	} else {
		logger.Warn("session will not survive restarts; set FGC_SESSION_PASSPHRASE to persist it")
	}
	provider := auth.NewProvider(client, store, cfg.Session, logger)
	client.SetTokenSource(provider.TokenSource())

	c := cache.New(cfg.Cache, logger)
	defer c.Close()
	if cfg.Cache.RedisAddr != "" {
		mirror, err := cache.NewRedisMirror(ctx, cfg.Cache, "default")
		if err != nil {
			logger.Warn("cache mirror disabled", "error", err)
		} else {
			c.SetMirror(mirror)
			defer mirror.Close()
		}
	}

	journal, err := openJournal(cfg, logger)
	if err != nil {
		return err
	}
	media := openMedia(cfg, logger)
	providers := paymentProviders(cfg, logger)

	matchRepo := repository.NewMatchRepository(client)
	walletRepo := repository.NewWalletRepository(client)
	supportRepo := repository.NewSupportRepository(client)
	rankingRepo := repository.NewRankingRepository(backend.NewAPIClient(cfg.API.URL, client))

	matches := service.NewMatchService(cfg, matchRepo, walletRepo, c, provider, logger)
	wallet := service.NewWalletService(cfg, walletRepo, journal, supportRepo, providers, c, provider, logger)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(client), c, provider, logger)
	leaderboard := service.NewLeaderboardService(rankingRepo, matchRepo, c, provider, logger)
	support := service.NewSupportService(supportRepo, repository.NewIntegrityRepository(client), media, provider, logger)
	profile := service.NewProfileService(repository.NewProfileRepository(client), provider, media, provider, logger)

	hub := ws.NewHub()
	defer hub.CloseAll()
	bridge := realtime.NewBridge(cfg.Backend.URL, cfg.Backend.AnonKey, provider.AccessToken, cfg.Realtime, logger)
	reconciler := service.NewReconciler(bridge, matches, wallet, notifications, c, hub, logger)
	unsubscribe := provider.OnChange(reconciler.SessionListener(ctx))
	defer unsubscribe()

	go func() {
		if err := reconciler.Run(ctx); err != nil {
			logger.Error("reconciler stopped", "error", err)
		}
	}()
	if cfg.Realtime.Enabled {
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("realtime stopped", "error", err)
			}
		}()
	} else {
		logger.Info("realtime disabled, polling only")
	}

	if err := provider.Initialize(ctx); err != nil {
		return err
	}
	if uid := provider.UserID(); uid != "" {
		warm(ctx, c, uid, logger)
	}

	poller, err := cache.NewPoller(c, logger)
	if err != nil {
		return err
	}
	for _, job := range []struct {
		name     string
		interval time.Duration
		prefixes []string
	}{
		{"matches", cfg.Cache.MatchInterval, []string{cache.PrefixMatchLists, cache.PrefixMatch}},
		{"leaderboard", cfg.Cache.LeaderboardInterval, []string{cache.KeyLeaderboard}},
		{"wallet", cfg.Cache.WalletInterval, []string{cache.PrefixWallet, cache.PrefixTransactions, cache.PrefixNotifications}},
	} {
		if err := poller.Every(job.name, job.interval, job.prefixes...); err != nil {
			return err
		}
	}
	poller.Start()
	defer func() {
		if err := poller.Shutdown(); err != nil {
			logger.Warn("poller shutdown", "error", err)
		}
	}()

	engine := router.Setup(cfg, router.Deps{
		Provider:      provider,
		Matches:       matches,
		Wallet:        wallet,
		Notifications: notifications,
		Leaderboard:   leaderboard,
		Support:       support,
		Profile:       profile,
		Reconciler:    reconciler,
		Hub:           hub,
		Logger:        logger,
	})
	srv := &http.Server{
		Addr:         "127.0.0.1:" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("local api listening", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openJournal uses the mysql journal when a DSN is set. Without one, gaps are
// tracked in memory and lost on restart.
func openJournal(cfg *config.Config, logger *slog.Logger) (repository.PaymentJournal, error) {
	db, err := database.NewDB(&cfg.Database)
	if errors.Is(err, database.ErrNoDSN) {
		logger.Warn("payment journal in memory; set FGC_DATABASE_DSN to keep reconciliation gaps across restarts")
		return repository.NewMemoryPaymentJournal(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}
	return repository.NewPaymentRepository(db), nil
}

func openMedia(cfg *config.Config, logger *slog.Logger) cloudinary.Client {
	if cfg.Cloudinary.CloudName == "" {
		logger.Info("media uploads disabled: cloudinary not configured")
		return nil
	}
	media, err := cloudinary.NewClientFromParams(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret)
	if err != nil {
		logger.Warn("media uploads disabled", "error", err)
		return nil
	}
	return media
}

func paymentProviders(cfg *config.Config, logger *slog.Logger) payment.Registry {
	providers := payment.Registry{}
	if cfg.Payment.StripePublishableKey != "" {
		providers[payment.ProviderCard] = payment.NewCardProvider(cfg.Payment.StripeBaseURL, cfg.Payment.StripePublishableKey, logger)
	}
	if cfg.Payment.PayPal.ClientID != "" {
		pp := cfg.Payment.PayPal
		providers[payment.ProviderHosted] = payment.NewHostedProvider(pp.BaseURL, pp.ClientID, pp.ClientSecret, logger)
	}
	if !cfg.IsProduction() {
		providers[payment.ProviderStub] = &payment.StubProvider{}
	}
	return providers
}

// warm paints the last mirrored state while the first fetches run.
func warm(ctx context.Context, c *cache.Cache, uid string, logger *slog.Logger) {
	loads := map[string]func() (bool, error){
		cache.WalletKey(uid):        func() (bool, error) { return cache.Warm[models.Wallet](ctx, c, cache.WalletKey(uid)) },
		cache.NotificationsKey(uid): func() (bool, error) { return cache.Warm[[]models.Notification](ctx, c, cache.NotificationsKey(uid)) },
		cache.KeyOpenMatches:        func() (bool, error) { return cache.Warm[[]models.Match](ctx, c, cache.KeyOpenMatches) },
		cache.KeyLeaderboard:        func() (bool, error) { return cache.Warm[*models.Leaderboard](ctx, c, cache.KeyLeaderboard) },
	}
	for key, load := range loads {
		if ok, err := load(); err != nil {
			logger.Debug("mirror warm failed", "key", key, "error", err)
		} else if ok {
			logger.Debug("cache warmed from mirror", "key", key)
		}
	}
}
