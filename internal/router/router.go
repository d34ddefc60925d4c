package router

import (
	"log/slog"
	"time"

	"fgcmatch/config"
	"fgcmatch/internal/auth"
	"fgcmatch/internal/handler"
	"fgcmatch/internal/middleware"
	"fgcmatch/internal/service"
	"fgcmatch/internal/ws"

	"github.com/gin-gonic/gin"
)

// Deps are the wired components the local API exposes.
type Deps struct {
	Provider      *auth.Provider
	Matches       *service.MatchService
	Wallet        *service.WalletService
	Notifications *service.NotificationService
	Leaderboard   *service.LeaderboardService
	Support       *service.SupportService
	Profile       *service.ProfileService
	Reconciler    *service.Reconciler
	Hub           *ws.Hub
	Logger        *slog.Logger
}

func Setup(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(cfg.Server.RateLimit, time.Minute)))

	authHandler := handler.NewAuthHandler(d.Provider, d.Logger)
	matchHandler := handler.NewMatchHandler(d.Matches, d.Logger)
	walletHandler := handler.NewWalletHandler(d.Wallet, d.Logger)
	notificationHandler := handler.NewNotificationHandler(d.Notifications, d.Logger)
	leaderboardHandler := handler.NewLeaderboardHandler(d.Leaderboard, d.Logger)
	profileHandler := handler.NewProfileHandler(d.Profile, d.Logger)
	supportHandler := handler.NewSupportHandler(d.Support, d.Logger)
	adminHandler := handler.NewAdminHandler(d.Support, d.Logger)
	healthHandler := handler.NewHealthHandler(d.Provider, d.Reconciler, d.Hub)

	sessionMw := middleware.SessionRequired(d.Provider)

	r.GET("/healthz", healthHandler.Health)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.GET("/session", authHandler.Session)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/logout", authHandler.Logout)
			authGroup.GET("/oauth/:provider", authHandler.OAuthStart)
			authGroup.GET("/callback", authHandler.OAuthCallback)
			authGroup.POST("/recover", authHandler.Recover)
			authGroup.PATCH("/user", sessionMw, authHandler.UpdateUser)
			authGroup.GET("/mfa/factors", sessionMw, authHandler.ListFactors)
			authGroup.POST("/mfa/factors", sessionMw, authHandler.EnrollFactor)
			authGroup.POST("/mfa/factors/:id/challenge", sessionMw, authHandler.ChallengeFactor)
			authGroup.POST("/mfa/factors/:id/verify", sessionMw, authHandler.VerifyFactor)
			authGroup.DELETE("/mfa/factors/:id", sessionMw, authHandler.UnenrollFactor)
		}

		// public reads; the backend decides what an anonymous caller may see
		api.GET("/matches/open", matchHandler.ListOpen)
		api.GET("/leaderboard", leaderboardHandler.List)

		matches := api.Group("/matches")
		matches.Use(sessionMw)
		{
			matches.GET("/mine", matchHandler.ListMine)
			matches.GET("/suggested", matchHandler.Suggested)
			matches.GET("/:id", matchHandler.Get)
			matches.POST("", matchHandler.Create)
			matches.POST("/join", matchHandler.Join)
			matches.POST("/:id/accept", matchHandler.Accept)
			matches.POST("/:id/start", matchHandler.Start)
			matches.POST("/:id/complete", matchHandler.Complete)
			matches.POST("/:id/cancel", matchHandler.Cancel)
			matches.POST("/:id/leave", matchHandler.Leave)
		}

		wallet := api.Group("/wallet")
		wallet.Use(sessionMw)
		{
			wallet.GET("", walletHandler.GetBalance)
			wallet.GET("/transactions", walletHandler.GetTransactions)
			wallet.GET("/withdrawals", walletHandler.GetWithdrawals)
			wallet.POST("/withdrawals", walletHandler.Withdraw)
			wallet.POST("/mock-deposit", walletHandler.MockDeposit)
			wallet.POST("/deposits", walletHandler.BeginDeposit)
			wallet.POST("/deposits/:id/complete", walletHandler.CompleteDeposit)
			wallet.GET("/gaps", walletHandler.ListGaps)
			wallet.POST("/gaps/:id/retry", walletHandler.RetryGap)
		}

		me := api.Group("")
		me.Use(sessionMw)
		{
			me.GET("/notifications", notificationHandler.List)
			me.POST("/notifications/read-all", notificationHandler.MarkAllRead)
			me.POST("/notifications/:id/read", notificationHandler.MarkRead)
			me.DELETE("/notifications/:id", notificationHandler.Delete)
			me.GET("/leaderboard/me", leaderboardHandler.Mine)
			me.GET("/performance", leaderboardHandler.Performance)
			me.GET("/profile", profileHandler.Get)
			me.PATCH("/profile", profileHandler.Update)
			me.POST("/profile/avatar", profileHandler.UploadAvatar)
			me.GET("/support/tickets", supportHandler.MyTickets)
			me.POST("/support/tickets", supportHandler.OpenTicket)
		}

		admin := api.Group("/admin")
		admin.Use(sessionMw, middleware.AdminRequired())
		{
			admin.GET("/tickets", adminHandler.Tickets)
			admin.POST("/tickets/:id/resolve", adminHandler.ResolveTicket)
			admin.GET("/integrity", adminHandler.IntegrityLogs)
			admin.POST("/integrity/:id/resolve", adminHandler.ResolveFlag)
		}
	}

	r.GET("/ws/events", sessionMw, ws.UpgradeEventsWS(d.Hub, ws.NewUpgrader(cfg.Server.AllowedOrigins), healthHandler.Hello))

	return r
}
