package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/helgykoin/hkn_ledger/internal/api/dispatch"
	"github.com/helgykoin/hkn_ledger/internal/api/handlers"
	"github.com/helgykoin/hkn_ledger/internal/api/middleware"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/config"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/di"
	"github.com/helgykoin/hkn_ledger/pkg/idempotency"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
)

// Version is reported by the health endpoints
var Version = "dev"

// Deps is what the router needs from the application
type Deps struct {
	Registry    *dispatch.Registry
	Store       handlers.Pinger
	Server      config.ServerConfig
	Environment string
	Logger      *logger.Logger
}

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	return NewRouter(Deps{
		Registry:    dispatch.New(container.Ledger, container.Staking, container.Boosters),
		Store:       container.Store,
		Server:      container.Config.Server,
		Environment: container.Config.Environment,
		Logger:      container.Logger,
	})
}

// NewRouter builds the gin engine over deps
func NewRouter(deps Deps) *gin.Engine {
	if deps.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.InputValidation())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.CORS(deps.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())

	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Logger.Zap(), Version)
	ledgerHandlers := handlers.NewLedgerHandlers(deps.Registry, deps.Logger)

	router.GET("/health", healthHandler.Health)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Environment != "production" {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/token", ledgerHandlers.Handle(dispatch.KindTokenInfo))
	v1.GET("/token/market-cap", ledgerHandlers.Handle(dispatch.KindMarketCap))
	v1.GET("/boosters/catalog", ledgerHandlers.Handle(dispatch.KindBoosterCatalog))
	v1.GET("/commands", ledgerHandlers.Kinds)

	account := v1.Group("")
	account.Use(middleware.FrontendAuth(deps.Server.FrontendSecret, deps.Logger))
	account.Use(middleware.AccountID())
	account.Use(middleware.RateLimit(deps.Server.RateLimitPerMin))
	account.Use(idempotency.Middleware(deps.Logger.Zap()))
	{
		account.POST("/commands", ledgerHandlers.Command)

		account.GET("/wallet", ledgerHandlers.Handle(dispatch.KindBalance))
		account.GET("/wallet/history", ledgerHandlers.Handle(dispatch.KindHistory, "limit"))
		account.POST("/transfers", ledgerHandlers.Handle(dispatch.KindTransfer))
		account.POST("/sell", ledgerHandlers.Handle(dispatch.KindSell))

		admin := account.Group("/admin")
		{
			admin.POST("/mint", ledgerHandlers.Handle(dispatch.KindMint))
			admin.POST("/price", ledgerHandlers.Handle(dispatch.KindSetPrice))
		}

		stakes := account.Group("/stakes")
		{
			stakes.GET("", ledgerHandlers.Handle(dispatch.KindStakes))
			stakes.POST("", ledgerHandlers.Handle(dispatch.KindStake))
			stakes.POST("/claim-all", ledgerHandlers.Handle(dispatch.KindClaimAll))
			stakes.GET("/:stake_id", ledgerHandlers.Handle(dispatch.KindPendingReward, "stake_id"))
			stakes.POST("/:stake_id/claim", ledgerHandlers.Handle(dispatch.KindClaim, "stake_id"))
			stakes.POST("/:stake_id/unstake", ledgerHandlers.Handle(dispatch.KindUnstake, "stake_id"))
		}

		boosters := account.Group("/boosters")
		{
			boosters.POST("", ledgerHandlers.Handle(dispatch.KindBuyBooster))
			boosters.GET("/multiplier", ledgerHandlers.Handle(dispatch.KindActiveMultiplier))
		}
	}

	return router
}
