package di

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/helgykoin/hkn_ledger/internal/domain/services/booster"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/ledger"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/reconciliation"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/staking"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/cache"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/config"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/database"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/pool"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/repositories"
	"github.com/helgykoin/hkn_ledger/internal/workers/maintenance"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
	"github.com/helgykoin/hkn_ledger/pkg/retry"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Storage
	Pool        *pool.Pool
	Store       *repositories.LedgerRepository
	RedisClient cache.RedisClient
	WalletCache cache.WalletCache
	Retrier     *retry.Retrier

	// Domain Services
	Ledger         *ledger.Service
	Staking        *staking.Service
	Boosters       *booster.Service
	Reconciliation *reconciliation.Service

	// Workers
	MaintenanceWorker *maintenance.Worker
}

// NewContainer creates a new dependency injection container over an open
// database handle.
func NewContainer(cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	zapLog := log.Zap()

	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
		ZapLog: zapLog,
	}

	c.Pool = pool.New(db, pool.Config{
		Size:           cfg.Database.PoolSize,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	}, zapLog)
	c.Store = repositories.NewLedgerRepository(c.Pool, cfg.Database.CommitTimeout, zapLog)

	walletCache, err := c.buildWalletCache()
	if err != nil {
		return nil, err
	}
	c.WalletCache = walletCache

	c.Retrier = retry.NewRetrier(retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
		Jitter:       0.1,
	}, zapLog)

	if err := c.initializeDomainServices(); err != nil {
		return nil, err
	}

	c.MaintenanceWorker = maintenance.NewWorker(c.Store, c.Reconciliation, maintenance.Config{
		BoosterCleanupSchedule: cfg.Workers.BoosterCleanupSchedule,
		BoosterRetention:       cfg.Workers.BoosterRetention,
		ReconciliationSchedule: cfg.Workers.ReconciliationSchedule,
		JobTimeout:             cfg.Workers.JobTimeout,
	}, c.Ledger.Now, zapLog)

	return c, nil
}

func (c *Container) buildWalletCache() (cache.WalletCache, error) {
	cfg := c.Config
	switch cfg.Cache.Backend {
	case "redis":
		client, err := cache.NewRedisClient(&cfg.Redis, c.ZapLog)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis cache: %w", err)
		}
		c.RedisClient = client
		return cache.NewRedisWalletCache(client, cfg.Cache.KeyPrefix, c.ZapLog), nil
	case "none":
		c.ZapLog.Warn("Wallet cache disabled")
		return cache.NopCache{}, nil
	default:
		lru, err := cache.NewLRUCache(cfg.Cache.Capacity)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize wallet cache: %w", err)
		}
		return lru, nil
	}
}

// initializeDomainServices wires the ledger and the services layered on it.
func (c *Container) initializeDomainServices() error {
	cfg := c.Config

	c.Ledger = ledger.NewService(c.Store, c.WalletCache, ledger.Config{
		TokenName:        cfg.Token.Name,
		TokenSymbol:      cfg.Token.Symbol,
		Decimals:         cfg.Token.Decimals,
		InitialSupply:    cfg.InitialSupply(),
		InitialPrice:     cfg.InitialPrice(),
		SellRate:         cfg.SellRate(),
		SellPolicy:       cfg.Token.SellPolicy,
		ReserveAccountID: cfg.Token.ReserveAccountID,
		StartupBonus:     cfg.StartupBonus(),
		CacheTTL:         cfg.Cache.TTL,
		TokenTTL:         cfg.Cache.TokenTTL,
		AdminIDs:         cfg.AdminIDs,
	}, c.Logger, ledger.WithRetrier(c.Retrier))

	boosters, err := booster.NewService(c.Ledger, c.Store, cfg.BoosterCatalog(), booster.Policy(cfg.Staking.BoosterPolicy), c.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize booster service: %w", err)
	}
	c.Boosters = boosters

	c.Staking = staking.NewService(c.Ledger, c.Store, c.Boosters, staking.Config{
		BaseHourlyRate: cfg.BaseHourlyRate(),
		MinAmount:      cfg.StakeMin(),
		MaxAmount:      cfg.StakeMax(),
	}, c.Logger)

	c.Reconciliation = reconciliation.NewService(c.Store, c.Retrier, c.Ledger.Now, c.Logger)

	c.ZapLog.Info("Domain services initialized",
		zap.String("driver", c.Pool.DriverName()),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("boosters", len(c.Boosters.Catalog())),
	)
	return nil
}

// Close releases the cache client and closes the database through the pool.
func (c *Container) Close() error {
	var firstErr error
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			firstErr = err
		}
	}
	if c.Pool != nil {
		if err := c.Pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsSQLite reports whether the ledger runs on the embedded store.
func (c *Container) IsSQLite() bool {
	return c.Pool.DriverName() == database.DriverSQLite
}
