package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/helgykoin/hkn_ledger/internal/api/routes"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/config"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/database"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/di"
	"github.com/helgykoin/hkn_ledger/pkg/graceful"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
	"github.com/helgykoin/hkn_ledger/pkg/tracing"
)

// @title HKN Ledger API
// @version 1.0
// @description Token ledger with transfers, staking rewards and boosters.

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey AccountID
// @in header
// @name X-Account-ID
// @description Chat account id of the caller, set by the front end.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		CollectorURL:   cfg.Tracing.CollectorURL,
		Environment:    cfg.Environment,
		ServiceVersion: routes.Version,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	// Run migrations on their own connection before the pool opens
	if cfg.Database.MigrationsEnabled {
		if err := database.RunMigrations(cfg.Database); err != nil {
			log.Fatal("Failed to run migrations", "error", err)
		}
		log.Info("Migrations applied", "driver", cfg.Database.Driver)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	// Build dependency injection container
	container, err := di.NewContainer(cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := container.Ledger.Bootstrap(bootCtx); err != nil {
		cancel()
		log.Fatal("Failed to seed token state", "error", err)
	}
	cancel()

	router := routes.SetupRoutes(container)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	shutdown := graceful.NewShutdownManager(server, cfg.Server.ShutdownTimeout, log)

	if cfg.Workers.Enabled {
		if err := container.MaintenanceWorker.Start(); err != nil {
			log.Fatal("Failed to start maintenance worker", "error", err)
		}
		shutdown.Register(graceful.ShutdownFunc(func(context.Context) error {
			log.Info("Stopping maintenance worker...")
			container.MaintenanceWorker.Stop()
			return nil
		}))
	} else {
		log.Info("Maintenance worker disabled in configuration")
	}
	shutdown.Register(graceful.ShutdownFunc(tracingShutdown))
	shutdown.RegisterCloser(container)

	go func() {
		log.Info("Starting server",
			"addr", server.Addr,
			"environment", cfg.Environment,
			"sqlite", container.IsSQLite(),
			"read_timeout", cfg.Server.ReadTimeout,
			"write_timeout", cfg.Server.WriteTimeout,
		)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	shutdown.WaitForShutdown()
}
