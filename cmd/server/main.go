// Package main is the entry point of the transfer service. It wires the
// stores, the OCS client, the orchestrator and the sweeper, then serves
// the HTTP API until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"ocstransfer/internal/config"
	"ocstransfer/internal/handlers"
	"ocstransfer/internal/metrics"
	"ocstransfer/internal/middleware"
	"ocstransfer/internal/repositories"
	"ocstransfer/internal/repositories/cache"
	"ocstransfer/internal/routes"
	"ocstransfer/internal/services/charging"
	"ocstransfer/internal/services/notification"
	"ocstransfer/internal/services/subscriber"
	"ocstransfer/internal/services/sweeper"
	"ocstransfer/internal/services/transfer"
)

func main() {
	config.LoadEnv()
	if config.IsProduction() {
		log.SetLevel(log.LevelInfo)
	}

	if err := repositories.InitDB(); err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	sqlDB, err := repositories.DB.DB()
	if err != nil {
		log.Fatalf("failed to get database instance: %v", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			log.Warnf("failed to close database connection: %v", err)
		}
		if repositories.CacheService != nil {
			if err := repositories.CacheService.Close(); err != nil {
				log.Warnf("failed to close redis connection: %v", err)
			}
		}
	}()

	cacheTTL := config.GetDurationEnv("CACHE_TTL", 5*time.Minute)
	var (
		readCache repositories.Cache = repositories.NoopCache{}
		locker    transfer.Locker    = cache.NewMemoryLocker()
	)
	if repositories.CacheService != nil {
		readCache = repositories.CacheService
		locker = cache.NewRedisLocker(repositories.CacheService.Client(), "ocs-transfer:")
	}

	ledger := repositories.NewTransferRepository(repositories.DB)
	rules := repositories.NewRuleRepository(repositories.DB, readCache, cacheTTL)
	settings := repositories.NewConfigRepository(repositories.DB, readCache, cacheTTL)
	pins := repositories.NewPinRepository(repositories.DB)

	m := metrics.NewMetrics()
	ocsCfg := config.LoadOCS()
	gateway := charging.Instrument(charging.NewClient(charging.ClientConfig{
		BaseURL:  ocsCfg.BaseURL,
		Username: ocsCfg.Username,
		Password: ocsCfg.Password,
		Timeout:  ocsCfg.Timeout,
	}), m)

	jwtSecret := config.GetEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	hostname, _ := os.Hostname()
	transfers := transfer.NewService(transfer.Dependencies{
		Ledger:   ledger,
		Rules:    rules,
		Config:   settings,
		Accounts: subscriber.NewResolver(gateway, pins),
		Gateway:  gateway,
		Notifier: notification.NewService(gateway),
		Locker:   locker,
		Metrics:  m,
	}, transfer.Config{InstanceID: fmt.Sprintf("%s-%d", hostname, os.Getpid())})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepCfg := config.LoadSweeper()
	sw := sweeper.New(sweeper.Dependencies{
		Ledger:    ledger,
		Transfers: transfers,
		Config:    settings,
		Locker:    locker,
		Metrics:   m,
	}, sweepCfg)
	if sweepCfg.Enabled {
		go sw.Run(ctx)
	}

	checks := map[string]handlers.Check{
		"database": sqlDB.PingContext,
	}
	if repositories.CacheService != nil {
		checks["redis"] = repositories.CacheService.HealthCheck
	}

	app := fiber.New(fiber.Config{
		AppName:      "ocs-transfer",
		ReadTimeout:  config.GetDurationEnv("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: config.GetDurationEnv("HTTP_WRITE_TIMEOUT", 60*time.Second),
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use("/api/transfers", limiter.New(limiter.Config{
		Max:        config.GetIntEnv("TRANSFER_RATE_LIMIT", 30),
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	}))

	routes.SetupRoutes(app, routes.Dependencies{
		Transfers: transfers,
		Auth:      middleware.NewAuthMiddleware(jwtSecret),
		Health:    handlers.NewHealthHandler(checks),
		Metrics:   m.Handler(),
	})

	go func() {
		if err := app.Listen(":" + config.GetEnv("PORT", "3000")); err != nil {
			log.Errorw("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sw.Stop()
	if err := app.ShutdownWithTimeout(config.GetDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)); err != nil {
		log.Errorw("http shutdown failed", "error", err)
	}
}
