package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/swap-desk/backend/internal/auth"
	"github.com/swap-desk/backend/internal/config"
	"github.com/swap-desk/backend/internal/custody"
	"github.com/swap-desk/backend/internal/db"
	"github.com/swap-desk/backend/internal/events"
	apphttp "github.com/swap-desk/backend/internal/http"
	"github.com/swap-desk/backend/internal/http/dto"
	"github.com/swap-desk/backend/internal/http/handlers"
	"github.com/swap-desk/backend/internal/ledger"
	"github.com/swap-desk/backend/internal/metrics"
	"github.com/swap-desk/backend/internal/models"
	"github.com/swap-desk/backend/internal/repositories"
	"github.com/swap-desk/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, os.DirFS("migrations"), log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.New(reg)
	httpMetrics := metrics.NewHTTP(reg)

	// Repositories
	swapRepo := repositories.NewSwapRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Ledger and custody
	book := ledger.NewMemory(cfg.CollateralAddress, cfg.SettlementCurrencies...)
	vault := custody.NewVault(cfg.CustodyFactoryAddress, book.Collateral(), log)

	// Services
	settings := models.Settings{
		FeeRatePerMille:   cfg.FeeRatePerMille,
		FeeGraceVolume:    cfg.FeeGraceVolume,
		FeePaymentAddress: cfg.FeePaymentAddress,
		MaxBidExpiry:      cfg.MaxBidExpiry,
	}
	swapService := services.NewSwapService(vault, book, book.Collateral(), book, swapRepo, auditRepo, publisher, engineMetrics, services.EngineConfig{
		Address:    cfg.EngineAddress,
		Owner:      cfg.OwnerAddress,
		Collateral: cfg.CollateralAddress,
		Settings:   settings,
		Currencies: cfg.SettlementCurrencies,
	}, log)
	if err := swapService.Restore(ctx); err != nil {
		log.Fatal("failed to restore swap engine", zap.Error(err))
	}

	// Handlers
	nonces := auth.NewRedisNonceStore(rdb, cfg.AuthNonceTTL)
	authHandler := handlers.NewAuthHandler(nonces, cfg, log)
	swapHandler := handlers.NewSwapHandler(swapService, auditRepo, log)
	bidHandler := handlers.NewBidHandler(swapService, log)
	adminHandler := handlers.NewAdminHandler(swapService, log)
	metaHandler := handlers.NewMetaHandler(swapService)
	var ledgerHandler *handlers.LedgerHandler
	if cfg.DevLedger {
		ledgerHandler = handlers.NewLedgerHandler(book, cfg.EngineAddress, log)
	}
	wsHub := handlers.NewWSHub(cfg.JWTSecret, subscriber, httpMetrics, log)

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to swap events", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(dto.ErrorResponse{Error: err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, reg, httpMetrics,
		authHandler, swapHandler, bidHandler, adminHandler, metaHandler, ledgerHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("engine", cfg.EngineAddress.Hex()),
		zap.Bool("dev_ledger", cfg.DevLedger),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
