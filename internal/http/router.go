package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/swap-desk/backend/internal/config"
	"github.com/swap-desk/backend/internal/http/handlers"
	"github.com/swap-desk/backend/internal/metrics"
	"github.com/swap-desk/backend/internal/middleware"
	"github.com/swap-desk/backend/internal/rbac"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	gatherer prometheus.Gatherer,
	httpMetrics *metrics.HTTPMetrics,
	authHandler *handlers.AuthHandler,
	swapHandler *handlers.SwapHandler,
	bidHandler *handlers.BidHandler,
	adminHandler *handlers.AdminHandler,
	metaHandler *handlers.MetaHandler,
	ledgerHandler *handlers.LedgerHandler, // nil unless DEV_LEDGER
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))
	app.Use(httpMetrics.Middleware())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "ws_connections": wsHub.Connections()})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/nonce", authHandler.Nonce)
	api.Post("/auth/verify", authHandler.Verify)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute, log))

	api.Get("/info", metaHandler.GetInfo)
	api.Get("/volume", metaHandler.GetVolume)
	api.Get("/settings", metaHandler.GetSettings)
	api.Get("/currencies", metaHandler.GetCurrencies)
	api.Get("/currencies/:address", metaHandler.GetCurrency)

	api.Get("/swaps", swapHandler.ListSwaps)
	api.Get("/swaps/:id", swapHandler.GetSwap)
	api.Get("/swaps/:id/bids", bidHandler.SwapBids)
	api.Get("/swaps/:id/history", swapHandler.History)
	api.Get("/sellers/:address/swaps", swapHandler.SellerSwaps)
	api.Get("/buyers/:address/swaps", swapHandler.BuyerSwaps)
	api.Get("/bids/:address", bidHandler.BuyerBids)
	api.Get("/bidders/:address/swaps", bidHandler.BidderSwaps)
	if ledgerHandler != nil {
		api.Get("/ledger/:currency/:holder", ledgerHandler.GetBalance)
	}

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg.JWTSecret, log))
	protected.Get("/me/history", swapHandler.MyHistory)
	trade := protected.Group("", middleware.RequirePermission(rbac.PermTrade))

	// Swaps
	trade.Post("/swaps", swapHandler.CreateSwap)
	trade.Put("/swaps/:id", swapHandler.UpdateSwap)
	trade.Post("/swaps/:id/cancel", swapHandler.CancelSwap)
	trade.Post("/swaps/:id/accept", swapHandler.AcceptSwap)

	// Bids
	trade.Post("/swaps/:id/bids", bidHandler.PlaceBid)
	trade.Delete("/swaps/:id/bids", bidHandler.CancelBid)
	trade.Post("/swaps/:id/bids/:bidder/accept", bidHandler.AcceptBid)
	trade.Delete("/bids", bidHandler.CancelAllBids)

	// Admin
	settings := protected.Group("/admin", middleware.RequirePermission(rbac.PermManageSettings))
	settings.Put("/fee-rate", adminHandler.SetFeeRate)
	settings.Put("/fee-grace-volume", adminHandler.SetFeeGraceVolume)
	settings.Put("/fee-payment-address", adminHandler.SetFeePaymentAddress)
	settings.Put("/max-bid-expiry", adminHandler.SetMaxBidExpiry)

	currencies := protected.Group("/admin/currencies", middleware.RequirePermission(rbac.PermManageCurrencies))
	currencies.Post("", adminHandler.AddCurrency)
	currencies.Delete("/:address", adminHandler.RemoveCurrency)

	// Dev ledger
	if ledgerHandler != nil {
		dev := protected.Group("/ledger", middleware.RequirePermission(rbac.PermDevLedger))
		dev.Post("/mint", ledgerHandler.Mint)
		dev.Post("/lock", ledgerHandler.Lock)
		dev.Post("/approve", ledgerHandler.Approve)
		dev.Post("/transfer-all", ledgerHandler.TransferAll)
	}

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
