package main

import (
	"context"
	"log"
	"time"

	"tryonx-checkout/internal/core/cache"
	"tryonx-checkout/internal/core/config"
	"tryonx-checkout/internal/core/logger"
	"tryonx-checkout/internal/core/server"
	checkoutadapter "tryonx-checkout/internal/features/checkout/adapters"
	checkouthandler "tryonx-checkout/internal/features/checkout/handler"
	checkoutservice "tryonx-checkout/internal/features/checkout/service"

	"go.uber.org/zap"
)

// @title TryOnX Checkout API
// @version 1.0
// @description Backend-for-frontend driving the checkout-and-settlement flow: pricing preview, point redemption, gateway payment, settlement verification and order creation.
// @contact.name API Support
// @contact.email support@tryonx.shop
// @license.name MIT
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("Application starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	// Initialize Shop Adapter and run Health Check
	shopAdapter := checkoutadapter.NewShopAPIAdapter(cfg.Shop)
	if err := shopAdapter.HealthCheck(); err != nil {
		l.Fatal("Shop backend Health Check Failed", zap.Error(err))
	}
	l.Info("Shop backend connection verified")

	gatewayAdapter := checkoutadapter.NewGatewayAdapter(cfg.Gateway)

	// Initialize Redis-backed lock and archive
	redisCache, err := cache.NewRedisAdapter(cfg.Redis.URL)
	if err != nil {
		l.Fatal("Failed to create Redis adapter", zap.Error(err))
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		l.Fatal("Redis Health Check Failed", zap.Error(err))
	}
	l.Info("Redis connection verified")

	attemptLock := checkoutadapter.NewRedisAttemptLock(redisCache)
	attemptArchive := checkoutadapter.NewRedisAttemptArchive(
		redisCache,
		time.Duration(cfg.Checkout.ArchiveTTLHours)*time.Hour,
	)

	// Initialize Checkout Service & Handler
	checkoutSvc := checkoutservice.NewCheckoutService(
		shopAdapter,
		gatewayAdapter,
		shopAdapter,
		shopAdapter,
		attemptLock,
		attemptArchive,
		cfg.Checkout,
	)
	checkoutHdl := checkouthandler.NewCheckoutHandler(checkoutSvc, attemptArchive)

	srv := server.New(cfg)

	// Register Routes
	srv.App.Post("/checkout", checkoutHdl.StartCheckout)
	srv.App.Get("/checkout/archive/:ref", checkoutHdl.GetArchivedAttempt)
	srv.App.Get("/checkout/:cartId", checkoutHdl.GetCheckout)
	srv.App.Patch("/checkout/:cartId/points", checkoutHdl.SetPoints)
	srv.App.Patch("/checkout/:cartId/method", checkoutHdl.SetMethod)
	srv.App.Post("/checkout/:cartId/submit", checkoutHdl.SubmitPayment)
	srv.App.Post("/checkout/:cartId/retry-order", checkoutHdl.RetryOrder)
	srv.App.Delete("/checkout/:cartId", checkoutHdl.AbortCheckout)

	if err := srv.Run(); err != nil {
		l.Fatal("Server failed to start", zap.Error(err))
	}
}
