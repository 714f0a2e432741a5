package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"payment-engine/internal/billable"
	"payment-engine/internal/cache"
	"payment-engine/internal/config"
	"payment-engine/internal/events"
	"payment-engine/internal/gateway"
	"payment-engine/internal/handlers"
	"payment-engine/internal/middleware"
	"payment-engine/internal/models"
	"payment-engine/internal/repository"
	"payment-engine/internal/services"
	"payment-engine/internal/wallet"
	"payment-engine/internal/webhooks"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	db, err := connectDatabase(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	if err := migrate(db); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}
	logger.Info("database connected")

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, gateway health caching disabled")
			redisClient = nil
		}
		cancel()
	}
	healthCache := cache.NewHealthCache(redisClient, 30*time.Second)

	registry, err := gateway.BuildRegistry(cfg.Payments, healthCache, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build gateway registry")
	}

	natsURL := ""
	if cfg.NATS.Enabled {
		natsURL = cfg.NATS.URL
	}
	publisher, err := events.NewPublisher(natsURL, logger)
	if err != nil {
		logger.WithError(err).Warn("nats unreachable, domain events disabled")
		publisher, _ = events.NewPublisher("", logger)
	}
	defer publisher.Close()

	repo := repository.NewPaymentRepository(db)
	walletSvc := wallet.NewService(db, logger)

	fulfillers := billable.NewRegistry(logger)
	fulfillers.Register(models.BillableWalletTopUp, billable.NewWalletTopUpFulfiller(walletSvc))

	gateways := services.NewGateways(registry)
	settlement := services.NewSettlementService(repo, walletSvc, fulfillers, publisher, logger)
	checkout := services.NewCheckoutService(repo, walletSvc, walletSvc, gateways, settlement, logger)
	refunds := services.NewRefundService(repo, walletSvc, gateways, settlement, publisher, logger)

	dispatcher := buildDispatcher(cfg, repo, settlement, refunds, publisher, logger)

	router := buildRouter(cfg, logger, registry, checkout, refunds, walletSvc, dispatcher, repo)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("payment engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("forced shutdown")
	}
}

func connectDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}
	return gorm.Open(postgres.Open(cfg.Database.DSN()), gormCfg)
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Payment{},
		&models.WebhookEvent{},
		&models.WalletAccount{},
		&models.WalletOperation{},
	)
}

func buildDispatcher(cfg *config.Config, repo *repository.PaymentRepository, settlement *services.SettlementService, refunds *services.RefundService, publisher *events.Publisher, logger *logrus.Logger) *webhooks.Dispatcher {
	// Verification can only ever be skipped outside production, and
	// only when explicitly sandboxed.
	skipVerification := false
	if !cfg.IsProduction() {
		if gw, ok := cfg.Payments.Gateways[cfg.Payments.DefaultGateway]; ok && gw.Sandbox {
			skipVerification = cfg.Environment == "development"
		}
	}

	dispatcher := webhooks.NewDispatcher(repo, repo, settlement, refunds, publisher, skipVerification, logger)
	for name, gwCfg := range cfg.Payments.Gateways {
		if !gwCfg.Enabled {
			continue
		}
		switch name {
		case "asaas":
			dispatcher.Register(webhooks.NewAsaasHandler(gwCfg.WebhookSecret))
		case "stripe":
			dispatcher.Register(webhooks.NewStripeHandler(gwCfg.WebhookSecret))
		case "razorpay":
			dispatcher.Register(webhooks.NewRazorpayHandler(gwCfg.WebhookSecret))
		}
	}
	return dispatcher
}

func buildRouter(cfg *config.Config, logger *logrus.Logger, registry *gateway.Registry, checkout *services.CheckoutService, refunds *services.RefundService, walletSvc *wallet.Service, dispatcher *webhooks.Dispatcher, repo *repository.PaymentRepository) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins
	router.Use(middleware.CORS(corsConfig))
	router.Use(middleware.ValidateRequest())

	limits := middleware.NewLimits()

	paymentHandler := handlers.NewPaymentHandler(checkout, refunds, logger)
	webhookHandler := handlers.NewWebhookHandler(dispatcher, repo, logger)
	gatewayHandler := handlers.NewGatewayHandler(registry, logger)
	walletHandler := handlers.NewWalletHandler(walletSvc, logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-engine"})
	})

	api := router.Group("/api/v1")
	api.Use(middleware.RateLimit(limits.General))
	{
		api.POST("/checkout", middleware.RateLimit(limits.Checkout), paymentHandler.Checkout)
		api.GET("/payments", paymentHandler.List)
		api.GET("/payments/:id", paymentHandler.Get)
		api.POST("/payments/:id/refund", middleware.RateLimit(limits.Refund), paymentHandler.Refund)
		api.POST("/payments/:id/cancel", paymentHandler.Cancel)
		api.GET("/gateways", gatewayHandler.List)
		api.GET("/wallets/:payerId", walletHandler.Balance)
		api.GET("/webhooks/unprocessed", webhookHandler.ListUnprocessed)
	}

	router.POST("/webhooks/:provider", middleware.RateLimit(limits.Webhook), webhookHandler.Receive)

	return router
}
