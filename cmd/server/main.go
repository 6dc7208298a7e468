package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"learnhub_payments/internal/config"
	"learnhub_payments/internal/handlers"
	"learnhub_payments/internal/logger"
	"learnhub_payments/internal/middleware"
	"learnhub_payments/internal/repository"
	"learnhub_payments/internal/services"
	"learnhub_payments/internal/tasks"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.Env)
	defer logger.Log.Sync()
	log := logger.Log

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := services.AutoMigrate(db, log); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}
	store := repository.NewGormStore(db)

	deps := services.Deps{
		Store:     store,
		Policy:    cfg.Policy,
		Log:       log,
		Signer:    services.NewSigner(cfg.GatewaySigningSecret, cfg.GatewayWebhookSecret),
		Scheduler: tasks.NewScheduler(store),
	}

	if cfg.RedisURL != "" {
		cache, err := services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, caching disabled", zap.Error(err))
		} else {
			defer cache.Close()
			deps.Cache = cache
		}
	}

	if cfg.KafkaBrokers != "" {
		publisher := services.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer publisher.Close()
		deps.Events = publisher
	} else {
		log.Warn("KAFKA_BROKERS not set, domain events are dropped")
	}

	switch strings.ToLower(cfg.GatewayProvider) {
	case "razorpay":
		deps.Gateway = services.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	default:
		deps.Gateway = services.NewMidtransService(cfg.MidtransServerKey, cfg.MidtransIrisKey, cfg.MidtransIsProduction)
	}
	if cfg.MidtransIrisKey != "" {
		deps.Payouts = services.NewMidtransService(cfg.MidtransServerKey, cfg.MidtransIrisKey, cfg.MidtransIsProduction)
	} else {
		log.Warn("MIDTRANS_IRIS_KEY not set, payouts must be completed manually")
	}

	if cfg.EnrollmentServiceURL != "" {
		deps.Enroller = services.NewEnrollmentClient(cfg.EnrollmentServiceURL)
	}
	if cfg.SMTP.Host != "" {
		deps.Mailer = services.NewEmailService(cfg.SMTP)
	}

	var verifier middleware.TokenVerifier
	authClient, err := services.InitFirebase(context.Background(), cfg.FirebaseCredentialsPath)
	if err != nil {
		log.Warn("Firebase initialization failed, authenticated routes will reject requests", zap.Error(err))
	} else {
		verifier = authClient
	}

	svc := services.New(deps)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.CustomErrorHandler
	e.Use(echomw.Recover())
	e.Use(logger.RequestLogger())
	e.Use(middleware.Metrics())

	handlers.Register(e, svc, verifier, time.Now)

	go func() {
		log.Info("Server starting", zap.String("port", cfg.Port), zap.String("gateway", string(deps.Gateway.Provider())))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("Shutting down server")
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
