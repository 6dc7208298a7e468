package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"learnhub_payments/internal/config"
	"learnhub_payments/internal/logger"
	"learnhub_payments/internal/repository"
	"learnhub_payments/internal/services"
	"learnhub_payments/internal/tasks"
)

const tickInterval = 5 * time.Minute

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
	store := repository.NewGormStore(db)

	deps := services.Deps{
		Store:     store,
		Policy:    cfg.Policy,
		Log:       log,
		Scheduler: tasks.NewScheduler(store),
	}
	if cfg.KafkaBrokers != "" {
		publisher := services.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer publisher.Close()
		deps.Events = publisher
	}
	if cfg.SMTP.Host != "" {
		deps.Mailer = services.NewEmailService(cfg.SMTP)
	}
	var enroller services.Enroller
	if cfg.EnrollmentServiceURL != "" {
		enroller = services.NewEnrollmentClient(cfg.EnrollmentServiceURL)
		deps.Enroller = enroller
	}
	svc := services.New(deps)

	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, tasks.Dependencies{
		Services: svc,
		Enroller: enroller,
		Log:      log,
	})
	runner := &tasks.Runner{
		Store:    store,
		Registry: registry,
		Log:      log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down worker")
		cancel()
	}()

	log.Info("Worker started", zap.Strings("tasks", registry.Names()), zap.Duration("interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	tick(ctx, runner, log)
	for {
		select {
		case <-ticker.C:
			tick(ctx, runner, log)
		case <-ctx.Done():
			return
		}
	}
}

func tick(ctx context.Context, runner *tasks.Runner, log *zap.Logger) {
	ran, err := runner.RunDue(ctx)
	if err != nil {
		log.Error("Error fetching pending tasks", zap.Error(err))
		return
	}
	if ran > 0 {
		log.Info("Processed scheduled tasks", zap.Int("count", ran))
	}
}
