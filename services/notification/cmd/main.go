package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/db"
	"github.com/sakashimaa/order-saga/pkg/dedup"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"github.com/sakashimaa/order-saga/services/notification/internal/infrastructure/email"
	"github.com/sakashimaa/order-saga/services/notification/internal/infrastructure/sms"
	"github.com/sakashimaa/order-saga/services/notification/internal/repository"
	"github.com/sakashimaa/order-saga/services/notification/internal/service"
	notificationKafka "github.com/sakashimaa/order-saga/services/notification/transport/kafka"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, cfg.ServiceName, cfg.Env, cfg.Telemetry.Endpoint)
	if err != nil {
		log.Fatalf("Error starting telemetry: %v", err)
	}
	tracer := tp.Tracer("notification-service")
	propagator := utils.NewPropagator()

	if cfg.Postgres.MigrationsPath != "" {
		if err := db.Migrate(cfg.Postgres.URL, cfg.Postgres.MigrationsPath, logger); err != nil {
			log.Fatalf("Error running migrations: %v", err)
		}
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL, tp, logger)
	if err != nil {
		log.Fatalf("error creating postgres db: %v", err)
	}
	defer pool.Close()

	reg := metrics.NewRegistry()
	busMetrics := kafka.NewMetrics(reg)

	// Dead letters are the only thing this service publishes.
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, tracer, propagator, busMetrics, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}
	defer producer.Close()

	notificationRepository := repository.NewNotificationRepository(pool, tracer, logger)
	ledger := dedup.NewLedger(pool, cfg.Dedup.TTL, tracer, logger)

	notificationService := service.NewNotificationService(
		notificationRepository,
		ledger,
		email.NewSMTPSender(cfg.Notification.SMTP, tracer, logger),
		sms.NewLogSender(tracer, logger),
		service.SettingsFromConfig(cfg.Notification),
		service.NewMetrics(reg),
		tracer,
		logger,
	)

	consumer := notificationKafka.NewConsumer(notificationService, logger)
	consumerOpts := kafka.ConsumerOptions{
		Policy: kafka.RetryPolicy{
			MaxDeliveries:  cfg.Consumer.MaxDeliveries,
			InitialBackoff: cfg.Consumer.InitialBackoff,
			MaxBackoff:     cfg.Consumer.MaxBackoff,
		},
		DeadLetter: producer,
		Tracer:     tracer,
		Propagator: propagator,
		Metrics:    busMetrics,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(gCtx, cfg.Kafka.Brokers, consumerOpts)
	})

	g.Go(func() error {
		return ledger.RunSweeper(gCtx, cfg.Dedup.SweepInterval)
	})

	g.Go(func() error {
		return metrics.Serve(gCtx, cfg.Metrics.Port, reg, logger)
	})

	mylogger.Info(ctx, logger, "Notification service started")

	if err := g.Wait(); err != nil {
		mylogger.Error(ctx, logger, "Notification service stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Error closing telemetry", zap.Error(err))
	}

	mylogger.Info(shutdownCtx, logger, "Notification service stopped")
}
