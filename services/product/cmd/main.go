package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/sakashimaa/order-saga/pkg/cache"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/db"
	"github.com/sakashimaa/order-saga/pkg/dedup"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	outbox "github.com/sakashimaa/order-saga/pkg/outbox/repository"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"github.com/sakashimaa/order-saga/services/product/internal/repository"
	"github.com/sakashimaa/order-saga/services/product/internal/service"
	productHTTP "github.com/sakashimaa/order-saga/services/product/internal/transport/http"
	productKafka "github.com/sakashimaa/order-saga/services/product/internal/transport/kafka"
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
		log.Fatalf("Error init tracer: %v", err)
	}
	tracer := tp.Tracer("product-service")
	propagator := utils.NewPropagator()

	if cfg.Postgres.MigrationsPath != "" {
		if err := db.Migrate(cfg.Postgres.URL, cfg.Postgres.MigrationsPath, logger); err != nil {
			log.Fatalf("Error running migrations: %v", err)
		}
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL, tp, logger)
	if err != nil {
		log.Fatalf("Error creating new postgres DB: %v", err)
	}
	defer pool.Close()

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Error connecting to redis: %v", err)
	}
	defer rdb.Close()

	reg := metrics.NewRegistry()
	busMetrics := kafka.NewMetrics(reg)

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, tracer, propagator, busMetrics, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}
	defer producer.Close()

	productRepository := repository.NewProductRepository(pool, tracer, logger)
	reservationRepository := repository.NewReservationRepository(tracer, logger)
	outboxRepository := outbox.NewOutboxRepository(tracer, logger, cfg.Outbox.MaxAttempts)
	ledger := dedup.NewLedger(pool, cfg.Dedup.TTL, tracer, logger)

	productService := service.NewProductService(pool, productRepository, reservationRepository, outboxRepository, ledger, tracer, logger)
	cachedProductService := service.NewCachedProductService(productService, rdb, cfg.Catalog.CacheTTL, logger)

	consumer := productKafka.NewConsumer(cachedProductService, logger)
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

	outboxProcessor := worker.NewOutboxProcessor(
		pool,
		outboxRepository,
		producer,
		tracer,
		logger,
		cfg.Outbox.BatchSize,
		cfg.Outbox.Interval,
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.Timeout,
	})
	app.Use(otelfiber.Middleware(
		otelfiber.WithTracerProvider(tp),
		otelfiber.WithPropagators(propagator),
	))
	productHTTP.RegisterRoutes(app, productHTTP.NewHandler(cachedProductService, logger))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(gCtx, cfg.Kafka.Brokers, consumerOpts)
	})

	g.Go(func() error {
		return outboxProcessor.Start(gCtx)
	})

	g.Go(func() error {
		return ledger.RunSweeper(gCtx, cfg.Dedup.SweepInterval)
	})

	g.Go(func() error {
		return metrics.Serve(gCtx, cfg.Metrics.Port, reg, logger)
	})

	g.Go(func() error {
		mylogger.Info(gCtx, logger, "HTTP Product service listening", zap.String("addr", cfg.HTTP.Port))
		return app.Listen(cfg.HTTP.Port)
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return app.ShutdownWithContext(shutdownCtx)
	})

	mylogger.Info(ctx, logger, "Product service started")

	if err := g.Wait(); err != nil {
		mylogger.Error(ctx, logger, "Product service stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Error stopping telemetry", zap.Error(err))
	}

	mylogger.Info(shutdownCtx, logger, "Product service stopped")
}
