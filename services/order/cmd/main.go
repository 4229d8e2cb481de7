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
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	outboxRepository "github.com/sakashimaa/order-saga/pkg/outbox/repository"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"github.com/sakashimaa/order-saga/services/order/internal/cart"
	"github.com/sakashimaa/order-saga/services/order/internal/payment"
	"github.com/sakashimaa/order-saga/services/order/internal/repository"
	"github.com/sakashimaa/order-saga/services/order/internal/service"
	"github.com/sakashimaa/order-saga/services/order/internal/session"
	httpTransport "github.com/sakashimaa/order-saga/services/order/internal/transport/http"
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
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, cfg.ServiceName, cfg.Env, cfg.Telemetry.Endpoint)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	tracer := tp.Tracer("order-service")
	propagator := utils.NewPropagator()

	if cfg.Postgres.MigrationsPath != "" {
		if err := db.Migrate(cfg.Postgres.URL, cfg.Postgres.MigrationsPath, logger); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL, tp, logger)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Close()

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	reg := metrics.NewRegistry()
	busMetrics := kafka.NewMetrics(reg)

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, tracer, propagator, busMetrics, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}
	defer producer.Close()

	orderRepo := repository.NewOrderRepository(pool, tracer, logger)
	outboxRepo := outboxRepository.NewOutboxRepository(tracer, logger, cfg.Outbox.MaxAttempts)

	catalog := cart.NewHTTPCatalog(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, tp, propagator, logger)
	cartStore := cart.NewRedisStore(rdb, cfg.Cart.TTL, cfg.Cart.MaxRetries, tracer, logger)
	cartService := cart.NewService(cartStore, catalog, tracer, logger)
	sessions := session.NewStore(rdb, cfg.Cart.SessionTTL, tracer)

	orderService := service.NewOrderService(
		pool,
		orderRepo,
		outboxRepo,
		cartService,
		payment.NewSimulator(tracer),
		tracer,
		logger,
	)

	outboxProcessor := worker.NewOutboxProcessor(
		pool,
		outboxRepo,
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

	handler := httpTransport.NewHandler(orderService, cartService, sessions, logger)
	httpTransport.RegisterRoutes(app, handler, sessions, cfg.HTTP.AdminToken, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return outboxProcessor.Start(gCtx)
	})

	g.Go(func() error {
		return metrics.Serve(gCtx, cfg.Metrics.Port, reg, logger)
	})

	g.Go(func() error {
		mylogger.Info(gCtx, logger, "HTTP server listening", zap.String("addr", cfg.HTTP.Port))
		return app.Listen(cfg.HTTP.Port)
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return app.ShutdownWithContext(shutdownCtx)
	})

	mylogger.Info(ctx, logger, "Order service started")

	if err := g.Wait(); err != nil {
		mylogger.Error(ctx, logger, "Order service stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	}

	mylogger.Info(shutdownCtx, logger, "Order service stopped")
}
