package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/outbox/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error
	MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, error string) error
}

type Publisher interface {
	Publish(ctx context.Context, msg *kafka.Message) error
}

type OutboxProcessor struct {
	pool      *pgxpool.Pool
	repo      OutboxRepository
	publisher Publisher
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
}

func NewOutboxProcessor(
	pool *pgxpool.Pool,
	repo OutboxRepository,
	publisher Publisher,
	tracer trace.Tracer,
	logger *zap.Logger,
	batchSize int,
	interval time.Duration,
) *OutboxProcessor {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	return &OutboxProcessor{
		pool:      pool,
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		tracer:    tracer,
	}
}

// Start relays committed outbox rows to the bus until ctx is cancelled.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
		zap.Int("batch_size", p.batchSize),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(
				ctx,
				p.logger,
				"Outbox processor stopping",
			)

			return nil
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				mylogger.Error(
					ctx,
					p.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// ProcessBatch publishes one batch and returns how many rows were published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				cleanupCtx,
				p.logger,
				"Outbox worker failed to rollback transaction",
				zap.Error(err),
				zap.String("method_name", "ProcessBatch"),
			)
		}
	}()

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	mylogger.Debug(
		ctx,
		p.logger,
		"Processing outbox events",
		zap.Int("count", len(events)),
	)

	published := 0
	for _, event := range events {
		msg, err := toMessage(event)
		if err == nil {
			err = p.publisher.Publish(ctx, msg)
		}

		if err != nil {
			span.RecordError(err)
			mylogger.Error(
				ctx,
				p.logger,
				"outbox worker publish failed",
				zap.Int64("id", event.Id),
				zap.String("routing_key", event.RoutingKey),
				zap.Int64("attempts", event.Attempts+1),
				zap.Error(err),
			)

			if dbErr := p.repo.MarkEventFailed(ctx, tx, event.Id, err.Error()); dbErr != nil {
				return published, fmt.Errorf("mark event %d failed: %w", event.Id, dbErr)
			}

			continue
		}

		if err := p.repo.MarkEventPublished(ctx, tx, event.Id); err != nil {
			return published, fmt.Errorf("mark event %d published: %w", event.Id, err)
		}
		published++
	}

	span.SetAttributes(attribute.Int("outbox.published", published))

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}

	return published, nil
}

func toMessage(event *domain.OutboxEvent) (*kafka.Message, error) {
	if !json.Valid(event.Payload) {
		return nil, fmt.Errorf("outbox event %d has an invalid json payload", event.Id)
	}

	var headers map[string]string
	if len(event.Headers) > 0 {
		if err := json.Unmarshal(event.Headers, &headers); err != nil {
			return nil, fmt.Errorf("outbox event %d headers: %w", event.Id, err)
		}
	}

	return &kafka.Message{
		Exchange:   event.Exchange,
		RoutingKey: event.RoutingKey,
		Key:        event.AggregateID,
		MessageID:  event.MessageID.String(),
		Payload:    event.Payload,
		Headers:    headers,
		Timestamp:  event.CreatedAt,
	}, nil
}
