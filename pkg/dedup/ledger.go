package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const outcomeHandled = "handled"

// Ledger records idempotency keys in processed_events. A key is claimed in the
// same transaction as the effect it guards, so a rollback releases it again.
// Expired keys may be claimed anew and are removed by Sweep, so state that
// must outlive the TTL belongs in the caller's own tables.
type Ledger struct {
	pool   *pgxpool.Pool
	ttl    time.Duration
	tracer trace.Tracer
	logger *zap.Logger
}

func NewLedger(pool *pgxpool.Pool, ttl time.Duration, tracer trace.Tracer, logger *zap.Logger) *Ledger {
	return &Ledger{
		pool:   pool,
		ttl:    ttl,
		tracer: tracer,
		logger: logger,
	}
}

// Claim reports whether key was free (or expired) and now belongs to tx.
func (l *Ledger) Claim(ctx context.Context, tx pgx.Tx, key string) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.Claim")
	defer span.End()

	span.SetAttributes(attribute.String("dedup.key", key))

	query := `
		INSERT INTO processed_events (event_key, outcome, processed_at, expires_at)
		VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3))
		ON CONFLICT (event_key) DO UPDATE
		SET outcome = EXCLUDED.outcome,
			processed_at = EXCLUDED.processed_at,
			expires_at = EXCLUDED.expires_at
		WHERE processed_events.expires_at < NOW()
	`

	tag, err := tx.Exec(ctx, query, key, outcomeHandled, l.ttl.Seconds())
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("claim idempotency key %s: %w", key, err)
	}

	claimed := tag.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("dedup.claimed", claimed))

	return claimed, nil
}

func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM processed_events WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("sweep processed events: %w", err)
	}

	return tag.RowsAffected(), nil
}

// RunSweeper deletes expired keys every interval until ctx is cancelled.
func (l *Ledger) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := l.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					mylogger.Warn(ctx, l.logger, "Dedup sweep failed", zap.Error(err))
				}
				continue
			}

			if removed > 0 {
				mylogger.Info(ctx, l.logger, "Expired idempotency keys removed", zap.Int64("count", removed))
			}
		}
	}
}

// Process runs action inside a transaction that first claims key. A key that
// is already claimed makes Process a no-op. Errors from action roll back
// both the claim and whatever action wrote through tx.
func (l *Ledger) Process(ctx context.Context, key string, action func(ctx context.Context, tx pgx.Tx) error) (bool, error) {
	span := trace.SpanFromContext(ctx)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(shutdownCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				shutdownCtx,
				l.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	claimed, err := l.Claim(ctx, tx, key)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	if !claimed {
		mylogger.Info(
			ctx,
			l.logger,
			"Event already processed, skipping",
			zap.String("event_key", key),
		)

		return false, nil
	}

	if err := action(ctx, tx); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			l.logger,
			"Failed to commit transaction",
			zap.Error(err),
		)

		return false, fmt.Errorf("commit processed event: %w", err)
	}

	return true, nil
}
