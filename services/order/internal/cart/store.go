package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Store interface {
	Get(ctx context.Context, buyerID string) (*Cart, error)
	Update(ctx context.Context, buyerID string, fn func(cart *Cart) error) (*Cart, error)
	Delete(ctx context.Context, buyerID string) error
}

// RedisStore keeps one JSON snapshot per buyer. Writes are check-and-set:
// the key is watched while the snapshot is read and modified, and the write
// is retried from a fresh read when another writer got there first.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries int
	tracer     trace.Tracer
	logger     *zap.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, maxRetries int, tracer trace.Tracer, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}

	return &RedisStore{
		client:     client,
		ttl:        ttl,
		maxRetries: maxRetries,
		tracer:     tracer,
		logger:     logger,
	}
}

func (s *RedisStore) Get(ctx context.Context, buyerID string) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "CartStore.Get")
	defer span.End()

	span.SetAttributes(attribute.String("buyer_id", buyerID))

	return read(ctx, s.client, buyerID)
}

func (s *RedisStore) Update(ctx context.Context, buyerID string, fn func(cart *Cart) error) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "CartStore.Update")
	defer span.End()

	span.SetAttributes(attribute.String("buyer_id", buyerID))

	key := cartKey(buyerID)

	var updated *Cart
	txf := func(tx *redis.Tx) error {
		cart, err := read(ctx, tx, buyerID)
		if err != nil {
			return err
		}

		if err := fn(cart); err != nil {
			return err
		}

		cart.Recalculate()
		cart.Version++
		cart.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(cart)
		if err != nil {
			return fmt.Errorf("marshal cart failed: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		updated = cart
		return nil
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			span.SetAttributes(attribute.Int64("cart.version", updated.Version))
			return updated, nil
		}

		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}

		mylogger.Debug(
			ctx,
			s.logger,
			"Cart write conflict, retrying",
			zap.String("buyer_id", buyerID),
			zap.Int("attempt", attempt),
		)
	}

	span.RecordError(ErrCartConflict)
	return nil, ErrCartConflict
}

func (s *RedisStore) Delete(ctx context.Context, buyerID string) error {
	ctx, span := s.tracer.Start(ctx, "CartStore.Delete")
	defer span.End()

	if err := s.client.Del(ctx, cartKey(buyerID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis delete failed: %w", err)
	}

	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func read(ctx context.Context, cmd getter, buyerID string) (*Cart, error) {
	data, err := cmd.Get(ctx, cartKey(buyerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return newCart(buyerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []Item{}
	}

	return &cart, nil
}

func cartKey(buyerID string) string {
	return fmt.Sprintf("cart:%s", buyerID)
}
