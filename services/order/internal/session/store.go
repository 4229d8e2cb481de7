package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

var ErrSessionNotFound = errors.New("session not found or expired")

// Store maps refresh tokens to buyer ids. Tokens expire after ttl.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewStore(client *redis.Client, ttl time.Duration, tracer trace.Tracer) *Store {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	return &Store{
		client: client,
		ttl:    ttl,
		tracer: tracer,
	}
}

func (s *Store) Issue(ctx context.Context, buyerID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "SessionStore.Issue")
	defer span.End()

	token := uuid.NewString()
	if err := s.client.Set(ctx, tokenKey(token), buyerID, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("error saving session: %w", err)
	}

	return token, nil
}

func (s *Store) Resolve(ctx context.Context, token string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "SessionStore.Resolve")
	defer span.End()

	buyerID, err := s.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("error finding session: %w", err)
	}

	return buyerID, nil
}

// Rotate replaces token with a fresh one for the same buyer.
func (s *Store) Rotate(ctx context.Context, token string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "SessionStore.Rotate")
	defer span.End()

	buyerID, err := s.client.GetDel(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("error deleting session: %w", err)
	}

	return s.Issue(ctx, buyerID)
}

func (s *Store) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}

	return nil
}

func tokenKey(token string) string {
	return "refresh_token:" + token
}
