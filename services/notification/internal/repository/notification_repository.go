package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/services/notification/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrNotificationNotFound = errors.New("notification not found")

type NotificationRepository interface {
	Create(ctx context.Context, tx pgx.Tx, n *domain.Notification) error
	UpdateStatus(ctx context.Context, tx pgx.Tx, n *domain.Notification) error
	GetByID(ctx context.Context, id int64) (*domain.Notification, error)
	ListByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]domain.Notification, error)
}

type notificationRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewNotificationRepository(pool *pgxpool.Pool, tracer trace.Tracer, logger *zap.Logger) NotificationRepository {
	return &notificationRepo{
		pool:   pool,
		tracer: tracer,
		logger: logger,
	}
}

const notificationColumns = `
	id, user_id, COALESCE(email, ''), COALESCE(phone_number, ''), type, template_name, subject, body,
	status, retry_count, max_retries, error_message, COALESCE(reference_id, ''), COALESCE(reference_type, ''),
	created_at, sent_at, updated_at
`

// Create stores n as pending and fills in its id and timestamps.
func (r *notificationRepo) Create(ctx context.Context, tx pgx.Tx, n *domain.Notification) error {
	ctx, span := r.tracer.Start(ctx, "NotificationRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", n.UserID),
		attribute.String("template", n.TemplateName),
		attribute.String("channel", string(n.Type)),
	)

	if n.MaxRetries <= 0 {
		n.MaxRetries = domain.DefaultMaxRetries
	}
	n.Status = domain.StatusPending

	query := `
		INSERT INTO notifications (
			user_id, email, phone_number, type, template_name, subject, body,
			status, retry_count, max_retries, reference_id, reference_type
		)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, 0, $9, NULLIF($10, ''), NULLIF($11, ''))
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		n.UserID,
		n.Email,
		n.PhoneNumber,
		string(n.Type),
		n.TemplateName,
		n.Subject,
		n.Body,
		string(n.Status),
		n.MaxRetries,
		n.ReferenceID,
		string(n.ReferenceType),
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Error inserting notification",
			zap.String("template", n.TemplateName),
			zap.Error(err),
		)

		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

func (r *notificationRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, n *domain.Notification) error {
	ctx, span := r.tracer.Start(ctx, "NotificationRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("notification_id", n.ID),
		attribute.String("status", string(n.Status)),
	)

	query := `
		UPDATE notifications
		SET status = $2, retry_count = $3, error_message = $4, sent_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := tx.QueryRow(ctx, query, n.ID, string(n.Status), n.RetryCount, n.ErrorMessage, n.SentAt).
		Scan(&n.UpdatedAt)
	if err != nil {
		span.RecordError(err)

		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotificationNotFound
		}

		return fmt.Errorf("update notification status: %w", err)
	}

	return nil
}

func (r *notificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	ctx, span := r.tracer.Start(ctx, "NotificationRepository.GetByID")
	defer span.End()

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("get notification: %w", err)
	}

	return n, nil
}

func (r *notificationRepo) ListByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]domain.Notification, error) {
	ctx, span := r.tracer.Start(ctx, "NotificationRepository.ListByReference")
	defer span.End()

	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, string(refType), refID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}

		result = append(result, *n)
	}

	return result, rows.Err()
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n       domain.Notification
		channel string
		status  string
		refType string
	)

	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Email,
		&n.PhoneNumber,
		&channel,
		&n.TemplateName,
		&n.Subject,
		&n.Body,
		&status,
		&n.RetryCount,
		&n.MaxRetries,
		&n.ErrorMessage,
		&n.ReferenceID,
		&refType,
		&n.CreatedAt,
		&n.SentAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Type = domain.Channel(channel)
	n.Status = domain.Status(status)
	n.ReferenceType = domain.ReferenceType(refType)

	return &n, nil
}
