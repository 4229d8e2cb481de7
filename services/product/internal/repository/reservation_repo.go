package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/services/product/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ReservationRepository interface {
	// Open records the reservation and reports false when the line already
	// has one. A concurrent Open on the same line waits for the other tx.
	Open(ctx context.Context, tx pgx.Tx, reservation *domain.Reservation) (bool, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, lineID int64) (*domain.Reservation, error)
	SetStatus(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, lineID int64, status domain.ReservationStatus) error
}

type reservationRepo struct {
	tracer trace.Tracer
	logger *zap.Logger
}

func NewReservationRepository(tracer trace.Tracer, logger *zap.Logger) ReservationRepository {
	return &reservationRepo{
		tracer: tracer,
		logger: logger,
	}
}

func (r *reservationRepo) Open(ctx context.Context, tx pgx.Tx, reservation *domain.Reservation) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.Open")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", reservation.OrderID.String()),
		attribute.Int64("line_id", reservation.LineID),
		attribute.String("status", string(reservation.Status)),
	)

	query := `
		INSERT INTO stock_reservations (order_id, line_id, product_id, quantity, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, line_id) DO NOTHING
	`

	tag, err := tx.Exec(
		ctx,
		query,
		reservation.OrderID,
		reservation.LineID,
		reservation.ProductID,
		reservation.Quantity,
		string(reservation.Status),
	)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error opening reservation",
			zap.String("order_id", reservation.OrderID.String()),
			zap.Int64("line_id", reservation.LineID),
			zap.Error(err),
		)

		return false, fmt.Errorf("open reservation %s/%d: %w", reservation.OrderID, reservation.LineID, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *reservationRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, lineID int64) (*domain.Reservation, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.GetForUpdate")
	defer span.End()

	query := `
		SELECT order_id, line_id, product_id, quantity, status, created_at, updated_at
		FROM stock_reservations
		WHERE order_id = $1 AND line_id = $2
		FOR UPDATE
	`

	var (
		res    domain.Reservation
		status string
	)

	err := tx.QueryRow(ctx, query, orderID, lineID).Scan(
		&res.OrderID,
		&res.LineID,
		&res.ProductID,
		&res.Quantity,
		&status,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("get reservation %s/%d: %w", orderID, lineID, err)
	}

	res.Status = domain.ReservationStatus(status)

	return &res, nil
}

func (r *reservationRepo) SetStatus(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, lineID int64, status domain.ReservationStatus) error {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.SetStatus")
	defer span.End()

	span.SetAttributes(attribute.String("status", string(status)))

	tag, err := tx.Exec(
		ctx,
		`UPDATE stock_reservations SET status = $3, updated_at = NOW() WHERE order_id = $1 AND line_id = $2`,
		orderID,
		lineID,
		string(status),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("set reservation %s/%d status: %w", orderID, lineID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}

	return nil
}
