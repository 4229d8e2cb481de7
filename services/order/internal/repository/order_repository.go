package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/services/order/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	UpdateStatuses(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	// GetForUpdate locks the order row. An empty buyerID skips the ownership check.
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, buyerID string) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, buyerID string) (*domain.Order, error)
	ListOrders(ctx context.Context, buyerID string, limit, offset int) ([]domain.Order, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, tracer trace.Tracer, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: tracer,
	}
}

const orderColumns = `
	id, buyer_id, status, total_amount::text, contact_email, contact_name, contact_phone,
	cancellation_reason, created_at, updated_at
`

func (r *orderRepo) CreateOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID.String()),
		attribute.String("buyer_id", order.BuyerID),
		attribute.Int("items_count", len(order.Items)),
	)

	queryOrder := `
		INSERT INTO orders (id, buyer_id, status, total_amount, contact_email, contact_name, contact_phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	if err := tx.QueryRow(
		ctx,
		queryOrder,
		order.ID,
		order.BuyerID,
		string(order.Status),
		order.TotalAmount.StringFixed(2),
		order.Contact.Email,
		order.Contact.UserName,
		order.Contact.PhoneNumber,
	).Scan(
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		span.RecordError(err)

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrOrderAlreadyExists
		}

		mylogger.Warn(
			ctx,
			r.logger,
			"Failed to insert order",
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5::numeric)
		RETURNING id
	`

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		if err := tx.QueryRow(
			ctx,
			queryItem,
			order.ID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice.StringFixed(2),
		).Scan(&item.ID); err != nil {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				r.logger,
				"Failed to insert item",
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)

			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if order.Payment == nil {
		return nil
	}

	queryPayment := `
		INSERT INTO payments (order_id, amount, method, status, transaction_ref, created_at, updated_at)
		VALUES ($1, $2::numeric, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	payment := order.Payment
	payment.OrderID = order.ID

	if err := tx.QueryRow(
		ctx,
		queryPayment,
		order.ID,
		payment.Amount.StringFixed(2),
		string(payment.Method),
		string(payment.Status),
		payment.TransactionRef,
	).Scan(
		&payment.ID,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert payment",
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert payment: %w", err)
	}

	return nil
}

func (r *orderRepo) UpdateStatuses(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateStatuses")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID.String()),
		attribute.String("status", string(order.Status)),
	)

	query := `
		UPDATE orders
		SET status = $1, cancellation_reason = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at
	`

	if err := tx.QueryRow(ctx, query, string(order.Status), order.CancellationReason, order.ID).Scan(&order.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			mylogger.Warn(
				ctx,
				r.logger,
				"Order not found",
				zap.String("order_id", order.ID.String()),
			)

			return ErrOrderNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to update order",
			zap.Error(err),
		)

		return fmt.Errorf("failed to update order: %w", err)
	}

	if order.Payment == nil {
		return nil
	}

	queryPayment := `
		UPDATE payments
		SET status = $1, transaction_ref = $2, updated_at = NOW()
		WHERE order_id = $3
		RETURNING updated_at
	`

	if err := tx.QueryRow(
		ctx,
		queryPayment,
		string(order.Payment.Status),
		order.Payment.TransactionRef,
		order.ID,
	).Scan(&order.Payment.UpdatedAt); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to update payment",
			zap.Error(err),
		)

		return fmt.Errorf("failed to update payment: %w", err)
	}

	return nil
}

func (r *orderRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, buyerID string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetForUpdate")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID.String()))

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1 AND ($2 = '' OR buyer_id = $2)
		FOR UPDATE
	`

	order, err := scanOrder(tx.QueryRow(ctx, query, orderID, buyerID))
	if err != nil {
		if !errors.Is(err, ErrOrderNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}

	if err := r.loadDetails(ctx, tx, []*domain.Order{order}); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return order, nil
}

func (r *orderRepo) GetOrder(ctx context.Context, orderID uuid.UUID, buyerID string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID.String()),
		attribute.String("buyer_id", buyerID),
	)

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1 AND buyer_id = $2
	`

	order, err := scanOrder(r.pool.QueryRow(ctx, query, orderID, buyerID))
	if err != nil {
		return nil, err
	}

	if err := r.loadDetails(ctx, r.pool, []*domain.Order{order}); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return order, nil
}

func (r *orderRepo) ListOrders(ctx context.Context, buyerID string, limit, offset int) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListOrders")
	defer span.End()

	span.SetAttributes(
		attribute.String("buyer_id", buyerID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, buyerID, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	if err := r.loadDetails(ctx, r.pool, orders); err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, *order)
	}

	return result, nil
}

// loadDetails fills items and payment for every order with one query each.
func (r *orderRepo) loadDetails(ctx context.Context, q querier, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		order.Items = []domain.OrderItem{}
		byID[order.ID] = order
		ids = append(ids, order.ID.String())
	}

	itemRows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price::text
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			item  domain.OrderItem
			price string
		)
		if err := itemRows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &price); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}

		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("invalid unit price %q: %w", price, err)
		}

		order := byID[item.OrderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return fmt.Errorf("error iterating order items: %w", err)
	}

	paymentRows, err := q.Query(ctx, `
		SELECT id, order_id, amount::text, method, status, transaction_ref, created_at, updated_at
		FROM payments
		WHERE order_id = ANY($1::uuid[])
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to query payments: %w", err)
	}
	defer paymentRows.Close()

	for paymentRows.Next() {
		var (
			payment domain.Payment
			amount  string
		)
		if err := paymentRows.Scan(
			&payment.ID,
			&payment.OrderID,
			&amount,
			&payment.Method,
			&payment.Status,
			&payment.TransactionRef,
			&payment.CreatedAt,
			&payment.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan payment: %w", err)
		}

		if payment.Amount, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("invalid payment amount %q: %w", amount, err)
		}

		byID[payment.OrderID].Payment = &payment
	}

	if err := paymentRows.Err(); err != nil {
		return fmt.Errorf("error iterating payments: %w", err)
	}

	return nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order domain.Order
		total string
	)

	err := row.Scan(
		&order.ID,
		&order.BuyerID,
		&order.Status,
		&total,
		&order.Contact.Email,
		&order.Contact.UserName,
		&order.Contact.PhoneNumber,
		&order.CancellationReason,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	if order.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid order total %q: %w", total, err)
	}

	return &order, nil
}
