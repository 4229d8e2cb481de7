package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/order-saga/pkg/outbox/domain"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
	"github.com/sakashimaa/order-saga/services/order/internal/cart"
	"github.com/sakashimaa/order-saga/services/order/internal/domain"
	"github.com/sakashimaa/order-saga/services/order/internal/payment"
	"github.com/sakashimaa/order-saga/services/order/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type OrderService interface {
	CreateOrder(ctx context.Context, buyerID string, method domain.PaymentMethod, contact domain.ContactInfo) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, buyerID, reason string) error
	CompleteOrder(ctx context.Context, orderID uuid.UUID) error
	GetOrder(ctx context.Context, orderID uuid.UUID, buyerID string) (*domain.Order, error)
	ListOrders(ctx context.Context, buyerID string, page, pageSize int) ([]domain.Order, error)
}

// CartReader is the part of the cart the saga depends on.
type CartReader interface {
	Get(ctx context.Context, buyerID string) (*cart.Cart, error)
	Clear(ctx context.Context, buyerID string) error
}

type orderService struct {
	pool       *pgxpool.Pool
	logger     *zap.Logger
	orderRepo  repository.OrderRepository
	outboxRepo worker.OutboxRepository
	carts      CartReader
	gateway    payment.Gateway
	tracer     trace.Tracer
}

func NewOrderService(
	pool *pgxpool.Pool,
	orderRepo repository.OrderRepository,
	outboxRepo worker.OutboxRepository,
	carts CartReader,
	gateway payment.Gateway,
	tracer trace.Tracer,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		pool:       pool,
		logger:     logger,
		orderRepo:  orderRepo,
		outboxRepo: outboxRepo,
		carts:      carts,
		gateway:    gateway,
		tracer:     tracer,
	}
}

func (s *orderService) CreateOrder(
	ctx context.Context,
	buyerID string,
	method domain.PaymentMethod,
	contact domain.ContactInfo,
) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("buyer_id", buyerID),
		attribute.String("payment_method", string(method)),
	)

	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, method)
	}

	current, err := s.carts.Get(ctx, buyerID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Failed to read cart",
			zap.String("buyer_id", buyerID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	if current.IsEmpty() {
		return nil, ErrEmptyCart
	}

	order := newOrderFromCart(current, method, contact)
	span.SetAttributes(attribute.String("order_id", order.ID.String()))

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
			return err
		}

		ref, err := s.gateway.Charge(ctx, order.ID, order.Payment.Amount, method)
		if err != nil {
			return fmt.Errorf("payment: %w", err)
		}

		order.Payment.Status = domain.PaymentStatusSuccess
		order.Payment.TransactionRef = &ref

		if err := order.TransitionTo(domain.OrderStatusProcessing); err != nil {
			return err
		}

		if err := s.orderRepo.UpdateStatuses(ctx, tx, order); err != nil {
			return err
		}

		return s.emitEvent(ctx, tx, order.ID, generalDomain.RoutingOrderCreated, orderCreatedEvent(order))
	})
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Create order rolled back",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)

		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := s.carts.Clear(ctx, buyerID); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Failed to clear cart after order",
			zap.String("buyer_id", buyerID),
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)

	return order, nil
}

func (s *orderService) CancelOrder(ctx context.Context, orderID uuid.UUID, buyerID, reason string) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID.String()),
		attribute.String("buyer_id", buyerID),
	)

	if reason == "" {
		reason = generalDomain.DefaultCancellationReason
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		order, err := s.orderRepo.GetForUpdate(ctx, tx, orderID, buyerID)
		if err != nil {
			return err
		}

		if err := order.TransitionTo(domain.OrderStatusCancelled); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}

		order.CancellationReason = &reason
		if order.Payment != nil {
			order.Payment.Status = domain.PaymentStatusFailed
		}

		if err := s.orderRepo.UpdateStatuses(ctx, tx, order); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		if err := s.emitEvent(ctx, tx, order.ID, generalDomain.RoutingOrderCancelled, orderCancelledEvent(order, reason)); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInvalidState) {
			mylogger.Warn(
				ctx,
				s.logger,
				"Cancel order rejected",
				zap.String("order_id", orderID.String()),
				zap.Error(err),
			)

			return err
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Cancel order failed",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)

		if !errors.Is(err, ErrPersistence) {
			err = fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		return err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order cancelled",
		zap.String("order_id", orderID.String()),
		zap.String("reason", reason),
	)

	return nil
}

// CompleteOrder marks a processing order as fulfilled. It does not check
// ownership and is served only on the operator route.
func (s *orderService) CompleteOrder(ctx context.Context, orderID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.CompleteOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID.String()))

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		order, err := s.orderRepo.GetForUpdate(ctx, tx, orderID, "")
		if err != nil {
			return err
		}

		if err := order.TransitionTo(domain.OrderStatusCompleted); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}

		return s.orderRepo.UpdateStatuses(ctx, tx, order)
	})
	if err != nil {
		span.RecordError(err)

		mylogger.Warn(
			ctx,
			s.logger,
			"Complete order failed",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)

		return err
	}

	return nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID uuid.UUID, buyerID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.orderRepo.GetOrder(ctx, orderID, buyerID)
}

func (s *orderService) ListOrders(ctx context.Context, buyerID string, page, pageSize int) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	page, pageSize = ClampPage(page, pageSize)

	span.SetAttributes(
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	return s.orderRepo.ListOrders(ctx, buyerID, pageSize, (page-1)*pageSize)
}

// ClampPage returns the page and page size ListOrders actually serves.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}

	switch {
	case pageSize <= 0:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}

	return page, pageSize
}

func (s *orderService) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		if err := tx.Rollback(shutdownCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				shutdownCtx,
				s.logger,
				"Failed to rollback transaction",
				zap.Error(err),
			)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *orderService) emitEvent(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, routingKey string, payload any) error {
	event, err := outboxDomain.NewOutboxEvent("Order", orderID.String(), generalDomain.ExchangeOrder, routingKey, payload)
	if err != nil {
		return err
	}

	if err := s.outboxRepo.SaveOutboxEvent(ctx, tx, event); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to save outbox event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)

		return err
	}

	return nil
}
