package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/order-saga/pkg/outbox/domain"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
	"github.com/sakashimaa/order-saga/services/product/internal/domain"
	"github.com/sakashimaa/order-saga/services/product/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrProductNotFound = repository.ErrProductNotFound
	ErrInvalidProduct  = errors.New("invalid product")
)

type ProductService interface {
	Create(ctx context.Context, product *domain.Product) error
	// Update replaces the catalog fields of a live product. Orders keep the
	// prices they were placed at.
	Update(ctx context.Context, product *domain.Product) error
	// Delete hides the product from the catalog and from stock mutations.
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context, page, pageSize int, search string) ([]domain.Product, int, error)
	// DecreaseStock reports false without mutating anything when the product
	// is unknown or holds less than quantity.
	DecreaseStock(ctx context.Context, id string, quantity int) (bool, error)
	// ReserveOrderStock decrements stock once per order line. Lines that cannot
	// be reserved are skipped; only infrastructure failures are returned.
	ReserveOrderStock(ctx context.Context, event *generalDomain.OrderCreatedEvent) ([]domain.StockChange, error)
	// ReleaseOrderStock restores the lines a prior reservation actually took.
	ReleaseOrderStock(ctx context.Context, event *generalDomain.OrderCancelledEvent) ([]domain.StockChange, error)
}

// Ledger drops redelivered events. Its keys expire, so whether a line's stock
// was taken is read from the reservation rows instead.
type Ledger interface {
	Process(ctx context.Context, key string, action func(ctx context.Context, tx pgx.Tx) error) (bool, error)
}

type productService struct {
	pool            *pgxpool.Pool
	productRepo     repository.ProductRepository
	reservationRepo repository.ReservationRepository
	outboxRepo      worker.OutboxRepository
	ledger          Ledger
	tracer          trace.Tracer
	logger          *zap.Logger
}

func NewProductService(
	pool *pgxpool.Pool,
	productRepo repository.ProductRepository,
	reservationRepo repository.ReservationRepository,
	outboxRepo worker.OutboxRepository,
	ledger Ledger,
	tracer trace.Tracer,
	logger *zap.Logger,
) ProductService {
	return &productService{
		pool:            pool,
		productRepo:     productRepo,
		reservationRepo: reservationRepo,
		outboxRepo:      outboxRepo,
		ledger:          ledger,
		tracer:          tracer,
		logger:          logger,
	}
}

func reserveKey(orderID fmt.Stringer, lineID int64) string {
	return fmt.Sprintf("stock:reserve:%s:%d", orderID, lineID)
}

func releaseKey(orderID fmt.Stringer, lineID int64) string {
	return fmt.Sprintf("stock:release:%s:%d", orderID, lineID)
}

func (s *productService) Create(ctx context.Context, product *domain.Product) error {
	ctx, span := s.tracer.Start(ctx, "ProductService.Create")
	defer span.End()

	if !validProduct(product) {
		return ErrInvalidProduct
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.productRepo.Create(ctx, tx, product); err != nil {
			return err
		}

		return s.emitProductUpdated(ctx, tx, product, false)
	})
}

func (s *productService) Update(ctx context.Context, product *domain.Product) error {
	ctx, span := s.tracer.Start(ctx, "ProductService.Update")
	defer span.End()

	span.SetAttributes(attribute.String("product_id", product.ID))

	if !validProduct(product) {
		return ErrInvalidProduct
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := s.productRepo.GetForUpdate(ctx, tx, product.ID)
		if err != nil {
			return err
		}

		if err := s.productRepo.Update(ctx, tx, product); err != nil {
			return err
		}

		if current.StockQuantity != product.StockQuantity {
			change := domain.StockChange{
				ProductID: product.ID,
				OldStock:  current.StockQuantity,
				NewStock:  product.StockQuantity,
				Delta:     product.StockQuantity - current.StockQuantity,
			}
			if err := s.emitStockChanged(ctx, tx, change, product.UpdatedAt); err != nil {
				return err
			}
		}

		return s.emitProductUpdated(ctx, tx, product, false)
	})
	if err != nil {
		if !errors.Is(err, repository.ErrProductNotFound) {
			span.RecordError(err)
		}
		return err
	}

	mylogger.Info(ctx, s.logger, "Product updated", zap.String("product_id", product.ID))

	return nil
}

func (s *productService) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "ProductService.Delete")
	defer span.End()

	span.SetAttributes(attribute.String("product_id", id))

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		product, err := s.productRepo.SoftDelete(ctx, tx, id)
		if err != nil {
			return err
		}

		return s.emitProductUpdated(ctx, tx, product, true)
	})
	if err != nil {
		if !errors.Is(err, repository.ErrProductNotFound) {
			span.RecordError(err)
		}
		return err
	}

	mylogger.Info(ctx, s.logger, "Product deleted", zap.String("product_id", id))

	return nil
}

func validProduct(product *domain.Product) bool {
	return product.ID != "" && product.Name != "" && !product.Price.IsNegative() && product.StockQuantity >= 0
}

func (s *productService) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.FindByID")
	defer span.End()

	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "Product not found", zap.String("product_id", id))
			return nil, err
		}

		span.RecordError(err)
		return nil, fmt.Errorf("error getting product by id: %w", err)
	}

	return product, nil
}

func (s *productService) List(ctx context.Context, page, pageSize int, search string) ([]domain.Product, int, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.List")
	defer span.End()

	page, pageSize = ClampPage(page, pageSize)

	products, total, err := s.productRepo.List(ctx, pageSize, (page-1)*pageSize, search)
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("error listing products: %w", err)
	}

	return products, total, nil
}

// ClampPage returns the page and page size List actually serves.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}

	switch {
	case pageSize <= 0:
		pageSize = 20
	case pageSize > 100:
		pageSize = 100
	}

	return page, pageSize
}

func (s *productService) DecreaseStock(ctx context.Context, id string, quantity int) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.DecreaseStock")
	defer span.End()

	var change *domain.StockChange

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		change, err = s.decreaseInTx(ctx, tx, id, quantity)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	return change != nil, nil
}

func (s *productService) ReserveOrderStock(ctx context.Context, event *generalDomain.OrderCreatedEvent) ([]domain.StockChange, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.ReserveOrderStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", event.OrderID.String()),
		attribute.Int("lines", len(event.Items)),
	)

	var changes []domain.StockChange

	for _, line := range event.Items {
		var change *domain.StockChange

		_, err := s.ledger.Process(ctx, reserveKey(event.OrderID, line.LineID), func(ctx context.Context, tx pgx.Tx) error {
			opened, err := s.reservationRepo.Open(ctx, tx, &domain.Reservation{
				OrderID:   event.OrderID,
				LineID:    line.LineID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Status:    domain.ReservationPending,
			})
			if err != nil {
				return err
			}
			if !opened {
				mylogger.Info(
					ctx,
					s.logger,
					"Line already settled, reservation skipped",
					zap.String("order_id", event.OrderID.String()),
					zap.Int64("line_id", line.LineID),
				)
				return nil
			}

			change, err = s.decreaseInTx(ctx, tx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}

			status := domain.ReservationApplied
			if change == nil {
				status = domain.ReservationRejected
			}

			return s.reservationRepo.SetStatus(ctx, tx, event.OrderID, line.LineID, status)
		})
		if err != nil {
			span.RecordError(err)
			return changes, fmt.Errorf("reserve line %d of order %s: %w", line.LineID, event.OrderID, err)
		}

		if change == nil {
			continue
		}

		changes = append(changes, *change)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order stock reserved",
		zap.String("order_id", event.OrderID.String()),
		zap.Int("lines", len(event.Items)),
		zap.Int("applied", len(changes)),
	)

	return changes, nil
}

func (s *productService) ReleaseOrderStock(ctx context.Context, event *generalDomain.OrderCancelledEvent) ([]domain.StockChange, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.ReleaseOrderStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", event.OrderID.String()),
		attribute.Int("lines", len(event.Items)),
	)

	var changes []domain.StockChange

	for _, line := range event.Items {
		var change *domain.StockChange

		_, err := s.ledger.Process(ctx, releaseKey(event.OrderID, line.LineID), func(ctx context.Context, tx pgx.Tx) error {
			// A cancellation that overtakes its reservation leaves a voided row,
			// so the late reservation becomes a no-op.
			voided, err := s.reservationRepo.Open(ctx, tx, &domain.Reservation{
				OrderID:   event.OrderID,
				LineID:    line.LineID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Status:    domain.ReservationVoided,
			})
			if err != nil {
				return err
			}
			if voided {
				mylogger.Info(
					ctx,
					s.logger,
					"Cancellation arrived before reservation, reservation voided",
					zap.String("order_id", event.OrderID.String()),
					zap.Int64("line_id", line.LineID),
				)
				return nil
			}

			reservation, err := s.reservationRepo.GetForUpdate(ctx, tx, event.OrderID, line.LineID)
			if err != nil {
				return err
			}
			if reservation.Status != domain.ReservationApplied {
				return nil
			}

			change, err = s.increaseInTx(ctx, tx, reservation.ProductID, reservation.Quantity)
			if err != nil {
				return err
			}

			return s.reservationRepo.SetStatus(ctx, tx, event.OrderID, line.LineID, domain.ReservationReleased)
		})
		if err != nil {
			span.RecordError(err)
			return changes, fmt.Errorf("release line %d of order %s: %w", line.LineID, event.OrderID, err)
		}

		if change != nil {
			changes = append(changes, *change)
		}
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order stock released",
		zap.String("order_id", event.OrderID.String()),
		zap.Int("restored", len(changes)),
	)

	return changes, nil
}

// decreaseInTx returns a nil change when the product is missing or short on stock.
func (s *productService) decreaseInTx(ctx context.Context, tx pgx.Tx, id string, quantity int) (*domain.StockChange, error) {
	if quantity <= 0 {
		mylogger.Warn(ctx, s.logger, "Ignoring non-positive stock decrease", zap.String("product_id", id), zap.Int("quantity", quantity))
		return nil, nil
	}

	product, err := s.productRepo.GetForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "Product not found, stock unchanged", zap.String("product_id", id))
			return nil, nil
		}
		return nil, err
	}

	if product.StockQuantity < quantity {
		mylogger.Warn(
			ctx,
			s.logger,
			"Insufficient stock",
			zap.String("product_id", id),
			zap.Int("stock_quantity", product.StockQuantity),
			zap.Int("requested", quantity),
		)
		return nil, nil
	}

	return s.applyStock(ctx, tx, product, -quantity)
}

func (s *productService) increaseInTx(ctx context.Context, tx pgx.Tx, id string, quantity int) (*domain.StockChange, error) {
	if quantity <= 0 {
		return nil, nil
	}

	product, err := s.productRepo.GetForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "Product not found, nothing to restore", zap.String("product_id", id))
			return nil, nil
		}
		return nil, err
	}

	return s.applyStock(ctx, tx, product, quantity)
}

func (s *productService) applyStock(ctx context.Context, tx pgx.Tx, product *domain.Product, delta int) (*domain.StockChange, error) {
	change := &domain.StockChange{
		ProductID: product.ID,
		OldStock:  product.StockQuantity,
		NewStock:  product.StockQuantity + delta,
		Delta:     delta,
	}

	if err := s.productRepo.SetStock(ctx, tx, product.ID, change.NewStock); err != nil {
		return nil, err
	}

	product.StockQuantity = change.NewStock
	product.UpdatedAt = time.Now().UTC()

	if err := s.emitStockChanged(ctx, tx, *change, product.UpdatedAt); err != nil {
		return nil, err
	}

	if err := s.emitProductUpdated(ctx, tx, product, false); err != nil {
		return nil, err
	}

	return change, nil
}

func (s *productService) emitStockChanged(ctx context.Context, tx pgx.Tx, change domain.StockChange, at time.Time) error {
	event, err := outboxDomain.NewOutboxEvent(
		"Product",
		change.ProductID,
		generalDomain.ExchangeProduct,
		generalDomain.RoutingStockChanged,
		generalDomain.StockChangedEvent{
			ProductID: change.ProductID,
			OldStock:  change.OldStock,
			NewStock:  change.NewStock,
			Quantity:  change.Delta,
			ChangedAt: at,
		},
	)
	if err != nil {
		return err
	}

	return s.outboxRepo.SaveOutboxEvent(ctx, tx, event)
}

func (s *productService) emitProductUpdated(ctx context.Context, tx pgx.Tx, product *domain.Product, deleted bool) error {
	event, err := outboxDomain.NewOutboxEvent(
		"Product",
		product.ID,
		generalDomain.ExchangeProduct,
		generalDomain.RoutingProductUpdated,
		generalDomain.ProductUpdatedEvent{
			ProductID:     product.ID,
			Name:          product.Name,
			Price:         product.Price,
			StockQuantity: product.StockQuantity,
			Deleted:       deleted,
			UpdatedAt:     product.UpdatedAt,
		},
	)
	if err != nil {
		return err
	}

	return s.outboxRepo.SaveOutboxEvent(ctx, tx, event)
}

func (s *productService) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(ctx, s.logger, "Error starting transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(cleanupCtx, s.logger, "Error rolling back transaction", zap.Error(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Error committing transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
