package cart

import (
	"context"
	"errors"

	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Service struct {
	store   Store
	catalog Catalog
	tracer  trace.Tracer
	logger  *zap.Logger
}

func NewService(store Store, catalog Catalog, tracer trace.Tracer, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		tracer:  tracer,
		logger:  logger,
	}
}

// Get returns the buyer's cart, or an empty one when nothing is cached.
func (s *Service) Get(ctx context.Context, buyerID string) (*Cart, error) {
	return s.store.Get(ctx, buyerID)
}

// Add puts quantity units of a product into the cart, merging with an existing
// line. Price and name are refreshed from the catalog on every add.
func (s *Service) Add(ctx context.Context, buyerID, productID string, quantity int) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "CartService.Add")
	defer span.End()

	span.SetAttributes(
		attribute.String("buyer_id", buyerID),
		attribute.String("product_id", productID),
		attribute.Int("quantity", quantity),
	)

	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	cart, err := s.store.Update(ctx, buyerID, func(cart *Cart) error {
		idx := cart.find(productID)

		existing := 0
		if idx >= 0 {
			existing = cart.Items[idx].Quantity
		}

		if product.StockQuantity < existing+quantity {
			return ErrInsufficientStock
		}

		if idx < 0 {
			cart.Items = append(cart.Items, Item{
				ProductID:   product.ID,
				ProductName: product.Name,
				UnitPrice:   product.Price,
				Quantity:    quantity,
			})
			return nil
		}

		line := &cart.Items[idx]
		line.Quantity += quantity
		line.ProductName = product.Name
		line.UnitPrice = product.Price
		return nil
	})
	if err != nil {
		s.logRejected(ctx, "add", buyerID, productID, err)
		return nil, err
	}

	return cart, nil
}

// SetQuantity replaces a line's quantity. Zero or less removes the line.
func (s *Service) SetQuantity(ctx context.Context, buyerID, productID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return s.Remove(ctx, buyerID, productID)
	}

	ctx, span := s.tracer.Start(ctx, "CartService.SetQuantity")
	defer span.End()

	span.SetAttributes(
		attribute.String("buyer_id", buyerID),
		attribute.String("product_id", productID),
		attribute.Int("quantity", quantity),
	)

	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	cart, err := s.store.Update(ctx, buyerID, func(cart *Cart) error {
		idx := cart.find(productID)
		if idx < 0 {
			return ErrItemNotInCart
		}

		if product.StockQuantity < quantity {
			return ErrInsufficientStock
		}

		line := &cart.Items[idx]
		line.Quantity = quantity
		line.ProductName = product.Name
		line.UnitPrice = product.Price
		return nil
	})
	if err != nil {
		s.logRejected(ctx, "set_quantity", buyerID, productID, err)
		return nil, err
	}

	return cart, nil
}

func (s *Service) Remove(ctx context.Context, buyerID, productID string) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "CartService.Remove")
	defer span.End()

	span.SetAttributes(
		attribute.String("buyer_id", buyerID),
		attribute.String("product_id", productID),
	)

	cart, err := s.store.Update(ctx, buyerID, func(cart *Cart) error {
		if !cart.remove(productID) {
			return ErrItemNotInCart
		}
		return nil
	})
	if err != nil {
		s.logRejected(ctx, "remove", buyerID, productID, err)
		return nil, err
	}

	return cart, nil
}

func (s *Service) Clear(ctx context.Context, buyerID string) error {
	return s.store.Delete(ctx, buyerID)
}

func (s *Service) logRejected(ctx context.Context, op, buyerID, productID string, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("buyer_id", buyerID),
		zap.String("product_id", productID),
		zap.Error(err),
	}

	if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrItemNotInCart) {
		mylogger.Info(ctx, s.logger, "Cart mutation rejected", fields...)
		return
	}

	mylogger.Warn(ctx, s.logger, "Cart mutation failed", fields...)
}
