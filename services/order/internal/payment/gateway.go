package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/services/order/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrDeclined = errors.New("payment declined")

// Gateway charges an order. It returns the transaction reference on success.
type Gateway interface {
	Charge(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, method domain.PaymentMethod) (string, error)
}

// Simulator approves every charge immediately.
type Simulator struct {
	tracer trace.Tracer
}

func NewSimulator(tracer trace.Tracer) *Simulator {
	return &Simulator{tracer: tracer}
}

func (s *Simulator) Charge(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, method domain.PaymentMethod) (string, error) {
	_, span := s.tracer.Start(ctx, "PaymentSimulator.Charge")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID.String()),
		attribute.String("amount", amount.StringFixed(2)),
		attribute.String("method", string(method)),
	)

	if amount.IsNegative() {
		return "", ErrDeclined
	}

	return "TXN-" + uuid.NewString(), nil
}
