package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/services/product/internal/domain"
	"github.com/sakashimaa/order-saga/services/product/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingService struct {
	service.ProductService

	reserved []*generalDomain.OrderCreatedEvent
	released []*generalDomain.OrderCancelledEvent
	err      error
}

func (r *recordingService) ReserveOrderStock(_ context.Context, event *generalDomain.OrderCreatedEvent) ([]domain.StockChange, error) {
	r.reserved = append(r.reserved, event)
	return nil, r.err
}

func (r *recordingService) ReleaseOrderStock(_ context.Context, event *generalDomain.OrderCancelledEvent) ([]domain.StockChange, error) {
	r.released = append(r.released, event)
	return nil, r.err
}

func delivery(t *testing.T, routingKey string, payload any) *kafka.Delivery {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	return &kafka.Delivery{
		Message: kafka.Message{
			Exchange:   generalDomain.ExchangeOrder,
			RoutingKey: routingKey,
			MessageID:  uuid.NewString(),
			Payload:    data,
		},
		DeliveryCount: 1,
	}
}

func TestHandle_OrderCreatedReservesStock(t *testing.T) {
	svc := &recordingService{}
	consumer := NewConsumer(svc, zap.NewNop())
	orderID := uuid.New()

	err := consumer.Handle(context.Background(), delivery(t, generalDomain.RoutingOrderCreated, generalDomain.OrderCreatedEvent{
		OrderID: orderID,
		Items:   []generalDomain.OrderLine{{LineID: 1, ProductID: "p-1", Quantity: 2}},
	}))

	require.NoError(t, err)
	require.Len(t, svc.reserved, 1)
	assert.Equal(t, orderID, svc.reserved[0].OrderID)
	assert.Equal(t, "p-1", svc.reserved[0].Items[0].ProductID)
}

func TestHandle_OrderCancelledReleasesStock(t *testing.T) {
	svc := &recordingService{}
	consumer := NewConsumer(svc, zap.NewNop())

	err := consumer.Handle(context.Background(), delivery(t, generalDomain.RoutingOrderCancelled, generalDomain.OrderCancelledEvent{
		OrderID: uuid.New(),
		Reason:  generalDomain.DefaultCancellationReason,
	}))

	require.NoError(t, err)
	assert.Len(t, svc.released, 1)
	assert.Empty(t, svc.reserved)
}

func TestHandle_MalformedPayloadIsPermanent(t *testing.T) {
	consumer := NewConsumer(&recordingService{}, zap.NewNop())

	d := delivery(t, generalDomain.RoutingOrderCreated, nil)
	d.Payload = []byte("{broken")

	err := consumer.Handle(context.Background(), d)

	var permanent *backoff.PermanentError
	require.ErrorAs(t, err, &permanent)
}

func TestHandle_ServiceErrorIsRetryable(t *testing.T) {
	boom := errors.New("db down")
	consumer := NewConsumer(&recordingService{err: boom}, zap.NewNop())

	err := consumer.Handle(context.Background(), delivery(t, generalDomain.RoutingOrderCreated, generalDomain.OrderCreatedEvent{OrderID: uuid.New()}))

	require.ErrorIs(t, err, boom)

	var permanent *backoff.PermanentError
	assert.False(t, errors.As(err, &permanent))
}

func TestStockSubscription(t *testing.T) {
	sub := StockSubscription()

	assert.Equal(t, "product-stock-management", sub.Queue)
	assert.Equal(t, generalDomain.ExchangeOrder, sub.Exchange)
	assert.ElementsMatch(t, []string{"order.created", "order.cancelled"}, sub.RoutingKeys)
	assert.Equal(t, "product-stock-management.dlq", sub.DeadLetterTopic())
}
