package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingService struct {
	calls []string
	keys  []string
	err   error
}

func (r *recordingService) record(call, key string) (bool, error) {
	r.calls = append(r.calls, call)
	r.keys = append(r.keys, key)
	return r.err == nil, r.err
}

func (r *recordingService) HandleUserRegistered(_ context.Context, key string, _ *generalDomain.UserRegisteredEvent) (bool, error) {
	return r.record("registered", key)
}

func (r *recordingService) HandleOrderCreated(_ context.Context, key string, _ *generalDomain.OrderCreatedEvent) (bool, error) {
	return r.record("created", key)
}

func (r *recordingService) HandleOrderCancelled(_ context.Context, key string, _ *generalDomain.OrderCancelledEvent) (bool, error) {
	return r.record("cancelled", key)
}

func (r *recordingService) HandlePasswordResetRequested(_ context.Context, key string, _ *generalDomain.PasswordResetRequestedEvent) (bool, error) {
	return r.record("reset", key)
}

func delivery(routingKey, payload string) *kafka.Delivery {
	return &kafka.Delivery{
		Message: kafka.Message{
			RoutingKey: routingKey,
			MessageID:  "msg-" + routingKey,
			Payload:    []byte(payload),
		},
		DeliveryCount: 1,
	}
}

func TestHandle_RoutesByRoutingKey(t *testing.T) {
	svc := &recordingService{}
	consumer := NewConsumer(svc, zap.NewNop())

	for _, rk := range []string{
		generalDomain.RoutingUserRegistered,
		generalDomain.RoutingOrderCreated,
		generalDomain.RoutingOrderCancelled,
		generalDomain.RoutingPasswordResetRequested,
	} {
		require.NoError(t, consumer.Handle(context.Background(), delivery(rk, `{}`)))
	}

	assert.Equal(t, []string{"registered", "created", "cancelled", "reset"}, svc.calls)
	assert.Equal(t, "msg-"+generalDomain.RoutingOrderCreated, svc.keys[1])
}

func TestHandle_MalformedPayloadIsPermanent(t *testing.T) {
	consumer := NewConsumer(&recordingService{}, zap.NewNop())

	err := consumer.Handle(context.Background(), delivery(generalDomain.RoutingOrderCreated, `{"order_id":`))

	var permanent *backoff.PermanentError
	require.ErrorAs(t, err, &permanent)
}

func TestHandle_UnknownRoutingKeyIsPermanent(t *testing.T) {
	consumer := NewConsumer(&recordingService{}, zap.NewNop())

	err := consumer.Handle(context.Background(), delivery("order.shipped", `{}`))

	var permanent *backoff.PermanentError
	require.ErrorAs(t, err, &permanent)
}

func TestHandle_ServiceErrorIsRetried(t *testing.T) {
	boom := errors.New("db down")
	consumer := NewConsumer(&recordingService{err: boom}, zap.NewNop())

	err := consumer.Handle(context.Background(), delivery(generalDomain.RoutingUserRegistered, `{}`))

	require.ErrorIs(t, err, boom)
	var permanent *backoff.PermanentError
	assert.False(t, errors.As(err, &permanent))
}

func TestSubscriptions_OneQueuePerEvent(t *testing.T) {
	subs := Subscriptions()
	require.Len(t, subs, 4)

	queues := map[string]string{}
	for _, sub := range subs {
		require.Len(t, sub.RoutingKeys, 1)
		queues[sub.Queue] = sub.RoutingKeys[0]
	}

	assert.Equal(t, generalDomain.RoutingPasswordResetRequested, queues[PasswordResetQueue])
	assert.Equal(t, generalDomain.RoutingOrderCancelled, queues[OrderCancelledQueue])
}
