package kafka

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	UserRegisteredQueue = "notification.user.registered"
	OrderCreatedQueue   = "notification.order.created"
	OrderCancelledQueue = "notification.order.cancelled"
	PasswordResetQueue  = "notification.password.reset"
)

type Service interface {
	HandleUserRegistered(ctx context.Context, messageID string, event *generalDomain.UserRegisteredEvent) (bool, error)
	HandleOrderCreated(ctx context.Context, messageID string, event *generalDomain.OrderCreatedEvent) (bool, error)
	HandleOrderCancelled(ctx context.Context, messageID string, event *generalDomain.OrderCancelledEvent) (bool, error)
	HandlePasswordResetRequested(ctx context.Context, messageID string, event *generalDomain.PasswordResetRequestedEvent) (bool, error)
}

// Subscriptions lists one queue per notified event.
func Subscriptions() []kafka.Subscription {
	return []kafka.Subscription{
		{Queue: UserRegisteredQueue, Exchange: generalDomain.ExchangeUser, RoutingKeys: []string{generalDomain.RoutingUserRegistered}},
		{Queue: OrderCreatedQueue, Exchange: generalDomain.ExchangeOrder, RoutingKeys: []string{generalDomain.RoutingOrderCreated}},
		{Queue: OrderCancelledQueue, Exchange: generalDomain.ExchangeOrder, RoutingKeys: []string{generalDomain.RoutingOrderCancelled}},
		{Queue: PasswordResetQueue, Exchange: generalDomain.ExchangeUser, RoutingKeys: []string{generalDomain.RoutingPasswordResetRequested}},
	}
}

type Consumer struct {
	service Service
	logger  *zap.Logger
}

func NewConsumer(service Service, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

func (c *Consumer) Handle(ctx context.Context, d *kafka.Delivery) error {
	mylogger.Info(
		ctx,
		c.logger,
		"Processing message",
		zap.String("routing_key", d.RoutingKey),
		zap.String("message_id", d.MessageID),
		zap.Int("delivery_count", d.DeliveryCount),
	)

	key := d.IdempotencyKey()

	var err error
	switch d.RoutingKey {
	case generalDomain.RoutingUserRegistered:
		var event generalDomain.UserRegisteredEvent
		if err := d.Decode(&event); err != nil {
			return c.malformed(ctx, err)
		}
		_, err = c.service.HandleUserRegistered(ctx, key, &event)
	case generalDomain.RoutingOrderCreated:
		var event generalDomain.OrderCreatedEvent
		if err := d.Decode(&event); err != nil {
			return c.malformed(ctx, err)
		}
		_, err = c.service.HandleOrderCreated(ctx, key, &event)
	case generalDomain.RoutingOrderCancelled:
		var event generalDomain.OrderCancelledEvent
		if err := d.Decode(&event); err != nil {
			return c.malformed(ctx, err)
		}
		_, err = c.service.HandleOrderCancelled(ctx, key, &event)
	case generalDomain.RoutingPasswordResetRequested:
		var event generalDomain.PasswordResetRequestedEvent
		if err := d.Decode(&event); err != nil {
			return c.malformed(ctx, err)
		}
		_, err = c.service.HandlePasswordResetRequested(ctx, key, &event)
	default:
		return backoff.Permanent(fmt.Errorf("unexpected routing key %q", d.RoutingKey))
	}

	if err != nil {
		mylogger.Warn(
			ctx,
			c.logger,
			"Error processing notification event",
			zap.String("routing_key", d.RoutingKey),
			zap.Error(err),
		)
		return err
	}

	return nil
}

func (c *Consumer) malformed(ctx context.Context, err error) error {
	mylogger.Warn(ctx, c.logger, "Error unmarshalling event structure", zap.Error(err))
	return backoff.Permanent(err)
}

// Run consumes every notification queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, brokers []string, opts kafka.ConsumerOptions) error {
	g, gCtx := errgroup.WithContext(ctx)

	for _, sub := range Subscriptions() {
		group := kafka.NewConsumerGroup(brokers, sub, c.Handle, opts, c.logger)
		g.Go(func() error {
			return group.Run(gCtx)
		})
	}

	return g.Wait()
}
