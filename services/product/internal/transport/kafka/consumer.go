package kafka

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/services/product/internal/service"
	"go.uber.org/zap"
)

const StockQueue = "product-stock-management"

// StockSubscription binds the stock queue to order facts.
func StockSubscription() kafka.Subscription {
	return kafka.Subscription{
		Queue:    StockQueue,
		Exchange: generalDomain.ExchangeOrder,
		RoutingKeys: []string{
			generalDomain.RoutingOrderCreated,
			generalDomain.RoutingOrderCancelled,
		},
	}
}

type Consumer struct {
	service service.ProductService
	logger  *zap.Logger
}

func NewConsumer(service service.ProductService, logger *zap.Logger) *Consumer {
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

	switch d.RoutingKey {
	case generalDomain.RoutingOrderCreated:
		var event generalDomain.OrderCreatedEvent
		if err := d.Decode(&event); err != nil {
			mylogger.Warn(ctx, c.logger, "Error unmarshalling event structure", zap.Error(err))
			return backoff.Permanent(err)
		}

		if _, err := c.service.ReserveOrderStock(ctx, &event); err != nil {
			mylogger.Warn(ctx, c.logger, "Error processing order created", zap.Error(err))
			return err
		}
	case generalDomain.RoutingOrderCancelled:
		var event generalDomain.OrderCancelledEvent
		if err := d.Decode(&event); err != nil {
			mylogger.Warn(ctx, c.logger, "Error unmarshalling event structure", zap.Error(err))
			return backoff.Permanent(err)
		}

		if _, err := c.service.ReleaseOrderStock(ctx, &event); err != nil {
			mylogger.Warn(ctx, c.logger, "Error processing order cancelled", zap.Error(err))
			return err
		}
	default:
		return backoff.Permanent(fmt.Errorf("unexpected routing key %q", d.RoutingKey))
	}

	return nil
}

// Run consumes the stock queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, brokers []string, opts kafka.ConsumerOptions) error {
	return kafka.NewConsumerGroup(brokers, StockSubscription(), c.Handle, opts, c.logger).Run(ctx)
}
