package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HandlerFunc processes one delivery. Returning an error asks for redelivery;
// wrap it with backoff.Permanent to dead-letter the message straight away.
type HandlerFunc func(ctx context.Context, d *Delivery) error

// Subscription is a durable queue: a consumer group on Exchange that only
// accepts messages whose routing key is one of RoutingKeys.
type Subscription struct {
	Queue       string
	Exchange    string
	RoutingKeys []string
}

func (s Subscription) DeadLetterTopic() string {
	return s.Queue + ".dlq"
}

type RetryPolicy struct {
	MaxDeliveries  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxDeliveries:  5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

type ConsumerOptions struct {
	Policy     RetryPolicy
	DeadLetter Producer
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator
	Metrics    *Metrics
}

type ConsumerGroup struct {
	brokers   []string
	sub       Subscription
	processor *processor
	logger    *zap.Logger
}

func NewConsumerGroup(
	brokers []string,
	sub Subscription,
	handlerFunc HandlerFunc,
	opts ConsumerOptions,
	logger *zap.Logger,
) *ConsumerGroup {
	return &ConsumerGroup{
		brokers:   brokers,
		sub:       sub,
		processor: newProcessor(sub, handlerFunc, opts, logger),
		logger:    logger,
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *ConsumerGroup) Run(ctx context.Context) error {
	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.ClientID = c.sub.Queue
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(c.brokers, c.sub.Queue, config)
	if err != nil {
		return fmt.Errorf("create consumer group %s: %w", c.sub.Queue, err)
	}

	defer func() {
		if err := group.Close(); err != nil {
			mylogger.Error(ctx, c.logger, "Error closing consumer group", zap.String("queue", c.sub.Queue), zap.Error(err))
		}
	}()

	go func() {
		for err := range group.Errors() {
			mylogger.Warn(ctx, c.logger, "Consumer group error", zap.String("queue", c.sub.Queue), zap.Error(err))
		}
	}()

	handler := &saramaHandler{
		processor: c.processor,
		logger:    c.logger,
	}

	mylogger.Info(
		ctx,
		c.logger,
		"Consumer started",
		zap.String("queue", c.sub.Queue),
		zap.String("exchange", c.sub.Exchange),
		zap.Strings("routing_keys", c.sub.RoutingKeys),
	)

	for {
		err := group.Consume(ctx, []string{c.sub.Exchange}, handler)
		if err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
			mylogger.Error(ctx, c.logger, "Error consuming in consumer loop", zap.String("queue", c.sub.Queue), zap.Error(err))
		}

		if ctx.Err() != nil {
			mylogger.Info(ctx, c.logger, "Context cancelled, shutting down consumer", zap.String("queue", c.sub.Queue))
			return nil
		}
	}
}

type saramaHandler struct {
	processor *processor
	logger    *zap.Logger
}

func (h *saramaHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *saramaHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks a message only once it is handled or dead-lettered. Any
// other outcome ends the claim so the message is redelivered from the last
// committed offset.
func (h *saramaHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			mark, err := h.processor.process(ctx, msg)
			if mark {
				session.MarkMessage(msg, "")
			}

			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				mylogger.Error(
					ctx,
					h.logger,
					"Failed to process message",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)

				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

type processor struct {
	sub        Subscription
	bindings   map[string]struct{}
	handler    HandlerFunc
	policy     RetryPolicy
	deadLetter Producer
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	metrics    *Metrics
	logger     *zap.Logger
}

func newProcessor(sub Subscription, handler HandlerFunc, opts ConsumerOptions, logger *zap.Logger) *processor {
	bindings := make(map[string]struct{}, len(sub.RoutingKeys))
	for _, key := range sub.RoutingKeys {
		bindings[key] = struct{}{}
	}

	policy := opts.Policy
	if policy.MaxDeliveries <= 0 {
		policy = DefaultRetryPolicy()
	}

	return &processor{
		sub:        sub,
		bindings:   bindings,
		handler:    handler,
		policy:     policy,
		deadLetter: opts.DeadLetter,
		tracer:     opts.Tracer,
		propagator: opts.Propagator,
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// process reports whether the offset may be marked.
func (p *processor) process(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	d := deliveryFromSarama(msg)

	if _, ok := p.bindings[d.RoutingKey]; !ok {
		p.metrics.delivery(p.sub.Queue, outcomeSkipped)
		return true, nil
	}

	ctx = p.propagator.Extract(ctx, propagation.MapCarrier(d.Headers))
	ctx, span := p.tracer.Start(ctx, "kafka.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", d.Exchange),
			attribute.String("messaging.routing_key", d.RoutingKey),
			attribute.String("messaging.consumer_group", p.sub.Queue),
			attribute.Int64("messaging.kafka.offset", d.Offset),
		),
	)
	defer span.End()

	priorDeliveries := d.DeliveryCount
	attempts := 0

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.policy.InitialBackoff
	b.MaxInterval = p.policy.MaxBackoff
	b.MaxElapsedTime = 0

	operation := func() error {
		attempts++
		d.DeliveryCount = priorDeliveries + attempts

		return p.handler(ctx, d)
	}

	notify := func(err error, wait time.Duration) {
		p.metrics.delivery(p.sub.Queue, outcomeRetried)

		mylogger.Warn(
			ctx,
			p.logger,
			"Message handling failed, redelivering",
			zap.String("queue", p.sub.Queue),
			zap.String("routing_key", d.RoutingKey),
			zap.Int("delivery_count", d.DeliveryCount),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	retries := uint64(p.policy.MaxDeliveries - 1)
	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx), notify)
	if err == nil {
		p.metrics.delivery(p.sub.Queue, outcomeAcked)
		return true, nil
	}

	if ctx.Err() != nil {
		p.metrics.delivery(p.sub.Queue, outcomeAbandoned)
		return false, ctx.Err()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if dlErr := p.sendToDeadLetter(ctx, d, err); dlErr != nil {
		p.metrics.delivery(p.sub.Queue, outcomeAbandoned)
		return false, fmt.Errorf("dead-letter after %d deliveries: %w", d.DeliveryCount, dlErr)
	}

	p.metrics.delivery(p.sub.Queue, outcomeDeadLettered)
	return true, nil
}

func (p *processor) sendToDeadLetter(ctx context.Context, d *Delivery, cause error) error {
	if p.deadLetter == nil {
		return errors.New("no dead-letter producer configured")
	}

	headers := make(map[string]string, len(d.Headers)+4)
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderDeliveryCount] = strconv.Itoa(d.DeliveryCount)
	headers[HeaderDeathQueue] = p.sub.Queue
	headers[HeaderDeathReason] = cause.Error()
	headers[HeaderOriginExchange] = d.Exchange

	msg := &Message{
		Exchange:   p.sub.DeadLetterTopic(),
		RoutingKey: d.RoutingKey,
		Key:        d.Key,
		MessageID:  d.MessageID,
		Payload:    d.Payload,
		Headers:    headers,
		Timestamp:  time.Now().UTC(),
	}

	mylogger.Error(
		ctx,
		p.logger,
		"Dead-lettering message",
		zap.String("queue", p.sub.Queue),
		zap.String("routing_key", d.RoutingKey),
		zap.String("message_id", d.MessageID),
		zap.Int("delivery_count", d.DeliveryCount),
		zap.Error(cause),
	)

	return p.deadLetter.Publish(ctx, msg)
}
