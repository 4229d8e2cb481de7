package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Producer interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

type producer struct {
	syncProducer sarama.SyncProducer
	tracer       trace.Tracer
	propagator   propagation.TextMapPropagator
	metrics      *Metrics
	logger       *zap.Logger
}

func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V3_0_0_0

	return config
}

func NewProducer(
	brokers []string,
	tracer trace.Tracer,
	propagator propagation.TextMapPropagator,
	metrics *Metrics,
	logger *zap.Logger,
) (Producer, error) {
	p, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("error creating producer: %w", err)
	}

	return NewProducerFromSync(p, tracer, propagator, metrics, logger), nil
}

// NewProducerFromSync wraps an existing sarama producer, e.g. a mock in tests.
func NewProducerFromSync(
	sp sarama.SyncProducer,
	tracer trace.Tracer,
	propagator propagation.TextMapPropagator,
	metrics *Metrics,
	logger *zap.Logger,
) Producer {
	return &producer{
		syncProducer: sp,
		tracer:       tracer,
		propagator:   propagator,
		metrics:      metrics,
		logger:       logger,
	}
}

func (p *producer) Publish(ctx context.Context, msg *Message) error {
	ctx, span := p.tracer.Start(ctx, "kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Exchange),
			attribute.String("messaging.routing_key", msg.RoutingKey),
			attribute.String("messaging.message_id", msg.MessageID),
		),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	p.propagator.Inject(ctx, carrier)

	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+len(carrier)+4)
	add := func(k, v string) {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	add(HeaderContentType, contentTypeJSON)
	add(HeaderPersistent, strconv.FormatBool(true))
	add(HeaderRoutingKey, msg.RoutingKey)
	if msg.MessageID != "" {
		add(HeaderMessageID, msg.MessageID)
	}
	for k, v := range msg.Headers {
		switch k {
		case HeaderContentType, HeaderPersistent, HeaderRoutingKey, HeaderMessageID:
			continue
		}
		add(k, v)
	}
	for k, v := range carrier {
		add(k, v)
	}

	pm := &sarama.ProducerMessage{
		Topic:     msg.Exchange,
		Value:     sarama.ByteEncoder(msg.Payload),
		Headers:   headers,
		Timestamp: msg.Timestamp,
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}

	partition, offset, err := p.syncProducer.SendMessage(pm)
	if err != nil {
		span.RecordError(err)
		p.metrics.published(msg.Exchange, msg.RoutingKey, false)

		return fmt.Errorf("error sending message: %w", err)
	}

	p.metrics.published(msg.Exchange, msg.RoutingKey, true)

	mylogger.Debug(
		ctx,
		p.logger,
		"Message published",
		zap.String("exchange", msg.Exchange),
		zap.String("routing_key", msg.RoutingKey),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)

	return nil
}

func (p *producer) Close() error {
	return p.syncProducer.Close()
}
