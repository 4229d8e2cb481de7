package sms

import (
	"context"

	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const MaxLength = 160

type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// logSender records outgoing messages in the log instead of handing them to a carrier.
type logSender struct {
	tracer trace.Tracer
	logger *zap.Logger
}

func NewLogSender(tracer trace.Tracer, logger *zap.Logger) Sender {
	return &logSender{
		tracer: tracer,
		logger: logger,
	}
}

func (s *logSender) Send(ctx context.Context, to, body string) error {
	ctx, span := s.tracer.Start(ctx, "sms.Send")
	defer span.End()

	span.SetAttributes(
		attribute.String("to.phone", to),
		attribute.Int("body.length", len(body)),
	)

	mylogger.Info(ctx, s.logger, "SMS dispatched", zap.String("to", to), zap.String("body", body))
	return nil
}
