package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sakashimaa/order-saga/pkg/config"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/services/notification/internal/domain"
	"github.com/sakashimaa/order-saga/services/notification/internal/infrastructure/email"
	"github.com/sakashimaa/order-saga/services/notification/internal/infrastructure/sms"
	"github.com/sakashimaa/order-saga/services/notification/internal/repository"
	"github.com/sakashimaa/order-saga/services/notification/internal/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02 15:04:05"

type Ledger interface {
	Process(ctx context.Context, key string, action func(ctx context.Context, tx pgx.Tx) error) (bool, error)
}

type Settings struct {
	StoreName          string
	LoginURL           string
	ResetURL           string
	ResetExpiryMinutes int
	MaxRetries         int
	SMSEnabled         bool
	AdminPhone         string
}

func SettingsFromConfig(cfg config.Notification) Settings {
	return Settings{
		StoreName:          cfg.StoreName,
		LoginURL:           cfg.LoginURL,
		ResetURL:           cfg.ResetURL,
		ResetExpiryMinutes: cfg.ResetExpiryMinutes,
		MaxRetries:         cfg.MaxRetries,
		SMSEnabled:         cfg.SMSEnabled,
		AdminPhone:         cfg.AdminPhone,
	}
}

type Metrics struct {
	notifications *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications by channel and final status.",
		}, []string{"channel", "status"}),
	}

	reg.MustRegister(m.notifications)
	return m
}

func (m *Metrics) record(n *domain.Notification) {
	if m == nil {
		return
	}

	m.notifications.WithLabelValues(string(n.Type), string(n.Status)).Inc()
}

type NotificationService struct {
	repo     repository.NotificationRepository
	ledger   Ledger
	email    email.Sender
	sms      sms.Sender
	settings Settings
	metrics  *Metrics
	now      func() time.Time
	tracer   trace.Tracer
	logger   *zap.Logger
}

func NewNotificationService(
	repo repository.NotificationRepository,
	ledger Ledger,
	emailSender email.Sender,
	smsSender sms.Sender,
	settings Settings,
	metrics *Metrics,
	tracer trace.Tracer,
	logger *zap.Logger,
) *NotificationService {
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = domain.DefaultMaxRetries
	}
	if settings.ResetExpiryMinutes <= 0 {
		settings.ResetExpiryMinutes = 60
	}

	return &NotificationService{
		repo:     repo,
		ledger:   ledger,
		email:    emailSender,
		sms:      smsSender,
		settings: settings,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   tracer,
		logger:   logger,
	}
}

// draft is a notification that has been rendered but not stored yet.
type draft struct {
	channel  domain.Channel
	userID   string
	to       string
	subject  string
	data     map[string]string
	refID    string
	refType  domain.ReferenceType
	template string
}

func (s *NotificationService) HandleUserRegistered(ctx context.Context, messageID string, event *generalDomain.UserRegisteredEvent) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleUserRegistered")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", event.UserID))

	welcome := draft{
		channel:  domain.ChannelEmail,
		userID:   event.UserID,
		to:       event.Email,
		template: template.WelcomeEmail,
		subject:  "Welcome to " + s.settings.StoreName,
		data: map[string]string{
			"userName":  event.UserName,
			"email":     event.Email,
			"loginUrl":  s.settings.LoginURL,
			"storeName": s.settings.StoreName,
		},
		refID:   event.UserID,
		refType: domain.ReferenceUser,
	}

	return s.process(ctx, generalDomain.RoutingUserRegistered, messageID, welcome)
}

func (s *NotificationService) HandleOrderCreated(ctx context.Context, messageID string, event *generalDomain.OrderCreatedEvent) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleOrderCreated")
	defer span.End()

	orderID := event.OrderID.String()
	span.SetAttributes(attribute.String("order_id", orderID))

	itemCount := event.ItemCount
	if itemCount == 0 {
		for _, line := range event.Items {
			itemCount += line.Quantity
		}
	}

	drafts := []draft{{
		channel:  domain.ChannelEmail,
		userID:   event.BuyerID,
		to:       event.Email,
		template: template.OrderConfirmation,
		subject:  "Order Confirmation #" + orderID,
		data: map[string]string{
			"userName":    event.UserName,
			"orderId":     orderID,
			"totalAmount": event.TotalAmount.StringFixed(2),
			"itemCount":   strconv.Itoa(itemCount),
			"orderDate":   event.OrderDate.Format(dateLayout),
			"storeName":   s.settings.StoreName,
		},
		refID:   orderID,
		refType: domain.ReferenceOrder,
	}}

	if s.settings.AdminPhone != "" {
		drafts = append(drafts, draft{
			channel:  domain.ChannelSMS,
			userID:   "admin",
			to:       s.settings.AdminPhone,
			template: template.OrderAdminSMS,
			data: map[string]string{
				"orderId":     orderID,
				"totalAmount": event.TotalAmount.StringFixed(2),
				"storeName":   s.settings.StoreName,
			},
			refID:   orderID,
			refType: domain.ReferenceOrder,
		})
	}

	return s.process(ctx, generalDomain.RoutingOrderCreated, messageID, drafts...)
}

func (s *NotificationService) HandleOrderCancelled(ctx context.Context, messageID string, event *generalDomain.OrderCancelledEvent) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleOrderCancelled")
	defer span.End()

	orderID := event.OrderID.String()
	span.SetAttributes(attribute.String("order_id", orderID))

	reason := event.Reason
	if reason == "" {
		reason = generalDomain.DefaultCancellationReason
	}

	data := map[string]string{
		"userName":           event.UserName,
		"orderId":            orderID,
		"cancellationReason": reason,
		"storeName":          s.settings.StoreName,
	}

	drafts := []draft{{
		channel:  domain.ChannelEmail,
		userID:   event.BuyerID,
		to:       event.Email,
		template: template.OrderCancelled,
		subject:  "Order Cancelled #" + orderID,
		data:     data,
		refID:    orderID,
		refType:  domain.ReferenceOrder,
	}}

	if event.PhoneNumber != "" {
		drafts = append(drafts, draft{
			channel:  domain.ChannelSMS,
			userID:   event.BuyerID,
			to:       event.PhoneNumber,
			template: template.OrderCancelledSMS,
			data:     data,
			refID:    orderID,
			refType:  domain.ReferenceOrder,
		})
	}

	return s.process(ctx, generalDomain.RoutingOrderCancelled, messageID, drafts...)
}

func (s *NotificationService) HandlePasswordResetRequested(ctx context.Context, messageID string, event *generalDomain.PasswordResetRequestedEvent) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandlePasswordResetRequested")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", event.UserID))

	reset := draft{
		channel:  domain.ChannelEmail,
		userID:   event.UserID,
		to:       event.Email,
		template: template.PasswordReset,
		subject:  "Password Reset Request",
		data: map[string]string{
			"userName":      event.UserName,
			"resetUrl":      s.settings.ResetURL + "?token=" + event.ResetToken,
			"expiryMinutes": strconv.Itoa(s.settings.ResetExpiryMinutes),
			"storeName":     s.settings.StoreName,
		},
		refID:   event.UserID,
		refType: domain.ReferenceUser,
	}

	return s.process(ctx, generalDomain.RoutingPasswordResetRequested, messageID, reset)
}

// process stores and delivers drafts under one ledger claim, so a redelivered
// message does not notify twice. Delivery failures are recorded on the
// notification and do not fail the message; storage errors do.
func (s *NotificationService) process(ctx context.Context, routingKey, messageID string, drafts ...draft) (bool, error) {
	key := fmt.Sprintf("notification:%s:%s", routingKey, messageID)

	var stored []*domain.Notification
	handled, err := s.ledger.Process(ctx, key, func(ctx context.Context, tx pgx.Tx) error {
		stored = stored[:0]

		for _, d := range drafts {
			n, err := s.notify(ctx, tx, d)
			if err != nil {
				return err
			}

			stored = append(stored, n)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	if handled {
		for _, n := range stored {
			s.metrics.record(n)
		}
	}

	return handled, nil
}

func (s *NotificationService) notify(ctx context.Context, tx pgx.Tx, d draft) (*domain.Notification, error) {
	body, err := template.Render(d.template, d.data)
	if err != nil {
		return nil, err
	}

	n := &domain.Notification{
		UserID:        d.userID,
		Type:          d.channel,
		TemplateName:  d.template,
		Subject:       d.subject,
		Body:          body,
		MaxRetries:    s.settings.MaxRetries,
		ReferenceID:   d.refID,
		ReferenceType: d.refType,
	}

	if d.channel == domain.ChannelSMS {
		n.PhoneNumber = d.to
		n.Body = template.PlainText(body, sms.MaxLength)
	} else {
		n.Email = d.to
	}

	if err := s.repo.Create(ctx, tx, n); err != nil {
		return nil, err
	}

	s.deliver(ctx, n)

	if err := s.repo.UpdateStatus(ctx, tx, n); err != nil {
		return nil, err
	}

	return n, nil
}

func (s *NotificationService) deliver(ctx context.Context, n *domain.Notification) {
	now := s.now()

	switch n.Type {
	case domain.ChannelSMS:
		if !s.settings.SMSEnabled {
			n.MarkSkipped("sms disabled", now)
			return
		}

		if n.PhoneNumber == "" {
			n.MarkUndeliverable("no phone number", now)
			return
		}

		if err := s.sms.Send(ctx, n.PhoneNumber, n.Body); err != nil {
			s.failed(ctx, n, err, now)
			return
		}
	default:
		if n.Email == "" {
			n.MarkUndeliverable("no email address", now)
			return
		}

		if err := s.email.Send(ctx, n.Email, n.Subject, n.Body); err != nil {
			s.failed(ctx, n, err, now)
			return
		}
	}

	n.MarkSent(now)
	mylogger.Info(
		ctx,
		s.logger,
		"Notification sent",
		zap.Int64("notification_id", n.ID),
		zap.String("template", n.TemplateName),
		zap.String("channel", string(n.Type)),
	)
}

func (s *NotificationService) failed(ctx context.Context, n *domain.Notification, err error, now time.Time) {
	n.MarkFailed(err.Error(), now)

	mylogger.Warn(
		ctx,
		s.logger,
		"Error delivering notification",
		zap.Int64("notification_id", n.ID),
		zap.String("template", n.TemplateName),
		zap.String("status", string(n.Status)),
		zap.Int("retry_count", n.RetryCount),
		zap.Error(err),
	)
}
