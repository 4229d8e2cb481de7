package tests

import (
	"time"

	"github.com/google/uuid"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/services/notification/internal/domain"
	"github.com/sakashimaa/order-saga/services/notification/internal/template"
	notificationKafka "github.com/sakashimaa/order-saga/services/notification/transport/kafka"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func orderCreated(orderID uuid.UUID) *generalDomain.OrderCreatedEvent {
	return &generalDomain.OrderCreatedEvent{
		OrderID:     orderID,
		BuyerID:     "buyer-1",
		Email:       "buyer@example.com",
		UserName:    "Ann",
		TotalAmount: decimal.RequireFromString("42.5"),
		ItemCount:   2,
		OrderDate:   time.Now().UTC(),
	}
}

func (s *IntegrationTestSuite) TestHandleOrderCreated_StoresSentRecords() {
	orderID := uuid.New()

	handled, err := s.Service.HandleOrderCreated(s.Ctx, "msg-1", orderCreated(orderID))
	s.Require().NoError(err)
	s.Require().True(handled)

	records, err := s.Repo.ListByReference(s.Ctx, domain.ReferenceOrder, orderID.String())
	s.Require().NoError(err)
	s.Require().Len(records, 2)

	confirmation := records[0]
	s.Require().Equal(domain.ChannelEmail, confirmation.Type)
	s.Require().Equal(template.OrderConfirmation, confirmation.TemplateName)
	s.Require().Equal(domain.StatusSent, confirmation.Status)
	s.Require().Equal("buyer@example.com", confirmation.Email)
	s.Require().NotNil(confirmation.SentAt)
	s.Require().Contains(confirmation.Body, "42.50")

	admin := records[1]
	s.Require().Equal(domain.ChannelSMS, admin.Type)
	s.Require().Equal("+15550100", admin.PhoneNumber)
	s.Require().Equal(domain.StatusSent, admin.Status)
	s.Require().Empty(admin.Email)
}

func (s *IntegrationTestSuite) TestHandleOrderCreated_RedeliveryIsIgnored() {
	orderID := uuid.New()

	_, err := s.Service.HandleOrderCreated(s.Ctx, "msg-1", orderCreated(orderID))
	s.Require().NoError(err)

	handled, err := s.Service.HandleOrderCreated(s.Ctx, "msg-1", orderCreated(orderID))
	s.Require().NoError(err)
	s.Require().False(handled)

	s.Require().Equal(1, s.Mailbox.count())
	s.Require().Equal(2, s.CountRows("notifications"))
	s.Require().Equal(1, s.CountRows("processed_events"))
}

func (s *IntegrationTestSuite) TestHandleUserRegistered_SendFailureIsRecorded() {
	s.Mailbox.fail = true

	handled, err := s.Service.HandleUserRegistered(s.Ctx, "msg-2", &generalDomain.UserRegisteredEvent{
		UserID:   "u-1",
		Email:    "ann@example.com",
		UserName: "Ann",
	})
	s.Require().NoError(err)
	s.Require().True(handled)

	records, err := s.Repo.ListByReference(s.Ctx, domain.ReferenceUser, "u-1")
	s.Require().NoError(err)
	s.Require().Len(records, 1)

	n, err := s.Repo.GetByID(s.Ctx, records[0].ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.StatusRetry, n.Status)
	s.Require().Equal(1, n.RetryCount)
	s.Require().Equal(2, n.MaxRetries)
	s.Require().NotNil(n.ErrorMessage)
	s.Require().Equal(errSMTPDown.Error(), *n.ErrorMessage)
	s.Require().Nil(n.SentAt)
}

func (s *IntegrationTestSuite) TestConsumer_PasswordResetOverKafka() {
	consumer := notificationKafka.NewConsumer(s.Service, zap.NewNop())

	stop := s.runConsumer(consumer)
	defer stop()

	msg, err := kafka.NewMessage(generalDomain.ExchangeUser, generalDomain.RoutingPasswordResetRequested, "u-7", &generalDomain.PasswordResetRequestedEvent{
		UserID:     "u-7",
		Email:      "u7@example.com",
		UserName:   "Seven",
		ResetToken: "abc",
	})
	s.Require().NoError(err)

	s.Require().NoError(s.TestProducer.Publish(s.Ctx, msg))
	s.Require().NoError(s.TestProducer.Publish(s.Ctx, msg))

	s.Require().Eventually(func() bool {
		return s.Mailbox.count() == 1
	}, 30*time.Second, 100*time.Millisecond)

	// Give the duplicate time to arrive before checking it was ignored.
	time.Sleep(time.Second)

	s.Require().Equal(1, s.Mailbox.count())
	s.Require().Contains(s.Mailbox.sent[0].Body, "https://shop.test/reset?token=abc")
	s.Require().Equal(1, s.CountRows("notifications"))
}
