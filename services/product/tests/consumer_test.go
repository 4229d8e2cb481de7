package tests

import (
	"time"

	"github.com/google/uuid"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	productKafka "github.com/sakashimaa/order-saga/services/product/internal/transport/kafka"
	"go.uber.org/zap"
)

func (s *IntegrationTestSuite) TestConsumer_OrderLifecycleOverKafka() {
	s.seedProduct("p-1", 3)
	s.seedProduct("p-2", 10)

	sub := productKafka.StockSubscription()
	sub.Queue = "product-stock-management-" + uuid.NewString()

	consumer := productKafka.NewConsumer(s.CachedProductService, zap.NewNop())
	stop := s.runConsumer(consumer.Handle, sub)
	defer stop()

	orderID := uuid.New()
	lines := []generalDomain.OrderLine{line(1, "p-1", 5), line(2, "p-2", 2)}

	created, err := kafka.NewMessage(generalDomain.ExchangeOrder, generalDomain.RoutingOrderCreated, orderID.String(), orderCreated(orderID, lines...))
	s.Require().NoError(err)
	s.Require().NoError(s.TestProducer.Publish(s.Ctx, created))

	// Same message again: a redelivery must not decrement twice.
	s.Require().NoError(s.TestProducer.Publish(s.Ctx, created))

	s.Require().Eventually(func() bool {
		return s.stockOf("p-2") == 8
	}, 30*time.Second, 100*time.Millisecond)

	s.Require().Equal(3, s.stockOf("p-1"))

	cancelled, err := kafka.NewMessage(generalDomain.ExchangeOrder, generalDomain.RoutingOrderCancelled, orderID.String(), orderCancelled(orderID, lines...))
	s.Require().NoError(err)
	s.Require().NoError(s.TestProducer.Publish(s.Ctx, cancelled))

	s.Require().Eventually(func() bool {
		return s.stockOf("p-2") == 10
	}, 30*time.Second, 100*time.Millisecond)

	s.Require().Equal(3, s.stockOf("p-1"))
	s.Require().Equal(1, s.outboxCountForProduct("p-2", generalDomain.RoutingStockChanged, -2))
}

func (s *IntegrationTestSuite) outboxCountForProduct(productID, routingKey string, quantity int) int {
	var count int
	err := s.DbPool.QueryRow(s.Ctx, `
		SELECT COUNT(*)
		FROM outbox
		WHERE aggregate_id = $1 AND routing_key = $2 AND (payload->>'quantity')::int = $3
	`, productID, routingKey, quantity).Scan(&count)
	s.Require().NoError(err)

	return count
}
