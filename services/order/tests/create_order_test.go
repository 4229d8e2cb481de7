package tests

import (
	"encoding/json"
	"time"

	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/services/order/internal/domain"
	"github.com/sakashimaa/order-saga/services/order/internal/service"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestCreateOrder_Success() {
	s.fillCart("buyer-1", map[string]int{"product-a": 2})

	order, err := s.OrderService.CreateOrder(s.Ctx, "buyer-1", domain.PaymentMethodCreditCard, s.contact())
	s.Require().NoError(err)

	s.Require().True(decimal.RequireFromString("200").Equal(order.TotalAmount))
	s.Require().Equal(domain.OrderStatusProcessing, order.Status)
	s.Require().NotNil(order.Payment)
	s.Require().Equal(domain.PaymentStatusSuccess, order.Payment.Status)
	s.Require().NotNil(order.Payment.TransactionRef)

	current, err := s.CartService.Get(s.Ctx, "buyer-1")
	s.Require().NoError(err)
	s.Require().True(current.IsEmpty())

	stored, err := s.OrderService.GetOrder(s.Ctx, order.ID, "buyer-1")
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusProcessing, stored.Status)
	s.Require().True(decimal.RequireFromString("200").Equal(stored.TotalAmount))
	s.Require().Len(stored.Items, 1)
	s.Require().Equal("Product A", stored.Items[0].ProductName)
	s.Require().NotZero(stored.Items[0].ID)
	s.Require().NotNil(stored.Payment)
	s.Require().True(stored.TotalAmount.Equal(stored.Payment.Amount))
	s.Require().Equal(domain.PaymentStatusSuccess, stored.Payment.Status)
	s.Require().Equal(order.Payment.TransactionRef, stored.Payment.TransactionRef)
}

func (s *IntegrationTestSuite) TestCreateOrder_TotalMatchesLines() {
	s.fillCart("buyer-1", map[string]int{"product-a": 1, "product-b": 3})

	order, err := s.OrderService.CreateOrder(s.Ctx, "buyer-1", domain.PaymentMethodBankTransfer, s.contact())
	s.Require().NoError(err)

	var lineSum, total, paid string
	err = s.DbPool.QueryRow(s.Ctx, `
		SELECT
			(SELECT SUM(quantity * unit_price) FROM order_items WHERE order_id = o.id)::text,
			o.total_amount::text,
			p.amount::text
		FROM orders o
		JOIN payments p ON p.order_id = o.id
		WHERE o.id = $1
	`, order.ID).Scan(&lineSum, &total, &paid)
	s.Require().NoError(err)

	s.Require().True(decimal.RequireFromString(lineSum).Equal(decimal.RequireFromString(total)))
	s.Require().True(decimal.RequireFromString(total).Equal(decimal.RequireFromString(paid)))
	s.Require().True(decimal.RequireFromString("159.97").Equal(decimal.RequireFromString(total)))
}

func (s *IntegrationTestSuite) TestCreateOrder_WritesOutboxAndPublishes() {
	order := s.createOrder("buyer-1")

	var (
		routingKey string
		payload    []byte
	)
	err := s.DbPool.QueryRow(s.Ctx, `
		SELECT routing_key, payload
		FROM outbox
		WHERE aggregate_id = $1
	`, order.ID.String()).Scan(&routingKey, &payload)
	s.Require().NoError(err)
	s.Require().Equal(generalDomain.RoutingOrderCreated, routingKey)

	var event generalDomain.OrderCreatedEvent
	s.Require().NoError(json.Unmarshal(payload, &event))
	s.Require().Equal(order.ID, event.OrderID)
	s.Require().Equal("buyer@example.com", event.Email)
	s.Require().Equal(2, event.ItemCount)
	s.Require().Len(event.Items, 1)
	s.Require().Equal(order.Items[0].ID, event.Items[0].LineID)

	s.Require().Eventually(func() bool {
		var publishedAt *time.Time

		err := s.DbPool.QueryRow(s.Ctx, `SELECT published_at FROM outbox WHERE aggregate_id = $1`, order.ID.String()).
			Scan(&publishedAt)

		return err == nil && publishedAt != nil
	}, 15*time.Second, 100*time.Millisecond)
}

func (s *IntegrationTestSuite) TestCreateOrder_EmptyCart() {
	_, err := s.OrderService.CreateOrder(s.Ctx, "buyer-1", domain.PaymentMethodCash, s.contact())

	s.Require().ErrorIs(err, service.ErrEmptyCart)
	s.Require().Equal(0, s.CountRows("orders"))
	s.Require().Equal(0, s.CountRows("outbox"))
}

func (s *IntegrationTestSuite) TestCreateOrder_InvalidPaymentMethod() {
	s.fillCart("buyer-1", map[string]int{"product-a": 1})

	_, err := s.OrderService.CreateOrder(s.Ctx, "buyer-1", domain.PaymentMethod("cheque"), s.contact())

	s.Require().ErrorIs(err, service.ErrInvalidPaymentMethod)
	s.Require().Equal(0, s.CountRows("orders"))
}

func (s *IntegrationTestSuite) TestCreateOrder_PaymentFailureRollsBack() {
	s.fillCart("buyer-1", map[string]int{"product-a": 2})
	s.Gateway.fail = true

	_, err := s.OrderService.CreateOrder(s.Ctx, "buyer-1", domain.PaymentMethodCreditCard, s.contact())

	s.Require().ErrorIs(err, service.ErrPersistence)
	s.assertNoOrderRows()

	current, err := s.CartService.Get(s.Ctx, "buyer-1")
	s.Require().NoError(err)
	s.Require().Len(current.Items, 1)
}

func (s *IntegrationTestSuite) TestCreateOrder_LedgerFailureRollsBack() {
	s.fillCart("buyer-1", map[string]int{"product-a": 2, "product-b": 1})
	s.Repo.failUpdate = true

	_, err := s.OrderService.CreateOrder(s.Ctx, "buyer-1", domain.PaymentMethodCreditCard, s.contact())

	s.Require().ErrorIs(err, service.ErrPersistence)
	s.Require().ErrorIs(err, errInjected)
	s.assertNoOrderRows()
}

func (s *IntegrationTestSuite) assertNoOrderRows() {
	s.Require().Equal(0, s.CountRows("orders"))
	s.Require().Equal(0, s.CountRows("order_items"))
	s.Require().Equal(0, s.CountRows("payments"))
	s.Require().Equal(0, s.CountRows("outbox"))
}
