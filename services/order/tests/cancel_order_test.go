package tests

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/services/order/internal/service"
)

func (s *IntegrationTestSuite) TestCancelOrder_Success() {
	order := s.createOrder("buyer-1")

	err := s.OrderService.CancelOrder(s.Ctx, order.ID, "buyer-1", "")
	s.Require().NoError(err)

	var (
		status        string
		reason        string
		paymentStatus string
	)
	err = s.DbPool.QueryRow(s.Ctx, `
		SELECT o.status, o.cancellation_reason, p.status
		FROM orders o
		JOIN payments p ON p.order_id = o.id
		WHERE o.id = $1
	`, order.ID).Scan(&status, &reason, &paymentStatus)
	s.Require().NoError(err)

	s.Require().Equal("cancelled", status)
	s.Require().Equal(generalDomain.DefaultCancellationReason, reason)
	s.Require().Equal("failed", paymentStatus)

	var payload []byte
	err = s.DbPool.QueryRow(s.Ctx, `
		SELECT payload
		FROM outbox
		WHERE aggregate_id = $1 AND routing_key = $2
	`, order.ID.String(), generalDomain.RoutingOrderCancelled).Scan(&payload)
	s.Require().NoError(err)

	var event generalDomain.OrderCancelledEvent
	s.Require().NoError(json.Unmarshal(payload, &event))
	s.Require().Equal(order.ID, event.OrderID)
	s.Require().Equal(generalDomain.DefaultCancellationReason, event.Reason)
	s.Require().Len(event.Items, 1)
	s.Require().Equal(2, event.Items[0].Quantity)
}

func (s *IntegrationTestSuite) TestCancelOrder_Twice() {
	order := s.createOrder("buyer-1")

	s.Require().NoError(s.OrderService.CancelOrder(s.Ctx, order.ID, "buyer-1", "Changed my mind"))

	err := s.OrderService.CancelOrder(s.Ctx, order.ID, "buyer-1", "Again")
	s.Require().ErrorIs(err, service.ErrInvalidState)

	var reason string
	err = s.DbPool.QueryRow(s.Ctx, `SELECT cancellation_reason FROM orders WHERE id = $1`, order.ID).Scan(&reason)
	s.Require().NoError(err)
	s.Require().Equal("Changed my mind", reason)
	s.Require().Equal("cancelled", s.orderStatus(order.ID))

	var cancelEvents int
	err = s.DbPool.QueryRow(s.Ctx, `SELECT COUNT(*) FROM outbox WHERE routing_key = $1`, generalDomain.RoutingOrderCancelled).
		Scan(&cancelEvents)
	s.Require().NoError(err)
	s.Require().Equal(1, cancelEvents)
}

func (s *IntegrationTestSuite) TestCancelOrder_Concurrent() {
	order := s.createOrder("buyer-1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.OrderService.CancelOrder(s.Ctx, order.ID, "buyer-1", "")

			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		s.Require().ErrorIs(err, service.ErrInvalidState)
	}
	s.Require().Equal(1, succeeded)
}

func (s *IntegrationTestSuite) TestCancelOrder_CompletedIsRejected() {
	order := s.createOrder("buyer-1")
	s.Require().NoError(s.OrderService.CompleteOrder(s.Ctx, order.ID))

	err := s.OrderService.CancelOrder(s.Ctx, order.ID, "buyer-1", "")

	s.Require().ErrorIs(err, service.ErrInvalidState)
	s.Require().Equal("completed", s.orderStatus(order.ID))
}

func (s *IntegrationTestSuite) TestCancelOrder_NotFound() {
	err := s.OrderService.CancelOrder(s.Ctx, uuid.New(), "buyer-1", "")
	s.Require().ErrorIs(err, service.ErrOrderNotFound)
}

func (s *IntegrationTestSuite) TestCancelOrder_OtherBuyer() {
	order := s.createOrder("buyer-1")

	err := s.OrderService.CancelOrder(s.Ctx, order.ID, "buyer-2", "")

	s.Require().ErrorIs(err, service.ErrOrderNotFound)
	s.Require().Equal("processing", s.orderStatus(order.ID))
}

func (s *IntegrationTestSuite) TestCompleteOrder_CancelledIsRejected() {
	order := s.createOrder("buyer-1")
	s.Require().NoError(s.OrderService.CancelOrder(s.Ctx, order.ID, "buyer-1", ""))

	err := s.OrderService.CompleteOrder(s.Ctx, order.ID)

	s.Require().ErrorIs(err, service.ErrInvalidState)
	s.Require().Equal("cancelled", s.orderStatus(order.ID))
}
