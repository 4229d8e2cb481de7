package tests

import (
	"sync"

	"github.com/google/uuid"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/services/product/internal/domain"
)

func (s *IntegrationTestSuite) TestReserveOrderStock_Success() {
	s.seedProduct("p-1", 10)
	s.seedProduct("p-2", 5)

	changes, err := s.ProductService.ReserveOrderStock(s.Ctx, orderCreated(uuid.New(), line(1, "p-1", 2), line(2, "p-2", 5)))
	s.Require().NoError(err)
	s.Require().Len(changes, 2)

	s.Require().Equal(8, s.stockOf("p-1"))
	s.Require().Equal(0, s.stockOf("p-2"))
	s.Require().Equal(2, s.outboxCount(generalDomain.RoutingStockChanged))
}

func (s *IntegrationTestSuite) TestReserveOrderStock_InsufficientLineDoesNotBlockSiblings() {
	s.seedProduct("p-1", 3)
	s.seedProduct("p-2", 10)
	orderID := uuid.New()

	changes, err := s.ProductService.ReserveOrderStock(s.Ctx, orderCreated(orderID, line(1, "p-1", 5), line(2, "p-2", 2)))
	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Require().Equal("p-2", changes[0].ProductID)

	s.Require().Equal(3, s.stockOf("p-1"))
	s.Require().Equal(8, s.stockOf("p-2"))

	s.Require().Equal(domain.ReservationRejected, s.reservationStatus(orderID, 1))
	s.Require().Equal(domain.ReservationApplied, s.reservationStatus(orderID, 2))
}

func (s *IntegrationTestSuite) TestReserveOrderStock_UnknownProductIsSkipped() {
	s.seedProduct("p-1", 4)

	changes, err := s.ProductService.ReserveOrderStock(s.Ctx, orderCreated(uuid.New(), line(1, "ghost", 1), line(2, "p-1", 1)))

	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Require().Equal(3, s.stockOf("p-1"))
}

func (s *IntegrationTestSuite) TestReserveOrderStock_RedeliveryIsAppliedOnce() {
	s.seedProduct("p-1", 10)
	event := orderCreated(uuid.New(), line(7, "p-1", 4))

	_, err := s.ProductService.ReserveOrderStock(s.Ctx, event)
	s.Require().NoError(err)

	changes, err := s.ProductService.ReserveOrderStock(s.Ctx, event)
	s.Require().NoError(err)
	s.Require().Empty(changes)

	s.Require().Equal(6, s.stockOf("p-1"))
	s.Require().Equal(1, s.outboxCount(generalDomain.RoutingStockChanged))
	s.Require().Equal(1, s.CountRows("processed_events"))
	s.Require().Equal(1, s.CountRows("stock_reservations"))
}

func (s *IntegrationTestSuite) TestReserveOrderStock_RedeliveryAfterKeyExpiryIsAppliedOnce() {
	s.seedProduct("p-1", 10)
	event := orderCreated(uuid.New(), line(1, "p-1", 4))

	_, err := s.ProductService.ReserveOrderStock(s.Ctx, event)
	s.Require().NoError(err)

	s.expireIdempotencyKeys()

	changes, err := s.ProductService.ReserveOrderStock(s.Ctx, event)
	s.Require().NoError(err)
	s.Require().Empty(changes)
	s.Require().Equal(6, s.stockOf("p-1"))
}

func (s *IntegrationTestSuite) TestReserveOrderStock_ConcurrentRedeliveryIsAppliedOnce() {
	s.seedProduct("p-1", 10)
	event := orderCreated(uuid.New(), line(1, "p-1", 3))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ProductService.ReserveOrderStock(s.Ctx, event)
		}()
	}
	wg.Wait()

	s.Require().Equal(7, s.stockOf("p-1"))
}

func (s *IntegrationTestSuite) TestDecreaseStock_NeverGoesNegative() {
	s.seedProduct("p-1", 3)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ok, err := s.ProductService.DecreaseStock(s.Ctx, "p-1", 1)
			s.NoError(err)

			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Require().Equal(3, succeeded)
	s.Require().Equal(0, s.stockOf("p-1"))

	ok, err := s.ProductService.DecreaseStock(s.Ctx, "p-1", 1)
	s.Require().NoError(err)
	s.Require().False(ok)
}

func (s *IntegrationTestSuite) TestDecreaseStock_UnknownProduct() {
	ok, err := s.ProductService.DecreaseStock(s.Ctx, "ghost", 1)

	s.Require().NoError(err)
	s.Require().False(ok)
	s.Require().Equal(0, s.CountRows("outbox"))
}
