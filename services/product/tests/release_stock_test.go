package tests

import (
	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/services/product/internal/domain"
)

func (s *IntegrationTestSuite) TestReleaseOrderStock_RestoresReservedLines() {
	s.seedProduct("p-1", 10)
	orderID := uuid.New()

	_, err := s.ProductService.ReserveOrderStock(s.Ctx, orderCreated(orderID, line(1, "p-1", 4)))
	s.Require().NoError(err)
	s.Require().Equal(6, s.stockOf("p-1"))

	changes, err := s.ProductService.ReleaseOrderStock(s.Ctx, orderCancelled(orderID, line(1, "p-1", 4)))
	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Require().Equal(4, changes[0].Delta)
	s.Require().Equal(10, s.stockOf("p-1"))
	s.Require().Equal(domain.ReservationReleased, s.reservationStatus(orderID, 1))

	changes, err = s.ProductService.ReleaseOrderStock(s.Ctx, orderCancelled(orderID, line(1, "p-1", 4)))
	s.Require().NoError(err)
	s.Require().Empty(changes)
	s.Require().Equal(10, s.stockOf("p-1"))
}

func (s *IntegrationTestSuite) TestReleaseOrderStock_RestoresAfterKeysExpire() {
	s.seedProduct("p-1", 10)
	orderID := uuid.New()

	_, err := s.ProductService.ReserveOrderStock(s.Ctx, orderCreated(orderID, line(1, "p-1", 4)))
	s.Require().NoError(err)
	s.Require().Equal(6, s.stockOf("p-1"))

	s.expireIdempotencyKeys()
	s.Require().Equal(0, s.CountRows("processed_events"))

	changes, err := s.ProductService.ReleaseOrderStock(s.Ctx, orderCancelled(orderID, line(1, "p-1", 4)))
	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Require().Equal(10, s.stockOf("p-1"))

	s.expireIdempotencyKeys()

	changes, err = s.ProductService.ReleaseOrderStock(s.Ctx, orderCancelled(orderID, line(1, "p-1", 4)))
	s.Require().NoError(err)
	s.Require().Empty(changes)
	s.Require().Equal(10, s.stockOf("p-1"))
}

func (s *IntegrationTestSuite) TestReleaseOrderStock_SkipsRejectedLines() {
	s.seedProduct("p-1", 2)
	s.seedProduct("p-2", 10)
	orderID := uuid.New()

	_, err := s.ProductService.ReserveOrderStock(s.Ctx, orderCreated(orderID, line(1, "p-1", 5), line(2, "p-2", 3)))
	s.Require().NoError(err)

	changes, err := s.ProductService.ReleaseOrderStock(s.Ctx, orderCancelled(orderID, line(1, "p-1", 5), line(2, "p-2", 3)))
	s.Require().NoError(err)
	s.Require().Len(changes, 1)

	s.Require().Equal(2, s.stockOf("p-1"))
	s.Require().Equal(10, s.stockOf("p-2"))
}

func (s *IntegrationTestSuite) TestReleaseOrderStock_BeforeReservationVoidsIt() {
	s.seedProduct("p-1", 10)
	orderID := uuid.New()

	changes, err := s.ProductService.ReleaseOrderStock(s.Ctx, orderCancelled(orderID, line(1, "p-1", 4)))
	s.Require().NoError(err)
	s.Require().Empty(changes)

	changes, err = s.ProductService.ReserveOrderStock(s.Ctx, orderCreated(orderID, line(1, "p-1", 4)))
	s.Require().NoError(err)
	s.Require().Empty(changes)

	s.Require().Equal(10, s.stockOf("p-1"))
	s.Require().Equal(domain.ReservationVoided, s.reservationStatus(orderID, 1))
}
