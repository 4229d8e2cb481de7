package tests

import (
	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/services/order/internal/service"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestGetOrder_ScopedToBuyer() {
	order := s.createOrder("buyer-1")

	_, err := s.OrderService.GetOrder(s.Ctx, order.ID, "buyer-2")
	s.Require().ErrorIs(err, service.ErrOrderNotFound)

	_, err = s.OrderService.GetOrder(s.Ctx, uuid.New(), "buyer-1")
	s.Require().ErrorIs(err, service.ErrOrderNotFound)
}

func (s *IntegrationTestSuite) TestListOrders_Paginates() {
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, s.createOrder("buyer-1").ID)
	}
	s.createOrder("buyer-2")

	firstPage, err := s.OrderService.ListOrders(s.Ctx, "buyer-1", 1, 2)
	s.Require().NoError(err)
	s.Require().Len(firstPage, 2)

	secondPage, err := s.OrderService.ListOrders(s.Ctx, "buyer-1", 2, 2)
	s.Require().NoError(err)
	s.Require().Len(secondPage, 1)

	seen := map[uuid.UUID]bool{}
	for _, order := range append(firstPage, secondPage...) {
		s.Require().Equal("buyer-1", order.BuyerID)
		s.Require().Len(order.Items, 1)
		s.Require().NotNil(order.Payment)
		seen[order.ID] = true
	}
	for _, id := range ids {
		s.Require().True(seen[id])
	}

	s.Require().Equal(ids[2], firstPage[0].ID)

	clamped, err := s.OrderService.ListOrders(s.Ctx, "buyer-1", 0, 1000)
	s.Require().NoError(err)
	s.Require().Len(clamped, 3)
}

func (s *IntegrationTestSuite) TestGetOrder_KeepsPriceSnapshotAfterCatalogChange() {
	first := s.createOrder("buyer-1")

	s.Catalog["product-a"].Price = decimal.RequireFromString("150")
	second := s.createOrder("buyer-1")
	s.Require().True(decimal.RequireFromString("300").Equal(second.TotalAmount))

	stored, err := s.OrderService.GetOrder(s.Ctx, first.ID, "buyer-1")
	s.Require().NoError(err)
	s.Require().Len(stored.Items, 1)
	s.Require().True(decimal.RequireFromString("100").Equal(stored.Items[0].UnitPrice))
	s.Require().True(decimal.RequireFromString("200").Equal(stored.TotalAmount))

	var unitPrice string
	err = s.DbPool.QueryRow(s.Ctx, `SELECT unit_price::text FROM order_items WHERE order_id = $1`, first.ID).Scan(&unitPrice)
	s.Require().NoError(err)
	s.Require().True(decimal.RequireFromString("100").Equal(decimal.RequireFromString(unitPrice)))
}
