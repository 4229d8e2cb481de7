package tests

import (
	"github.com/google/uuid"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/services/product/internal/domain"
	"github.com/sakashimaa/order-saga/services/product/internal/repository"
	"github.com/sakashimaa/order-saga/services/product/internal/service"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestCreate_WritesProductUpdatedEvent() {
	product := &domain.Product{
		ID:            "vinyl-1",
		Name:          "A Great Chaos Vinyl",
		Description:   "Best album vinyl",
		Price:         decimal.RequireFromString("99.99"),
		StockQuantity: 5,
		Category:      "Music",
	}

	s.Require().NoError(s.ProductService.Create(s.Ctx, product))
	s.Require().False(product.CreatedAt.IsZero())

	found, err := s.ProductService.FindByID(s.Ctx, "vinyl-1")
	s.Require().NoError(err)
	s.Require().Equal(product.Name, found.Name)
	s.Require().Equal(product.Description, found.Description)
	s.Require().True(product.Price.Equal(found.Price))
	s.Require().Equal(product.StockQuantity, found.StockQuantity)
	s.Require().Equal(product.Category, found.Category)

	s.Require().Equal(1, s.outboxCount(generalDomain.RoutingProductUpdated))
}

func (s *IntegrationTestSuite) TestCreate_Duplicate() {
	s.seedProduct("p-1", 1)

	err := s.ProductService.Create(s.Ctx, &domain.Product{ID: "p-1", Name: "again", Price: decimal.Zero})

	s.Require().ErrorIs(err, repository.ErrProductAlreadyExists)
}

func (s *IntegrationTestSuite) TestCreate_Invalid() {
	err := s.ProductService.Create(s.Ctx, &domain.Product{ID: "p-1", Name: "neg", StockQuantity: -1})

	s.Require().ErrorIs(err, service.ErrInvalidProduct)
	s.Require().Equal(0, s.CountRows("products"))
}

func (s *IntegrationTestSuite) TestFindByID_NotFound() {
	product, err := s.CachedProductService.FindByID(s.Ctx, "ghost")

	s.Require().ErrorIs(err, service.ErrProductNotFound)
	s.Require().Nil(product)
}

func (s *IntegrationTestSuite) TestFindByID_CachedAndInvalidatedByReservation() {
	s.seedProduct("p-1", 10)

	product, err := s.CachedProductService.FindByID(s.Ctx, "p-1")
	s.Require().NoError(err)
	s.Require().Equal(10, product.StockQuantity)

	ttl, err := s.Redis.TTL(s.Ctx, "products:detail:p-1").Result()
	s.Require().NoError(err)
	s.Require().Greater(ttl.Minutes(), 59.0)

	_, err = s.CachedProductService.ReserveOrderStock(s.Ctx, orderCreated(uuid.New(), line(1, "p-1", 4)))
	s.Require().NoError(err)

	exists, err := s.Redis.Exists(s.Ctx, "products:detail:p-1").Result()
	s.Require().NoError(err)
	s.Require().Zero(exists)

	product, err = s.CachedProductService.FindByID(s.Ctx, "p-1")
	s.Require().NoError(err)
	s.Require().Equal(6, product.StockQuantity)
}

func (s *IntegrationTestSuite) TestList_PaginatesAndSearches() {
	for _, id := range []string{"lamp-1", "lamp-2", "chair-1"} {
		err := s.ProductService.Create(s.Ctx, &domain.Product{
			ID:            id,
			Name:          id + " item",
			Price:         decimal.RequireFromString("5"),
			StockQuantity: 1,
		})
		s.Require().NoError(err)
	}

	page, total, err := s.ProductService.List(s.Ctx, 1, 2, "")
	s.Require().NoError(err)
	s.Require().Equal(3, total)
	s.Require().Len(page, 2)

	page, total, err = s.ProductService.List(s.Ctx, 2, 2, "")
	s.Require().NoError(err)
	s.Require().Equal(3, total)
	s.Require().Len(page, 1)

	page, total, err = s.ProductService.List(s.Ctx, 1, 20, "LAMP")
	s.Require().NoError(err)
	s.Require().Equal(2, total)
	s.Require().Len(page, 2)
}

func (s *IntegrationTestSuite) TestUpdate_ChangesCatalogFieldsAndEmitsEvents() {
	s.seedProduct("p-1", 10)

	_, err := s.CachedProductService.FindByID(s.Ctx, "p-1")
	s.Require().NoError(err)

	err = s.CachedProductService.Update(s.Ctx, &domain.Product{
		ID:            "p-1",
		Name:          "Renamed",
		Price:         decimal.RequireFromString("12.00"),
		StockQuantity: 15,
		Category:      "Home",
	})
	s.Require().NoError(err)

	found, err := s.CachedProductService.FindByID(s.Ctx, "p-1")
	s.Require().NoError(err)
	s.Require().Equal("Renamed", found.Name)
	s.Require().True(decimal.RequireFromString("12.00").Equal(found.Price))
	s.Require().Equal(15, found.StockQuantity)

	s.Require().Equal(2, s.outboxCount(generalDomain.RoutingProductUpdated))
	s.Require().Equal(1, s.outboxCount(generalDomain.RoutingStockChanged))
}

func (s *IntegrationTestSuite) TestUpdate_UnknownOrInvalid() {
	err := s.ProductService.Update(s.Ctx, &domain.Product{ID: "ghost", Name: "x", Price: decimal.Zero})
	s.Require().ErrorIs(err, service.ErrProductNotFound)

	s.seedProduct("p-1", 1)
	err = s.ProductService.Update(s.Ctx, &domain.Product{ID: "p-1", Name: "", Price: decimal.Zero})
	s.Require().ErrorIs(err, service.ErrInvalidProduct)
}

func (s *IntegrationTestSuite) TestDelete_HidesProductFromCatalogAndStock() {
	s.seedProduct("p-1", 10)
	s.seedProduct("p-2", 10)

	_, err := s.CachedProductService.FindByID(s.Ctx, "p-1")
	s.Require().NoError(err)

	s.Require().NoError(s.CachedProductService.Delete(s.Ctx, "p-1"))

	_, err = s.CachedProductService.FindByID(s.Ctx, "p-1")
	s.Require().ErrorIs(err, service.ErrProductNotFound)

	page, total, err := s.ProductService.List(s.Ctx, 1, 20, "")
	s.Require().NoError(err)
	s.Require().Equal(1, total)
	s.Require().Equal("p-2", page[0].ID)

	ok, err := s.ProductService.DecreaseStock(s.Ctx, "p-1", 1)
	s.Require().NoError(err)
	s.Require().False(ok)

	s.Require().Equal(2, s.CountRows("products"))
	s.Require().ErrorIs(s.ProductService.Delete(s.Ctx, "p-1"), service.ErrProductNotFound)

	var deleted bool
	err = s.DbPool.QueryRow(s.Ctx,
		`SELECT (payload->>'deleted')::boolean FROM outbox WHERE routing_key = $1 ORDER BY id DESC LIMIT 1`,
		generalDomain.RoutingProductUpdated).Scan(&deleted)
	s.Require().NoError(err)
	s.Require().True(deleted)
}
