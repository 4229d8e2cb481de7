package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/services/product/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProductService struct {
	ProductService

	finds    atomic.Int32
	products map[string]*domain.Product
	changes  []domain.StockChange
	release  chan struct{}
}

func (f *fakeProductService) FindByID(_ context.Context, id string) (*domain.Product, error) {
	f.finds.Add(1)
	if f.release != nil {
		<-f.release
	}

	product, ok := f.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}

	copied := *product
	return &copied, nil
}

func (f *fakeProductService) DecreaseStock(_ context.Context, id string, quantity int) (bool, error) {
	product, ok := f.products[id]
	if !ok || product.StockQuantity < quantity {
		return false, nil
	}

	product.StockQuantity -= quantity
	return true, nil
}

func (f *fakeProductService) Update(_ context.Context, product *domain.Product) error {
	if _, ok := f.products[product.ID]; !ok {
		return ErrProductNotFound
	}

	copied := *product
	f.products[product.ID] = &copied
	return nil
}

func (f *fakeProductService) Delete(_ context.Context, id string) error {
	if _, ok := f.products[id]; !ok {
		return ErrProductNotFound
	}

	delete(f.products, id)
	return nil
}

func (f *fakeProductService) ReserveOrderStock(_ context.Context, _ *generalDomain.OrderCreatedEvent) ([]domain.StockChange, error) {
	return f.changes, nil
}

func newCachedFixture(t *testing.T) (*miniredis.Miniredis, *fakeProductService, ProductService) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fake := &fakeProductService{
		products: map[string]*domain.Product{
			"p-1": {ID: "p-1", Name: "Lamp", Price: decimal.RequireFromString("12.50"), StockQuantity: 4},
		},
	}

	return mr, fake, NewCachedProductService(fake, client, time.Hour, zap.NewNop())
}

func TestCachedFindByID_PopulatesAndServesFromCache(t *testing.T) {
	mr, fake, svc := newCachedFixture(t)
	ctx := context.Background()

	first, err := svc.FindByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", first.Name)

	require.True(t, mr.Exists("products:detail:p-1"))
	assert.Equal(t, time.Hour, mr.TTL("products:detail:p-1"))

	second, err := svc.FindByID(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, first.Price.Equal(second.Price))
	assert.Equal(t, int32(1), fake.finds.Load())
}

func TestCachedFindByID_NotFoundIsNotCached(t *testing.T) {
	mr, _, svc := newCachedFixture(t)

	_, err := svc.FindByID(context.Background(), "missing")

	require.ErrorIs(t, err, ErrProductNotFound)
	assert.False(t, mr.Exists("products:detail:missing"))
}

func TestCachedFindByID_CorruptEntryFallsThrough(t *testing.T) {
	mr, fake, svc := newCachedFixture(t)
	require.NoError(t, mr.Set("products:detail:p-1", "{not json"))

	product, err := svc.FindByID(context.Background(), "p-1")

	require.NoError(t, err)
	assert.Equal(t, "p-1", product.ID)
	assert.Equal(t, int32(1), fake.finds.Load())
}

func TestCachedFindByID_CollapsesConcurrentMisses(t *testing.T) {
	_, fake, svc := newCachedFixture(t)
	fake.release = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.FindByID(context.Background(), "p-1")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return fake.finds.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fake.release)
	wg.Wait()

	assert.Less(t, fake.finds.Load(), int32(5))
}

func TestCachedDecreaseStock_InvalidatesOnlyOnSuccess(t *testing.T) {
	mr, _, svc := newCachedFixture(t)
	ctx := context.Background()

	_, err := svc.FindByID(ctx, "p-1")
	require.NoError(t, err)

	ok, err := svc.DecreaseStock(ctx, "p-1", 10)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("products:detail:p-1"))

	ok, err = svc.DecreaseStock(ctx, "p-1", 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("products:detail:p-1"))

	product, err := svc.FindByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, product.StockQuantity)
}

func TestCachedReserveOrderStock_InvalidatesChangedProducts(t *testing.T) {
	mr, fake, svc := newCachedFixture(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("products:detail:p-1", "{}"))
	require.NoError(t, mr.Set("products:detail:p-2", "{}"))
	fake.changes = []domain.StockChange{{ProductID: "p-1", OldStock: 4, NewStock: 2, Delta: -2}}

	changes, err := svc.ReserveOrderStock(ctx, &generalDomain.OrderCreatedEvent{OrderID: uuid.New()})

	require.NoError(t, err)
	assert.Len(t, changes, 1)
	assert.False(t, mr.Exists("products:detail:p-1"))
	assert.True(t, mr.Exists("products:detail:p-2"))
}

func TestCachedUpdate_InvalidatesAndServesNewFields(t *testing.T) {
	mr, _, svc := newCachedFixture(t)
	ctx := context.Background()

	_, err := svc.FindByID(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, mr.Exists("products:detail:p-1"))

	err = svc.Update(ctx, &domain.Product{ID: "p-1", Name: "Desk lamp", Price: decimal.RequireFromString("15.00"), StockQuantity: 4})
	require.NoError(t, err)
	assert.False(t, mr.Exists("products:detail:p-1"))

	product, err := svc.FindByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Desk lamp", product.Name)
	assert.True(t, decimal.RequireFromString("15.00").Equal(product.Price))
}

func TestCachedUpdate_FailureKeepsEntry(t *testing.T) {
	mr, _, svc := newCachedFixture(t)
	require.NoError(t, mr.Set("products:detail:ghost", "{}"))

	err := svc.Update(context.Background(), &domain.Product{ID: "ghost", Name: "Ghost"})

	require.ErrorIs(t, err, ErrProductNotFound)
	assert.True(t, mr.Exists("products:detail:ghost"))
}

func TestCachedDelete_DropsEntry(t *testing.T) {
	mr, _, svc := newCachedFixture(t)
	ctx := context.Background()

	_, err := svc.FindByID(ctx, "p-1")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "p-1"))
	assert.False(t, mr.Exists("products:detail:p-1"))

	_, err = svc.FindByID(ctx, "p-1")
	require.ErrorIs(t, err, ErrProductNotFound)
}
