package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/services/product/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultCacheTTL = time.Hour

func detailKey(id string) string {
	return fmt.Sprintf("products:detail:%s", id)
}

// cachedProductService serves product details from Redis and drops the entry
// of every product it changes. Cache failures only degrade to the
// underlying service.
type cachedProductService struct {
	next        ProductService
	redisClient *redis.Client
	cacheTTL    time.Duration
	group       singleflight.Group
	logger      *zap.Logger
}

func NewCachedProductService(next ProductService, redisClient *redis.Client, cacheTTL time.Duration, logger *zap.Logger) ProductService {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	return &cachedProductService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

func (s *cachedProductService) Create(ctx context.Context, product *domain.Product) error {
	if err := s.next.Create(ctx, product); err != nil {
		return err
	}

	s.invalidate(ctx, product.ID)
	return nil
}

func (s *cachedProductService) Update(ctx context.Context, product *domain.Product) error {
	if err := s.next.Update(ctx, product); err != nil {
		return err
	}

	s.invalidate(ctx, product.ID)
	return nil
}

func (s *cachedProductService) Delete(ctx context.Context, id string) error {
	if err := s.next.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, id)
	return nil
}

func (s *cachedProductService) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	key := detailKey(id)

	val, err := s.redisClient.Get(ctx, key).Bytes()
	if err == nil {
		var product domain.Product
		if err := json.Unmarshal(val, &product); err == nil {
			return &product, nil
		}

		mylogger.Warn(ctx, s.logger, "Dropping unreadable cache entry", zap.String("key", key))
		s.invalidate(ctx, id)
	} else if !errors.Is(err, redis.Nil) {
		mylogger.Warn(ctx, s.logger, "Cache read failed", zap.String("key", key), zap.Error(err))
	}

	res, err, _ := s.group.Do(key, func() (any, error) {
		product, err := s.next.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if data, err := json.Marshal(product); err == nil {
			if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
				mylogger.Warn(ctx, s.logger, "Cache write failed", zap.String("key", key), zap.Error(err))
			}
		}

		return product, nil
	})
	if err != nil {
		return nil, err
	}

	product := *res.(*domain.Product)
	return &product, nil
}

func (s *cachedProductService) List(ctx context.Context, page, pageSize int, search string) ([]domain.Product, int, error) {
	return s.next.List(ctx, page, pageSize, search)
}

func (s *cachedProductService) DecreaseStock(ctx context.Context, id string, quantity int) (bool, error) {
	ok, err := s.next.DecreaseStock(ctx, id, quantity)
	if err != nil {
		return false, err
	}

	if ok {
		s.invalidate(ctx, id)
	}

	return ok, nil
}

func (s *cachedProductService) ReserveOrderStock(ctx context.Context, event *generalDomain.OrderCreatedEvent) ([]domain.StockChange, error) {
	changes, err := s.next.ReserveOrderStock(ctx, event)
	s.invalidateChanges(ctx, changes)

	return changes, err
}

func (s *cachedProductService) ReleaseOrderStock(ctx context.Context, event *generalDomain.OrderCancelledEvent) ([]domain.StockChange, error) {
	changes, err := s.next.ReleaseOrderStock(ctx, event)
	s.invalidateChanges(ctx, changes)

	return changes, err
}

func (s *cachedProductService) invalidateChanges(ctx context.Context, changes []domain.StockChange) {
	for _, change := range changes {
		s.invalidate(ctx, change.ProductID)
	}
}

func (s *cachedProductService) invalidate(ctx context.Context, id string) {
	if err := s.redisClient.Del(ctx, detailKey(id)).Err(); err != nil {
		mylogger.Warn(ctx, s.logger, "Cache invalidation failed", zap.String("product_id", id), zap.Error(err))
	}
}
