package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Spok95/stock-ledger/internal/cache"
)

// KeyLowStockThreshold — порог критичного остатка, правится на лету.
const KeyLowStockThreshold = "low_stock_threshold"

const DefaultLowStockThreshold = 10

var ErrBadValue = errors.New("bad setting value")

// Store — минимум, который нужен сервису от репозитория.
type Store interface {
	Set(ctx context.Context, name, value string) error
	All(ctx context.Context) (map[string]string, error)
}

// Service читает настройки через кэш (TTL справочника) и чистит семейство
// settings при каждом обновлении.
type Service struct {
	store Store
	cache *cache.Tiered
	inv   *cache.Invalidator
	ttl   time.Duration

	defaultThreshold float64
}

func NewService(store Store, c *cache.Tiered, inv *cache.Invalidator, ttl time.Duration, defaultThreshold float64) *Service {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultLowStockThreshold
	}
	return &Service{store: store, cache: c, inv: inv, ttl: ttl, defaultThreshold: defaultThreshold}
}

func (s *Service) LowStockThreshold(ctx context.Context) (float64, error) {
	all, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	raw, ok := all[KeyLowStockThreshold]
	if !ok {
		return s.defaultThreshold, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// битое значение в сторе — работаем на дефолте, не падаем
		return s.defaultThreshold, nil
	}
	return v, nil
}

func (s *Service) All(ctx context.Context) (map[string]string, error) {
	return s.all(ctx)
}

func (s *Service) Update(ctx context.Context, name, value string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrBadValue)
	}
	if name == KeyLowStockThreshold {
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("%w: %s must be a number", ErrBadValue, name)
		}
	}
	if err := s.store.Set(ctx, name, value); err != nil {
		return err
	}
	s.inv.Purge(cache.FamilySettings)
	return nil
}

func (s *Service) all(ctx context.Context) (map[string]string, error) {
	key := cache.Key{Family: cache.FamilySettings}
	return cache.Fetch(ctx, s.cache, key, s.ttl, func(ctx context.Context) (map[string]string, error) {
		return s.store.All(ctx)
	})
}
