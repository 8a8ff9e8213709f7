package audit

import (
	"context"
	"time"

	"github.com/Spok95/stock-ledger/internal/cache"
)

// Store — минимум от репозитория.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Page(ctx context.Context, page, size int) ([]Entry, int, error)
}

type page struct {
	Items []Entry `json:"items"`
	Total int     `json:"total"`
}

// Service: чтение страниц через кэш, запись — мимо, с инвалидацией семейства audit.
type Service struct {
	store Store
	cache *cache.Tiered
	inv   *cache.Invalidator
	ttl   time.Duration
}

func NewService(store Store, c *cache.Tiered, inv *cache.Invalidator, ttl time.Duration) *Service {
	return &Service{store: store, cache: c, inv: inv, ttl: ttl}
}

func (s *Service) Record(ctx context.Context, e Entry) error {
	if err := s.store.Record(ctx, e); err != nil {
		return err
	}
	s.inv.Purge(cache.FamilyAudit)
	return nil
}

func (s *Service) Page(ctx context.Context, pageNum, size int) ([]Entry, int, error) {
	if pageNum < 1 {
		pageNum = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	key := cache.Key{Family: cache.FamilyAudit, Page: pageNum, PageSize: size}
	p, err := cache.Fetch(ctx, s.cache, key, s.ttl, func(ctx context.Context) (page, error) {
		items, total, err := s.store.Page(ctx, pageNum, size)
		return page{Items: items, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return p.Items, p.Total, nil
}
