package store

import (
	"context"
	"sort"
	"sync"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
)

// MemoryStore 内存订单存储（测试与 dry-run 使用，不跨重启）
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*domain.OrderRecord
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*domain.OrderRecord)}
}

func (s *MemoryStore) Create(_ context.Context, rec *domain.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[rec.ClientOrderID]; ok {
		return ports.ErrOrderExists
	}
	s.orders[rec.ClientOrderID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, clientOrderID string) (*domain.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.orders[clientOrderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, rec *domain.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[rec.ClientOrderID]; !ok {
		return ports.ErrOrderNotFound
	}
	s.orders[rec.ClientOrderID] = rec.Clone()
	return nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*domain.OrderRecord, error) {
	return s.list(func(r *domain.OrderRecord) bool { return r.Status.IsActive() }), nil
}

func (s *MemoryStore) ListByPair(_ context.Context, pair domain.Pair) ([]*domain.OrderRecord, error) {
	return s.list(func(r *domain.OrderRecord) bool { return r.Pair == pair }), nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) list(keep func(*domain.OrderRecord) bool) []*domain.OrderRecord {
	s.mu.RLock()
	out := make([]*domain.OrderRecord, 0, len(s.orders))
	for _, r := range s.orders {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()
	sortByCreated(out)
	return out
}

func sortByCreated(recs []*domain.OrderRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ClientOrderID < recs[j].ClientOrderID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
