package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"news_enricher/internal/domain"
)

type CacheStore struct {
	mu      sync.RWMutex
	entries map[int64]domain.CacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewCacheStore(ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = domain.DefaultCacheTTL
	}
	return &CacheStore{
		entries: make(map[int64]domain.CacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *CacheStore) WithClock(now func() time.Time) *CacheStore {
	s.now = now
	return s
}

func (s *CacheStore) TTL() time.Duration {
	return s.ttl
}

func (s *CacheStore) Get(_ context.Context, itemID int64) (*domain.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[itemID]
	if !ok || !entry.ValidAt(s.now()) {
		return nil, nil
	}
	return copyEntry(entry), nil
}

func (s *CacheStore) GetAny(_ context.Context, itemID int64) (*domain.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[itemID]
	if !ok {
		return nil, nil
	}
	return copyEntry(entry), nil
}

func (s *CacheStore) GetValidBatch(_ context.Context, itemIDs []int64) (map[int64]domain.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	result := make(map[int64]domain.CacheEntry)
	for _, id := range itemIDs {
		if entry, ok := s.entries[id]; ok && entry.ValidAt(now) {
			result[id] = *copyEntry(entry)
		}
	}
	return result, nil
}

func (s *CacheStore) Upsert(_ context.Context, entry *domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry.UpdatedAt = now
	entry.ExpiresAt = now.Add(s.ttl)
	entry.Tags = domain.NormalizeTags(entry.Tags)
	entry.CreatedAt = now
	if existing, ok := s.entries[entry.ItemID]; ok {
		entry.CreatedAt = existing.CreatedAt
	}

	s.entries[entry.ItemID] = *copyEntry(*entry)
	return nil
}

func (s *CacheStore) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for id, entry := range s.entries {
		if entry.ExpiresAt.Before(now) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func copyEntry(entry domain.CacheEntry) *domain.CacheEntry {
	entry.Tags = slices.Clone(entry.Tags)
	return &entry
}
