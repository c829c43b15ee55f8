package permcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Storage holds bundles by principal ID. A missing or expired entry is
// reported as (nil, false, nil).
type Storage interface {
	Get(ctx context.Context, principalID int64) (*Bundle, bool, error)
	Set(ctx context.Context, b *Bundle) error
	Delete(ctx context.Context, principalIDs ...int64) error
	Purge(ctx context.Context) error
	// Name identifies the backend in metrics
	Name() string
}

// MemoryStorage keeps bundles in a size-bounded LRU with a TTL
type MemoryStorage struct {
	cache *lru.LRU[int64, *Bundle]
}

// DefaultMemoryEntries is used when NewMemoryStorage gets a non-positive size
const DefaultMemoryEntries = 10000

// NewMemoryStorage creates an in-process storage. A zero ttl keeps entries
// until they are evicted or invalidated.
func NewMemoryStorage(maxEntries int, ttl time.Duration) *MemoryStorage {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &MemoryStorage{
		cache: lru.NewLRU[int64, *Bundle](maxEntries, nil, ttl),
	}
}

func (s *MemoryStorage) Get(_ context.Context, principalID int64) (*Bundle, bool, error) {
	b, ok := s.cache.Get(principalID)
	return b, ok, nil
}

func (s *MemoryStorage) Set(_ context.Context, b *Bundle) error {
	s.cache.Add(b.PrincipalID(), b)
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, principalIDs ...int64) error {
	for _, id := range principalIDs {
		s.cache.Remove(id)
	}
	return nil
}

func (s *MemoryStorage) Purge(context.Context) error {
	s.cache.Purge()
	return nil
}

func (s *MemoryStorage) Name() string { return "memory" }

// Len returns the number of cached bundles
func (s *MemoryStorage) Len() int {
	return s.cache.Len()
}
