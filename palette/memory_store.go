package palette

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryStore is an in-process Store. It uses go-cache for expiry and
// singleflight so simultaneous joins under one username agree on a color.
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewMemoryStore creates a MemoryStore whose entries live for ttl after their
// last assignment. A non-positive ttl keeps entries forever.
//
// Parameters:
//   - ttl: How long a username keeps its color after being assigned
//   - cleanupInterval: Interval at which expired entries are purged
//
// Returns:
//   - A new MemoryStore
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryStore{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

// GetOrAssign implements Store.
func (s *MemoryStore) GetOrAssign(ctx context.Context, username string, assign func() string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if color, found := s.get(username); found {
		return color, nil
	}

	v, err, _ := s.group.Do(username, func() (interface{}, error) {
		// Another caller may have filled the entry while we waited.
		if color, found := s.get(username); found {
			return color, nil
		}

		color := assign()
		s.cache.Set(username, color, s.ttl)
		return color, nil
	})
	if err != nil {
		return "", err
	}

	color, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type in color cache for %s", username)
	}

	return color, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, username, color string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Set(username, color, s.ttl)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Delete(username)
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.cache.ItemCount(), nil
}

func (s *MemoryStore) get(username string) (string, bool) {
	v, found := s.cache.Get(username)
	if !found {
		return "", false
	}
	color, ok := v.(string)
	return color, ok
}
