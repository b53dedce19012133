package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"
)

// Memcache adapts a memcache client to the Store contract (spec.md §4.3: the
// rotator's "external key-value store").
type Memcache struct {
	client *memcache.Client
}

// NewMemcache dials one or more memcache servers given as "host:port".
func NewMemcache(servers ...string) *Memcache {
	return &Memcache{client: memcache.New(servers...)}
}

// Get fetches key. A cache miss is reported as (nil, false, nil); any other
// failure is returned as an error.
func (m *Memcache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: memcache get %q: %w", key, err)
	}
	return item.Value, true, nil
}
