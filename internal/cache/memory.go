package cache

import (
	"context"
	"path"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory implements Cache in-process with patrickmn/go-cache. It backs the
// cached store when no Redis is configured.
type Memory struct {
	c *gocache.Cache
}

// NewMemory returns an in-process cache purging expired entries every cleanup.
func NewMemory(cleanup time.Duration) *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, cleanup)}
}

func (m *Memory) GetBytes(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return v.([]byte), nil
}

func (m *Memory) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

func (m *Memory) DelPattern(_ context.Context, pattern string) error {
	for k := range m.c.Items() {
		if ok, err := path.Match(pattern, k); err != nil {
			return err
		} else if ok {
			m.c.Delete(k)
		}
	}
	return nil
}
