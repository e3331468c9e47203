package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMaxEntries = 1000
	defaultTTL        = time.Hour
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process LRU. The LRU evicts by size and by the store-wide
// TTL; a shorter per-entry TTL is checked on Get.
type Memory struct {
	lru *expirable.LRU[string, memEntry]
	now func() time.Time
}

// NewMemory creates a store holding at most maxEntries values for at most ttl.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Memory{
		lru: expirable.NewLRU[string, memEntry](maxEntries, nil, ttl),
		now: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.lru.Remove(key)
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int { return m.lru.Len() }

func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
