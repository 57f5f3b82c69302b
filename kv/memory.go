package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	value     string
	set       map[string]struct{}
	isCounter bool
	expiresAt time.Time
}

// MemoryStore is an in-process [Store] used by tests and single-process tools. It
// honours the same window semantics as [RedisStore]. It is NOT a substitute for a
// shared store when more than one process serves traffic.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty [MemoryStore] using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty [MemoryStore] reading time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:     now,
		entries: make(map[string]*memoryEntry),
	}
}

// live returns the entry at key, evicting it first if expired. Caller holds mu.
func (m *MemoryStore) live(key string, now time.Time) *memoryEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *MemoryStore) incrLocked(key string, delta int64, ttl time.Duration, sliding bool, now time.Time) (int64, error) {
	e := m.live(key, now)
	if e == nil {
		e = &memoryEntry{isCounter: true, expiresAt: now.Add(ttl)}
		m.entries[key] = e
	} else if !e.isCounter {
		if e.set != nil {
			return 0, ErrWrongType
		}
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, ErrWrongType
		}
		e.isCounter = true
		e.count = n
		e.value = ""
		if e.expiresAt.IsZero() {
			e.expiresAt = now.Add(ttl)
		}
	}
	e.count += delta
	if sliding {
		e.expiresAt = now.Add(ttl)
	}
	return e.count, nil
}

// IncrementWithExpiry implements [Store].
func (m *MemoryStore) IncrementWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrLocked(key, 1, ttl, false, m.now())
}

// IncrementAllWithExpiry implements [Store].
func (m *MemoryStore) IncrementAllWithExpiry(_ context.Context, ttl time.Duration, keys ...string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, key := range keys {
		if e := m.live(key, now); e != nil && !e.isCounter {
			if _, err := strconv.ParseInt(e.value, 10, 64); err != nil || e.set != nil {
				return nil, ErrWrongType
			}
		}
	}

	out := make([]int64, len(keys))
	for i, key := range keys {
		n, err := m.incrLocked(key, 1, ttl, false, now)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// IncrementBySliding implements [Store].
func (m *MemoryStore) IncrementBySliding(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrLocked(key, delta, ttl, true, m.now())
}

// AddToSetWithExpiry implements [Store].
func (m *MemoryStore) AddToSetWithExpiry(_ context.Context, key, member string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.live(key, now)
	if e == nil {
		e = &memoryEntry{set: make(map[string]struct{}), expiresAt: now.Add(ttl)}
		m.entries[key] = e
	} else if e.set == nil {
		return 0, ErrWrongType
	}
	e.set[member] = struct{}{}
	return int64(len(e.set)), nil
}

// SetWithExpiry implements [Store].
func (m *MemoryStore) SetWithExpiry(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Get implements [Store].
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key, m.now())
	if e == nil {
		return "", false, nil
	}
	if e.set != nil {
		return "", false, ErrWrongType
	}
	if e.isCounter {
		return strconv.FormatInt(e.count, 10), true, nil
	}
	return e.value, true, nil
}

// Exists implements [Store].
func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(key, m.now()) != nil, nil
}

// TTL implements [Store].
func (m *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.live(key, now)
	if e == nil || e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(now), nil
}

// Delete implements [Store].
func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// Len returns the number of live keys. Intended for tests.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for key := range m.entries {
		if m.live(key, now) != nil {
			n++
		}
	}
	return n
}
