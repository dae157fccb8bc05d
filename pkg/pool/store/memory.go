package store

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and store-less deployments.
// A single mutex serializes all operations, which makes Claim trivially
// atomic. TTLs are enforced lazily on access.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]memEntry
	counters  map[string]int64
	sets      map[string]map[string]struct{}
	available bool
	now       func() time.Time
}

type memEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]memEntry),
		counters:  make(map[string]int64),
		sets:      make(map[string]map[string]struct{}),
		available: true,
		now:       time.Now,
	}
}

// SetAvailable toggles simulated outages: while unavailable every operation
// fails with ErrUnavailable.
func (s *MemoryStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// SetClock replaces the store's clock; tests use it to expire keys without
// sleeping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) check() error {
	if !s.available {
		return NewConnectionError(nil)
	}
	return nil
}

// expired must be called with the lock held; it prunes and reports.
func (s *MemoryStore) expired(key string) bool {
	entry, ok := s.entries[key]
	if !ok {
		return true
	}
	if !entry.expires.IsZero() && !s.now().Before(entry.expires) {
		delete(s.entries, key)
		return true
	}
	return false
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check()
}

func (s *MemoryStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	entry := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.expired(key) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s.entries[key].value...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	return !s.expired(key), nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	if s.expired(key) {
		return 0, ErrNotFound
	}
	entry := s.entries[key]
	if entry.expires.IsZero() {
		return -1, nil // no expiry, mirrors the Redis convention
	}
	return entry.expires.Sub(s.now()), nil
}

func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var keys []string
	for key := range s.entries {
		if s.expired(key) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.counters[key] += delta
	return nil
}

func (s *MemoryStore) Counter(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.counters[key], nil
}

func (s *MemoryStore) IndexAdd(ctx context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	members, ok := s.sets[set]
	if !ok {
		members = make(map[string]struct{})
		s.sets[set] = members
	}
	members[member] = struct{}{}
	return nil
}

func (s *MemoryStore) IndexRemove(ctx context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.sets[set], member)
	return nil
}

func (s *MemoryStore) IndexMembers(ctx context.Context, set string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	members := make([]string, 0, len(s.sets[set]))
	for member := range s.sets[set] {
		members = append(members, member)
	}
	return members, nil
}

func (s *MemoryStore) Claim(ctx context.Context, blockKey, usedKey, indexSet, member string, fallbackTTL time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	if !s.expired(usedKey) {
		return nil, ErrClaimConflict
	}
	if s.expired(blockKey) {
		delete(s.sets[indexSet], member)
		return nil, ErrNotFound
	}

	entry := s.entries[blockKey]
	remaining := fallbackTTL
	if !entry.expires.IsZero() {
		remaining = entry.expires.Sub(s.now())
	}

	marker := memEntry{value: []byte("1")}
	if remaining > 0 {
		marker.expires = s.now().Add(remaining)
	}
	s.entries[usedKey] = marker
	delete(s.entries, blockKey)
	delete(s.sets[indexSet], member)

	return append([]byte(nil), entry.value...), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
