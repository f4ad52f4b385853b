package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/trungvo-ux/windows97/internal/repository"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process KeyValueStore for local development and tests.
// It mirrors the Redis semantics the service relies on.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

var _ repository.KeyValueStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) lookupLocked(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookupLocked(key)
	return entry.value, ok, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookupLocked(key)
	return ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookupLocked(key)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		delete(s.entries, key)
		return true, nil
	}
	entry.expiresAt = s.deadline(ttl)
	s.entries[key] = entry
	return true, nil
}

// TTL returns the remaining lifetime of key, or a negative duration when the
// key is missing or has no expiry. Like Len it is an inspection helper and
// not part of KeyValueStore.
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookupLocked(key)
	if !ok {
		return -2 * time.Millisecond, nil
	}
	if entry.expiresAt.IsZero() {
		return -1 * time.Millisecond, nil
	}
	return entry.expiresAt.Sub(s.now()), nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookupLocked(key)
	var count int64
	if ok {
		n, err := strconv.ParseInt(entry.value, 10, 64)
		if err != nil {
			return 0, 0, storeErr("incr window", err)
		}
		count = n
	}
	count++
	entry.value = strconv.FormatInt(count, 10)
	if count == 1 || entry.expiresAt.IsZero() {
		entry.expiresAt = s.deadline(window)
	}
	s.entries[key] = entry
	return count, entry.expiresAt.Sub(s.now()), nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := s.now()
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}
