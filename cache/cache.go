// Package cache provides the time-boxed payload store consulted by the
// fetch orchestrator before any network call.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is one cached payload keyed by URL. An entry is a hit only while
// now - FetchedAt < TTL; expired entries are treated as misses but stay in
// place until evicted or the store is purged (lazy expiry).
type Entry struct {
	Payload   []byte
	FetchedAt time.Time
	TTL       time.Duration
}

// Store is a bounded, thread-safe TTL cache over URL payloads. The LRU
// backing guarantees one entry per key and atomic replacement on Put, so a
// concurrent Get never observes a half-written entry.
type Store struct {
	entries *lru.Cache[string, Entry]
	now     func() time.Time
}

// New builds a store holding at most maxEntries payloads.
func New(maxEntries int) (*Store, error) {
	entries, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Store{
		entries: entries,
		now:     time.Now,
	}, nil
}

// Get returns the payload for key if a non-expired entry exists.
func (s *Store) Get(key string) ([]byte, bool) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, false
	}
	if s.now().Sub(entry.FetchedAt) >= entry.TTL {
		return nil, false
	}
	return entry.Payload, true
}

// Put stores a payload under key with the given TTL, replacing any
// previous entry for the same key.
func (s *Store) Put(key string, payload []byte, ttl time.Duration) {
	s.entries.Add(key, Entry{
		Payload:   payload,
		FetchedAt: s.now(),
		TTL:       ttl,
	})
}

// Invalidate drops the entry for key, if any.
func (s *Store) Invalidate(key string) {
	s.entries.Remove(key)
}

// InvalidateAll clears the entire store. Operators use this to force a
// full re-scan.
func (s *Store) InvalidateAll() {
	s.entries.Purge()
}

// Len reports the number of resident entries, expired ones included.
func (s *Store) Len() int {
	return s.entries.Len()
}

// SetClock overrides the time source. Tests use this to step through TTL
// boundaries without sleeping.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}
