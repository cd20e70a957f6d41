package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStoreTTLBoundary(t *testing.T) {
	s, err := New(16)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	base := time.Unix(1_700_000_000, 0)
	current := base
	s.SetClock(func() time.Time { return current })

	s.Put("http://catalog.test/device-1.php", []byte("payload"), 60*time.Second)

	current = base.Add(30 * time.Second)
	if payload, ok := s.Get("http://catalog.test/device-1.php"); !ok || string(payload) != "payload" {
		t.Fatalf("expected hit at t=30s, got ok=%v payload=%q", ok, payload)
	}

	current = base.Add(61 * time.Second)
	if _, ok := s.Get("http://catalog.test/device-1.php"); ok {
		t.Fatalf("expected miss at t=61s")
	}
}

func TestStoreLazyExpiry(t *testing.T) {
	s, err := New(16)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	base := time.Unix(0, 0)
	current := base
	s.SetClock(func() time.Time { return current })

	s.Put("key", []byte("old"), time.Second)
	current = base.Add(2 * time.Second)

	if _, ok := s.Get("key"); ok {
		t.Fatalf("expired entry should read as miss")
	}
	// Expired entries stay resident until evicted or purged.
	if got := s.Len(); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
}

func TestStoreInvalidate(t *testing.T) {
	s, err := New(16)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	s.Put("a", []byte("1"), time.Hour)
	s.Put("b", []byte("2"), time.Hour)

	s.Invalidate("a")
	if _, ok := s.Get("a"); ok {
		t.Fatalf("invalidated key should miss")
	}
	if _, ok := s.Get("b"); !ok {
		t.Fatalf("untouched key should still hit")
	}

	s.InvalidateAll()
	if got := s.Len(); got != 0 {
		t.Fatalf("len after purge = %d, want 0", got)
	}
}

func TestStorePutReplacesEntry(t *testing.T) {
	s, err := New(16)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	s.Put("key", []byte("old"), time.Hour)
	s.Put("key", []byte("new"), time.Hour)

	payload, ok := s.Get("key")
	if !ok || string(payload) != "new" {
		t.Fatalf("got ok=%v payload=%q, want new", ok, payload)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("len = %d, want 1 (one entry per key)", got)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s, err := New(256)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d", i%32)
				s.Put(key, []byte(fmt.Sprintf("w%d-%d", worker, i)), time.Hour)
				if payload, ok := s.Get(key); ok && len(payload) == 0 {
					t.Errorf("observed empty payload for %s", key)
				}
			}
		}(w)
	}
	wg.Wait()
}
