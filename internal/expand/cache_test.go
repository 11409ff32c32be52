package expand

import (
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	c := newCache(4)
	c.put("k", []string{"a", "b"})
	got, ok := c.get("k")
	if !ok || len(got) != 2 || got[0] != "a" {
		t.Fatalf("get = %v, %v", got, ok)
	}
	if _, ok := c.get("missing"); ok {
		t.Error("missing key reported present")
	}
}

func TestCacheRePutKeepsOneOrderSlot(t *testing.T) {
	c := newCache(2)
	c.put("a", []string{"1"})
	c.put("a", []string{"2"})
	c.put("b", []string{"3"})

	if got, ok := c.get("a"); !ok || got[0] != "2" {
		t.Fatalf("refreshed entry = %v, %v", got, ok)
	}

	// One slot per key: inserting past the cap evicts a, then b, never a
	// phantom duplicate.
	c.put("c", []string{"4"})
	if _, ok := c.get("a"); ok {
		t.Error("oldest key survived eviction")
	}
	c.put("d", []string{"5"})
	if _, ok := c.get("b"); ok {
		t.Error("second-oldest key survived eviction")
	}
	if len(c.entries) != 2 {
		t.Errorf("cache holds %d entries, want 2", len(c.entries))
	}
	for _, key := range []string{"c", "d"} {
		if _, ok := c.get(key); !ok {
			t.Errorf("fresh entry %q evicted", key)
		}
	}
}

func TestCacheExpiredKeyDoesNotEvictFreshEntry(t *testing.T) {
	c := newCache(2)
	c.put("stale", []string{"1"})
	c.entries["stale"].created = time.Now().Add(-cacheTTL - time.Minute)
	if _, ok := c.get("stale"); ok {
		t.Fatal("expired entry served")
	}

	c.put("x", []string{"2"})
	c.put("y", []string{"3"})

	// The order still names the expired key; eviction must skip past it to
	// the real oldest entry instead of dropping a fresh one.
	c.put("z", []string{"4"})
	if _, ok := c.get("x"); ok {
		t.Error("oldest live entry survived eviction")
	}
	for _, key := range []string{"y", "z"} {
		if _, ok := c.get(key); !ok {
			t.Errorf("fresh entry %q evicted", key)
		}
	}
	if len(c.entries) != 2 {
		t.Errorf("cache holds %d entries, want 2", len(c.entries))
	}
}
