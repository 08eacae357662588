package options

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(clock *fakeClock) *Cache[ScopeKey] {
	c := NewCache[ScopeKey]()
	c.now = clock.Now
	return c
}

func TestCacheGetSet(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(clock)
	key := SubscriptionKey(7, "k")

	if _, ok := c.Get(key); ok {
		t.Fatal("Get() on empty cache reported a hit")
	}
	c.Set(key, true)
	v, ok := c.Get(key)
	if !ok || v != true {
		t.Fatalf("Get() = %v, %v, want true, true", v, ok)
	}
	if _, ok := c.Get(SubscriptionKey(8, "k")); ok {
		t.Error("Get() matched a different subscription id")
	}
}

func TestCacheExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(clock)
	key := GlobalKey("k")

	c.Set(key, 1)
	clock.Advance(DefaultTTL - time.Second)
	if _, ok := c.Get(key); !ok {
		t.Fatal("entry expired before its TTL")
	}

	clock.Advance(2 * time.Second)
	if v, ok := c.Get(key); ok {
		t.Fatalf("Get() returned stale value %v", v)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expired Get, want 0", c.Len())
	}

	// Setting again refreshes the timestamp.
	c.Set(key, 2)
	clock.Advance(DefaultTTL / 2)
	c.Set(key, 3)
	clock.Advance(DefaultTTL/2 + time.Minute)
	if v, ok := c.Get(key); !ok || v != 3 {
		t.Errorf("Get() = %v, %v, want 3, true", v, ok)
	}
}

func TestCacheRemoveInvalidateClearExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(clock)

	c.Set(UserKey("a", "k"), 1)
	c.Set(UserKey("b", "k"), 2)
	c.Remove(UserKey("a", "k"))
	if _, ok := c.Get(UserKey("a", "k")); ok {
		t.Error("Remove() left the entry in place")
	}
	if _, ok := c.Get(UserKey("b", "k")); !ok {
		t.Error("Remove() evicted an unrelated entry")
	}

	c.Invalidate()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Invalidate, want 0", c.Len())
	}

	c.Set(FolderKey(1, "k"), 1)
	clock.Advance(DefaultTTL)
	c.Set(FolderKey(2, "k"), 2)
	if n := c.ClearExpired(); n != 1 {
		t.Errorf("ClearExpired() = %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache[ScopeKey]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := SubscriptionKey(int64(j%10), "k")
				if j%5 == 0 {
					c.Set(key, i)
				}
				c.Get(key)
				if j%50 == 0 {
					c.ClearExpired()
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestCacheSetIfGeneration(t *testing.T) {
	c := NewCache[ScopeKey]()
	key := UserKey("u1", "k")

	gen := c.Generation()
	if !c.SetIfGeneration(key, 1, gen) {
		t.Fatal("SetIfGeneration() with current generation = false")
	}

	gen = c.Generation()
	c.Invalidate()
	if c.SetIfGeneration(key, 2, gen) {
		t.Error("SetIfGeneration() after Invalidate = true")
	}
	if _, ok := c.Get(key); ok {
		t.Error("Get() found a value filled with an old generation")
	}

	gen = c.Generation()
	c.Remove(GlobalKey("other"))
	if c.SetIfGeneration(key, 3, gen) {
		t.Error("SetIfGeneration() after Remove = true")
	}

	gen = c.Generation()
	c.Set(GlobalKey("other"), 4)
	if c.SetIfGeneration(key, 5, gen) {
		t.Error("SetIfGeneration() after Set = true")
	}
}
