package cache

import (
	"testing"
	"time"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache[int](time.Minute)
	c.Set("a", 1)

	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) reported a hit")
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string](time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry missing before expiry")
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := c.Get("k"); ok {
		t.Error("entry survived past its TTL")
	}
}

func TestTTLCacheOverwriteRefreshesExpiry(t *testing.T) {
	c := NewTTLCache[int](time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("k", 1)
	c.now = func() time.Time { return base.Add(50 * time.Second) }
	c.Set("k", 2)

	c.now = func() time.Time { return base.Add(100 * time.Second) }
	got, ok := c.Get("k")
	if !ok || got != 2 {
		t.Errorf("Get(k) = %d, %v; want 2, true after refresh", got, ok)
	}
}

func TestTTLCacheDeleteAndPurge(t *testing.T) {
	c := NewTTLCache[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len after purge = %d, want 0", c.Len())
	}
}
