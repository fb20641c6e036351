package cache

import (
	"testing"
	"time"
)

func TestCache_Expiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New[string](time.Minute, 0)
	c.now = func() time.Time { return now }

	c.Set("a", "one")
	if v, ok := c.Get("a"); !ok || v != "one" {
		t.Fatalf("Get(a) = %q, %v; want one, true", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("expired entry returned")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expiry, want 0", c.Len())
	}
}

func TestCache_MaxEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New[int](time.Minute, 2)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	now = now.Add(time.Second)
	c.Set("b", 2)
	now = now.Add(time.Second)
	c.Set("c", 3)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("Get(c) = %d, %v", v, ok)
	}

	// overwriting an existing key never evicts
	c.Set("b", 20)
	if _, ok := c.Get("c"); !ok {
		t.Error("overwrite evicted another key")
	}
}

func TestCache_Delete(t *testing.T) {
	c := New[int](time.Minute, 0)
	c.Set("a", 1)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted key still present")
	}
}
