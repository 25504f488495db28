package cache

import (
	"testing"
	"time"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, time.Minute)

	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("get = %d/%v, want 1/true", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Fatal("missing key reported present")
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("a", "x", time.Nanosecond)
	time.Sleep(time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expired entry reported present")
	}
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("a", "x", 0)

	if _, ok := c.Get("a"); !ok {
		t.Fatal("non-expiring entry missing")
	}
}

func TestTTLCacheOverwrite(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, time.Minute)
	c.Set("a", 2, time.Minute)

	if got, _ := c.Get("a"); got != 2 {
		t.Fatalf("get = %d, want 2", got)
	}
}
