package cache

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	c := NewPathLRU(2)
	c.Put("/a", 1)
	c.Put("/b", 2)

	if v, ok := c.Get("/a"); !ok || v.(int) != 1 {
		t.Fatalf("want (1, true) for /a, got (%v, %v)", v, ok)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewPathLRU(2)
	c.Put("/a", 1)
	c.Put("/b", 2)
	c.Get("/a") // promotes /a, /b is now least-recently-used
	c.Put("/c", 3)

	if _, ok := c.Get("/b"); ok {
		t.Fatal("/b should have been evicted")
	}
	if _, ok := c.Get("/a"); !ok {
		t.Fatal("/a should still be cached")
	}
	if _, ok := c.Get("/c"); !ok {
		t.Fatal("/c should be cached")
	}
	if c.Len() != 2 {
		t.Fatalf("want len 2, got %d", c.Len())
	}
}

func TestDelete(t *testing.T) {
	c := NewPathLRU(4)
	c.Put("/a", 1)
	c.Delete("/a")
	if _, ok := c.Get("/a"); ok {
		t.Fatal("/a should be gone after Delete")
	}
}

func TestZeroCapacityTreatedAsOne(t *testing.T) {
	c := NewPathLRU(0)
	c.Put("/a", 1)
	c.Put("/b", 2)
	if c.Len() != 1 {
		t.Fatalf("want capacity clamped to 1, got len %d", c.Len())
	}
}
