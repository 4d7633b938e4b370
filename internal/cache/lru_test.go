package cache

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(size int, ttl time.Duration) (*LRUCache[int], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](size, ttl)
	c.now = clock.now
	return c, clock
}

func TestLRUCache_GetSet(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("Get(a) after overwrite = %d, want 2", v)
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) after Delete should miss")
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // b is now the oldest
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should still be cached", key)
		}
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)

	c.Set("a", 1)
	clock.advance(30 * time.Second)
	c.Set("b", 2)
	clock.advance(45 * time.Second)

	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should still be live")
	}

	clock.advance(time.Minute)
	if removed := c.CleanExpired(); removed != 1 {
		t.Errorf("CleanExpired() = %d, want 1", removed)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestLRUCache_Seen(t *testing.T) {
	c, clock := newTestCache(2, time.Minute)

	if c.Seen("evt-1") {
		t.Fatal("first delivery reported as duplicate")
	}
	if !c.Seen("evt-1") {
		t.Fatal("redelivery not detected")
	}

	clock.advance(2 * time.Minute)
	if c.Seen("evt-1") {
		t.Error("expired id should be treated as new")
	}

	c.Seen("evt-2")
	c.Seen("evt-3")
	if c.Seen("evt-1") {
		t.Error("evicted id should be treated as new")
	}
}

func TestNewLRUCache_MinimumSize(t *testing.T) {
	c := NewLRUCache[string](0, time.Minute)
	c.Set("a", "x")
	c.Set("b", "y")
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestSweeper_SweepOnce(t *testing.T) {
	a, clock := newTestCache(4, time.Minute)
	b := NewLRUCache[string](4, time.Hour)
	b.now = clock.now

	a.Set("x", 1)
	a.Set("y", 2)
	b.Set("z", "kept")
	clock.advance(2 * time.Minute)

	s := NewSweeper(time.Hour, a, b)
	if got := s.SweepOnce(); got != 2 {
		t.Errorf("SweepOnce() = %d, want 2", got)
	}
	if a.Size() != 0 || b.Size() != 1 {
		t.Errorf("sizes = %d, %d, want 0, 1", a.Size(), b.Size())
	}
}

func TestSweeper_StartStop(t *testing.T) {
	c, _ := newTestCache(1, time.Minute)
	s := NewSweeper(time.Millisecond, c)

	s.Stop()

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Stop()
}
