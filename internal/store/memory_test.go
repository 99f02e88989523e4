package store

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestMemoryStringTTL(t *testing.T) {
	t.Parallel()
	now := time.Now()
	clock := &fakeClock{t: now}
	m := NewMemoryAt(clock.Now)
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	if v, ok, _ := m.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("get = (%q, %v), want (v, true)", v, ok)
	}

	clock.Advance(61 * time.Second)

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("key should have expired after TTL")
	}
}

func TestMemorySetNX(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	ok, _ := m.SetNX(ctx, "k", "first", 0)
	if !ok {
		t.Fatal("first SetNX should succeed")
	}
	ok, _ = m.SetNX(ctx, "k", "second", 0)
	if ok {
		t.Fatal("second SetNX should fail")
	}
	if v, _, _ := m.Get(ctx, "k"); v != "first" {
		t.Errorf("value = %q, want first", v)
	}
}

func TestMemoryZSetOrdering(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	m.ZAdd(ctx, "w", ZMember{Score: 300, Member: "c"})
	m.ZAdd(ctx, "w", ZMember{Score: 100, Member: "a"})
	m.ZAdd(ctx, "w", ZMember{Score: 200, Member: "b"})

	got, err := m.ZRangeByScore(ctx, "w", math.Inf(-1), math.Inf(1))
	if err != nil {
		t.Fatalf("zrangebyscore: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %d members, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Member != w {
			t.Errorf("member[%d] = %q, want %q", i, got[i].Member, w)
		}
	}
}

func TestMemoryZSetDedupeByMember(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	// Same member added twice keeps a single entry (last score wins).
	m.ZAdd(ctx, "w", ZMember{Score: 100, Member: "x"})
	m.ZAdd(ctx, "w", ZMember{Score: 100, Member: "x"})

	if n, _ := m.ZCard(ctx, "w"); n != 1 {
		t.Errorf("zcard = %d, want 1", n)
	}
}

func TestMemoryZRemRangeByScore(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.ZAdd(ctx, "w", ZMember{Score: float64(i * 100), Member: string(rune('a' + i))})
	}

	removed, _ := m.ZRemRangeByScore(ctx, "w", math.Inf(-1), 499)
	if removed != 5 {
		t.Errorf("removed = %d, want 5", removed)
	}
	if n, _ := m.ZCard(ctx, "w"); n != 5 {
		t.Errorf("zcard = %d, want 5", n)
	}

	// Trim is idempotent.
	removed, _ = m.ZRemRangeByScore(ctx, "w", math.Inf(-1), 499)
	if removed != 0 {
		t.Errorf("second trim removed = %d, want 0", removed)
	}
}

func TestMemoryHashAndSet(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	m.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"})
	m.HDel(ctx, "h", "b")
	h, _ := m.HGetAll(ctx, "h")
	if len(h) != 1 || h["a"] != "1" {
		t.Errorf("hash = %v, want {a:1}", h)
	}

	m.SAdd(ctx, "s", "x", "y", "x")
	members, _ := m.SMembers(ctx, "s")
	if len(members) != 2 {
		t.Errorf("set members = %v, want 2 entries", members)
	}
	if ok, _ := m.SIsMember(ctx, "s", "x"); !ok {
		t.Error("x should be a member")
	}
	m.SRem(ctx, "s", "x")
	if ok, _ := m.SIsMember(ctx, "s", "x"); ok {
		t.Error("x should have been removed")
	}
}

func TestMemoryIncrByFloat(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	v, _ := m.IncrByFloat(ctx, "pnl", -12.5)
	if v != -12.5 {
		t.Errorf("first incr = %v, want -12.5", v)
	}
	v, _ = m.IncrByFloat(ctx, "pnl", 2.5)
	if v != -10 {
		t.Errorf("second incr = %v, want -10", v)
	}
}

// fakeClock is a manually-advanced clock for TTL tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
