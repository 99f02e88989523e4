package freshness

import (
	"context"
	"testing"
	"time"

	"polysentry/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time           { return c.t }
func (c *fakeClock) Advance(d time.Duration)  { c.t = c.t.Add(d) }

func newTracker() (*Tracker, *fakeClock, *store.Memory) {
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	mem := store.NewMemoryAt(clock.Now)
	return NewTrackerAt(mem, clock.Now), clock, mem
}

func TestStatusForBuckets(t *testing.T) {
	t.Parallel()
	cases := []struct {
		kind Kind
		age  int64
		want Status
	}{
		{KindOrderbook, 0, StatusFresh},
		{KindOrderbook, 1_999, StatusFresh},
		{KindOrderbook, 2_000, StatusWarning},
		{KindOrderbook, 4_999, StatusWarning},
		{KindOrderbook, 5_000, StatusStale},
		{KindOrderbook, 10_000, StatusCritical},
		{KindOrderbook, 30_000, StatusExpired},
		{KindTrade, 9_000, StatusWarning},
		{KindMarket, 299_999, StatusWarning},
		{KindWallet, 86_400_000, StatusExpired},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.kind, tc.age); got != tc.want {
			t.Errorf("StatusFor(%s, %d) = %s, want %s", tc.kind, tc.age, got, tc.want)
		}
	}
}

func TestTouchAndCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr, clock, _ := newTracker()

	if err := tr.Touch(ctx, KindOrderbook, "tok1"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	rec, err := tr.Check(ctx, KindOrderbook, "tok1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rec.Status != StatusFresh || !rec.TradeSafe() {
		t.Errorf("status = %s immediately after touch, want fresh", rec.Status)
	}

	clock.Advance(3 * time.Second)
	rec, _ = tr.Check(ctx, KindOrderbook, "tok1")
	if rec.Status != StatusWarning {
		t.Errorf("status = %s at 3s, want warning", rec.Status)
	}
	if !rec.TradeSafe() {
		t.Error("warning should still be trade-safe")
	}
	if rec.AgeMs != 3000 {
		t.Errorf("age = %d, want 3000", rec.AgeMs)
	}

	clock.Advance(12 * time.Second)
	rec, _ = tr.Check(ctx, KindOrderbook, "tok1")
	if rec.Status != StatusCritical || rec.TradeSafe() {
		t.Errorf("status = %s at 15s, want critical and not trade-safe", rec.Status)
	}
}

func TestCheckUnknownWithoutRecord(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTracker()
	rec, err := tr.Check(context.Background(), KindTrade, "tok-never")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rec.Status != StatusUnknown || rec.AgeMs != -1 {
		t.Errorf("record = %+v, want unknown/-1", rec)
	}
}

func TestCheckTokenCombined(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr, clock, mem := newTracker()

	// No data at all.
	tf, err := tr.CheckToken(ctx, "tok1", "cond1")
	if err != nil {
		t.Fatalf("checkToken: %v", err)
	}
	if tf.OK || tf.Reason != "no orderbook data" {
		t.Errorf("empty token: ok=%v reason=%q", tf.OK, tf.Reason)
	}

	// Fresh book + metadata, no trade record: passes.
	if err := tr.Touch(ctx, KindOrderbook, "tok1"); err != nil {
		t.Fatal(err)
	}
	if err := mem.Set(ctx, store.MarketMetadataKey("cond1"), "{}", store.MetadataTTL); err != nil {
		t.Fatal(err)
	}
	tf, _ = tr.CheckToken(ctx, "tok1", "cond1")
	if !tf.OK {
		t.Errorf("fresh book without trades should pass, got reason %q", tf.Reason)
	}

	// Trade record present and stale: fails even with a fresh book.
	if err := tr.Touch(ctx, KindTrade, "tok1"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(12 * time.Second)
	if err := tr.Touch(ctx, KindOrderbook, "tok1"); err != nil {
		t.Fatal(err)
	}
	tf, _ = tr.CheckToken(ctx, "tok1", "cond1")
	if tf.OK {
		t.Error("stale trades should fail the combined check")
	}

	// Book gone stale dominates.
	clock.Advance(20 * time.Second)
	tf, _ = tr.CheckToken(ctx, "tok1", "cond1")
	if tf.OK || tf.Book.TradeSafe() {
		t.Error("stale book should fail the combined check")
	}
}

func TestCheckTokenMissingMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr, _, _ := newTracker()
	if err := tr.Touch(ctx, KindOrderbook, "tok1"); err != nil {
		t.Fatal(err)
	}
	tf, _ := tr.CheckToken(ctx, "tok1", "cond-missing")
	if tf.OK || tf.Reason != "market metadata missing" {
		t.Errorf("ok=%v reason=%q, want metadata-missing rejection", tf.OK, tf.Reason)
	}
}
