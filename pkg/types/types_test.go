package types

import (
	"strings"
	"testing"
	"time"
)

func validTrade() Trade {
	return Trade{
		ID:           "0xabc",
		TokenID:      "tok-1",
		ConditionID:  "cond-1",
		Timestamp:    1_700_000_000_000,
		Side:         BUY,
		Price:        0.42,
		Size:         100,
		TakerAddress: "0x1111111111111111111111111111111111111111",
	}
}

func TestTradeValidate(t *testing.T) {
	t.Parallel()

	if err := validTrade().Validate(); err != nil {
		t.Fatalf("valid trade rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Trade)
		want   string
	}{
		{"missing id", func(tr *Trade) { tr.ID = "" }, "missing id"},
		{"missing token", func(tr *Trade) { tr.TokenID = "" }, "missing token id"},
		{"bad side", func(tr *Trade) { tr.Side = "HOLD" }, "invalid side"},
		{"price above one", func(tr *Trade) { tr.Price = 1.01 }, "out of [0,1]"},
		{"negative price", func(tr *Trade) { tr.Price = -0.1 }, "out of [0,1]"},
		{"zero size", func(tr *Trade) { tr.Size = 0 }, "non-positive size"},
		{"no timestamp", func(tr *Trade) { tr.Timestamp = 0 }, "missing timestamp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := validTrade()
			tc.mutate(&tr)
			err := tr.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestTradeNotionalUSD(t *testing.T) {
	t.Parallel()

	tr := validTrade()
	if got := tr.NotionalUSD(); got != 42 {
		t.Fatalf("notional = %v, want 42", got)
	}
}

func TestBookSnapshotTopOfBook(t *testing.T) {
	t.Parallel()

	b := BookSnapshot{
		TokenID: "tok-1",
		Bids:    []PriceLevel{{Price: 0.40, Size: 100}, {Price: 0.39, Size: 50}},
		Asks:    []PriceLevel{{Price: 0.42, Size: 80}},
	}

	bid, ok := b.BestBid()
	if !ok || bid != 0.40 {
		t.Fatalf("best bid = %v ok=%v, want 0.40", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || ask != 0.42 {
		t.Fatalf("best ask = %v ok=%v, want 0.42", ask, ok)
	}
	mid, ok := b.MidPrice()
	if !ok || mid != 0.41 {
		t.Fatalf("mid = %v ok=%v, want 0.41", mid, ok)
	}
}

func TestBookSnapshotOneSided(t *testing.T) {
	t.Parallel()

	b := BookSnapshot{Bids: []PriceLevel{{Price: 0.40, Size: 100}}}

	if _, ok := b.BestAsk(); ok {
		t.Fatal("empty ask side reported a best ask")
	}
	if _, ok := b.MidPrice(); ok {
		t.Fatal("one-sided book reported a mid price")
	}
}

func TestMarketMetadataEndTime(t *testing.T) {
	t.Parallel()

	m := MarketMetadata{EndDateISO: "2026-09-01T12:00:00Z"}
	want := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if got := m.EndTime(); !got.Equal(want) {
		t.Fatalf("end time = %v, want %v", got, want)
	}

	for _, iso := range []string{"", "not-a-date"} {
		m := MarketMetadata{EndDateISO: iso}
		if !m.EndTime().IsZero() {
			t.Fatalf("end time for %q should be zero", iso)
		}
	}
}

func TestMarketMetadataValidate(t *testing.T) {
	t.Parallel()

	good := MarketMetadata{
		ConditionID: "cond-1",
		Outcomes: [2]Outcome{
			{Name: "Yes", TokenID: "tok-yes"},
			{Name: "No", TokenID: "tok-no"},
		},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid market rejected: %v", err)
	}

	dup := good
	dup.Outcomes[1].TokenID = "tok-yes"
	if err := dup.Validate(); err == nil {
		t.Fatal("duplicate outcome token ids accepted")
	}

	missing := good
	missing.Outcomes[0].TokenID = ""
	if err := missing.Validate(); err == nil {
		t.Fatal("missing outcome token id accepted")
	}
}

func TestWalletProfileAge(t *testing.T) {
	t.Parallel()

	nowMs := int64(1_700_000_000_000)
	dayMs := int64(24 * time.Hour / time.Millisecond)

	w := WalletProfile{FirstSeenAt: nowMs - 3*dayMs}
	if got := w.AgeDays(nowMs); got != 3 {
		t.Fatalf("age = %v days, want 3", got)
	}
	if !w.IsNewAccount(nowMs) {
		t.Fatal("3-day wallet should be new")
	}

	old := WalletProfile{FirstSeenAt: nowMs - 30*dayMs}
	if old.IsNewAccount(nowMs) {
		t.Fatal("30-day wallet should not be new")
	}

	unknown := WalletProfile{}
	if got := unknown.AgeDays(nowMs); got != -1 {
		t.Fatalf("unknown age = %v, want -1", got)
	}
	if unknown.IsNewAccount(nowMs) {
		t.Fatal("unknown-age wallet must not count as new")
	}
}

func TestWalletProfileActivity(t *testing.T) {
	t.Parallel()

	if !(WalletProfile{TradeCount: 9}).IsLowActivity() {
		t.Fatal("9 trades should be low activity")
	}
	if (WalletProfile{TradeCount: 10}).IsLowActivity() {
		t.Fatal("10 trades should not be low activity")
	}
}
