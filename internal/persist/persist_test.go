package persist

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"polysentry/internal/config"
	"polysentry/pkg/types"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := Open(config.PersistConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared&_pragma=foreign_keys(1)&mode=memory&rand=" + t.Name()}, logger)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func sampleTrade() types.Trade {
	return types.Trade{
		ID:              "0xabc123",
		TokenID:         "tok-1",
		ConditionID:     "cond-1",
		Timestamp:       1_700_000_000_000,
		Side:            types.BUY,
		Price:           0.42,
		Size:            1000,
		TakerAddress:    "0x1111111111111111111111111111111111111111",
		TransactionHash: "0xabc123",
	}
}

func TestSaveTradeIdempotent(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	tr := sampleTrade()

	if err := a.SaveTrade(ctx, tr); err != nil {
		t.Fatal(err)
	}
	// Replaying the same trade must not error or duplicate.
	if err := a.SaveTrade(ctx, tr); err != nil {
		t.Fatal(err)
	}

	n, err := a.TradeCount(ctx, tr.TokenID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("trade count = %d, want 1 after replay", n)
	}
}

func TestSaveTradeDistinctRows(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	first := sampleTrade()
	second := sampleTrade()
	second.ID = "0xdef456"
	second.Timestamp += 1000

	if err := a.SaveTrade(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := a.SaveTrade(ctx, second); err != nil {
		t.Fatal(err)
	}

	n, err := a.TradeCount(ctx, first.TokenID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("trade count = %d, want 2", n)
	}
}

func TestSaveDecisionIdempotent(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	dec := types.Decision{
		ID:            "d-1",
		TokenID:       "tok-1",
		ConditionID:   "cond-1",
		Action:        types.ActionBuy,
		Side:          types.SideYes,
		TargetPrice:   0.41,
		LimitPrice:    0.42,
		TargetSizeUSD: 200,
		Approved:      true,
		CreatedAt:     1_700_000_000_000,
	}
	if err := a.SaveDecision(ctx, dec); err != nil {
		t.Fatal(err)
	}
	if err := a.SaveDecision(ctx, dec); err != nil {
		t.Fatal(err)
	}

	var n int64
	if err := a.db.Model(&DecisionRecord{}).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("decision count = %d, want 1 after replay", n)
	}
}
