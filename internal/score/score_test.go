package score

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"

	"polysentry/internal/store"
	"polysentry/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// calmVector approximates an ordinary trade in a quiet, balanced market.
func calmVector() types.FeatureVector {
	return types.FeatureVector{
		TokenID:        "tok-calm",
		ConditionID:    "cond-calm",
		Timestamp:      1_700_000_000_000,
		TimeToCloseSec: 48 * 3600,
		RampMultiplier: 1.2,
		TradeSize: &types.TradeSizeFeature{
			SizeUSD:       120,
			RobustZ:       0.3,
			Percentile:    0.55,
			SizeTailScore: 0,
			WindowCount:   40,
		},
		Orderbook: &types.OrderbookFeature{
			BidDepthUSD:        2600,
			AskDepthUSD:        2400,
			Imbalance:          0.04,
			BookImbalanceScore: 0.06,
			ThinSide:           types.AskSide,
			ThinOppositeScore:  0.08,
			SpreadBps:          40,
			MidPrice:           0.50,
			DepthAdequate:      true,
		},
		Wallet: &types.WalletFeature{
			Address:       "0xcafe",
			AgeDays:       400,
			NewScore:      0,
			ActivityScore: 0.2,
		},
		Impact:       &types.ImpactFeature{Measured30s: true, Measured60s: true},
		Burst:        types.BurstFeature{Intensity: 0.01, Baseline: 0.01, BurstScore: 0.05},
		ChangePoint:  types.ChangePointFeature{ChangePointIndex: -1},
		DataComplete: true,
	}
}

// insiderVector is the triple-signal pattern: an extreme trade into a lopsided
// book from a two-day-old wallet, with confirming drift and a trade burst.
func insiderVector() types.FeatureVector {
	return types.FeatureVector{
		TokenID:        "tok-insider",
		ConditionID:    "cond-insider",
		Timestamp:      1_700_000_000_000,
		TimeToCloseSec: 6 * 3600,
		RampMultiplier: 2.1,
		TradeSize: &types.TradeSizeFeature{
			SizeUSD:       50_000,
			RobustZ:       10,
			Percentile:    1.0,
			SizeTailScore: 1.0,
			WindowCount:   60,
		},
		Orderbook: &types.OrderbookFeature{
			BidDepthUSD:        8000,
			AskDepthUSD:        2000,
			Imbalance:          0.6,
			BookImbalanceScore: 0.83,
			ThinSide:           types.AskSide,
			ThinOppositeScore:  0.75,
			SpreadBps:          60,
			MidPrice:           0.40,
			DepthAdequate:      true,
		},
		Wallet: &types.WalletFeature{
			Address:       "0xfresh",
			AgeDays:       2,
			NewScore:      1.0,
			ActivityScore: 0.9,
		},
		Impact: &types.ImpactFeature{
			Drift30s:    0.04,
			Drift60s:    0.06,
			Measured30s: true,
			Measured60s: true,
			ImpactScore: 0.8,
		},
		Burst:        types.BurstFeature{Intensity: 0.08, Baseline: 0.01, IsBurst: true, BurstScore: 0.8},
		ChangePoint:  types.ChangePointFeature{Detected: true, Statistic: 7, ChangePointIndex: 41, Score: 0.7},
		DataComplete: true,
	}
}

func TestCalmMarketStaysQuiet(t *testing.T) {
	t.Parallel()

	set := Compute(calmVector(), 200)

	if set.Anomaly.Score >= 0.3 {
		t.Fatalf("anomaly score = %.3f, want < 0.3", set.Anomaly.Score)
	}
	if set.Anomaly.Triggered {
		t.Fatal("calm market should not trigger")
	}
	if set.Anomaly.TripleSignal {
		t.Fatal("calm market should not be a triple signal")
	}
	if set.Anomaly.Confidence != 1.0 {
		t.Fatalf("confidence = %.2f, want 1.0 with all sub-features present", set.Anomaly.Confidence)
	}
	// A balanced book with no size signal has no inferable direction.
	if set.Edge.Score != 0 {
		t.Fatalf("edge score = %.3f, want 0", set.Edge.Score)
	}
	if set.Edge.EstimatedProb != set.Edge.ImpliedProb {
		t.Fatalf("estimated %.3f != implied %.3f without direction", set.Edge.EstimatedProb, set.Edge.ImpliedProb)
	}
}

func TestInsiderPatternTriggers(t *testing.T) {
	t.Parallel()

	set := Compute(insiderVector(), 200)

	if !set.Anomaly.Triggered {
		t.Fatalf("anomaly score = %.3f, want triggered", set.Anomaly.Score)
	}
	if !set.Anomaly.TripleSignal {
		t.Fatal("want triple signal")
	}
	if set.Anomaly.CoreScore < 0.85 {
		t.Fatalf("core = %.3f, want >= 0.85", set.Anomaly.CoreScore)
	}
	if set.Edge.Edge <= 0 {
		t.Fatalf("edge = %.4f, want positive (bids dominate, thin ask)", set.Edge.Edge)
	}
	if set.Edge.AlignedSignals != 3 {
		t.Fatalf("aligned signals = %d, want 3", set.Edge.AlignedSignals)
	}
	if set.Edge.EdgeConfidence != 1.0 {
		t.Fatalf("edge confidence = %.2f, want 1.0", set.Edge.EdgeConfidence)
	}
	if set.SignalStrength != types.SignalExtreme {
		t.Fatalf("strength = %s, want extreme (ramped %.3f)", set.SignalStrength, set.Ramped)
	}
}

func TestTripleSignalRequiresAllCutoffs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*types.FeatureVector)
	}{
		{"size tail below cutoff", func(fv *types.FeatureVector) { fv.TradeSize.SizeTailScore = 0.89 }},
		{"book imbalance below cutoff", func(fv *types.FeatureVector) { fv.Orderbook.BookImbalanceScore = 0.69 }},
		{"thin opposite below cutoff", func(fv *types.FeatureVector) { fv.Orderbook.ThinOppositeScore = 0.69 }},
		{"wallet neither new nor inactive", func(fv *types.FeatureVector) {
			fv.Wallet.NewScore = 0.79
			fv.Wallet.ActivityScore = 0.69
		}},
		{"no trade size feature", func(fv *types.FeatureVector) { fv.TradeSize = nil }},
		{"no wallet feature", func(fv *types.FeatureVector) { fv.Wallet = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fv := insiderVector()
			tc.mutate(&fv)
			if ScoreAnomaly(fv).TripleSignal {
				t.Fatal("triple signal should require every cutoff")
			}
		})
	}
}

func TestTripleSignalForcesTrigger(t *testing.T) {
	t.Parallel()

	// Inputs sitting exactly on the triple-signal cutoffs, with no impact
	// feature, no context, and no ramp: the weighted core alone stays under
	// the trigger threshold, so only the override can trigger.
	fv := types.FeatureVector{
		TokenID:        "tok-min-triple",
		Timestamp:      1_700_000_000_000,
		TimeToCloseSec: 6 * 3600,
		RampMultiplier: 1,
		TradeSize: &types.TradeSizeFeature{
			SizeUSD:       5000,
			SizeTailScore: 0.90,
			WindowCount:   40,
		},
		Orderbook: &types.OrderbookFeature{
			BookImbalanceScore: 0.70,
			ThinOppositeScore:  0.70,
			ThinSide:           types.AskSide,
			Imbalance:          0.5,
			MidPrice:           0.45,
		},
		Wallet:      &types.WalletFeature{Address: "0xmin", AgeDays: 3, NewScore: 0.80},
		ChangePoint: types.ChangePointFeature{ChangePointIndex: -1},
	}

	a := ScoreAnomaly(fv)
	if !a.TripleSignal {
		t.Fatal("cutoff inputs should form a triple signal")
	}
	wantCore := 0.35*0.90 + 0.30*(0.6*0.70+0.4*0.70) + 0.20*0.6*0.80
	if math.Abs(a.CoreScore-wantCore) > 1e-9 {
		t.Fatalf("core = %.4f, want %.4f", a.CoreScore, wantCore)
	}
	if wantCore >= TriggerThreshold {
		t.Fatalf("fixture core %.4f no longer sits below the threshold", wantCore)
	}
	if a.Score < TriggerThreshold {
		t.Fatalf("score = %.4f, want >= %.2f under the triple-signal override", a.Score, TriggerThreshold)
	}
	if !a.Triggered {
		t.Fatal("triple signal must trigger even when the weighted sum falls short")
	}
}

func TestAnomalyConfidenceCountsPresentFeatures(t *testing.T) {
	t.Parallel()

	fv := insiderVector()
	fv.Wallet = nil
	fv.Impact = nil

	a := ScoreAnomaly(fv)
	// trade size + orderbook + always-present context = 3 of 5.
	if a.Confidence != 0.6 {
		t.Fatalf("confidence = %.2f, want 0.6", a.Confidence)
	}
	if a.Components.Wallet != 0 || a.Components.Impact != 0 {
		t.Fatal("absent sub-features must contribute zero")
	}
}

func TestAnomalyContextTopsUpCore(t *testing.T) {
	t.Parallel()

	fv := calmVector()
	fv.RampMultiplier = 1.0
	base := ScoreAnomaly(fv)

	fv.Burst.BurstScore = 1.0
	boosted := ScoreAnomaly(fv)

	want := math.Min(1, base.CoreScore+weightContext)
	if math.Abs(boosted.Score-want) > 1e-9 {
		t.Fatalf("score = %.4f, want %.4f (core + full context weight)", boosted.Score, want)
	}
	if boosted.ContextScore != 1.0 {
		t.Fatalf("context = %.2f, want max(burst, changePoint) = 1.0", boosted.ContextScore)
	}
}

func TestScoresBounded(t *testing.T) {
	t.Parallel()

	vectors := []types.FeatureVector{calmVector(), insiderVector()}
	// Deep ramp with saturated components must still clip to 1.
	hot := insiderVector()
	hot.RampMultiplier = 5
	vectors = append(vectors, hot)

	for _, fv := range vectors {
		set := Compute(fv, 200)
		for name, v := range map[string]float64{
			"anomaly":   set.Anomaly.Score,
			"execution": set.Execution.Score,
			"edge":      set.Edge.Score,
			"composite": set.Composite,
			"ramped":    set.Ramped,
		} {
			if v < 0 || v > 1 {
				t.Fatalf("%s score %.4f out of [0, 1] for token %s", name, v, fv.TokenID)
			}
		}
		if set.Ramped < set.Composite && fv.RampMultiplier >= 1 {
			t.Fatalf("ramped %.4f < composite %.4f", set.Ramped, set.Composite)
		}
	}
}

func TestExecutionScoreComponents(t *testing.T) {
	t.Parallel()

	fv := types.FeatureVector{
		RampMultiplier: 1,
		Orderbook: &types.OrderbookFeature{
			BidDepthUSD: 3000,
			AskDepthUSD: 2500,
			Imbalance:   0.09,
			SpreadBps:   40,
			MidPrice:    0.40,
		},
	}
	es := ScoreExecution(fv, 200)

	if es.DepthScore != 1.0 {
		t.Fatalf("depth score = %.3f, want 1.0 (min depth 2500 vs 2x200 target)", es.DepthScore)
	}
	wantSpread := 1 - (40-spreadFloorBps)/(spreadCeilBps-spreadFloorBps)
	if math.Abs(es.SpreadScore-wantSpread) > 1e-9 {
		t.Fatalf("spread score = %.4f, want %.4f", es.SpreadScore, wantSpread)
	}
	wantSlippage := 40.0/2 + 100*200.0/2500
	if math.Abs(es.SlippageBps-wantSlippage) > 1e-9 {
		t.Fatalf("slippage = %.2f bps, want %.2f", es.SlippageBps, wantSlippage)
	}
	if es.Score < 0.9 {
		t.Fatalf("execution score = %.3f, want >= 0.9 for a deep, tight book", es.Score)
	}
}

func TestExecutionScoreEdges(t *testing.T) {
	t.Parallel()

	if es := ScoreExecution(types.FeatureVector{RampMultiplier: 1}, 200); es.Score != 0 {
		t.Fatalf("score without a book = %.3f, want 0", es.Score)
	}

	wide := types.FeatureVector{
		RampMultiplier: 1,
		Orderbook:      &types.OrderbookFeature{BidDepthUSD: 30, AskDepthUSD: 20, SpreadBps: 900, MidPrice: 0.5},
	}
	es := ScoreExecution(wide, 200)
	if es.SpreadScore != 0 {
		t.Fatalf("spread score = %.3f, want 0 beyond the ceiling", es.SpreadScore)
	}
	if es.SlippageBps != maxSlippageBps {
		t.Fatalf("slippage = %.1f, want capped at %.0f", es.SlippageBps, maxSlippageBps)
	}

	far := types.FeatureVector{
		RampMultiplier: 4,
		Orderbook:      &types.OrderbookFeature{BidDepthUSD: 3000, AskDepthUSD: 3000, SpreadBps: 20, MidPrice: 0.5},
	}
	if ts := ScoreExecution(far, 200).TimeScore; ts != 0.25 {
		t.Fatalf("time score = %.3f, want 1/ramp = 0.25", ts)
	}
}

func TestEdgeDirectionRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		imb     float64
		thinOpp float64
		want    int
	}{
		{"bids dominate, thin ask", 0.6, 0.75, 1},
		{"asks dominate, thin bid", -0.5, 0.6, -1},
		{"imbalance too small", 0.15, 0.9, 0},
		{"opposite side not thin", 0.6, 0.4, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fv := types.FeatureVector{Orderbook: &types.OrderbookFeature{
				Imbalance:         tc.imb,
				ThinOppositeScore: tc.thinOpp,
				MidPrice:          0.5,
			}}
			if got := Direction(fv); got != tc.want {
				t.Fatalf("direction = %d, want %d", got, tc.want)
			}
		})
	}

	if Direction(types.FeatureVector{}) != 0 {
		t.Fatal("no book means no direction")
	}
}

func TestEdgeImpactAdjustsDelta(t *testing.T) {
	t.Parallel()

	fv := insiderVector()
	aligned := ScoreEdge(fv, ScoreAnomaly(fv))

	fv.Impact.Drift30s = -0.04
	fv.Impact.Drift60s = -0.06
	opposed := ScoreEdge(fv, ScoreAnomaly(fv))

	if aligned.Edge <= opposed.Edge {
		t.Fatalf("aligned impact edge %.4f should exceed opposed %.4f", aligned.Edge, opposed.Edge)
	}
	if opposed.AlignedSignals != 2 {
		t.Fatalf("opposed impact aligned signals = %d, want 2", opposed.AlignedSignals)
	}
}

func TestEdgeEstimateClamped(t *testing.T) {
	t.Parallel()

	fv := insiderVector()
	fv.Orderbook.MidPrice = 0.98
	es := ScoreEdge(fv, ScoreAnomaly(fv))
	if es.EstimatedProb > 0.99 {
		t.Fatalf("estimated prob = %.4f, want <= 0.99", es.EstimatedProb)
	}
}

func TestSignalStrengthBuckets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ramped float64
		want   types.SignalStrength
	}{
		{0.10, types.SignalNone},
		{0.35, types.SignalWeak},
		{0.54, types.SignalWeak},
		{0.55, types.SignalModerate},
		{0.75, types.SignalStrong},
		{0.85, types.SignalExtreme},
		{1.00, types.SignalExtreme},
	}
	for _, tc := range cases {
		if got := strengthFor(tc.ramped); got != tc.want {
			t.Fatalf("strengthFor(%.2f) = %s, want %s", tc.ramped, got, tc.want)
		}
	}
}

func TestScorerCachesLatest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	sc := NewScorer(mem, 200, testLogger())

	fv := insiderVector()
	set := sc.Score(ctx, fv)

	raw, ok, err := mem.Get(ctx, store.ScoresLatestKey(fv.TokenID))
	if err != nil || !ok {
		t.Fatalf("cached scores missing: ok=%v err=%v", ok, err)
	}
	var cached types.ScoreSet
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		t.Fatalf("unmarshal cached scores: %v", err)
	}
	if cached.Composite != set.Composite || cached.SignalStrength != set.SignalStrength {
		t.Fatal("cached score set does not match the returned one")
	}
}
