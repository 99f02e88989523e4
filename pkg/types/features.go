package types

// ————————————————————————————————————————————————————————————————————————
// Feature vector
// ————————————————————————————————————————————————————————————————————————
// One FeatureVector is built per emitted event (a new trade, or a scheduled
// orderbook tick). Optional sub-features are pointers: nil means the input
// needed to compute them was unavailable, and the scorer treats the component
// as absent (contributes 0, shrinks confidence).

// TradeSizeFeature describes how unusual the triggering trade's size is
// relative to the token's rolling 60m window.
type TradeSizeFeature struct {
	SizeUSD       float64 `json:"sizeUsd"`
	RobustZ       float64 `json:"robustZ"`    // capped: infinities become ±RobustZCap
	Percentile    float64 `json:"percentile"` // rank within the window, [0, 1]
	SizeTailScore float64 `json:"sizeTailScore"`
	WindowCount   int     `json:"windowCount"`
}

// OrderbookFeature summarizes the latest book snapshot for scoring.
type OrderbookFeature struct {
	BidDepthUSD        float64  `json:"bidDepthUsd"`
	AskDepthUSD        float64  `json:"askDepthUsd"`
	Imbalance          float64  `json:"imbalance"` // signed, [-1, 1]
	BookImbalanceScore float64  `json:"bookImbalanceScore"`
	ThinSide           BookSide `json:"thinSide"`
	ThinOppositeScore  float64  `json:"thinOppositeScore"`
	SpreadBps          float64  `json:"spreadBps"`
	MidPrice           float64  `json:"midPrice"`
	DepthAdequate      bool     `json:"depthAdequate"`
}

// WalletFeature scores the taker wallet's novelty and activity.
type WalletFeature struct {
	Address       string  `json:"address"`
	AgeDays       float64 `json:"ageDays"` // -1 = unknown
	NewScore      float64 `json:"newScore"`
	ActivityScore float64 `json:"activityScore"`
	AgeUnknown    bool    `json:"ageUnknown,omitempty"`
}

// ImpactFeature measures post-trade mid drift at +30s and +60s, best effort:
// the nearest later snapshot within ±1s of each target is used.
type ImpactFeature struct {
	Drift30s    float64 `json:"drift30s"` // signed fractional mid move
	Drift60s    float64 `json:"drift60s"`
	Measured30s bool    `json:"measured30s"`
	Measured60s bool    `json:"measured60s"`
	ImpactScore float64 `json:"impactScore"`
}

// BurstFeature is the Hawkes arrival-clustering proxy.
type BurstFeature struct {
	Intensity        float64 `json:"intensity"` // events/sec at evaluation time
	Baseline         float64 `json:"baseline"`
	IntensityPerHour float64 `json:"intensityPerHour"`
	IsBurst          bool    `json:"isBurst"`
	BurstScore       float64 `json:"burstScore"`
}

// ChangePointFeature is the CUSUM change-point signal over trade size or spread.
type ChangePointFeature struct {
	Detected         bool    `json:"detected"`
	Statistic        float64 `json:"statistic"`
	ChangePointIndex int     `json:"changePointIndex"` // -1 = none latched
	Score            float64 `json:"score"`
}

// FeatureVector is the full per-event input to the scoring pipeline.
type FeatureVector struct {
	TokenID     string `json:"tokenId"`
	ConditionID string `json:"conditionId"`
	Timestamp   int64  `json:"timestamp"` // epoch ms of the triggering event

	TimeToCloseSec float64 `json:"timeToCloseSec"` // 0 when close time unknown
	RampMultiplier float64 `json:"rampMultiplier"` // ≥ 1
	InNoTradeZone  bool    `json:"inNoTradeZone"`

	TradeSize   *TradeSizeFeature  `json:"tradeSize,omitempty"`
	Orderbook   *OrderbookFeature  `json:"orderbook,omitempty"`
	Wallet      *WalletFeature     `json:"wallet,omitempty"`
	Impact      *ImpactFeature     `json:"impact,omitempty"`
	Burst       BurstFeature       `json:"burst"`
	ChangePoint ChangePointFeature `json:"changePoint"`

	DataComplete bool  `json:"dataComplete"`
	DataStale    bool  `json:"dataStale"`
	BookAgeMs    int64 `json:"bookAgeMs"`
	TradeAgeMs   int64 `json:"tradeAgeMs"`
}

// ————————————————————————————————————————————————————————————————————————
// Scores
// ————————————————————————————————————————————————————————————————————————

// SignalStrength buckets the ramped composite score.
type SignalStrength string

const (
	SignalNone     SignalStrength = "none"
	SignalWeak     SignalStrength = "weak"
	SignalModerate SignalStrength = "moderate"
	SignalStrong   SignalStrength = "strong"
	SignalExtreme  SignalStrength = "extreme"
)

// AnomalyComponents are the individual sub-scores entering the anomaly core.
// Absent sub-features are zero here and excluded from the confidence count.
type AnomalyComponents struct {
	SizeTail      float64 `json:"sizeTail"`
	BookImbalance float64 `json:"bookImbalance"`
	ThinOpposite  float64 `json:"thinOpposite"`
	Orderbook     float64 `json:"orderbook"` // blended book component
	Wallet        float64 `json:"wallet"`
	Impact        float64 `json:"impact"`
	Burst         float64 `json:"burst"`
	ChangePoint   float64 `json:"changePoint"`
}

// AnomalyScore is the first scoring axis: how abnormal the event is.
type AnomalyScore struct {
	Score        float64           `json:"score"` // [0, 1], ramped and clipped
	CoreScore    float64           `json:"coreScore"`
	ContextScore float64           `json:"contextScore"`
	Components   AnomalyComponents `json:"components"`
	Confidence   float64           `json:"confidence"` // present sub-features / 5
	Triggered    bool              `json:"triggered"`  // score ≥ 0.65
	TripleSignal bool              `json:"tripleSignal"`
}

// ExecutionScore is the second axis: how tradeable the market is right now.
type ExecutionScore struct {
	Score           float64 `json:"score"` // [0, 1]
	DepthScore      float64 `json:"depthScore"`
	SpreadScore     float64 `json:"spreadScore"`
	VolatilityScore float64 `json:"volatilityScore"`
	TimeScore       float64 `json:"timeScore"`
	SlippageBps     float64 `json:"slippageBps"` // capped at 1000
	FillProbability float64 `json:"fillProbability"`
}

// EdgeScore is the third axis: the estimated mispricing and our confidence in it.
type EdgeScore struct {
	Score          float64 `json:"score"` // [0, 1]
	ImpliedProb    float64 `json:"impliedProb"`
	EstimatedProb  float64 `json:"estimatedProb"`
	Edge           float64 `json:"edge"` // signed, estimated − implied
	EdgeConfidence float64 `json:"edgeConfidence"`
	AlignedSignals int     `json:"alignedSignals"`
}

// ScoreSet is the full scoring output for one feature vector.
// Composite = anomaly·0.35 + execution·0.25 + edge·0.40;
// Ramped = min(1, composite·rampMultiplier).
type ScoreSet struct {
	TokenID     string `json:"tokenId"`
	ConditionID string `json:"conditionId"`
	Timestamp   int64  `json:"timestamp"`

	Anomaly   AnomalyScore   `json:"anomaly"`
	Execution ExecutionScore `json:"execution"`
	Edge      EdgeScore      `json:"edge"`

	Composite      float64        `json:"composite"`
	Ramped         float64        `json:"ramped"`
	SignalStrength SignalStrength `json:"signalStrength"`
}

// ————————————————————————————————————————————————————————————————————————
// Decisions
// ————————————————————————————————————————————————————————————————————————

// DecisionAction is what the strategy decided to do.
type DecisionAction string

const (
	ActionNoTrade DecisionAction = "NO_TRADE"
	ActionHold    DecisionAction = "HOLD"
	ActionBuy     DecisionAction = "BUY"
	ActionSell    DecisionAction = "SELL"
)

// MarketSide is the outcome side a decision targets.
type MarketSide string

const (
	SideYes MarketSide = "YES"
	SideNo  MarketSide = "NO"
)

// RejectionReason is the structured reason a decision was not approved.
type RejectionReason string

const (
	RejectStaleData         RejectionReason = "STALE_DATA"
	RejectBelowAnomaly      RejectionReason = "BELOW_ANOMALY_THRESHOLD"
	RejectBelowExecution    RejectionReason = "BELOW_EXECUTION_THRESHOLD"
	RejectBelowEdge         RejectionReason = "BELOW_EDGE_THRESHOLD"
	RejectRiskCheckFailed   RejectionReason = "RISK_CHECK_FAILED"
	RejectMarketDataMissing RejectionReason = "MARKET_DATA_MISSING"
)

// SizingResult is the fractional-Kelly sizing output.
type SizingResult struct {
	EdgeEstimate   float64 `json:"edgeEstimate"`
	VarianceProxy  float64 `json:"varianceProxy"`
	KellyRaw       float64 `json:"kellyRaw"`
	KellyAdjusted  float64 `json:"kellyAdjusted"`
	TargetSizeUSD  float64 `json:"targetSizeUsd"`
	TargetShares   float64 `json:"targetShares"`
	CapTag         string  `json:"capTag,omitempty"` // max_bet_fraction, max_position_fraction, below_min_bet_size
}

// Decision is the immutable output of the decision service. Cached per token
// for 60s and pushed to the paper queue when approved.
type Decision struct {
	ID          string `json:"id"`
	TokenID     string `json:"tokenId"`
	ConditionID string `json:"conditionId"`
	Timestamp   int64  `json:"timestamp"` // epoch ms of the evaluated event

	Action DecisionAction `json:"action"`
	Side   MarketSide     `json:"side,omitempty"`

	TargetPrice   float64 `json:"targetPrice,omitempty"`
	LimitPrice    float64 `json:"limitPrice,omitempty"`
	TargetSizeUSD float64 `json:"targetSizeUsd,omitempty"`

	Sizing   *SizingResult `json:"sizing,omitempty"`
	Scores   ScoreSet      `json:"scores"`
	Features FeatureVector `json:"features"`

	Approved         bool            `json:"approved"`
	RejectionReason  RejectionReason `json:"rejectionReason,omitempty"`
	RiskChecksPassed []string        `json:"riskChecksPassed"`

	CreatedAt int64 `json:"createdAt"` // epoch ms
	ExpiresAt int64 `json:"expiresAt"` // createdAt + 30s
	PaperMode bool  `json:"paperMode"`
}
