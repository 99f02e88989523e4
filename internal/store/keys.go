package store

import "time"

// Key builders for the shared keyspace. Every component goes through these
// so the layout stays greppable in one place.

// TTLs applied when the corresponding keys are written.
const (
	WindowTTL    = time.Hour           // rolling trade/book windows, wallet-seen sets
	StateTTL     = 30 * time.Second    // latest orderbook/features/scores caches
	MetadataTTL  = 24 * time.Hour      // market metadata, token→condition, estimator state
	WalletTTL    = 30 * 24 * time.Hour // enriched wallet profiles
	StalenessTTL = time.Hour           // last-update records
	RiskTTL      = 24 * time.Hour      // circuit-breaker latch
	DecisionTTL  = 60 * time.Second    // per-token decision cache
)

func TradeWindowKey(tokenID string) string { return "trades:" + tokenID + ":window:60m" }
func BookWindowKey(tokenID string) string  { return "book:" + tokenID + ":window:60m" }
func BookStateKey(tokenID string) string   { return "orderbook:" + tokenID + ":state" }

func FeaturesLatestKey(tokenID string) string { return "features:" + tokenID + ":latest" }
func ScoresLatestKey(tokenID string) string   { return "scores:" + tokenID + ":latest" }

func MarketMetadataKey(conditionID string) string { return "market:" + conditionID + ":metadata" }
func TokenConditionKey(tokenID string) string     { return "token:" + tokenID + ":condition" }

func SizeDigestKey(tokenID string) string  { return "digest:" + tokenID + ":trade_size" }
func HawkesKey(tokenID string) string      { return "hawkes:" + tokenID + ":state" }
func CUSUMKey(tokenID, metric string) string {
	return "cpd:" + tokenID + ":" + metric + ":state"
}
func RollingStatsKey(tokenID string) string { return "stats:" + tokenID + ":rolling:60m" }

func WalletEnrichedKey(address string) string  { return "wallet:" + address + ":enriched" }
func WalletFirstSeenKey(address string) string { return "wallet:" + address + ":first_seen" }
func WalletsSeenKey(tokenID string) string     { return "wallets:" + tokenID + ":60m" }

func StalenessKey(kind, entity string) string {
	return "staleness:" + kind + ":" + entity + ":last_update"
}

const (
	CircuitBreakerKey    = "risk:circuit_breaker"
	TotalExposureKey     = "risk:exposure:total"
	DrawdownKey          = "risk:drawdown:current"
	ConsecutiveLossesKey = "risk:consecutive_losses"
	BankrollKey          = "paper:bankroll"
	TrackedTokensKey     = "config:tracked_tokens"
)

func DailyPnLKey(day string) string { return "risk:pnl:daily:" + day }

// DailyPnLCurrentKey is the rolling alias for today's P&L counter.
const DailyPnLCurrentKey = "risk:pnl:daily:current"

func PositionKey(tokenID string) string      { return "positions:" + tokenID }
func DecisionCacheKey(tokenID string) string { return "decisions:" + tokenID + ":cache" }
