// Polysentry — real-time anomaly detection and paper trading for Polymarket
// binary prediction markets.
//
// Architecture:
//
//	main.go               — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go      — orchestrator: wires scheduler → collector → features → decision → paper
//	collector/            — ingestion jobs: market discovery, book snapshots, trade polling
//	feature/builder.go    — assembles per-event feature vectors from store-held windows
//	score/                — anomaly, execution-quality, and edge scoring
//	strategy/decision.go  — gates, Kelly sizing, and the final trade/no-trade decision
//	risk/manager.go       — circuit breakers, market-quality guards, and size clamps
//	queue/                — in-process work queues with dedupe, rate limits, and retry
//	exchange/             — REST and WebSocket clients for the Polymarket APIs
//	store/                — Redis-backed shared state (windows, estimators, risk counters)
//	persist/              — optional trade and decision archive (sqlite/postgres)
//
// What it does:
//
//	The pipeline watches tracked markets for the footprint of informed
//	trading: outlier trade sizes, one-sided books, bursty arrival times,
//	fresh wallets, and price impact that lines up with order-flow pressure.
//	When the combined signal clears every gate it sizes a fractional-Kelly
//	bet and records a paper fill. No real orders are placed in paper mode.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polysentry/internal/config"
	"polysentry/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.PaperMode {
		logger.Info("PAPER MODE — decisions are recorded, no orders are placed")
	}

	logger.Info("polysentry started",
		"tracked_horizon", cfg.Discovery.TrackedHorizon,
		"bankroll", cfg.Risk.Bankroll,
		"max_bet", cfg.Risk.Bankroll*cfg.Risk.MaxBetFraction,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
