// Package persist archives normalized trades and approved paper decisions
// to tabular storage. The archive is write-mostly and idempotent: replays of
// the same trade (same trade ID and timestamp) are silently skipped, so the
// collector can persist without tracking what it already wrote.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"polysentry/internal/config"
	"polysentry/pkg/types"
)

// TradeRecord is one archived trade row.
type TradeRecord struct {
	ID              uint   `gorm:"primaryKey"`
	TradeID         string `gorm:"size:128;uniqueIndex:idx_trade_time"`
	Time            int64  `gorm:"uniqueIndex:idx_trade_time"` // epoch ms
	TokenID         string `gorm:"size:100;index"`
	ConditionID     string `gorm:"size:100;index"`
	Side            string `gorm:"size:8"`
	Price           float64
	Size            float64
	NotionalUSD     float64
	TakerAddress    string `gorm:"size:64;index"`
	MakerAddress    string `gorm:"size:64"`
	TransactionHash string `gorm:"size:80"`
	CreatedAt       time.Time
}

// DecisionRecord is one approved paper decision.
type DecisionRecord struct {
	ID            uint   `gorm:"primaryKey"`
	DecisionID    string `gorm:"size:40;uniqueIndex"`
	TokenID       string `gorm:"size:100;index"`
	ConditionID   string `gorm:"size:100"`
	Action        string `gorm:"size:12"`
	Side          string `gorm:"size:4"`
	TargetPrice   float64
	LimitPrice    float64
	TargetSizeUSD float64
	AnomalyScore  float64
	EdgeScore     float64
	Composite     float64
	DecidedAt     int64 // epoch ms
	CreatedAt     time.Time
}

// Archive is the GORM-backed trade and decision store.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects per config (sqlite by default, postgres when configured)
// and migrates the schema.
func Open(cfg config.PersistConfig, logger *slog.Logger) (*Archive, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported persist driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s archive: %w", cfg.Driver, err)
	}
	if err := db.AutoMigrate(&TradeRecord{}, &DecisionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}
	return &Archive{db: db, logger: logger.With("component", "persist")}, nil
}

// SaveTrade inserts one trade, skipping duplicates on (trade_id, time).
func (a *Archive) SaveTrade(ctx context.Context, tr types.Trade) error {
	rec := TradeRecord{
		TradeID:         tr.ID,
		Time:            tr.Timestamp,
		TokenID:         tr.TokenID,
		ConditionID:     tr.ConditionID,
		Side:            string(tr.Side),
		Price:           tr.Price,
		Size:            tr.Size,
		NotionalUSD:     tr.NotionalUSD(),
		TakerAddress:    tr.TakerAddress,
		MakerAddress:    tr.MakerAddress,
		TransactionHash: tr.TransactionHash,
	}
	result := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec)
	if result.Error != nil {
		return fmt.Errorf("archive trade %s: %w", tr.ID, result.Error)
	}
	return nil
}

// SaveDecision inserts one approved decision, skipping replays by decision ID.
func (a *Archive) SaveDecision(ctx context.Context, dec types.Decision) error {
	rec := DecisionRecord{
		DecisionID:    dec.ID,
		TokenID:       dec.TokenID,
		ConditionID:   dec.ConditionID,
		Action:        string(dec.Action),
		Side:          string(dec.Side),
		TargetPrice:   dec.TargetPrice,
		LimitPrice:    dec.LimitPrice,
		TargetSizeUSD: dec.TargetSizeUSD,
		AnomalyScore:  dec.Scores.Anomaly.Score,
		EdgeScore:     dec.Scores.Edge.Score,
		Composite:     dec.Scores.Composite,
		DecidedAt:     dec.CreatedAt,
	}
	result := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec)
	if result.Error != nil {
		return fmt.Errorf("archive decision %s: %w", dec.ID, result.Error)
	}
	return nil
}

// TradeCount reports archived trades for one token, for operational checks.
func (a *Archive) TradeCount(ctx context.Context, tokenID string) (int64, error) {
	var n int64
	err := a.db.WithContext(ctx).
		Model(&TradeRecord{}).
		Where("token_id = ?", tokenID).
		Count(&n).Error
	return n, err
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
