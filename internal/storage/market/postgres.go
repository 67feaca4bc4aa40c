package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const insertBatchSize = 500

type candleRow struct {
	Symbol    string          `gorm:"primaryKey;size:32"`
	Timeframe string          `gorm:"primaryKey;size:8"`
	Time      time.Time       `gorm:"primaryKey"`
	Open      decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	High      decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	Low       decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	Close     decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	Volume    decimal.Decimal `gorm:"type:numeric(36,18);not null"`
}

func (candleRow) TableName() string { return "candles" }

type indicatorRow struct {
	Symbol    string    `gorm:"primaryKey;size:32"`
	Timeframe string    `gorm:"primaryKey;size:8"`
	Time      time.Time `gorm:"primaryKey"`
	Values    []byte    `gorm:"type:jsonb;not null"`
}

func (indicatorRow) TableName() string { return "indicators" }

type signalRow struct {
	ID         string           `gorm:"primaryKey;size:128"`
	Strategy   string           `gorm:"index:idx_signals_strategy_symbol;size:64"`
	Symbol     string           `gorm:"index:idx_signals_strategy_symbol;size:32"`
	Timeframe  string           `gorm:"size:8"`
	Time       time.Time        `gorm:"index"`
	Side       string           `gorm:"size:8"`
	Action     string           `gorm:"size:8"`
	Price      decimal.Decimal  `gorm:"type:numeric(36,18)"`
	Reason     string
	Confidence float64
	StopLoss   *decimal.Decimal `gorm:"type:numeric(36,18)"`
	TakeProfit *decimal.Decimal `gorm:"type:numeric(36,18)"`
	ATR        float64
	Metadata   []byte `gorm:"type:jsonb"`
}

func (signalRow) TableName() string { return "signals" }

// PostgresStore is a Store backed by PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens dsn and migrates the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return NewPostgresStoreFromDB(db)
}

// NewPostgresStoreFromDB wraps an open gorm connection and migrates the
// schema.
func NewPostgresStoreFromDB(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&candleRow{}, &indicatorRow{}, &signalRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) LastTimestamp(ctx context.Context, symbol, timeframe string) (time.Time, bool, error) {
	var row candleRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("time DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return row.Time.UTC(), true, nil
}

func (s *PostgresStore) BulkInsertCandles(ctx context.Context, candles []core.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	rows := make([]candleRow, len(candles))
	for i, c := range candles {
		rows[i] = candleRow{
			Symbol:    c.Symbol,
			Timeframe: c.Timeframe,
			Time:      c.Time.UTC(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, insertBatchSize)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (s *PostgresStore) QueryRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	var rows []candleRow
	q := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]core.Candle, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.candle()
	}
	return out, nil
}

func (s *PostgresStore) QueryCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]core.Candle, error) {
	var rows []candleRow
	q := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND time >= ?", symbol, timeframe, start.UTC())
	if !end.IsZero() {
		q = q.Where("time < ?", end.UTC())
	}
	if err := q.Order("time ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]core.Candle, len(rows))
	for i, r := range rows {
		out[i] = r.candle()
	}
	return out, nil
}

func (s *PostgresStore) InsertIndicator(ctx context.Context, snap core.IndicatorSnapshot) error {
	values, err := json.Marshal(snap.Values)
	if err != nil {
		return fmt.Errorf("encoding indicator values: %w", err)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&indicatorRow{
			Symbol:    snap.Symbol,
			Timeframe: snap.Timeframe,
			Time:      snap.Time.UTC(),
			Values:    values,
		}).Error
}

func (s *PostgresStore) InsertSignal(ctx context.Context, sig core.Signal) error {
	var meta []byte
	if len(sig.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(sig.Metadata); err != nil {
			return fmt.Errorf("encoding signal metadata: %w", err)
		}
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&signalRow{
			ID:         sig.ID,
			Strategy:   sig.Strategy,
			Symbol:     sig.Symbol,
			Timeframe:  sig.Timeframe,
			Time:       sig.Time.UTC(),
			Side:       string(sig.Side),
			Action:     string(sig.Action),
			Price:      sig.Price,
			Reason:     sig.Reason,
			Confidence: sig.Confidence,
			StopLoss:   sig.StopLoss,
			TakeProfit: sig.TakeProfit,
			ATR:        sig.ATR,
			Metadata:   meta,
		}).Error
}

func (s *PostgresStore) ListSignals(ctx context.Context, filter SignalFilter) ([]core.Signal, error) {
	q := s.db.WithContext(ctx).Model(&signalRow{})
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.Strategy != "" {
		q = q.Where("strategy = ?", filter.Strategy)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", string(filter.Action))
	}
	if !filter.From.IsZero() {
		q = q.Where("time >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("time <= ?", filter.To.UTC())
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []signalRow
	if err := q.Order("time ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]core.Signal, 0, len(rows))
	for _, r := range rows {
		sig := core.Signal{
			ID:         r.ID,
			Strategy:   r.Strategy,
			Symbol:     r.Symbol,
			Timeframe:  r.Timeframe,
			Time:       r.Time.UTC(),
			Side:       core.Side(r.Side),
			Action:     core.Action(r.Action),
			Price:      r.Price,
			Reason:     r.Reason,
			Confidence: r.Confidence,
			StopLoss:   r.StopLoss,
			TakeProfit: r.TakeProfit,
			ATR:        r.ATR,
		}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &sig.Metadata); err != nil {
				return nil, fmt.Errorf("decoding signal %s metadata: %w", r.ID, err)
			}
		}
		out = append(out, sig)
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r candleRow) candle() core.Candle {
	return core.Candle{
		Symbol:    r.Symbol,
		Timeframe: r.Timeframe,
		Time:      r.Time.UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}
