package indicator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/newthinker/tradeflow/internal/bus"
	"github.com/newthinker/tradeflow/internal/core"
	"go.uber.org/zap"
)

// SnapshotWriter persists computed snapshots.
type SnapshotWriter interface {
	InsertIndicator(ctx context.Context, snap core.IndicatorSnapshot) error
}

// Processor turns candles into indicator snapshots. It is driven by a
// node.Node partitioned by (symbol, timeframe).
type Processor struct {
	calc   *Calculator
	pub    bus.Publisher
	store  SnapshotWriter
	logger *zap.Logger

	mu      sync.Mutex
	streams map[string]*Series
}

// NewProcessor creates an indicator processor. store may be nil.
func NewProcessor(calc *Calculator, pub bus.Publisher, store SnapshotWriter, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		calc:    calc,
		pub:     pub,
		store:   store,
		logger:  logger,
		streams: make(map[string]*Series),
	}
}

func (p *Processor) series(c core.Candle) (*Series, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := c.Key()
	if s, ok := p.streams[key]; ok {
		return s, nil
	}
	s, err := NewSeries(p.calc, c.Timeframe)
	if err != nil {
		return nil, err
	}
	p.streams[key] = s
	return s, nil
}

// Process handles one kline message.
func (p *Processor) Process(ctx context.Context, msg bus.Message) error {
	candle, ok := msg.Payload.(core.Candle)
	if !ok {
		return fmt.Errorf("indicator: unexpected payload %T on %s", msg.Payload, msg.Topic)
	}

	s, err := p.series(candle)
	if err != nil {
		return err
	}

	snap, err := s.Push(candle)
	switch {
	case errors.Is(err, ErrDuplicate):
		// redelivery
		p.logger.Debug("duplicate candle ignored",
			zap.String("key", candle.Key()),
			zap.Time("time", candle.Time),
		)
		return nil
	case errors.Is(err, core.ErrInsufficientHistory):
		return nil
	case err != nil:
		return err
	}

	if err := p.pub.Publish(core.IndicatorTopic(snap.Symbol, snap.Timeframe), snap); err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	if p.store != nil {
		if err := p.store.InsertIndicator(ctx, snap); err != nil {
			p.logger.Error("failed to persist snapshot",
				zap.String("key", snap.Key()),
				zap.Error(err),
			)
		}
	}
	return nil
}
