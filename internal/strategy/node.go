package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tradeflow/internal/bus"
	"github.com/newthinker/tradeflow/internal/core"
	"go.uber.org/zap"
)

// maxPending bounds unmatched candles/snapshots held per stream.
const maxPending = 256

// Recorder receives strategy metrics. metrics.Registry implements it.
type Recorder interface {
	RecordSignal(strategy, kind string)
}

// joiner pairs candles with snapshots of the same timestamp for one
// stream and owns that stream's machine.
type joiner struct {
	machine *Machine
	candles map[int64]core.Candle
	snaps   map[int64]core.IndicatorSnapshot
	last    time.Time
}

// Processor evaluates one strategy over kline and indicator topics. It
// is driven by a node.Node partitioned by (symbol, timeframe).
type Processor struct {
	name     string
	variant  Variant
	opts     Options
	pub      bus.Publisher
	logger   *zap.Logger
	recorder Recorder

	mu      sync.Mutex
	streams map[string]*joiner
}

// NewProcessor creates a strategy processor.
func NewProcessor(name string, v Variant, opts Options, pub bus.Publisher, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		name:    name,
		variant: v,
		opts:    opts,
		pub:     pub,
		logger:  logger,
		streams: make(map[string]*joiner),
	}
}

// SetRecorder sets the metrics recorder
func (p *Processor) SetRecorder(r Recorder) {
	p.recorder = r
}

// Inputs returns the topic patterns the processor consumes.
func (p *Processor) Inputs() []string {
	return []string{"kline:*:*", "indicator:*:*"}
}

func (p *Processor) stream(key string) *joiner {
	p.mu.Lock()
	defer p.mu.Unlock()

	j, ok := p.streams[key]
	if !ok {
		j = &joiner{
			machine: NewMachine(p.name, p.variant, p.opts),
			candles: make(map[int64]core.Candle),
			snaps:   make(map[int64]core.IndicatorSnapshot),
		}
		p.streams[key] = j
	}
	return j
}

// Process handles a candle or a snapshot.
func (p *Processor) Process(ctx context.Context, msg bus.Message) error {
	var (
		key string
		t   time.Time
	)
	switch v := msg.Payload.(type) {
	case core.Candle:
		key, t = v.Key(), v.Time
	case core.IndicatorSnapshot:
		key, t = v.Key(), v.Time
	default:
		return fmt.Errorf("strategy: unexpected payload %T on %s", msg.Payload, msg.Topic)
	}

	j := p.stream(key)
	if !t.After(j.last) {
		// redelivery or already joined
		return nil
	}
	ts := t.UnixMilli()
	switch v := msg.Payload.(type) {
	case core.Candle:
		j.candles[ts] = v
	case core.IndicatorSnapshot:
		j.snaps[ts] = v
	}

	candle, okC := j.candles[ts]
	snap, okS := j.snaps[ts]
	if !okC || !okS {
		j.trim()
		return nil
	}

	j.last = t
	j.prune(ts)

	for _, sig := range j.machine.OnBar(candle, snap) {
		if err := p.pub.Publish(core.SignalTopic(sig.Strategy, sig.Symbol), sig); err != nil {
			return fmt.Errorf("publishing signal %s: %w", sig.ID, err)
		}
		if p.recorder != nil {
			p.recorder.RecordSignal(sig.Strategy, sig.Kind())
		}
		p.logger.Info("signal emitted",
			zap.String("id", sig.ID),
			zap.String("kind", sig.Kind()),
			zap.String("price", sig.Price.String()),
			zap.String("reason", sig.Reason),
		)
	}
	return nil
}

// prune drops everything at or before ts.
func (j *joiner) prune(ts int64) {
	for k := range j.candles {
		if k <= ts {
			delete(j.candles, k)
		}
	}
	for k := range j.snaps {
		if k <= ts {
			delete(j.snaps, k)
		}
	}
}

// trim keeps the pending maps bounded, dropping the oldest entries.
func (j *joiner) trim() {
	trimOldest(j.candles)
	trimOldest(j.snaps)
}

func trimOldest[V any](m map[int64]V) {
	if len(m) <= maxPending {
		return
	}
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
	for _, k := range keys[:len(keys)-maxPending] {
		delete(m, k)
	}
}
