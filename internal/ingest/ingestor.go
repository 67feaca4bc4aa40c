// Package ingest polls an exchange for new candles, persists them and
// publishes them on the bus.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tradeflow/internal/bus"
	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/exchange"
	"github.com/newthinker/tradeflow/internal/storage/market"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultBatchSize = 500
)

// Config holds ingestor configuration
type Config struct {
	Symbols    []string
	Timeframes []string
	Interval   time.Duration
	BatchSize  int
}

// Pair is one ingested candle stream.
type Pair struct {
	Symbol    string
	Timeframe string
}

func (p Pair) key() string { return core.PartitionKey(p.Symbol, p.Timeframe) }

// Recorder receives ingestion metrics. metrics.Registry implements it.
type Recorder interface {
	RecordIngested(symbol, timeframe string, n int)
	RecordAdapterError(exchange string)
	RecordGap(symbol, timeframe string)
}

type stream struct {
	pair     Pair
	period   time.Duration
	bookmark time.Time
	loaded   bool
	inFlight bool
}

// Ingestor polls every configured (symbol, timeframe) on a ticker. Each
// stream keeps a bookmark, the time of its last persisted candle, and only
// candles after the bookmark are ever persisted or published.
type Ingestor struct {
	cfg      Config
	adapter  exchange.Adapter
	store    market.Store
	pub      bus.Publisher
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	streams map[string]*stream
	order   []string
	running bool
	cancel  context.CancelFunc
}

// New creates an Ingestor.
func New(cfg Config, adapter exchange.Adapter, store market.Store, pub bus.Publisher, logger *zap.Logger) (*Ingestor, error) {
	if adapter == nil || store == nil || pub == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "ingest: adapter, store and publisher are required")
	}
	if len(cfg.Symbols) == 0 || len(cfg.Timeframes) == 0 {
		return nil, core.Errorf(core.ErrConfigMissing, "ingest: symbols and timeframes are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	in := &Ingestor{
		cfg:     cfg,
		adapter: adapter,
		store:   store,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
		streams: make(map[string]*stream),
	}
	for _, sym := range cfg.Symbols {
		for _, tf := range cfg.Timeframes {
			period, err := core.ParseTimeframe(tf)
			if err != nil {
				return nil, core.WrapError(core.ErrConfigInvalid, err)
			}
			p := Pair{Symbol: sym, Timeframe: tf}
			if _, dup := in.streams[p.key()]; dup {
				continue
			}
			in.streams[p.key()] = &stream{pair: p, period: period}
			in.order = append(in.order, p.key())
		}
	}
	return in, nil
}

// SetRecorder sets the metrics recorder
func (in *Ingestor) SetRecorder(r Recorder) {
	in.recorder = r
}

// Pairs returns the ingested streams in configuration order.
func (in *Ingestor) Pairs() []Pair {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]Pair, len(in.order))
	for i, k := range in.order {
		out[i] = in.streams[k].pair
	}
	return out
}

// Bookmark returns the time of the last persisted candle of a stream.
func (in *Ingestor) Bookmark(symbol, timeframe string) (time.Time, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	s, ok := in.streams[core.PartitionKey(symbol, timeframe)]
	if !ok || s.bookmark.IsZero() {
		return time.Time{}, false
	}
	return s.bookmark, true
}

// Start polls immediately and then on every tick until ctx is done or
// Stop is called.
func (in *Ingestor) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return fmt.Errorf("ingestor already running")
	}
	in.running = true
	ctx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.mu.Unlock()

	defer func() {
		in.mu.Lock()
		in.running = false
		in.mu.Unlock()
	}()

	in.logger.Info("ingestor starting",
		zap.String("exchange", in.adapter.Name()),
		zap.Int("streams", len(in.order)),
		zap.Duration("interval", in.cfg.Interval),
	)

	_ = in.RunOnce(ctx)

	ticker := time.NewTicker(in.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("ingestor stopped")
			return ctx.Err()
		case <-ticker.C:
			_ = in.RunOnce(ctx)
		}
	}
}

// Stop stops the polling loop
func (in *Ingestor) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cancel != nil {
		in.cancel()
	}
}

// RunOnce polls every stream concurrently. A failing stream never blocks
// or aborts the others; their errors are joined in the result.
func (in *Ingestor) RunOnce(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, p := range in.Pairs() {
		g.Go(func() error {
			if err := in.poll(ctx, p); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// acquire marks a stream in flight. It returns false when a previous
// poll of the stream is still running.
func (in *Ingestor) acquire(key string) (*stream, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	s := in.streams[key]
	if s.inFlight {
		return nil, false
	}
	s.inFlight = true
	return s, true
}

func (in *Ingestor) release(s *stream) {
	in.mu.Lock()
	defer in.mu.Unlock()
	s.inFlight = false
}

func (in *Ingestor) setBookmark(s *stream, t time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()
	s.bookmark = t
}

// poll runs one fetch/persist/publish cycle for a stream. Only the
// goroutine holding the in-flight flag touches the stream's bookmark.
func (in *Ingestor) poll(ctx context.Context, p Pair) error {
	s, ok := in.acquire(p.key())
	if !ok {
		in.logger.Debug("previous poll still running", zap.String("stream", p.key()))
		return nil
	}
	defer in.release(s)

	log := in.logger.With(zap.String("symbol", p.Symbol), zap.String("timeframe", p.Timeframe))

	if !s.loaded {
		last, found, err := in.store.LastTimestamp(ctx, p.Symbol, p.Timeframe)
		if err != nil {
			log.Error("failed to load bookmark", zap.Error(err))
			return fmt.Errorf("loading bookmark for %s: %w", p.key(), err)
		}
		if found {
			in.setBookmark(s, last)
		}
		s.loaded = true
	}

	fetched, err := in.adapter.FetchCandles(ctx, p.Symbol, p.Timeframe, s.bookmark, in.cfg.BatchSize)
	if err != nil {
		if !errors.Is(err, core.ErrAdapter) {
			err = core.WrapError(core.ErrAdapter, err)
		}
		log.Warn("fetch failed, retrying next tick", zap.Error(err))
		if in.recorder != nil {
			in.recorder.RecordAdapterError(in.adapter.Name())
		}
		return err
	}

	fresh := in.fresh(s, fetched)
	if len(fresh) == 0 {
		return nil
	}
	in.checkGaps(log, s, fresh)

	inserted, err := in.store.BulkInsertCandles(ctx, fresh)
	if err != nil {
		log.Error("failed to persist candles", zap.Int("count", len(fresh)), zap.Error(err))
		return fmt.Errorf("persisting %s: %w", p.key(), err)
	}

	// the bookmark only passes published candles, so a failed publish is
	// refetched and retried on the next tick
	for _, c := range fresh {
		if err := in.pub.Publish(core.KlineTopic(c.Symbol, c.Timeframe), c); err != nil {
			log.Error("failed to publish candle", zap.Time("time", c.Time), zap.Error(err))
			return fmt.Errorf("publishing %s: %w", p.key(), err)
		}
		in.setBookmark(s, c.Time)
	}

	if in.recorder != nil {
		in.recorder.RecordIngested(p.Symbol, p.Timeframe, len(fresh))
	}
	log.Debug("candles ingested",
		zap.Int("fetched", len(fetched)),
		zap.Int("new", len(fresh)),
		zap.Int("inserted", inserted),
		zap.Time("bookmark", s.bookmark),
	)
	return nil
}

// fresh keeps valid, closed candles after the bookmark, sorted by time
// with duplicates removed.
func (in *Ingestor) fresh(s *stream, fetched []core.Candle) []core.Candle {
	now := in.now()
	out := make([]core.Candle, 0, len(fetched))
	for _, c := range fetched {
		if c.Symbol != s.pair.Symbol || c.Timeframe != s.pair.Timeframe || !c.IsValid() {
			continue
		}
		if !c.Time.After(s.bookmark) {
			continue
		}
		// still forming
		if c.Time.Add(s.period).After(now) {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	dedup := out[:0]
	for _, c := range out {
		if n := len(dedup); n > 0 && c.Time.Equal(dedup[n-1].Time) {
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}

// checkGaps logs every hole larger than one period between the bookmark
// and the new candles.
func (in *Ingestor) checkGaps(log *zap.Logger, s *stream, fresh []core.Candle) {
	prev := s.bookmark
	for _, c := range fresh {
		if !prev.IsZero() && c.Time.Sub(prev) > s.period {
			err := core.Errorf(core.ErrDataGap, "%s: %s missing between %s and %s",
				s.pair.key(), c.Time.Sub(prev)-s.period, prev.Format(time.RFC3339), c.Time.Format(time.RFC3339))
			log.Warn("data gap", zap.Error(err))
			if in.recorder != nil {
				in.recorder.RecordGap(s.pair.Symbol, s.pair.Timeframe)
			}
		}
		prev = c.Time
	}
}
