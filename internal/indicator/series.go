package indicator

import (
	"errors"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
)

// ErrDuplicate is returned by Series.Push for a candle at or before the
// last accepted one.
var ErrDuplicate = errors.New("indicator: duplicate or out-of-order candle")

// Series is the indicator state of one (symbol, timeframe) stream. The
// live processor and the backtest engine both feed candles through it,
// so they agree on which bars produce a snapshot.
type Series struct {
	calc     *Calculator
	window   *Window
	interval time.Duration
	last     time.Time
}

// NewSeries creates a series for candles of the given timeframe.
func NewSeries(calc *Calculator, timeframe string) (*Series, error) {
	interval, err := core.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	return &Series{
		calc:     calc,
		window:   NewWindow(calc.WindowSize()),
		interval: interval,
	}, nil
}

// Push adds c and computes a snapshot over the window.
//
// A candle not after the last one is dropped with ErrDuplicate. A candle
// more than one interval after the last one is buffered but returns
// ErrDataGap and no snapshot. Before warm-up the error is
// ErrInsufficientHistory.
func (s *Series) Push(c core.Candle) (core.IndicatorSnapshot, error) {
	if !s.last.IsZero() && !c.Time.After(s.last) {
		return core.IndicatorSnapshot{}, ErrDuplicate
	}

	prev := s.last
	s.window.Push(c)
	s.last = c.Time
	if !prev.IsZero() && c.Time.Sub(prev) > s.interval {
		return core.IndicatorSnapshot{}, core.Errorf(core.ErrDataGap, "%s: %s -> %s", c.Key(),
			prev.Format(time.RFC3339), c.Time.Format(time.RFC3339))
	}
	return s.calc.Compute(s.window.Candles())
}

// Last returns the time of the last accepted candle.
func (s *Series) Last() time.Time { return s.last }
