package strategy

import (
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
)

// PositionState is the state machine's current state.
type PositionState string

const (
	Flat  PositionState = "FLAT"
	Long  PositionState = "LONG"
	Short PositionState = "SHORT"
)

// Side maps an open state to its signal side.
func (p PositionState) Side() core.Side {
	if p == Short {
		return core.SideShort
	}
	return core.SideLong
}

func stateFor(side core.Side) PositionState {
	if side == core.SideShort {
		return Short
	}
	return Long
}

// State is the per-stream strategy state. It is only mutated by the
// Machine that owns it.
type State struct {
	Symbol     string
	Timeframe  string
	Candle     core.Candle
	PrevCandle *core.Candle
	Curr       *core.IndicatorSnapshot
	Prev       *core.IndicatorSnapshot
	Position   PositionState
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Bars       int
}

// IsFlat reports whether no position is open.
func (s *State) IsFlat() bool {
	return s.Position == Flat || s.Position == ""
}

// Value returns the current value of a named indicator.
func (s *State) Value(name string) (float64, bool) {
	if s.Curr == nil {
		return 0, false
	}
	return s.Curr.Value(name)
}

// Close returns the current candle close.
func (s *State) Close() float64 {
	return s.Candle.Close.InexactFloat64()
}

func (s *State) pair(name string) (prev, curr float64, ok bool) {
	if s.Prev == nil || s.Curr == nil {
		return 0, 0, false
	}
	prev, ok1 := s.Prev.Value(name)
	curr, ok2 := s.Curr.Value(name)
	return prev, curr, ok1 && ok2
}

// CrossedAbove reports whether a moved from <= b on the previous bar to
// > b on this bar.
func (s *State) CrossedAbove(a, b string) bool {
	pa, ca, ok1 := s.pair(a)
	pb, cb, ok2 := s.pair(b)
	return ok1 && ok2 && CrossAbove(pa, pb, ca, cb)
}

// CrossedBelow reports whether a moved from >= b to < b.
func (s *State) CrossedBelow(a, b string) bool {
	pa, ca, ok1 := s.pair(a)
	pb, cb, ok2 := s.pair(b)
	return ok1 && ok2 && CrossBelow(pa, pb, ca, cb)
}

// CrossedAboveLevel reports whether name crossed up through level.
func (s *State) CrossedAboveLevel(name string, level float64) bool {
	prev, curr, ok := s.pair(name)
	return ok && CrossAbove(prev, level, curr, level)
}

// CrossedBelowLevel reports whether name crossed down through level.
func (s *State) CrossedBelowLevel(name string, level float64) bool {
	prev, curr, ok := s.pair(name)
	return ok && CrossBelow(prev, level, curr, level)
}

// CrossAbove is the edge predicate prevA <= prevB && currA > currB.
func CrossAbove(prevA, prevB, currA, currB float64) bool {
	return prevA <= prevB && currA > currB
}

// CrossBelow is the edge predicate prevA >= prevB && currA < currB.
func CrossBelow(prevA, prevB, currA, currB float64) bool {
	return prevA >= prevB && currA < currB
}
