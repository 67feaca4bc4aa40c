package bollinger

import (
	"fmt"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/indicator"
	"github.com/newthinker/tradeflow/internal/strategy"
)

const Name = "bollinger"

// Bollinger buys a close back inside the lower band and sells a close
// back inside the upper band; positions exit at the middle band.
type Bollinger struct{}

// New creates a Bollinger band strategy
func New() *Bollinger {
	return &Bollinger{}
}

// Factory builds the variant. Band settings come from the indicator
// config.
func Factory(p strategy.Params) (strategy.Variant, error) {
	return New(), nil
}

func (b *Bollinger) Name() string { return Name }

func (b *Bollinger) Description() string {
	return "Bollinger band reversion"
}

func (b *Bollinger) Indicators() []string {
	return []string{indicator.BollingerUpper, indicator.BollingerMid, indicator.BollingerLower}
}

// crossed compares the close with a band on this bar and the previous.
func crossed(s *strategy.State, band string) (prevClose, prevBand, currClose, currBand float64, ok bool) {
	if s.PrevCandle == nil || s.Prev == nil || s.Curr == nil {
		return 0, 0, 0, 0, false
	}
	pb, ok1 := s.Prev.Value(band)
	cb, ok2 := s.Curr.Value(band)
	return s.PrevCandle.Close.InexactFloat64(), pb, s.Close(), cb, ok1 && ok2
}

func (b *Bollinger) CheckEntry(s *strategy.State) *core.Signal {
	if pc, pb, cc, cb, ok := crossed(s, indicator.BollingerLower); ok && strategy.CrossAbove(pc, pb, cc, cb) {
		return b.signal(s, core.SideLong, "close crossed back above lower band")
	}
	if pc, pb, cc, cb, ok := crossed(s, indicator.BollingerUpper); ok && strategy.CrossBelow(pc, pb, cc, cb) {
		return b.signal(s, core.SideShort, "close crossed back below upper band")
	}
	return nil
}

func (b *Bollinger) CheckExit(s *strategy.State) *core.Signal {
	mid, ok := s.Value(indicator.BollingerMid)
	if !ok {
		return nil
	}
	close := s.Close()
	if s.Position == strategy.Long && close >= mid {
		return b.signal(s, core.SideLong, "close reached middle band")
	}
	if s.Position == strategy.Short && close <= mid {
		return b.signal(s, core.SideShort, "close reached middle band")
	}
	return nil
}

func (b *Bollinger) signal(s *strategy.State, side core.Side, reason string) *core.Signal {
	upper, _ := s.Value(indicator.BollingerUpper)
	mid, _ := s.Value(indicator.BollingerMid)
	lower, _ := s.Value(indicator.BollingerLower)
	return &core.Signal{
		Side:   side,
		Reason: fmt.Sprintf("%s (%.2f / %.2f / %.2f)", reason, lower, mid, upper),
		Metadata: map[string]any{
			"bb_upper":  upper,
			"bb_middle": mid,
			"bb_lower":  lower,
		},
	}
}
