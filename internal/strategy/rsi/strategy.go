package rsi

import (
	"fmt"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/indicator"
	"github.com/newthinker/tradeflow/internal/strategy"
)

const Name = "rsi"

// RSI is a mean-reversion strategy: long when RSI recovers through the
// oversold level, out (or short) when it falls back through overbought.
type RSI struct {
	period     int
	oversold   float64
	overbought float64
}

// New creates an RSI strategy
func New(period int, oversold, overbought float64) *RSI {
	return &RSI{period: period, oversold: oversold, overbought: overbought}
}

// Factory builds the variant from period, oversold and overbought.
func Factory(p strategy.Params) (strategy.Variant, error) {
	period, err := p.Int("period", 14)
	if err != nil {
		return nil, err
	}
	oversold, err := p.Float("oversold", 30)
	if err != nil {
		return nil, err
	}
	overbought, err := p.Float("overbought", 70)
	if err != nil {
		return nil, err
	}
	if period <= 0 || oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("rsi: invalid levels period=%d oversold=%.1f overbought=%.1f", period, oversold, overbought)
	}
	return New(period, oversold, overbought), nil
}

func (r *RSI) Name() string { return Name }

func (r *RSI) Description() string {
	return fmt.Sprintf("RSI(%d) %.0f/%.0f", r.period, r.oversold, r.overbought)
}

func (r *RSI) Indicators() []string {
	return []string{indicator.RSIName(r.period)}
}

func (r *RSI) CheckEntry(s *strategy.State) *core.Signal {
	name := indicator.RSIName(r.period)
	switch {
	case s.CrossedAboveLevel(name, r.oversold):
		return r.signal(s, core.SideLong, fmt.Sprintf("RSI crossed up through %.0f", r.oversold))
	case s.CrossedBelowLevel(name, r.overbought):
		return r.signal(s, core.SideShort, fmt.Sprintf("RSI crossed down through %.0f", r.overbought))
	}
	return nil
}

func (r *RSI) CheckExit(s *strategy.State) *core.Signal {
	name := indicator.RSIName(r.period)
	if s.Position == strategy.Long && s.CrossedBelowLevel(name, r.overbought) {
		return r.signal(s, core.SideLong, fmt.Sprintf("RSI crossed down through %.0f", r.overbought))
	}
	if s.Position == strategy.Short && s.CrossedAboveLevel(name, r.oversold) {
		return r.signal(s, core.SideShort, fmt.Sprintf("RSI crossed up through %.0f", r.oversold))
	}
	return nil
}

func (r *RSI) signal(s *strategy.State, side core.Side, reason string) *core.Signal {
	v, _ := s.Value(indicator.RSIName(r.period))
	return &core.Signal{
		Side:     side,
		Reason:   fmt.Sprintf("%s (rsi %.2f)", reason, v),
		Metadata: map[string]any{"rsi": v},
	}
}
