package macd

import (
	"fmt"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/indicator"
	"github.com/newthinker/tradeflow/internal/strategy"
)

const Name = "macd"

// MACD trades the MACD line crossing its signal line. Periods are
// fixed by the indicator config; min_histogram filters weak crosses.
type MACD struct {
	minHistogram float64
}

// New creates a MACD strategy
func New(minHistogram float64) *MACD {
	return &MACD{minHistogram: minHistogram}
}

// Factory builds the variant from min_histogram.
func Factory(p strategy.Params) (strategy.Variant, error) {
	minHist, err := p.Float("min_histogram", 0)
	if err != nil {
		return nil, err
	}
	if minHist < 0 {
		return nil, fmt.Errorf("macd: min_histogram must not be negative")
	}
	return New(minHist), nil
}

func (m *MACD) Name() string { return Name }

func (m *MACD) Description() string {
	return "MACD / signal line crossover"
}

func (m *MACD) Indicators() []string {
	return []string{indicator.MACDLine, indicator.MACDSignalLine, indicator.MACDHistogram}
}

func (m *MACD) CheckEntry(s *strategy.State) *core.Signal {
	hist, _ := s.Value(indicator.MACDHistogram)
	if abs(hist) < m.minHistogram {
		return nil
	}
	switch {
	case s.CrossedAbove(indicator.MACDLine, indicator.MACDSignalLine):
		return m.signal(s, core.SideLong, "MACD crossed above signal")
	case s.CrossedBelow(indicator.MACDLine, indicator.MACDSignalLine):
		return m.signal(s, core.SideShort, "MACD crossed below signal")
	}
	return nil
}

func (m *MACD) CheckExit(s *strategy.State) *core.Signal {
	if s.Position == strategy.Long && s.CrossedBelow(indicator.MACDLine, indicator.MACDSignalLine) {
		return m.signal(s, core.SideLong, "MACD crossed below signal")
	}
	if s.Position == strategy.Short && s.CrossedAbove(indicator.MACDLine, indicator.MACDSignalLine) {
		return m.signal(s, core.SideShort, "MACD crossed above signal")
	}
	return nil
}

func (m *MACD) signal(s *strategy.State, side core.Side, reason string) *core.Signal {
	line, _ := s.Value(indicator.MACDLine)
	sig, _ := s.Value(indicator.MACDSignalLine)
	hist, _ := s.Value(indicator.MACDHistogram)
	return &core.Signal{
		Side:   side,
		Reason: fmt.Sprintf("%s (macd %.4f, signal %.4f)", reason, line, sig),
		Metadata: map[string]any{
			"macd":        line,
			"macd_signal": sig,
			"macd_hist":   hist,
		},
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
