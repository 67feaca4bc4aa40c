package ma_crossover

import (
	"fmt"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/indicator"
	"github.com/newthinker/tradeflow/internal/strategy"
)

const Name = "ma_crossover"

// MACrossover implements a moving average crossover strategy
type MACrossover struct {
	fastPeriod int
	slowPeriod int
}

// New creates a new MA Crossover strategy
func New(fastPeriod, slowPeriod int) *MACrossover {
	return &MACrossover{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
	}
}

// Factory builds the variant from fast_period and slow_period.
func Factory(p strategy.Params) (strategy.Variant, error) {
	fast, err := p.Int("fast_period", 5)
	if err != nil {
		return nil, err
	}
	slow, err := p.Int("slow_period", 20)
	if err != nil {
		return nil, err
	}
	if fast <= 0 || slow <= fast {
		return nil, fmt.Errorf("ma_crossover: need 0 < fast_period < slow_period, got %d/%d", fast, slow)
	}
	return New(fast, slow), nil
}

func (m *MACrossover) Name() string {
	return Name
}

func (m *MACrossover) Description() string {
	return fmt.Sprintf("MA Crossover (%d/%d)", m.fastPeriod, m.slowPeriod)
}

func (m *MACrossover) Indicators() []string {
	return []string{indicator.SMAName(m.fastPeriod), indicator.SMAName(m.slowPeriod)}
}

// CheckEntry goes long on a golden cross and short on a death cross.
func (m *MACrossover) CheckEntry(s *strategy.State) *core.Signal {
	fast, slow := indicator.SMAName(m.fastPeriod), indicator.SMAName(m.slowPeriod)

	switch {
	case s.CrossedAbove(fast, slow):
		return m.signal(s, core.SideLong, "Golden Cross", "crossed above", "golden_cross")
	case s.CrossedBelow(fast, slow):
		return m.signal(s, core.SideShort, "Death Cross", "crossed below", "death_cross")
	}
	return nil
}

// CheckExit closes on the opposite cross.
func (m *MACrossover) CheckExit(s *strategy.State) *core.Signal {
	fast, slow := indicator.SMAName(m.fastPeriod), indicator.SMAName(m.slowPeriod)

	if s.Position == strategy.Long && s.CrossedBelow(fast, slow) {
		return m.signal(s, core.SideLong, "Death Cross", "crossed below", "death_cross")
	}
	if s.Position == strategy.Short && s.CrossedAbove(fast, slow) {
		return m.signal(s, core.SideShort, "Golden Cross", "crossed above", "golden_cross")
	}
	return nil
}

func (m *MACrossover) signal(s *strategy.State, side core.Side, label, verb, kind string) *core.Signal {
	currFast, _ := s.Value(indicator.SMAName(m.fastPeriod))
	currSlow, _ := s.Value(indicator.SMAName(m.slowPeriod))

	return &core.Signal{
		Side:       side,
		Confidence: m.calculateConfidence(currFast, currSlow),
		Reason:     fmt.Sprintf("%s: MA%d (%.2f) %s MA%d (%.2f)", label, m.fastPeriod, currFast, verb, m.slowPeriod, currSlow),
		Metadata: map[string]any{
			"fast_ma": currFast,
			"slow_ma": currSlow,
			"type":    kind,
		},
	}
}

// calculateConfidence returns higher confidence for larger divergence
func (m *MACrossover) calculateConfidence(fast, slow float64) float64 {
	if slow == 0 {
		return 0.5
	}
	diff := (fast - slow) / slow
	if diff < 0 {
		diff = -diff
	}

	// Scale to 0.5-0.9 range based on divergence
	confidence := 0.5 + (diff * 10)
	if confidence > 0.9 {
		confidence = 0.9
	}
	return confidence
}
