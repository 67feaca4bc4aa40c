package strategy

import (
	"fmt"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/indicator"
)

// Filter can veto a raw entry signal.
type Filter interface {
	Name() string
	Allow(s *State, sig *core.Signal) (bool, string)
}

// VolumeFilter requires the bar volume to exceed its moving average
// times Factor.
type VolumeFilter struct {
	Period int
	Factor float64
}

func (f VolumeFilter) Name() string { return "volume" }

func (f VolumeFilter) Allow(s *State, sig *core.Signal) (bool, string) {
	avg, ok := s.Value(indicator.VolumeSMAName(f.Period))
	if !ok {
		return false, fmt.Sprintf("volume filter: %s unavailable", indicator.VolumeSMAName(f.Period))
	}
	vol := s.Candle.Volume.InexactFloat64()
	if vol <= avg*f.Factor {
		return false, fmt.Sprintf("volume %.2f <= %.2f x avg %.2f", vol, f.Factor, avg)
	}
	return true, ""
}

// VolatilityFilter requires ATR/close to be at least MinRatio.
type VolatilityFilter struct {
	ATRPeriod int
	MinRatio  float64
}

func (f VolatilityFilter) Name() string { return "volatility" }

func (f VolatilityFilter) Allow(s *State, sig *core.Signal) (bool, string) {
	atr, ok := s.Value(indicator.ATRName(f.ATRPeriod))
	if !ok {
		return false, fmt.Sprintf("volatility filter: %s unavailable", indicator.ATRName(f.ATRPeriod))
	}
	close := s.Close()
	if close <= 0 {
		return false, "volatility filter: non-positive close"
	}
	if ratio := atr / close; ratio < f.MinRatio {
		return false, fmt.Sprintf("atr/close %.4f < %.4f", ratio, f.MinRatio)
	}
	return true, ""
}
