package strategy

import (
	"fmt"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/indicator"
	"github.com/shopspring/decimal"
)

// Options are the variant-independent machine settings.
type Options struct {
	AllowShort    bool
	ATRPeriod     int
	StopLossATR   float64 // 0 disables the ATR stop-loss
	TakeProfitATR float64 // 0 disables the ATR take-profit
	Filters       []Filter
}

// OptionsFromParams reads the shared machine params: allow_short,
// atr_period, stop_loss_atr, take_profit_atr, volume_factor,
// volume_period and min_volatility.
func OptionsFromParams(p Params) (Options, error) {
	var opts Options
	var err error

	if opts.AllowShort, err = p.Bool("allow_short", false); err != nil {
		return opts, err
	}
	if opts.ATRPeriod, err = p.Int("atr_period", 14); err != nil {
		return opts, err
	}
	if opts.StopLossATR, err = p.Float("stop_loss_atr", 0); err != nil {
		return opts, err
	}
	if opts.TakeProfitATR, err = p.Float("take_profit_atr", 0); err != nil {
		return opts, err
	}

	volumeFactor, err := p.Float("volume_factor", 0)
	if err != nil {
		return opts, err
	}
	if volumeFactor > 0 {
		period, err := p.Int("volume_period", 20)
		if err != nil {
			return opts, err
		}
		opts.Filters = append(opts.Filters, VolumeFilter{Period: period, Factor: volumeFactor})
	}

	minVol, err := p.Float("min_volatility", 0)
	if err != nil {
		return opts, err
	}
	if minVol > 0 {
		opts.Filters = append(opts.Filters, VolatilityFilter{ATRPeriod: opts.ATRPeriod, MinRatio: minVol})
	}

	if opts.StopLossATR < 0 || opts.TakeProfitATR < 0 {
		return opts, fmt.Errorf("ATR multiples must not be negative")
	}
	return opts, nil
}

// Indicators lists the snapshot values the options depend on.
func (o Options) Indicators() []string {
	var names []string
	if o.StopLossATR > 0 || o.TakeProfitATR > 0 {
		names = append(names, indicator.ATRName(o.ATRPeriod))
	}
	for _, f := range o.Filters {
		switch f := f.(type) {
		case VolumeFilter:
			names = append(names, indicator.VolumeSMAName(f.Period))
		case VolatilityFilter:
			names = append(names, indicator.ATRName(f.ATRPeriod))
		}
	}
	return names
}

// Machine runs one variant over one (symbol, timeframe) stream.
type Machine struct {
	name    string
	variant Variant
	opts    Options
	state   State
	vetoed  int
}

// NewMachine creates a FLAT machine. name is the strategy name stamped
// on emitted signals.
func NewMachine(name string, v Variant, opts Options) *Machine {
	return &Machine{
		name:    name,
		variant: v,
		opts:    opts,
		state:   State{Position: Flat},
	}
}

// State returns a copy of the current state.
func (m *Machine) State() State { return m.state }

// Vetoed returns how many raw entries the filters rejected.
func (m *Machine) Vetoed() int { return m.vetoed }

// OnBar advances the machine by one candle and its snapshot. Exit is
// evaluated first; when it flattens the position, entry is evaluated on
// the same bar and fires only on its own edge, so a bar can yield CLOSE
// followed by OPEN.
func (m *Machine) OnBar(candle core.Candle, snap core.IndicatorSnapshot) []core.Signal {
	s := &m.state
	if s.Bars > 0 {
		prevCandle := s.Candle
		s.PrevCandle = &prevCandle
	}
	s.Symbol = candle.Symbol
	s.Timeframe = candle.Timeframe
	s.Candle = candle
	s.Prev = s.Curr
	snapCopy := snap
	s.Curr = &snapCopy
	s.Bars++

	var out []core.Signal

	if !s.IsFlat() {
		if sig := m.checkStops(); sig != nil {
			out = append(out, m.close(sig))
		} else if sig := m.variant.CheckExit(s); sig != nil {
			sig.Price = candle.Close
			out = append(out, m.close(sig))
		}
	}

	if s.IsFlat() {
		if sig := m.variant.CheckEntry(s); sig != nil {
			if opened, ok := m.open(sig); ok {
				out = append(out, opened)
			}
		}
	}

	return out
}

func (m *Machine) checkStops() *core.Signal {
	s := &m.state
	long := s.Position == Long

	if s.StopLoss != nil {
		hit := (long && s.Candle.Low.LessThanOrEqual(*s.StopLoss)) ||
			(!long && s.Candle.High.GreaterThanOrEqual(*s.StopLoss))
		if hit {
			return &core.Signal{
				Price:  *s.StopLoss,
				Reason: fmt.Sprintf("stop loss hit at %s", s.StopLoss.String()),
			}
		}
	}
	if s.TakeProfit != nil {
		hit := (long && s.Candle.High.GreaterThanOrEqual(*s.TakeProfit)) ||
			(!long && s.Candle.Low.LessThanOrEqual(*s.TakeProfit))
		if hit {
			return &core.Signal{
				Price:  *s.TakeProfit,
				Reason: fmt.Sprintf("take profit hit at %s", s.TakeProfit.String()),
			}
		}
	}
	return nil
}

func (m *Machine) stamp(sig *core.Signal) {
	s := &m.state
	sig.Strategy = m.name
	sig.Symbol = s.Symbol
	sig.Timeframe = s.Timeframe
	sig.Time = s.Candle.Time
	sig.ID = core.SignalID(m.name, s.Symbol, sig.Time, sig.Action, sig.Side)
}

func (m *Machine) close(sig *core.Signal) core.Signal {
	s := &m.state
	sig.Action = core.ActionClose
	sig.Side = s.Position.Side()
	m.stamp(sig)

	s.Position = Flat
	s.EntryPrice = decimal.Zero
	s.EntryTime = time.Time{}
	s.StopLoss = nil
	s.TakeProfit = nil
	return *sig
}

func (m *Machine) open(sig *core.Signal) (core.Signal, bool) {
	s := &m.state
	if sig.Side == "" {
		sig.Side = core.SideLong
	}
	if sig.Side == core.SideShort && !m.opts.AllowShort {
		return core.Signal{}, false
	}
	for _, f := range m.opts.Filters {
		if ok, _ := f.Allow(s, sig); !ok {
			m.vetoed++
			return core.Signal{}, false
		}
	}

	sig.Action = core.ActionOpen
	sig.Price = s.Candle.Close
	m.stamp(sig)

	atr, hasATR := s.Value(indicator.ATRName(m.opts.ATRPeriod))
	if hasATR {
		sig.ATR = atr
	}
	dir := decimal.NewFromInt(sig.Side.Direction())
	if hasATR && m.opts.StopLossATR > 0 {
		sl := sig.Price.Sub(decimal.NewFromFloat(atr * m.opts.StopLossATR).Mul(dir))
		sig.StopLoss = &sl
	}
	if hasATR && m.opts.TakeProfitATR > 0 {
		tp := sig.Price.Add(decimal.NewFromFloat(atr * m.opts.TakeProfitATR).Mul(dir))
		sig.TakeProfit = &tp
	}

	s.Position = stateFor(sig.Side)
	s.EntryPrice = sig.Price
	s.EntryTime = sig.Time
	s.StopLoss = sig.StopLoss
	s.TakeProfit = sig.TakeProfit
	return *sig, true
}
