package indicator

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/newthinker/tradeflow/internal/core"
)

// Snapshot value names.
const (
	MACDLine       = "macd"
	MACDSignalLine = "macd_signal"
	MACDHistogram  = "macd_hist"
	BollingerUpper = "bb_upper"
	BollingerMid   = "bb_middle"
	BollingerLower = "bb_lower"
)

func SMAName(period int) string       { return "sma_" + strconv.Itoa(period) }
func EMAName(period int) string       { return "ema_" + strconv.Itoa(period) }
func RSIName(period int) string       { return "rsi_" + strconv.Itoa(period) }
func ATRName(period int) string       { return "atr_" + strconv.Itoa(period) }
func VolumeSMAName(period int) string { return "volume_sma_" + strconv.Itoa(period) }

// Config selects the indicators computed for each candle. A zero period
// disables that indicator.
type Config struct {
	Window          int     `mapstructure:"window"`
	SMAPeriods      []int   `mapstructure:"sma_periods"`
	EMAPeriods      []int   `mapstructure:"ema_periods"`
	RSIPeriod       int     `mapstructure:"rsi_period"`
	MACDFast        int     `mapstructure:"macd_fast"`
	MACDSlow        int     `mapstructure:"macd_slow"`
	MACDSignal      int     `mapstructure:"macd_signal"`
	BollingerPeriod int     `mapstructure:"bollinger_period"`
	BollingerK      float64 `mapstructure:"bollinger_k"`
	ATRPeriod       int     `mapstructure:"atr_period"`
	VolumePeriod    int     `mapstructure:"volume_period"`
}

// DefaultConfig returns the standard indicator set
func DefaultConfig() Config {
	return Config{
		Window:          200,
		SMAPeriods:      []int{5, 20},
		EMAPeriods:      []int{12, 26},
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		BollingerPeriod: 20,
		BollingerK:      2,
		ATRPeriod:       14,
		VolumePeriod:    20,
	}
}

// Names lists every value a snapshot produced by this config carries.
func (c Config) Names() []string {
	var names []string
	for _, p := range c.SMAPeriods {
		names = append(names, SMAName(p))
	}
	for _, p := range c.EMAPeriods {
		names = append(names, EMAName(p))
	}
	if c.RSIPeriod > 0 {
		names = append(names, RSIName(c.RSIPeriod))
	}
	if c.macdEnabled() {
		names = append(names, MACDLine, MACDSignalLine, MACDHistogram)
	}
	if c.BollingerPeriod > 0 {
		names = append(names, BollingerUpper, BollingerMid, BollingerLower)
	}
	if c.ATRPeriod > 0 {
		names = append(names, ATRName(c.ATRPeriod))
	}
	if c.VolumePeriod > 0 {
		names = append(names, VolumeSMAName(c.VolumePeriod))
	}
	return names
}

func (c Config) macdEnabled() bool {
	return c.MACDFast > 0 && c.MACDSlow > 0 && c.MACDSignal > 0
}

// Calculator computes indicator snapshots over a candle buffer.
type Calculator struct {
	cfg    Config
	warmUp int
}

// NewCalculator validates cfg and creates a calculator.
func NewCalculator(cfg Config) (*Calculator, error) {
	for _, p := range append(append([]int{}, cfg.SMAPeriods...), cfg.EMAPeriods...) {
		if p <= 0 {
			return nil, core.Errorf(core.ErrConfigInvalid, "moving average period must be positive, got %d", p)
		}
	}
	if cfg.macdEnabled() && cfg.MACDSlow <= cfg.MACDFast {
		return nil, core.Errorf(core.ErrConfigInvalid, "macd slow period %d must exceed fast %d", cfg.MACDSlow, cfg.MACDFast)
	}
	if cfg.BollingerPeriod > 0 && cfg.BollingerK <= 0 {
		return nil, core.Errorf(core.ErrConfigInvalid, "bollinger k must be positive")
	}

	c := &Calculator{cfg: cfg, warmUp: warmUp(cfg)}
	if c.warmUp == 0 {
		return nil, core.Errorf(core.ErrConfigInvalid, "no indicators configured")
	}
	if cfg.Window > 0 && cfg.Window < c.warmUp {
		return nil, core.Errorf(core.ErrConfigInvalid, "window %d shorter than warm-up %d", cfg.Window, c.warmUp)
	}
	return c, nil
}

func warmUp(cfg Config) int {
	n := 0
	grow := func(v int) {
		if v > n {
			n = v
		}
	}
	for _, p := range cfg.SMAPeriods {
		grow(p)
	}
	for _, p := range cfg.EMAPeriods {
		grow(p)
	}
	if cfg.RSIPeriod > 0 {
		grow(cfg.RSIPeriod + 1)
	}
	if cfg.macdEnabled() {
		grow(cfg.MACDSlow + cfg.MACDSignal - 1)
	}
	grow(cfg.BollingerPeriod)
	if cfg.ATRPeriod > 0 {
		grow(cfg.ATRPeriod + 1)
	}
	grow(cfg.VolumePeriod)
	return n
}

// Config returns the calculator configuration.
func (c *Calculator) Config() Config { return c.cfg }

// WarmUp returns the number of candles needed before every indicator
// has a value.
func (c *Calculator) WarmUp() int { return c.warmUp }

// WindowSize returns the buffer size to keep per stream.
func (c *Calculator) WindowSize() int {
	if c.cfg.Window > 0 {
		return c.cfg.Window
	}
	return c.warmUp
}

// Compute derives a snapshot for the newest candle in candles, which
// must be in time order. It is a pure function of its input.
func (c *Calculator) Compute(candles []core.Candle) (core.IndicatorSnapshot, error) {
	if len(candles) < c.warmUp {
		return core.IndicatorSnapshot{}, core.Errorf(core.ErrInsufficientHistory,
			"have %d candles, need %d", len(candles), c.warmUp)
	}

	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, cd := range candles {
		closes[i] = cd.Close.InexactFloat64()
		highs[i] = cd.High.InexactFloat64()
		lows[i] = cd.Low.InexactFloat64()
		volumes[i] = cd.Volume.InexactFloat64()
	}

	values := make(map[string]float64)
	put := func(name string, series []float64) error {
		v, ok := last(series)
		if !ok {
			return fmt.Errorf("%s: empty series", name)
		}
		values[name] = v
		return nil
	}

	for _, p := range c.cfg.SMAPeriods {
		if err := put(SMAName(p), SMA(closes, p)); err != nil {
			return core.IndicatorSnapshot{}, err
		}
	}
	for _, p := range c.cfg.EMAPeriods {
		if err := put(EMAName(p), EMA(closes, p)); err != nil {
			return core.IndicatorSnapshot{}, err
		}
	}
	if c.cfg.RSIPeriod > 0 {
		if err := put(RSIName(c.cfg.RSIPeriod), RSI(closes, c.cfg.RSIPeriod)); err != nil {
			return core.IndicatorSnapshot{}, err
		}
	}
	if c.cfg.macdEnabled() {
		line, signal, hist := MACD(closes, c.cfg.MACDFast, c.cfg.MACDSlow, c.cfg.MACDSignal)
		for name, series := range map[string][]float64{MACDLine: line, MACDSignalLine: signal, MACDHistogram: hist} {
			if err := put(name, series); err != nil {
				return core.IndicatorSnapshot{}, err
			}
		}
	}
	if c.cfg.BollingerPeriod > 0 {
		upper, middle, lower := Bollinger(closes, c.cfg.BollingerPeriod, c.cfg.BollingerK)
		for name, series := range map[string][]float64{BollingerUpper: upper, BollingerMid: middle, BollingerLower: lower} {
			if err := put(name, series); err != nil {
				return core.IndicatorSnapshot{}, err
			}
		}
	}
	if c.cfg.ATRPeriod > 0 {
		if err := put(ATRName(c.cfg.ATRPeriod), ATR(highs, lows, closes, c.cfg.ATRPeriod)); err != nil {
			return core.IndicatorSnapshot{}, err
		}
	}
	if c.cfg.VolumePeriod > 0 {
		if err := put(VolumeSMAName(c.cfg.VolumePeriod), SMA(volumes, c.cfg.VolumePeriod)); err != nil {
			return core.IndicatorSnapshot{}, err
		}
	}

	newest := candles[n-1]
	return core.IndicatorSnapshot{
		Symbol:    newest.Symbol,
		Timeframe: newest.Timeframe,
		Time:      newest.Time,
		Values:    values,
	}, nil
}

// Require returns a copy of c extended so that every name in names is
// produced. Moving averages are appended; single-period indicators are
// enabled when off and rejected when set to a different period. MACD and
// Bollinger fall back to the standard parameters when disabled.
func (c Config) Require(names []string) (Config, error) {
	out := c
	out.SMAPeriods = append([]int(nil), c.SMAPeriods...)
	out.EMAPeriods = append([]int(nil), c.EMAPeriods...)
	def := DefaultConfig()

	single := func(field *int, name string, period int) error {
		if *field == 0 {
			*field = period
			return nil
		}
		if *field != period {
			return core.Errorf(core.ErrConfigInvalid, "%s requested but period is %d", name, *field)
		}
		return nil
	}

	for _, name := range names {
		var err error
		switch {
		case name == MACDLine || name == MACDSignalLine || name == MACDHistogram:
			if !out.macdEnabled() {
				out.MACDFast, out.MACDSlow, out.MACDSignal = def.MACDFast, def.MACDSlow, def.MACDSignal
			}
		case name == BollingerUpper || name == BollingerMid || name == BollingerLower:
			if out.BollingerPeriod == 0 {
				out.BollingerPeriod, out.BollingerK = def.BollingerPeriod, def.BollingerK
			}
		case strings.HasPrefix(name, "volume_sma_"):
			var p int
			if p, err = period(name, "volume_sma_"); err == nil {
				err = single(&out.VolumePeriod, name, p)
			}
		case strings.HasPrefix(name, "sma_"):
			var p int
			if p, err = period(name, "sma_"); err == nil && !slices.Contains(out.SMAPeriods, p) {
				out.SMAPeriods = append(out.SMAPeriods, p)
			}
		case strings.HasPrefix(name, "ema_"):
			var p int
			if p, err = period(name, "ema_"); err == nil && !slices.Contains(out.EMAPeriods, p) {
				out.EMAPeriods = append(out.EMAPeriods, p)
			}
		case strings.HasPrefix(name, "rsi_"):
			var p int
			if p, err = period(name, "rsi_"); err == nil {
				err = single(&out.RSIPeriod, name, p)
			}
		case strings.HasPrefix(name, "atr_"):
			var p int
			if p, err = period(name, "atr_"); err == nil {
				err = single(&out.ATRPeriod, name, p)
			}
		default:
			err = core.Errorf(core.ErrConfigInvalid, "unknown indicator %q", name)
		}
		if err != nil {
			return c, err
		}
	}

	if w := warmUp(out); out.Window > 0 && out.Window < w {
		out.Window = w
	}
	return out, nil
}

func period(name, prefix string) (int, error) {
	p, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil || p <= 0 {
		return 0, core.Errorf(core.ErrConfigInvalid, "bad indicator period in %q", name)
	}
	return p, nil
}
