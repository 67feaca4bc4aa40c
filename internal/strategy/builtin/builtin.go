// Package builtin registers the bundled strategy variants.
package builtin

import (
	"github.com/newthinker/tradeflow/internal/strategy"
	"github.com/newthinker/tradeflow/internal/strategy/bollinger"
	"github.com/newthinker/tradeflow/internal/strategy/ma_crossover"
	"github.com/newthinker/tradeflow/internal/strategy/macd"
	"github.com/newthinker/tradeflow/internal/strategy/rsi"
)

// Registry returns a registry holding every bundled variant.
func Registry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(ma_crossover.Name, ma_crossover.Factory)
	r.Register(macd.Name, macd.Factory)
	r.Register(rsi.Name, rsi.Factory)
	r.Register(bollinger.Name, bollinger.Factory)
	return r
}
