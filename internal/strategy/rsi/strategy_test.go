package rsi

import (
	"testing"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func state(pos strategy.PositionState, prev, curr float64) *strategy.State {
	p := core.IndicatorSnapshot{Values: map[string]float64{"rsi_14": prev}}
	c := core.IndicatorSnapshot{Values: map[string]float64{"rsi_14": curr}}
	return &strategy.State{Position: pos, Prev: &p, Curr: &c}
}

func TestRSI_Entry(t *testing.T) {
	r := New(14, 30, 70)

	sig := r.CheckEntry(state(strategy.Flat, 25, 35))
	require.NotNil(t, sig)
	assert.Equal(t, core.SideLong, sig.Side)

	sig = r.CheckEntry(state(strategy.Flat, 75, 65))
	require.NotNil(t, sig)
	assert.Equal(t, core.SideShort, sig.Side)

	assert.Nil(t, r.CheckEntry(state(strategy.Flat, 20, 25)), "still oversold")
	assert.Nil(t, r.CheckEntry(state(strategy.Flat, 35, 40)))
}

func TestRSI_Exit(t *testing.T) {
	r := New(14, 30, 70)
	assert.NotNil(t, r.CheckExit(state(strategy.Long, 72, 68)))
	assert.Nil(t, r.CheckExit(state(strategy.Long, 60, 72)))
	assert.NotNil(t, r.CheckExit(state(strategy.Short, 28, 31)))
}

func TestFactory(t *testing.T) {
	tests := []struct {
		name    string
		params  strategy.Params
		wantErr bool
	}{
		{"defaults", nil, false},
		{"custom", strategy.Params{"period": 7, "oversold": 20, "overbought": 80}, false},
		{"inverted levels", strategy.Params{"oversold": 80, "overbought": 20}, true},
		{"zero period", strategy.Params{"period": 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Factory(tt.params)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
