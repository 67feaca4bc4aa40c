package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := Registry()
	assert.Equal(t, []string{"bollinger", "ma_crossover", "macd", "rsi"}, r.Names())

	for _, name := range r.Names() {
		v, err := r.Build(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, name, v.Name())
		assert.NotEmpty(t, v.Indicators())
	}
}
