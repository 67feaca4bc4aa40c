package strategy

import (
	"fmt"
	"strconv"

	"github.com/newthinker/tradeflow/internal/core"
)

// Variant defines the entry and exit predicates of a trading strategy.
// CheckEntry is only consulted while flat, CheckExit only while a
// position is open. Returned signals need only Side, Action, Reason and
// optional Confidence/Metadata; the Machine fills in the rest.
type Variant interface {
	Name() string
	Description() string
	Indicators() []string
	CheckEntry(s *State) *core.Signal
	CheckExit(s *State) *core.Signal
}

// Params holds variant parameters as decoded from config or a sweep grid.
type Params map[string]any

// Int returns an integer parameter or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("param %s: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}

// Float returns a float parameter or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}

// Bool returns a boolean parameter or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("param %s: %w", key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("param %s: unsupported type %T", key, v)
}

// Factory builds a variant from parameters.
type Factory func(params Params) (Variant, error)
