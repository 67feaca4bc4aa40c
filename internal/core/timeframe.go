package core

import (
	"fmt"
	"strconv"
	"time"
)

// Topic helpers for the bus.
func KlineTopic(symbol, timeframe string) string {
	return "kline:" + symbol + ":" + timeframe
}

func IndicatorTopic(symbol, timeframe string) string {
	return "indicator:" + symbol + ":" + timeframe
}

func SignalTopic(strategy, symbol string) string {
	return "signal:" + strategy + ":" + symbol
}

func OrderTopic(strategy, symbol string) string {
	return "order:" + strategy + ":" + symbol
}

func TradeTopic(strategy, symbol string) string {
	return "trade:" + strategy + ":" + symbol
}

// ParseTimeframe converts "1m", "4h", "1d", "1w" into a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}

	var unit time.Duration
	switch tf[len(tf)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid timeframe unit %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// PeriodsPerYear is the Sharpe annualization base for a timeframe.
// Crypto markets trade continuously, so a year is 365 days.
func PeriodsPerYear(tf string) float64 {
	d, err := ParseTimeframe(tf)
	if err != nil || d <= 0 {
		return 365
	}
	return float64(365*24*time.Hour) / float64(d)
}
