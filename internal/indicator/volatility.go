package indicator

import "math"

// Bollinger calculates Bollinger Bands: the SMA of period prices plus and
// minus k population standard deviations.
// Returns slices of length: len(prices) - period + 1
func Bollinger(prices []float64, period int, k float64) (upper, middle, lower []float64) {
	middle = SMA(prices, period)
	if len(middle) == 0 {
		return []float64{}, []float64{}, []float64{}
	}

	upper = make([]float64, len(middle))
	lower = make([]float64, len(middle))
	for i, mean := range middle {
		var sq float64
		for _, p := range prices[i : i+period] {
			d := p - mean
			sq += d * d
		}
		sd := math.Sqrt(sq / float64(period))
		upper[i] = mean + k*sd
		lower[i] = mean - k*sd
	}
	return upper, middle, lower
}

// TrueRange returns the true range series starting at the second bar.
func TrueRange(high, low, close []float64) []float64 {
	n := len(close)
	if len(high) != n || len(low) != n || n < 2 {
		return []float64{}
	}

	tr := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr = append(tr, math.Max(hl, math.Max(hc, lc)))
	}
	return tr
}

// ATR calculates the Average True Range with Wilder smoothing.
// Returns slice of length: len(close) - period
func ATR(high, low, close []float64, period int) []float64 {
	tr := TrueRange(high, low, close)
	if period <= 0 || len(tr) < period {
		return []float64{}
	}

	var sum float64
	for _, v := range tr[:period] {
		sum += v
	}
	atr := sum / float64(period)

	result := make([]float64, 0, len(tr)-period+1)
	result = append(result, atr)
	for _, v := range tr[period:] {
		atr = (atr*float64(period-1) + v) / float64(period)
		result = append(result, atr)
	}
	return result
}
