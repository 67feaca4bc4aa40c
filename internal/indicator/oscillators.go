package indicator

// RSI calculates the Relative Strength Index with Wilder smoothing.
// Returns slice of length: len(prices) - period
func RSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) <= period {
		return []float64{}
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	result := make([]float64, 0, len(prices)-period)
	result = append(result, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		g, l := 0.0, 0.0
		if change > 0 {
			g = change
		} else {
			l = -change
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		result = append(result, rsiValue(avgGain, avgLoss))
	}

	return result
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD calculates the MACD line (fast EMA - slow EMA), its signal line
// (EMA of the MACD line) and the histogram. All three slices are aligned
// to the signal line, of length len(prices) - slow - signal + 2.
func MACD(prices []float64, fast, slow, signal int) (macd, signalLine, hist []float64) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(prices) < slow+signal-1 {
		return []float64{}, []float64{}, []float64{}
	}

	emaFast := EMA(prices, fast)
	emaSlow := EMA(prices, slow)
	offset := slow - fast

	line := make([]float64, len(emaSlow))
	for i := range emaSlow {
		line[i] = emaFast[i+offset] - emaSlow[i]
	}

	signalLine = EMA(line, signal)
	macd = line[signal-1:]
	hist = make([]float64, len(signalLine))
	for i := range signalLine {
		hist[i] = macd[i] - signalLine[i]
	}
	return macd, signalLine, hist
}
