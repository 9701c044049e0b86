package usecase

import "github.com/vitos/crypto_tp_reentry/internal/domain"

// EMA returns the last exponential moving average of series.
// The first period values seed it with their simple average. A series shorter
// than period yields its last value.
func EMA(series []float64, period int) float64 {
	if len(series) == 0 {
		return 0
	}
	if period <= 0 || len(series) < period {
		return series[len(series)-1]
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += series[i]
	}
	ema := sum / float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(series); i++ {
		ema = (series[i]-ema)*k + ema
	}
	return ema
}

// VolumePressure is the share of volume traded in up-candles over the last
// window candles. Candles that did not close above their open count as sell
// volume. With no volume at all it is 0.5.
func VolumePressure(candles []domain.Candle, window int) float64 {
	if window > 0 && len(candles) > window {
		candles = candles[len(candles)-window:]
	}

	var buyVolume, sellVolume float64
	for _, c := range candles {
		if c.Close > c.Open {
			buyVolume += c.Volume
		} else {
			sellVolume += c.Volume
		}
	}

	total := buyVolume + sellVolume
	if total == 0 {
		return 0.5
	}
	return buyVolume / total
}

func closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
