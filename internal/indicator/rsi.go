// Package indicator implements the technical indicators the signal engine
// consumes.
package indicator

import (
	"fmt"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// DefaultRSIPeriod is the conventional Wilder RSI look-back.
const DefaultRSIPeriod = 14

// RSI computes the Relative Strength Index of closes, which must be ordered
// newest first. The first period deltas seed simple averages of gains and
// losses; every older delta is folded in with Wilder smoothing.
//
// At least period+1 prices are required; fewer yields an error wrapping
// domain.ErrInsufficientData.
func RSI(closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("indicator: rsi period must be positive, got %d", period)
	}
	if len(closes) < period+1 {
		return 0, fmt.Errorf("indicator: rsi needs %d prices, have %d: %w",
			period+1, len(closes), domain.ErrInsufficientData)
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		gain, loss := split(closes[i] - closes[i+1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	n := float64(period)
	for i := period; i < len(closes)-1; i++ {
		gain, loss := split(closes[i] - closes[i+1])
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// split returns the gain and loss parts of a newer-minus-older delta.
func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}
