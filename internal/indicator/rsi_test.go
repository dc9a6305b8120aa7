package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// series returns n closes newest first, where the oldest is start and every
// newer bar moves by step.
func series(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = start + float64(i)*step
	}
	return out
}

func TestRSI_StrictlyDecreasingIsNearZero(t *testing.T) {
	v, err := RSI(series(30, 200, -1), DefaultRSIPeriod)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, v, 1e-9)
}

func TestRSI_StrictlyIncreasingIsNearHundred(t *testing.T) {
	v, err := RSI(series(30, 100, 1), DefaultRSIPeriod)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, v, 1e-9)
}

func TestRSI_ConstantIsExactlyHundred(t *testing.T) {
	v, err := RSI(series(15, 100, 0), DefaultRSIPeriod)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)
}

func TestRSI_WilderSmoothing(t *testing.T) {
	// period 2: seed gain avg 1, loss avg 0.5; one smoothed gain of 1 gives
	// avgGain 1, avgLoss 0.25, RS 4.
	v, err := RSI([]float64{3, 1, 2, 1}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 80.0, v, 1e-9)
}

func TestRSI_StaysInRange(t *testing.T) {
	closes := []float64{101, 99, 104, 98, 97, 103, 100, 102, 96, 99, 101, 95, 98, 100, 97, 99, 102}
	v, err := RSI(closes, DefaultRSIPeriod)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 100.0)
}

func TestRSI_InsufficientData(t *testing.T) {
	_, err := RSI(series(DefaultRSIPeriod, 100, 1), DefaultRSIPeriod)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)

	_, err = RSI(nil, DefaultRSIPeriod)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestRSI_InvalidPeriod(t *testing.T) {
	_, err := RSI(series(10, 100, 1), 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInsufficientData)
}
