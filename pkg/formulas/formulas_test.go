package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateRSI(t *testing.T) {
	assert.Nil(t, CalculateRSI([]float64{1, 2, 3}, 14))

	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	rsi := CalculateRSI(rising, DefaultRSIPeriod)
	require.NotNil(t, rsi)
	assert.InDelta(t, 100.0, *rsi, 0.001, "only gains saturates RSI")

	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = float64(100 - i)
	}
	rsi = CalculateRSI(falling, DefaultRSIPeriod)
	require.NotNil(t, rsi)
	assert.InDelta(t, 0.0, *rsi, 0.001)
}

func TestLogReturns(t *testing.T) {
	r := LogReturns([]float64{100, 110, 0, 121})
	require.Len(t, r, 1)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)

	assert.Empty(t, LogReturns([]float64{100}))
}

func TestAnnualizedVolatility(t *testing.T) {
	assert.Nil(t, AnnualizedVolatility([]float64{100, 101}))

	flat := AnnualizedVolatility([]float64{100, 100, 100, 100})
	require.NotNil(t, flat)
	assert.Zero(t, *flat)

	// alternating +/-1% daily moves
	closes := []float64{100, 101, 100, 101, 100, 101}
	v := AnnualizedVolatility(closes)
	require.NotNil(t, v)
	assert.Greater(t, *v, 0.1)
	assert.Less(t, *v, 0.3)
}
