// Package formulas holds the technical indicators used by the portfolio
// monitor.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// DefaultRSIPeriod is the conventional RSI lookback.
const DefaultRSIPeriod = 14

// RSI thresholds for overbought/oversold alerts.
const (
	RSIOverbought = 70.0
	RSIOversold   = 30.0
)

// CalculateRSI returns the latest Relative Strength Index (0-100) of closes,
// or nil when there are fewer than length+1 closes.
//
//	RSI = 100 - (100 / (1 + RS)), RS = average gain / average loss
func CalculateRSI(closes []float64, length int) *float64 {
	if length <= 0 || len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)
	if len(rsi) == 0 {
		return nil
	}
	last := rsi[len(rsi)-1]
	if math.IsNaN(last) || math.IsInf(last, 0) {
		return nil
	}
	return &last
}
