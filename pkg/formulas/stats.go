package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

// LogReturns converts prices to log returns ln(p[i]/p[i-1]). Pairs with a
// non-positive price are skipped.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	return returns
}

// AnnualizedVolatility is the sample standard deviation of daily log returns
// times sqrt(252). It returns nil with fewer than two returns.
func AnnualizedVolatility(closes []float64) *float64 {
	returns := LogReturns(closes)
	if len(returns) < 2 {
		return nil
	}
	v := stat.StdDev(returns, nil) * math.Sqrt(TradingDaysPerYear)
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
