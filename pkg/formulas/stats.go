// Package formulas provides shared statistical helpers used by the risk engine.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MonthsPerYear is the annualization factor for monthly return series.
const MonthsPerYear = 12

// Mean calculates the arithmetic mean of a slice of float64 values.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values.
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values.
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// AnnualizeVariance converts monthly variance to annual variance.
func AnnualizeVariance(monthlyVariance float64) float64 {
	return monthlyVariance * MonthsPerYear
}

// AnnualizedVolatility converts monthly variance to annualized volatility.
// Formula: sqrt(monthly variance * 12).
func AnnualizedVolatility(monthlyVariance float64) float64 {
	if monthlyVariance <= 0 {
		return 0
	}
	return math.Sqrt(AnnualizeVariance(monthlyVariance))
}

// CalculateReturns converts a price series to periodic percentage returns.
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]. Zero prices yield a zero return.
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// Herfindahl computes the Herfindahl concentration index: the sum of squared
// weights. Equal-weight portfolios of n positions score 1/n; a single position
// scores 1. Short weights contribute their squared magnitude.
func Herfindahl(weights []float64) float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w * w
	}
	return sum
}
