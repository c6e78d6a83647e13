// Package domain defines the core value types shared by every stage of the
// risk pipeline. All types here are immutable once constructed: analyses
// never mutate their inputs.
package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// FactorName identifies a risk factor in the multi-factor model.
type FactorName string

// The factors of the model. Market and industry are required for a position
// to be considered complete; the rest are optional.
const (
	FactorMarket      FactorName = "market"
	FactorMomentum    FactorName = "momentum"
	FactorValue       FactorName = "value"
	FactorIndustry    FactorName = "industry"
	FactorSubIndustry FactorName = "sub_industry"
)

// AllFactors lists the model factors in canonical order.
func AllFactors() []FactorName {
	return []FactorName{FactorMarket, FactorMomentum, FactorValue, FactorIndustry, FactorSubIndustry}
}

// ProxySet maps a position to the tradable instruments used as regression
// proxies for each factor. Empty strings mean "no proxy for this factor".
type ProxySet struct {
	Market      string `json:"market"`
	Momentum    string `json:"momentum,omitempty"`
	Value       string `json:"value,omitempty"`
	Industry    string `json:"industry"`
	SubIndustry string `json:"sub_industry,omitempty"`

	// IndustryGroup names the group used when aggregating industry exposures
	// across positions (e.g. "semiconductors"). Defaults to the industry
	// proxy ticker when empty.
	IndustryGroup string `json:"industry_group,omitempty"`
}

// Proxies returns the non-empty proxy tickers keyed by factor.
func (p ProxySet) Proxies() map[FactorName]string {
	out := make(map[FactorName]string, 5)
	if p.Market != "" {
		out[FactorMarket] = p.Market
	}
	if p.Momentum != "" {
		out[FactorMomentum] = p.Momentum
	}
	if p.Value != "" {
		out[FactorValue] = p.Value
	}
	if p.Industry != "" {
		out[FactorIndustry] = p.Industry
	}
	if p.SubIndustry != "" {
		out[FactorSubIndustry] = p.SubIndustry
	}
	return out
}

// Group returns the industry aggregation group for the position.
func (p ProxySet) Group() string {
	if p.IndustryGroup != "" {
		return p.IndustryGroup
	}
	return p.Industry
}

// Complete reports whether the proxy set satisfies the minimum factor model
// requirements (market and industry proxies present).
func (p ProxySet) Complete() bool {
	return p.Market != "" && p.Industry != ""
}

// Position is a single holding in a portfolio. Weight is a signed fraction of
// portfolio NAV; negative weights denote shorts or negative cash balances.
type Position struct {
	Ticker     string   `json:"ticker"`
	Weight     float64  `json:"weight"`
	Proxies    ProxySet `json:"proxies"`
	AllowShort bool     `json:"allow_short,omitempty"`
}

// Validate checks the position for structural problems.
func (p Position) Validate() error {
	if p.Ticker == "" {
		return &InputValidationError{Reason: "position has empty ticker"}
	}
	if math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) {
		return &InputValidationError{Ticker: p.Ticker, Reason: "weight is not finite"}
	}
	if !p.Proxies.Complete() {
		return &InputValidationError{Ticker: p.Ticker, Reason: "market and industry proxies are required"}
	}
	return nil
}

// ValidatePositions checks a full position set: per-position validity plus
// ticker uniqueness.
func ValidatePositions(positions []Position) error {
	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Ticker] {
			return &InputValidationError{Ticker: p.Ticker, Reason: "duplicate ticker in portfolio"}
		}
		seen[p.Ticker] = true
	}
	return nil
}

// ReturnPoint is one periodic observation of a return series.
type ReturnPoint struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}

// ReturnSeries is an ordered sequence of periodic returns for one ticker.
// Dates must be strictly increasing with no duplicates.
type ReturnSeries struct {
	Ticker string        `json:"ticker"`
	Points []ReturnPoint `json:"points"`
}

// Validate checks date ordering and value sanity.
func (s ReturnSeries) Validate() error {
	for i, pt := range s.Points {
		if math.IsNaN(pt.Return) || math.IsInf(pt.Return, 0) {
			return &InputValidationError{
				Ticker: s.Ticker,
				Reason: fmt.Sprintf("return at %s is not finite", pt.Date.Format("2006-01-02")),
			}
		}
		if i > 0 && !s.Points[i-1].Date.Before(pt.Date) {
			return &InputValidationError{
				Ticker: s.Ticker,
				Reason: fmt.Sprintf("dates not strictly increasing at %s", pt.Date.Format("2006-01-02")),
			}
		}
	}
	return nil
}

// Len returns the number of observations.
func (s ReturnSeries) Len() int { return len(s.Points) }

// AlignWith returns the paired return values of s and other on their common
// dates, in chronological order. Both series must be valid.
func (s ReturnSeries) AlignWith(other ReturnSeries) (xs, ys []float64) {
	byDate := make(map[time.Time]float64, len(other.Points))
	for _, pt := range other.Points {
		byDate[pt.Date] = pt.Return
	}
	for _, pt := range s.Points {
		if y, ok := byDate[pt.Date]; ok {
			xs = append(xs, pt.Return)
			ys = append(ys, y)
		}
	}
	return xs, ys
}

// CommonDates returns the dates shared by every given series, sorted
// chronologically. A nil result means no overlap exists.
func CommonDates(series []ReturnSeries) []time.Time {
	if len(series) == 0 {
		return nil
	}
	counts := make(map[time.Time]int)
	for _, s := range series {
		for _, pt := range s.Points {
			counts[pt.Date]++
		}
	}
	var dates []time.Time
	for d, c := range counts {
		if c == len(series) {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// At returns the return on the given date, if present.
func (s ReturnSeries) At(date time.Time) (float64, bool) {
	for _, pt := range s.Points {
		if pt.Date.Equal(date) {
			return pt.Return, true
		}
	}
	return 0, false
}

// FactorBetaVector holds the estimated factor betas for one position.
// Factors that could not be estimated are present with an invalid Metric,
// never silently zeroed.
type FactorBetaVector struct {
	Ticker string                `json:"ticker"`
	Betas  map[FactorName]Metric `json:"betas"`
}

// Beta returns the beta for a factor; an invalid Metric if missing.
func (v FactorBetaVector) Beta(f FactorName) Metric {
	if v.Betas == nil {
		return None()
	}
	if m, ok := v.Betas[f]; ok {
		return m
	}
	return None()
}
