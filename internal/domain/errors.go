package domain

import "fmt"

// InputValidationError reports malformed or incomplete positions, series or
// limits. It is raised before any computation starts.
type InputValidationError struct {
	Ticker string
	Reason string
}

func (e *InputValidationError) Error() string {
	if e.Ticker != "" {
		return fmt.Sprintf("invalid input for %s: %s", e.Ticker, e.Reason)
	}
	return "invalid input: " + e.Reason
}

// InsufficientDataError reports an overlap window below the minimum sample
// size. It is surfaced per ticker and factor; Factor is empty when the
// shortage prevents any decomposition at all.
type InsufficientDataError struct {
	Ticker       string
	Factor       FactorName
	Observations int
	Required     int
}

func (e *InsufficientDataError) Error() string {
	if e.Factor != "" {
		return fmt.Sprintf("insufficient data for %s factor %s: %d observations, need %d",
			e.Ticker, e.Factor, e.Observations, e.Required)
	}
	if e.Ticker != "" {
		return fmt.Sprintf("insufficient data for %s: %d observations, need %d",
			e.Ticker, e.Observations, e.Required)
	}
	return fmt.Sprintf("insufficient overlapping data: %d observations, need %d",
		e.Observations, e.Required)
}

// NumericInstabilityError reports a covariance matrix that is not positive
// semidefinite beyond the clip tolerance, or a singular regression.
type NumericInstabilityError struct {
	Reason        string
	MinEigenvalue float64
}

func (e *NumericInstabilityError) Error() string {
	return fmt.Sprintf("numeric instability: %s (min eigenvalue %.3e)", e.Reason, e.MinEigenvalue)
}

// ScenarioValidationError reports an invalid what-if weight delta. Rule names
// the specific violated validation rule.
type ScenarioValidationError struct {
	Rule   string
	Ticker string
	Detail string
}

func (e *ScenarioValidationError) Error() string {
	if e.Ticker != "" {
		return fmt.Sprintf("invalid scenario delta (%s) for %s: %s", e.Rule, e.Ticker, e.Detail)
	}
	return fmt.Sprintf("invalid scenario delta (%s): %s", e.Rule, e.Detail)
}
