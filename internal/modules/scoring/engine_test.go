package scoring

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/modules/decomposition"
)

// fixture builds a decomposition with controllable risk levels.
func fixture(vol, hhi, maxCorr float64, betas map[domain.FactorName]domain.Metric) *decomposition.Decomposition {
	return &decomposition.Decomposition{
		Tickers:           []string{"A", "B"},
		Weights:           map[string]float64{"A": 0.6, "B": 0.4},
		AnnualVolatility:  vol,
		Herfindahl:        hhi,
		MaxPositionWeight: 0.6,
		FactorBetas:       betas,
		Correlations: &decomposition.CorrelationMatrix{
			Tickers: []string{"A", "B"},
			Values:  [][]float64{{1, maxCorr}, {maxCorr, 1}},
		},
	}
}

func TestBandScore(t *testing.T) {
	tests := []struct {
		name     string
		measured domain.Metric
		safe     float64
		worst    float64
		want     domain.Metric
	}{
		{"at or below safe scores 100", domain.Some(0.10), 0.10, 0.50, domain.Some(100)},
		{"below safe scores 100", domain.Some(0.02), 0.10, 0.50, domain.Some(100)},
		{"at or above worst scores 0", domain.Some(0.50), 0.10, 0.50, domain.Some(0)},
		{"above worst scores 0", domain.Some(0.90), 0.10, 0.50, domain.Some(0)},
		{"midpoint scores 50", domain.Some(0.30), 0.10, 0.50, domain.Some(50)},
		{"invalid stays invalid", domain.None(), 0.10, 0.50, domain.None()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bandScore(tt.measured, tt.safe, tt.worst)
			assert.Equal(t, tt.want.Valid, got.Valid)
			if tt.want.Valid {
				assert.InDelta(t, tt.want.Value, got.Value, 1e-12)
			}
		})
	}
}

func TestBandScore_Monotone(t *testing.T) {
	prev := 101.0
	for v := 0.10; v <= 0.50; v += 0.01 {
		score := bandScore(domain.Some(v), 0.10, 0.50)
		require.True(t, score.Valid)
		assert.LessOrEqual(t, score.Value, prev, "worse risk must never raise the score")
		prev = score.Value
	}
}

func TestScore_CompositeWeights(t *testing.T) {
	e := NewEngine(0, zerolog.Nop())

	// All four components valid: composite is the plain weighted sum.
	d := fixture(0.30, 0.225, 0.575, map[domain.FactorName]domain.Metric{
		domain.FactorMarket: domain.Some(1.25),
	})
	score := e.Score(d)

	require.True(t, score.Components.Volatility.Valid)
	require.True(t, score.Components.Concentration.Valid)
	require.True(t, score.Components.FactorExposure.Valid)
	require.True(t, score.Components.Correlation.Valid)

	// Each measured value sits at its band midpoint, so every component
	// scores 50 and the composite is 50 regardless of weights.
	assert.InDelta(t, 50, score.Components.Volatility.Value, 1e-9)
	assert.InDelta(t, 50, score.Components.Concentration.Value, 1e-9)
	assert.InDelta(t, 50, score.Components.FactorExposure.Value, 1e-9)
	assert.InDelta(t, 50, score.Components.Correlation.Value, 1e-9)
	require.True(t, score.Composite.Valid)
	assert.InDelta(t, 50, score.Composite.Value, 1e-9)
}

func TestScore_RenormalizesOverValidComponents(t *testing.T) {
	e := NewEngine(0, zerolog.Nop())

	// No estimable factor betas: the factor component is not applicable and
	// the composite renormalizes over the remaining weights.
	d := fixture(0.10, 0.05, 0.20, map[domain.FactorName]domain.Metric{
		domain.FactorMarket: domain.None(),
	})
	score := e.Score(d)

	assert.False(t, score.Components.FactorExposure.Valid)
	require.True(t, score.Composite.Valid)
	assert.InDelta(t, 100, score.Composite.Value, 1e-9,
		"remaining components all score 100; renormalization keeps the composite at 100")
}

func TestScore_SingleComponentPortfolio(t *testing.T) {
	e := NewEngine(0, zerolog.Nop())

	// Single position: no correlation component.
	d := &decomposition.Decomposition{
		Tickers:           []string{"A"},
		Weights:           map[string]float64{"A": 1.0},
		AnnualVolatility:  0.50,
		Herfindahl:        1.0,
		MaxPositionWeight: 1.0,
		FactorBetas:       map[domain.FactorName]domain.Metric{},
		Correlations:      &decomposition.CorrelationMatrix{Tickers: []string{"A"}, Values: [][]float64{{1}}},
	}
	score := e.Score(d)

	assert.False(t, score.Components.Correlation.Valid)
	assert.False(t, score.Components.FactorExposure.Valid)
	require.True(t, score.Composite.Valid)
	assert.InDelta(t, 0, score.Composite.Value, 1e-9,
		"volatility and concentration both at worst")
}

func TestSuggestLimits(t *testing.T) {
	e := NewEngine(0.15, zerolog.Nop())

	d := fixture(0.20, 0.30, 0.50, map[domain.FactorName]domain.Metric{
		domain.FactorMarket:   domain.Some(1.0),
		domain.FactorMomentum: domain.None(),
	})
	set := e.SuggestLimits(d)
	require.NoError(t, set.Validate())

	byName := make(map[string]domain.RiskLimit, len(set.Limits))
	for _, l := range set.Limits {
		byName[l.Name] = l
	}

	vol, ok := byName["max_volatility"]
	require.True(t, ok)
	assert.InDelta(t, 0.20*1.15, vol.Threshold, 1e-12)
	assert.Equal(t, domain.AtMost, vol.Direction)

	weight, ok := byName["max_position_weight"]
	require.True(t, ok)
	assert.InDelta(t, 0.6*1.15, weight.Threshold, 1e-12)

	hhi, ok := byName["max_concentration"]
	require.True(t, ok)
	assert.InDelta(t, 0.30*1.15, hhi.Threshold, 1e-12)

	market, ok := byName["max_market_beta"]
	require.True(t, ok)
	assert.Equal(t, domain.FactorMarket, market.Factor)
	assert.InDelta(t, 1.0*1.15, market.Threshold, 1e-12)

	_, hasMomentum := byName["max_momentum_beta"]
	assert.False(t, hasMomentum, "no limit is suggested for an inestimable factor")

	corr, ok := byName["max_pairwise_correlation"]
	require.True(t, ok)
	assert.InDelta(t, 0.50*1.15, corr.Threshold, 1e-12)
}

func TestSuggestLimits_Clamped(t *testing.T) {
	e := NewEngine(0.15, zerolog.Nop())

	d := fixture(2.0, 1.0, 0.99, map[domain.FactorName]domain.Metric{
		domain.FactorMarket: domain.Some(5.0),
	})
	set := e.SuggestLimits(d)

	byName := make(map[string]domain.RiskLimit, len(set.Limits))
	for _, l := range set.Limits {
		byName[l.Name] = l
	}

	assert.InDelta(t, 1.0, byName["max_volatility"].Threshold, 1e-12, "volatility clamps at 100%")
	assert.InDelta(t, 1.0, byName["max_concentration"].Threshold, 1e-12)
	assert.InDelta(t, 3.0, byName["max_market_beta"].Threshold, 1e-12)
	assert.InDelta(t, 1.0, byName["max_pairwise_correlation"].Threshold, 1e-12, "correlation never exceeds 1")
}
