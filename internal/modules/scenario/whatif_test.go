package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/modules/decomposition"
	"github.com/quantfolio/riskengine/internal/modules/result"
)

func baseline() []domain.Position {
	return []domain.Position{
		{Ticker: "AAPL", Weight: 0.6, Proxies: domain.ProxySet{Market: "SPY", Industry: "XLK"}},
		{Ticker: "MSFT", Weight: 0.4, Proxies: domain.ProxySet{Market: "SPY", Industry: "XLK"}},
	}
}

func TestApply_ZeroDeltaIsIdentity(t *testing.T) {
	positions := baseline()

	scenario, err := Apply(positions, Delta{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, positions, scenario, "a zero delta reproduces the baseline bit for bit")
}

func TestApply_ShiftAndRenormalize(t *testing.T) {
	scenario, err := Apply(baseline(), Delta{"AAPL": -0.1, "MSFT": 0.1}, Options{})
	require.NoError(t, err)

	require.Len(t, scenario, 2)
	assert.InDelta(t, 0.5, scenario[0].Weight, 1e-12)
	assert.InDelta(t, 0.5, scenario[1].Weight, 1e-12)
}

func TestApply_RenormalizesNetWeight(t *testing.T) {
	// Net weight after delta is 0.8; weights renormalize back to 1.
	scenario, err := Apply(baseline(), Delta{"AAPL": -0.2}, Options{})
	require.NoError(t, err)

	sum := 0.0
	for _, p := range scenario {
		sum += p.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.InDelta(t, 0.4/0.8, scenario[0].Weight, 1e-12)
	assert.InDelta(t, 0.4/0.8, scenario[1].Weight, 1e-12)
}

func TestApply_ExactZeroRemovesPosition(t *testing.T) {
	scenario, err := Apply(baseline(), Delta{"AAPL": -0.6}, Options{})
	require.NoError(t, err)

	require.Len(t, scenario, 1)
	assert.Equal(t, "MSFT", scenario[0].Ticker)
	assert.InDelta(t, 1.0, scenario[0].Weight, 1e-12)
}

func TestApply_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		delta Delta
		rule  string
	}{
		{"unknown ticker", Delta{"TSLA": 0.1}, "unknown_ticker"},
		{"short not allowed", Delta{"AAPL": -0.7}, "short_not_allowed"},
		{"dust remainder", Delta{"AAPL": -0.599}, "dust_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(baseline(), tt.delta, Options{})
			var scenarioErr *domain.ScenarioValidationError
			require.ErrorAs(t, err, &scenarioErr)
			assert.Equal(t, tt.rule, scenarioErr.Rule)
		})
	}
}

func TestApply_UntouchedSubDustPositionSurvives(t *testing.T) {
	positions := []domain.Position{
		{Ticker: "AAPL", Weight: 0.597, Proxies: domain.ProxySet{Market: "SPY", Industry: "XLK"}},
		{Ticker: "MSFT", Weight: 0.4, Proxies: domain.ProxySet{Market: "SPY", Industry: "XLK"}},
		{Ticker: "TINY", Weight: 0.003, Proxies: domain.ProxySet{Market: "SPY", Industry: "XLK"}},
	}

	// A residual below the dust threshold is a valid baseline holding; only
	// positions the delta moves are held to the threshold.
	scenario, err := Apply(positions, Delta{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, positions, scenario)

	scenario, err = Apply(positions, Delta{"AAPL": -0.1, "MSFT": 0.1}, Options{})
	require.NoError(t, err)
	require.Len(t, scenario, 3)
	assert.InDelta(t, 0.003, scenario[2].Weight, 1e-12)

	// Moving the residual itself into dust territory is still rejected.
	_, err = Apply(positions, Delta{"TINY": 0.001}, Options{})
	var scenarioErr *domain.ScenarioValidationError
	require.ErrorAs(t, err, &scenarioErr)
	assert.Equal(t, "dust_threshold", scenarioErr.Rule)
}

func TestApply_EmptyPortfolio(t *testing.T) {
	positions := []domain.Position{
		{Ticker: "AAPL", Weight: 1.0, Proxies: domain.ProxySet{Market: "SPY", Industry: "XLK"}},
	}
	_, err := Apply(positions, Delta{"AAPL": -1.0}, Options{})

	var scenarioErr *domain.ScenarioValidationError
	require.ErrorAs(t, err, &scenarioErr)
	assert.Equal(t, "empty_portfolio", scenarioErr.Rule)
}

func TestApply_ShortAllowedWithinLeverage(t *testing.T) {
	positions := []domain.Position{
		{Ticker: "AAPL", Weight: 0.6, Proxies: domain.ProxySet{Market: "SPY", Industry: "XLK"}},
		{Ticker: "SH", Weight: 0.4, Proxies: domain.ProxySet{Market: "SPY", Industry: "XLK"}, AllowShort: true},
	}

	// Pushing SH short breaches the gross exposure cap after renormalization.
	_, err := Apply(positions, Delta{"SH": -0.6}, Options{})
	var scenarioErr *domain.ScenarioValidationError
	require.ErrorAs(t, err, &scenarioErr)
	assert.Equal(t, "leverage_cap", scenarioErr.Rule)

	// The same delta passes when leverage is allowed.
	scenario, err := Apply(positions, Delta{"SH": -0.6}, Options{AllowLeverage: true})
	require.NoError(t, err)
	require.Len(t, scenario, 2)

	net := scenario[0].Weight + scenario[1].Weight
	assert.InDelta(t, 1.0, net, 1e-12)
	assert.Less(t, scenario[1].Weight, 0.0)
}

func TestDiffer_StateMachine(t *testing.T) {
	calls := 0
	pipeline := func(positions []domain.Position) (*result.RiskResult, error) {
		calls++
		return result.Build(result.BuildInputs{
			Positions: positions,
			Decomposition: &decomposition.Decomposition{
				Tickers: []string{"AAPL", "MSFT"},
			},
		}), nil
	}

	d := NewDiffer(pipeline, Options{})
	assert.Equal(t, StateInitial, d.State())

	res, err := d.Run(baseline(), Delta{"AAPL": -0.1, "MSFT": 0.1})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StateScenarioComputed, d.State())
	assert.Equal(t, 2, calls, "baseline and scenario each run the pipeline exactly once")

	// The differ is single-shot.
	_, err = d.Run(baseline(), Delta{})
	assert.Error(t, err)
}

func TestDiffer_InvalidDeltaRunsNothing(t *testing.T) {
	calls := 0
	pipeline := func(positions []domain.Position) (*result.RiskResult, error) {
		calls++
		return nil, nil
	}

	d := NewDiffer(pipeline, Options{})
	_, err := d.Run(baseline(), Delta{"TSLA": 0.1})

	var scenarioErr *domain.ScenarioValidationError
	require.ErrorAs(t, err, &scenarioErr)
	assert.Equal(t, 0, calls, "delta validation happens before any computation")
	assert.Equal(t, StateInitial, d.State())
}
