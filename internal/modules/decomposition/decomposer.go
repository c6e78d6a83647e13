// Package decomposition aggregates position weights and factor betas into a
// portfolio-level variance decomposition: annualized volatility, Euler risk
// contributions, factor and industry exposures, concentration, and the
// position correlation matrix.
package decomposition

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/pkg/formulas"
)

// Default numeric policy constants.
const (
	// DefaultMinObservations is the minimum common overlap window across all
	// position series for a covariance matrix to be built.
	DefaultMinObservations = 12

	// DefaultPSDClipTolerance is the magnitude of negative eigenvalues
	// (relative to the largest eigenvalue) that is silently clipped to zero.
	// Clipping flags the analysis as numerically adjusted.
	DefaultPSDClipTolerance = 1e-4

	// ContributionSumTolerance is how closely Euler risk contributions must
	// sum to 1.0.
	ContributionSumTolerance = 1e-6
)

// Options tunes the decomposer's numeric policy.
type Options struct {
	MinObservations  int
	PSDClipTolerance float64
}

// IndustryExposure is the aggregated exposure of one industry group.
type IndustryExposure struct {
	// Beta is the weight-summed industry beta of the group's members.
	// Invalid when no member has an estimable industry beta.
	Beta domain.Metric `json:"beta"`
	// VarianceShare is the group's share of total portfolio variance
	// (sum of member Euler contributions).
	VarianceShare float64 `json:"variance_share"`
	// Weight is the summed portfolio weight of the group's members.
	Weight float64 `json:"weight"`
}

// CorrelationMatrix is the position-by-position correlation matrix.
type CorrelationMatrix struct {
	Tickers []string    `json:"tickers"`
	Values  [][]float64 `json:"values"`
}

// MaxOffDiagonal returns the largest absolute pairwise correlation, or an
// invalid metric when fewer than two positions exist.
func (c *CorrelationMatrix) MaxOffDiagonal() domain.Metric {
	if c == nil || len(c.Tickers) < 2 {
		return domain.None()
	}
	maxAbs := 0.0
	found := false
	for i := range c.Values {
		for j := i + 1; j < len(c.Values[i]); j++ {
			v := c.Values[i][j]
			if math.IsNaN(v) {
				continue
			}
			found = true
			if math.Abs(v) > math.Abs(maxAbs) {
				maxAbs = v
			}
		}
	}
	if !found {
		return domain.None()
	}
	return domain.Some(maxAbs)
}

// Decomposition is the portfolio-level risk decomposition. It is immutable
// once produced.
type Decomposition struct {
	Tickers []string           `json:"tickers"`
	Weights map[string]float64 `json:"weights"`

	MonthlyVariance  float64 `json:"monthly_variance"`
	AnnualVariance   float64 `json:"annual_variance"`
	AnnualVolatility float64 `json:"annual_volatility"`

	// RiskContributions is the Euler allocation: fractions of total variance
	// per position, summing to 1.0 within tolerance.
	RiskContributions map[string]float64 `json:"risk_contributions"`

	// FactorBetas are portfolio-level betas (sum of weight x position beta).
	// A factor with no estimable position beta is invalid, not zero.
	FactorBetas map[domain.FactorName]domain.Metric `json:"factor_betas"`

	IndustryGroups map[string]IndustryExposure `json:"industry_groups"`

	Herfindahl        float64 `json:"herfindahl"`
	MaxPositionWeight float64 `json:"max_position_weight"`

	Correlations *CorrelationMatrix `json:"correlations"`

	// NumericallyAdjusted is set when negative covariance eigenvalues were
	// clipped to restore positive semidefiniteness.
	NumericallyAdjusted bool `json:"numerically_adjusted"`

	// Observations is the common overlap window length used for covariance.
	Observations int `json:"observations"`
}

// Decomposer builds Decompositions. It is safe for concurrent use; every
// call is a pure function of its inputs.
type Decomposer struct {
	minObs  int
	clipTol float64
	log     zerolog.Logger
}

// NewDecomposer creates a variance decomposer.
func NewDecomposer(opts Options, log zerolog.Logger) *Decomposer {
	minObs := opts.MinObservations
	if minObs <= 0 {
		minObs = DefaultMinObservations
	}
	clipTol := opts.PSDClipTolerance
	if clipTol <= 0 {
		clipTol = DefaultPSDClipTolerance
	}
	return &Decomposer{
		minObs:  minObs,
		clipTol: clipTol,
		log:     log.With().Str("component", "decomposer").Logger(),
	}
}

// Decompose computes the full variance decomposition for a position set.
// Series must be monthly returns; annualization multiplies variance by 12.
func (d *Decomposer) Decompose(
	positions []domain.Position,
	betaVectors map[string]domain.FactorBetaVector,
	series map[string]domain.ReturnSeries,
) (*Decomposition, error) {
	if len(positions) == 0 {
		return nil, &domain.InputValidationError{Reason: "no positions provided"}
	}

	tickers := make([]string, len(positions))
	weights := make([]float64, len(positions))
	weightsByTicker := make(map[string]float64, len(positions))
	for i, pos := range positions {
		tickers[i] = pos.Ticker
		weights[i] = pos.Weight
		weightsByTicker[pos.Ticker] = pos.Weight
	}

	cov, adjusted, nObs, err := d.covarianceMatrix(tickers, series)
	if err != nil {
		return nil, err
	}

	n := len(tickers)
	w := mat.NewVecDense(n, weights)

	// Total monthly portfolio variance w'Σw and marginal variances Σw.
	sigmaW := mat.NewVecDense(n, nil)
	sigmaW.MulVec(cov, w)
	totalVariance := mat.Dot(w, sigmaW)
	if totalVariance <= 0 {
		return nil, &domain.NumericInstabilityError{
			Reason:        "total portfolio variance is not positive",
			MinEigenvalue: totalVariance,
		}
	}

	// Euler allocation: contribution_i = w_i (Σw)_i / w'Σw. By homogeneity
	// the contributions sum to exactly 1.
	contributions := make(map[string]float64, n)
	for i, t := range tickers {
		contributions[t] = weights[i] * sigmaW.AtVec(i) / totalVariance
	}

	factorBetas := portfolioFactorBetas(positions, betaVectors)
	industryGroups := aggregateIndustryGroups(positions, betaVectors, contributions)

	decomp := &Decomposition{
		Tickers:             tickers,
		Weights:             weightsByTicker,
		MonthlyVariance:     totalVariance,
		AnnualVariance:      formulas.AnnualizeVariance(totalVariance),
		AnnualVolatility:    formulas.AnnualizedVolatility(totalVariance),
		RiskContributions:   contributions,
		FactorBetas:         factorBetas,
		IndustryGroups:      industryGroups,
		Herfindahl:          formulas.Herfindahl(weights),
		MaxPositionWeight:   maxAbs(weights),
		Correlations:        correlationFromCovariance(tickers, cov),
		NumericallyAdjusted: adjusted,
		Observations:        nObs,
	}

	d.log.Debug().
		Int("positions", n).
		Int("observations", nObs).
		Float64("annual_volatility", decomp.AnnualVolatility).
		Bool("numerically_adjusted", adjusted).
		Msg("Computed variance decomposition")

	return decomp, nil
}

// portfolioFactorBetas sums weight x beta per factor. Missing position betas
// contribute nothing to that factor line; a factor with no valid beta at all
// stays invalid.
func portfolioFactorBetas(
	positions []domain.Position,
	betaVectors map[string]domain.FactorBetaVector,
) map[domain.FactorName]domain.Metric {
	out := make(map[domain.FactorName]domain.Metric, 5)
	for _, factor := range domain.AllFactors() {
		sum := 0.0
		any := false
		for _, pos := range positions {
			beta := betaVectors[pos.Ticker].Beta(factor)
			if !beta.Valid {
				continue
			}
			sum += pos.Weight * beta.Value
			any = true
		}
		if any {
			out[factor] = domain.Some(sum)
		} else {
			out[factor] = domain.None()
		}
	}
	return out
}

// aggregateIndustryGroups rolls position industry betas and risk
// contributions up into named industry groups.
func aggregateIndustryGroups(
	positions []domain.Position,
	betaVectors map[string]domain.FactorBetaVector,
	contributions map[string]float64,
) map[string]IndustryExposure {
	groups := make(map[string]IndustryExposure)
	for _, pos := range positions {
		name := pos.Proxies.Group()
		if name == "" {
			continue
		}
		g := groups[name]
		g.Weight += pos.Weight
		g.VarianceShare += contributions[pos.Ticker]
		beta := betaVectors[pos.Ticker].Beta(domain.FactorIndustry)
		if beta.Valid {
			g.Beta = domain.Some(g.Beta.Or(0) + pos.Weight*beta.Value)
		}
		groups[name] = g
	}
	return groups
}

func maxAbs(values []float64) float64 {
	m := 0.0
	for _, v := range values {
		if math.Abs(v) > m {
			m = math.Abs(v)
		}
	}
	return m
}

// correlationFromCovariance derives the correlation matrix. Entries for
// zero-variance positions are NaN and excluded from MaxOffDiagonal.
func correlationFromCovariance(tickers []string, cov *mat.SymDense) *CorrelationMatrix {
	n := len(tickers)
	values := make([][]float64, n)
	for i := 0; i < n; i++ {
		values[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			vi, vj := cov.At(i, i), cov.At(j, j)
			if i == j {
				values[i][j] = 1.0
				continue
			}
			if vi <= 0 || vj <= 0 {
				values[i][j] = math.NaN()
				continue
			}
			values[i][j] = cov.At(i, j) / math.Sqrt(vi*vj)
		}
	}
	return &CorrelationMatrix{Tickers: tickers, Values: values}
}

// covarianceMatrix builds the position covariance matrix over the common
// overlap window, validates positive semidefiniteness, and clips small
// negative eigenvalues.
func (d *Decomposer) covarianceMatrix(
	tickers []string,
	series map[string]domain.ReturnSeries,
) (*mat.SymDense, bool, int, error) {
	n := len(tickers)

	positionSeries := make([]domain.ReturnSeries, 0, n)
	for _, t := range tickers {
		s, ok := series[t]
		if !ok {
			return nil, false, 0, &domain.InputValidationError{
				Ticker: t,
				Reason: "no return series supplied for position",
			}
		}
		positionSeries = append(positionSeries, s)
	}

	dates := domain.CommonDates(positionSeries)
	if len(dates) < d.minObs {
		return nil, false, 0, &domain.InsufficientDataError{
			Observations: len(dates),
			Required:     d.minObs,
		}
	}

	// Observation matrix: rows are dates, columns are positions.
	data := mat.NewDense(len(dates), n, nil)
	for j, s := range positionSeries {
		for i, date := range dates {
			r, _ := s.At(date)
			data.Set(i, j, r)
		}
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, data, nil)

	clipped, adjusted, err := d.clipToPSD(cov)
	if err != nil {
		return nil, false, 0, err
	}
	if adjusted {
		d.log.Warn().
			Int("positions", n).
			Msg("Covariance matrix clipped to positive semidefinite; analysis flagged as numerically adjusted")
	}
	return clipped, adjusted, len(dates), nil
}

// clipToPSD validates the matrix is positive semidefinite within tolerance.
// Negative eigenvalues within clipTol (relative to the largest eigenvalue)
// are clipped to zero; anything worse is a hard numeric failure.
func (d *Decomposer) clipToPSD(cov *mat.SymDense) (*mat.SymDense, bool, error) {
	n := cov.SymmetricDim()

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil, false, &domain.NumericInstabilityError{
			Reason: "eigendecomposition of covariance matrix failed",
		}
	}
	vals := eig.Values(nil)

	maxEig := 0.0
	minEig := math.Inf(1)
	for _, v := range vals {
		if v > maxEig {
			maxEig = v
		}
		if v < minEig {
			minEig = v
		}
	}
	if minEig >= 0 {
		return cov, false, nil
	}

	scale := maxEig
	if scale <= 0 {
		scale = 1.0
	}
	if -minEig > d.clipTol*scale {
		return nil, false, &domain.NumericInstabilityError{
			Reason:        "covariance matrix is not positive semidefinite beyond clip tolerance",
			MinEigenvalue: minEig,
		}
	}

	// Reconstruct Σ' = V max(Λ, 0) V'.
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	clippedVals := make([]float64, n)
	for i, v := range vals {
		if v > 0 {
			clippedVals[i] = v
		}
	}
	lambda := mat.NewDiagDense(n, clippedVals)

	var tmp, reconstructed mat.Dense
	tmp.Mul(&vectors, lambda)
	reconstructed.Mul(&tmp, vectors.T())

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// Average the off-diagonal pair to keep exact symmetry.
			out.SetSym(i, j, (reconstructed.At(i, j)+reconstructed.At(j, i))/2)
		}
	}
	return out, true, nil
}

// BuildCovariance exposes the covariance construction for callers that need
// the raw matrix with the same numeric policy as Decompose (the optimizer
// must never use a separate risk formula).
func (d *Decomposer) BuildCovariance(
	tickers []string,
	series map[string]domain.ReturnSeries,
) (*mat.SymDense, bool, error) {
	cov, adjusted, _, err := d.covarianceMatrix(tickers, series)
	return cov, adjusted, err
}
