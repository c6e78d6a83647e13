// Package betas estimates per-position factor betas via ordinary
// least-squares regression against factor proxy return series.
package betas

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfolio/riskengine/internal/domain"
)

// DefaultMinObservations is the minimum overlapping sample size for a
// regression to be considered estimable (one year of monthly returns).
const DefaultMinObservations = 12

// Options tunes the estimator.
type Options struct {
	// MinObservations is the minimum overlap window per factor regression.
	// Defaults to DefaultMinObservations when zero.
	MinObservations int

	// MaxParallel bounds the worker pool for per-position regressions.
	// Defaults to the number of CPUs when zero.
	MaxParallel int
}

// Estimator computes FactorBetaVectors. Estimation is a pure function of its
// inputs; positions are regressed independently and in parallel.
type Estimator struct {
	minObs      int
	maxParallel int
	log         zerolog.Logger
}

// NewEstimator creates a beta estimator.
func NewEstimator(opts Options, log zerolog.Logger) *Estimator {
	minObs := opts.MinObservations
	if minObs <= 0 {
		minObs = DefaultMinObservations
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}
	return &Estimator{
		minObs:      minObs,
		maxParallel: maxParallel,
		log:         log.With().Str("component", "beta_estimator").Logger(),
	}
}

// MinObservations returns the configured minimum overlap window.
func (e *Estimator) MinObservations() int { return e.minObs }

// Estimate regresses each position's returns against each of its factor
// proxies independently (single-factor regressions, not a joint fit) and
// returns a beta vector per ticker.
//
// Factors with fewer than MinObservations overlapping points, or with a
// zero-variance proxy series, are marked missing rather than defaulted to
// zero. A position or proxy with no return series at all is a coverage
// failure and aborts the whole estimation.
func (e *Estimator) Estimate(
	ctx context.Context,
	positions []domain.Position,
	series map[string]domain.ReturnSeries,
) (map[string]domain.FactorBetaVector, error) {
	if len(positions) == 0 {
		return nil, &domain.InputValidationError{Reason: "no positions provided"}
	}

	// Coverage check first: fail fast before spending any compute.
	for _, pos := range positions {
		if _, ok := series[pos.Ticker]; !ok {
			return nil, &domain.InputValidationError{
				Ticker: pos.Ticker,
				Reason: "no return series supplied for position",
			}
		}
		for factor, proxy := range pos.Proxies.Proxies() {
			if _, ok := series[proxy]; !ok {
				return nil, &domain.InputValidationError{
					Ticker: pos.Ticker,
					Reason: fmt.Sprintf("no return series supplied for %s proxy %s", factor, proxy),
				}
			}
		}
	}

	// Regressions are independent across positions; run them on a bounded
	// pool. Results land in a pre-sized slice so output is deterministic
	// regardless of scheduling order.
	vectors := make([]domain.FactorBetaVector, len(positions))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)

	for i, pos := range positions {
		i, pos := i, pos
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			vectors[i] = e.estimatePosition(pos, series)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]domain.FactorBetaVector, len(positions))
	for _, v := range vectors {
		out[v.Ticker] = v
	}
	return out, nil
}

// estimatePosition runs the per-factor regressions for one position.
func (e *Estimator) estimatePosition(
	pos domain.Position,
	series map[string]domain.ReturnSeries,
) domain.FactorBetaVector {
	asset := series[pos.Ticker]
	vec := domain.FactorBetaVector{
		Ticker: pos.Ticker,
		Betas:  make(map[domain.FactorName]domain.Metric),
	}

	for factor, proxy := range pos.Proxies.Proxies() {
		beta := e.regress(asset, series[proxy])
		vec.Betas[factor] = beta
		if !beta.Valid {
			e.log.Debug().
				Str("ticker", pos.Ticker).
				Str("factor", string(factor)).
				Str("proxy", proxy).
				Msg("Factor beta not estimable, marked missing")
		}
	}
	return vec
}

// regress computes the OLS slope of asset returns on proxy returns over
// their overlapping dates. Returns an invalid metric when the overlap is
// below the minimum window or the proxy has zero variance.
func (e *Estimator) regress(asset, proxy domain.ReturnSeries) domain.Metric {
	assetAligned, proxyAligned := asset.AlignWith(proxy)
	if len(assetAligned) < e.minObs {
		return domain.None()
	}
	if stat.Variance(proxyAligned, nil) == 0 {
		// Regression slope is undefined against a constant regressor.
		return domain.None()
	}
	_, beta := stat.LinearRegression(proxyAligned, assetAligned, nil, false)
	return domain.Some(beta)
}
