package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/engine"
	"github.com/quantfolio/riskengine/internal/marketdata"
	"github.com/quantfolio/riskengine/internal/modules/result"
	"github.com/quantfolio/riskengine/internal/modules/scenario"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := marketdata.OpenDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	history, err := marketdata.NewHistoryStore(db, zerolog.Nop())
	require.NoError(t, err)

	return New(Config{
		Log:       zerolog.Nop(),
		Engine:    engine.New(engine.Config{}, zerolog.Nop()),
		History:   history,
		HistoryDB: db,
		Port:      0,
		DevMode:   true,
	})
}

func monthDate(i int) time.Time {
	return time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0)
}

func series(ticker string, returns []float64) domain.ReturnSeries {
	points := make([]domain.ReturnPoint, len(returns))
	for i, r := range returns {
		points[i] = domain.ReturnPoint{Date: monthDate(i), Return: r}
	}
	return domain.ReturnSeries{Ticker: ticker, Points: points}
}

func analysisRequest() engine.AnalysisRequest {
	return engine.AnalysisRequest{
		Positions: []domain.Position{
			{Ticker: "AAPL", Weight: 0.6, Proxies: domain.ProxySet{Market: "SPY", Industry: "XLK", IndustryGroup: "tech"}},
			{Ticker: "MSFT", Weight: 0.4, Proxies: domain.ProxySet{Market: "SPY", Industry: "XLK", IndustryGroup: "tech"}},
		},
		Series: map[string]domain.ReturnSeries{
			"AAPL": series("AAPL", []float64{0.031, -0.022, 0.045, 0.012, -0.038, 0.026, 0.051, -0.014, 0.019, 0.033, -0.027, 0.009, 0.024, -0.006}),
			"MSFT": series("MSFT", []float64{0.018, 0.011, -0.029, 0.022, 0.007, -0.016, 0.034, 0.009, -0.021, 0.027, 0.004, -0.012, 0.017, 0.028}),
			"SPY":  series("SPY", []float64{0.015, -0.008, 0.019, 0.011, -0.012, 0.009, 0.028, -0.004, 0.006, 0.021, -0.010, 0.003, 0.014, 0.008}),
			"XLK":  series("XLK", []float64{0.022, -0.015, 0.028, 0.015, -0.019, 0.014, 0.037, -0.008, 0.011, 0.026, -0.016, 0.005, 0.019, 0.012}),
		},
	}
}

func post(t *testing.T, s *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleAnalyze_JSON(t *testing.T) {
	s := newTestServer(t)

	rec := post(t, s, "/api/analyze", analysisRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var payload result.Payload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.NotEmpty(t, payload.ID)
	assert.Greater(t, payload.Decomposition.AnnualVolatility, 0.0)
	assert.Len(t, payload.Positions, 2)
	assert.True(t, payload.LimitsSuggested)
}

func TestHandleAnalyze_ReportFormat(t *testing.T) {
	s := newTestServer(t)

	rec := post(t, s, "/api/analyze?format=report", analysisRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "annual_volatility=")
}

func TestHandleAnalyze_ArtifactFormat(t *testing.T) {
	s := newTestServer(t)

	rec := post(t, s, "/api/analyze?format=artifact", analysisRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-msgpack", rec.Header().Get("Content-Type"))

	payload, err := result.DecodeArtifact(rec.Body.Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, payload.ID)
	assert.Greater(t, payload.Decomposition.AnnualVolatility, 0.0)
}

func TestHandleAnalyze_MalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAnalyze_ErrorMapping(t *testing.T) {
	s := newTestServer(t)

	// Weights that do not sum to 1 are a client error.
	bad := analysisRequest()
	bad.Positions[0].Weight = 0.9
	rec := post(t, s, "/api/analyze", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Too little overlapping history is unprocessable, not a bad request.
	short := analysisRequest()
	for ticker, sr := range short.Series {
		sr.Points = sr.Points[:5]
		short.Series[ticker] = sr
	}
	rec = post(t, s, "/api/analyze", short)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleWhatIf(t *testing.T) {
	s := newTestServer(t)

	rec := post(t, s, "/api/whatif", engine.WhatIfRequest{
		AnalysisRequest: analysisRequest(),
		Delta:           scenario.Delta{"AAPL": -0.1, "MSFT": 0.1},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload result.WhatIfPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.NotEqual(t, payload.Baseline.ID, payload.Scenario.ID)
	assert.True(t, payload.Deltas.AnnualVolatility.Valid)

	// An invalid delta is a client error.
	rec = post(t, s, "/api/whatif", engine.WhatIfRequest{
		AnalysisRequest: analysisRequest(),
		Delta:           scenario.Delta{"TSLA": 0.1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleOptimize(t *testing.T) {
	s := newTestServer(t)

	base := analysisRequest()
	rec := post(t, s, "/api/optimize", engine.OptimizeRequest{
		Positions: base.Positions,
		Series:    base.Series,
		Objective: "minimize_variance",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload result.OptimizationPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, result.StatusConverged, payload.Status)
	assert.Len(t, payload.Weights, 2)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["history_db"])
}

func TestHandleMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Generate one observation so the counter families exist.
	post(t, s, "/api/analyze", analysisRequest())

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "riskengine_analyses_total")
}

func TestHistoryEndpoints(t *testing.T) {
	s := newTestServer(t)

	bars := []marketdata.PriceBar{
		{Ticker: "AAPL", Month: monthDate(0), Close: 100},
		{Ticker: "AAPL", Month: monthDate(1), Close: 110},
		{Ticker: "MSFT", Month: monthDate(0), Close: 400},
	}
	rec := post(t, s, "/api/history/prices", bars)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = get(t, s, "/api/history/tickers")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tickers []string `json:"tickers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"AAPL", "MSFT"}, body.Tickers)

	// Invalid bars are rejected.
	rec = post(t, s, "/api/history/prices", []marketdata.PriceBar{{Ticker: "", Close: 1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFillSeriesFromHistory(t *testing.T) {
	s := newTestServer(t)

	// Seed two months of history: enough to derive returns but far below the
	// minimum observation count, so the engine rejects with 422. The request
	// carries no series, proving the handler pulled them from the store.
	var bars []marketdata.PriceBar
	for _, ticker := range []string{"AAPL", "MSFT", "SPY", "XLK"} {
		bars = append(bars,
			marketdata.PriceBar{Ticker: ticker, Month: monthDate(0), Close: 100},
			marketdata.PriceBar{Ticker: ticker, Month: monthDate(1), Close: 105},
		)
	}
	rec := post(t, s, "/api/history/prices", bars)
	require.Equal(t, http.StatusOK, rec.Code)

	req := analysisRequest()
	req.Series = nil
	rec = post(t, s, "/api/analyze", req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "observations")
}
