package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/engine"
	"github.com/quantfolio/riskengine/internal/marketdata"
)

// renderable is what every canonical result exposes to the response writer.
type renderable interface {
	RenderReport() string
	EncodeArtifact() ([]byte, error)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "riskengine",
	}

	if s.historyDB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.historyDB.Conn().PingContext(ctx); err != nil {
			response["status"] = "degraded"
			response["history_db"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		response["history_db"] = "ok"
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleAnalyze runs a full risk analysis
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req engine.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.fillSeries(r.Context(), req.Positions, &req.Series); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	start := time.Now()
	res, err := s.engine.Analyze(r.Context(), req)
	if err != nil {
		s.metrics.observe("analyze", "error", time.Since(start).Seconds())
		s.writeEngineError(w, err)
		return
	}
	s.metrics.observe("analyze", "ok", time.Since(start).Seconds())

	s.writeResult(w, r, res, res.Payload())
}

// handleWhatIf runs a baseline/scenario comparison
func (s *Server) handleWhatIf(w http.ResponseWriter, r *http.Request) {
	var req engine.WhatIfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.fillSeries(r.Context(), req.Positions, &req.Series); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	start := time.Now()
	res, err := s.engine.WhatIf(r.Context(), req)
	if err != nil {
		s.metrics.observe("whatif", "error", time.Since(start).Seconds())
		s.writeEngineError(w, err)
		return
	}
	s.metrics.observe("whatif", "ok", time.Since(start).Seconds())

	s.writeResult(w, r, res, res.Payload())
}

// handleOptimize solves a constrained allocation problem
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req engine.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.fillSeries(r.Context(), req.Positions, &req.Series); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	start := time.Now()
	res, err := s.engine.Optimize(r.Context(), req)
	if err != nil {
		s.metrics.observe("optimize", "error", time.Since(start).Seconds())
		s.writeEngineError(w, err)
		return
	}
	s.metrics.observe("optimize", string(res.Status()), time.Since(start).Seconds())

	s.writeResult(w, r, res, res.Payload())
}

// handleHistoryTickers lists the tickers with stored price history
func (s *Server) handleHistoryTickers(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history store not configured")
		return
	}
	tickers, err := s.history.Tickers(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tickers": tickers})
}

// handleUpsertPrices stores monthly closing prices
func (s *Server) handleUpsertPrices(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history store not configured")
		return
	}
	var bars []marketdata.PriceBar
	if err := json.NewDecoder(r.Body).Decode(&bars); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.history.UpsertPrices(r.Context(), bars); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"stored": len(bars)})
}

// fillSeries loads return series from the history store when the request
// carries none. Explicit series in the request always win.
func (s *Server) fillSeries(
	ctx context.Context,
	positions []domain.Position,
	series *map[string]domain.ReturnSeries,
) error {
	if len(*series) > 0 || s.history == nil {
		return nil
	}

	tickers := make([]string, 0, len(positions)*4)
	for _, p := range positions {
		tickers = append(tickers, p.Ticker)
		for _, proxy := range p.Proxies.Proxies() {
			tickers = append(tickers, proxy)
		}
	}

	loaded, err := s.history.ReturnSeriesFor(ctx, tickers)
	if err != nil {
		return err
	}
	*series = loaded
	return nil
}

// writeResult renders a canonical result in the requested format:
// ?format=report (plain text), ?format=artifact (msgpack), default JSON.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, res renderable, payload interface{}) {
	switch r.URL.Query().Get("format") {
	case "report":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(res.RenderReport())); err != nil {
			s.log.Error().Err(err).Msg("Failed to write report response")
		}
	case "artifact":
		data, err := res.EncodeArtifact()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/x-msgpack")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			s.log.Error().Err(err).Msg("Failed to write artifact response")
		}
	default:
		s.writeJSON(w, http.StatusOK, payload)
	}
}

// writeEngineError maps engine errors onto HTTP statuses: input and scenario
// problems are client errors, numeric instability is unprocessable, anything
// else is a server error.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var inputErr *domain.InputValidationError
	var dataErr *domain.InsufficientDataError
	var scenarioErr *domain.ScenarioValidationError
	var numericErr *domain.NumericInstabilityError

	switch {
	case errors.As(err, &inputErr), errors.As(err, &scenarioErr):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &dataErr), errors.As(err, &numericErr):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.log.Error().Err(err).Msg("Engine operation failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
