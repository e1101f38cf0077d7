package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/aggregator"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/cache"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/metrics"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps a compare request body.
const maxBodyBytes = 1 << 20

// engine is the part of *aggregator.Aggregator the HTTP service uses.
type engine interface {
	CompareBill(ctx context.Context, lines []aggregator.BillLine) ([]aggregator.ItemComparison, error)
	ResolveItem(ctx context.Context, name string, basePrice float64) (quote.ComparisonSet, error)
	CacheStats(ctx context.Context) cache.Stats
}

type server struct {
	engine  engine
	timeout time.Duration
	logger  zerolog.Logger
}

func newServer(e engine, timeout time.Duration, logger zerolog.Logger) *server {
	return &server{
		engine:  e,
		timeout: timeout,
		logger:  logger.With().Str("component", logging.ComponentServer).Logger(),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", metrics.Instrument("/health", http.HandlerFunc(healthHandler)))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("POST /v1/compare", metrics.Instrument("/v1/compare", http.HandlerFunc(s.handleCompare)))
	mux.Handle("GET /v1/compare/item", metrics.Instrument("/v1/compare/item", http.HandlerFunc(s.handleItem)))
	mux.Handle("GET /v1/cache/stats", metrics.Instrument("/v1/cache/stats", http.HandlerFunc(s.handleStats)))
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type compareRequest struct {
	Items []aggregator.BillLine `json:"items"`
}

type compareResponse struct {
	Success bool                        `json:"success"`
	Prices  []aggregator.ItemComparison `json:"prices"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if len(req.Items) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "items must not be empty"})
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	prices, err := s.engine.CompareBill(ctx, req.Items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().
		Int("items", len(req.Items)).
		Dur("elapsed", time.Since(start)).
		Msg("Bill compared")
	s.writeJSON(w, http.StatusOK, compareResponse{Success: true, Prices: prices})
}

func (s *server) handleItem(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	price, err := strconv.ParseFloat(r.URL.Query().Get("price"), 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "price must be a number"})
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	set, err := s.engine.ResolveItem(ctx, name, price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, set)
}

type statsResponse struct {
	cache.Stats
	HitRate float64 `json:"hitRate"`
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.CacheStats(r.Context())
	s.writeJSON(w, http.StatusOK, statsResponse{Stats: stats, HitRate: stats.HitRate()})
}

func (s *server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, aggregator.ErrInvalidItem) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn().Err(err).Msg("Request timed out")
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "timed out"})
		return
	}
	s.logger.Error().Err(err).Msg("Request failed")
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}
