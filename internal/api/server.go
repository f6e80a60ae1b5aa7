// Package api serves stored pricing runs over HTTP.
// GET endpoints are public (read-only observation).
// POST and DELETE endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talgya/pricing-sim/internal/config"
	"github.com/talgya/pricing-sim/internal/customers"
	"github.com/talgya/pricing-sim/internal/engine"
	"github.com/talgya/pricing-sim/internal/entropy"
	"github.com/talgya/pricing-sim/internal/optimize"
	"github.com/talgya/pricing-sim/internal/persistence"
	"github.com/talgya/pricing-sim/internal/publish"
	"github.com/talgya/pricing-sim/internal/settings"
	"github.com/talgya/pricing-sim/internal/strategy"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	// Upper bound on the population a single POST may simulate.
	maxCustomers = 20000
)

// Server serves persisted runs over HTTP and runs ad-hoc simulations.
type Server struct {
	DB        *persistence.DB // nil disables every run endpoint
	Config    *config.Config
	Publisher publish.Publisher // optional
	Entropy   *entropy.Client   // optional seed source
	Port      int
	AdminKey  string // Bearer token for POST/DELETE endpoints. Empty = admin disabled.

	// SimulateLimit is the number of simulations one client may request
	// per hour. Zero means 30.
	SimulateLimit int

	started     time.Time
	simulations atomic.Int64
	httpServer  *http.Server
}

// Handler builds the routed handler, wrapped in CORS.
func (s *Server) Handler() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	limit := s.SimulateLimit
	if limit <= 0 {
		limit = 30
	}
	simulateLimiter := NewRateLimiter(limit, time.Hour)

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/runs/{id}/customers", s.handleCustomers)
	mux.HandleFunc("GET /api/v1/runs/{id}/matrix", s.handleMatrix)
	mux.HandleFunc("GET /api/v1/runs/{id}/steps", s.handleSteps)
	mux.HandleFunc("GET /api/v1/runs/{id}/arms", s.handleArms)

	// Admin endpoints.
	mux.HandleFunc("POST /api/v1/simulate", s.adminOnly(RateLimitMiddleware(simulateLimiter, s.handleSimulate)))
	mux.HandleFunc("DELETE /api/v1/runs/{id}", s.adminOnly(s.handleDeleteRun))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "persistence", s.DB != nil)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops a server begun with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on mutating requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no PRICESIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// requireDB answers 503 when persistence is disabled.
func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.DB == nil {
		http.Error(w, "persistence disabled", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// storeError maps persistence errors onto status codes.
func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	slog.Error("store query failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// pageParams reads offset and limit, clamping limit to [1, maxPageSize].
func pageParams(r *http.Request) (offset, limit int) {
	limit = defaultPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, maxPageSize)
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n > 0 {
			offset = n
		}
	}
	return offset, limit
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"name":        "pricesim",
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"simulations": s.simulations.Load(),
		"admin_auth":  s.AdminKey != "",
		"persistence": s.DB != nil,
	}
	if s.DB != nil {
		status["driver"] = s.DB.Driver()
	}
	if s.Config != nil {
		status["customers"] = s.Config.Problem.NumCustomers()
		status["groups"] = s.Config.Problem.NumGroups()
		status["n_periods"] = s.Config.Problem.NPeriods
	}
	writeJSON(w, status)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	_, limit := pageParams(r)
	runs, err := s.DB.ListRuns(r.URL.Query().Get("kind"), limit)
	if err != nil {
		storeError(w, err)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	run, err := s.DB.GetRun(r.PathValue("id"))
	if err != nil {
		storeError(w, err)
		return
	}
	ps, err := run.Settings()
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"run":      run,
		"settings": ps,
	})
}

// runExists answers 404 for unknown ids so empty artifact lists are
// distinguishable from missing runs.
func (s *Server) runExists(w http.ResponseWriter, id string) bool {
	if !s.requireDB(w) {
		return false
	}
	if _, err := s.DB.GetRun(id); err != nil {
		storeError(w, err)
		return false
	}
	return true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runExists(w, id) {
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind != "" {
		if _, err := engine.ParseEventKind(kind); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	offset, limit := pageParams(r)
	events, err := s.DB.Events(id, kind, offset, limit)
	if err != nil {
		storeError(w, err)
		return
	}
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, events)
}

func (s *Server) handleCustomers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runExists(w, id) {
		return
	}
	cs, err := s.DB.Customers(id)
	if err != nil {
		storeError(w, err)
		return
	}
	if cs == nil {
		cs = []customers.Customer{}
	}
	writeJSON(w, cs)
}

func (s *Server) handleMatrix(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	m, err := s.DB.PriceMatrix(r.PathValue("id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, m)
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runExists(w, id) {
		return
	}
	steps, err := s.DB.OptimizerSteps(id)
	if err != nil {
		storeError(w, err)
		return
	}
	if steps == nil {
		steps = []optimize.Step{}
	}
	writeJSON(w, steps)
}

func (s *Server) handleArms(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runExists(w, id) {
		return
	}
	arms, err := s.DB.BanditArms(id)
	if err != nil {
		storeError(w, err)
		return
	}
	if arms == nil {
		arms = []strategy.BestArm{}
	}
	writeJSON(w, arms)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.DB.DeleteRun(id); err != nil {
		storeError(w, err)
		return
	}
	slog.Info("run deleted", "run", id)
	w.WriteHeader(http.StatusNoContent)
}

// SimulateRequest is the body of POST /api/v1/simulate. A single price is
// offered to everyone; otherwise there must be one price per predicted group.
type SimulateRequest struct {
	Prices   []float64                 `json:"prices"`
	Seed     int64                     `json:"seed"`     // 0 draws a fresh seed
	Settings *settings.ProblemSettings `json:"settings"` // nil uses the server's problem
	Save     bool                      `json:"save"`
}

// SimulateResponse reports one finished simulation.
type SimulateResponse struct {
	RunID  string        `json:"run_id,omitempty"`
	Seed   int64         `json:"seed"`
	Result engine.Result `json:"result"`
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ps := settings.Default()
	if s.Config != nil {
		ps = s.Config.Problem
	}
	if req.Settings != nil {
		ps = *req.Settings
	}
	if err := ps.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ps.NumCustomers() > maxCustomers {
		http.Error(w, fmt.Sprintf("population %d exceeds %d", ps.NumCustomers(), maxCustomers), http.StatusBadRequest)
		return
	}
	strat, name, err := strategyFor(req.Prices, ps)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Save && !s.requireDB(w) {
		return
	}

	seed := entropy.Resolve(req.Seed, s.Entropy)
	var opts []engine.Option
	if s.Config != nil {
		if season := s.Config.Seasonality(seed); season != nil {
			opts = append(opts, engine.WithSeasonality(season))
		}
	}
	if !req.Save {
		opts = append(opts, engine.WithoutHistory())
	}
	res := engine.Run(ps, strat, rand.New(rand.NewSource(seed)), opts...)
	s.simulations.Add(1)

	resp := SimulateResponse{Seed: seed, Result: res}
	if req.Save {
		run, err := persistence.NewRun("simulate", name, seed, ps, res)
		if err != nil {
			storeError(w, err)
			return
		}
		if err := s.DB.SaveRun(run, res.Events, res.Customers); err != nil {
			storeError(w, err)
			return
		}
		if m, ok := strat.(*strategy.PriceMatrix); ok {
			if err := s.DB.SavePriceMatrix(run.ID, m); err != nil {
				storeError(w, err)
				return
			}
		}
		resp.RunID = run.ID
		if s.Publisher != nil {
			if err := s.Publisher.Publish(r.Context(), publish.NewSummary(run.ID, run.Kind, name, seed, res)); err != nil {
				slog.Warn("publish failed", "run", run.ID, "error", err)
			}
		}
	}

	slog.Info("api simulation",
		"run", resp.RunID,
		"strategy", name,
		"seed", seed,
		"revenue", fmt.Sprintf("%.3f", res.Revenue),
	)
	writeJSON(w, resp)
}

// strategyFor turns a price list into a policy and its display name.
func strategyFor(prices []float64, ps settings.ProblemSettings) (strategy.Strategy, string, error) {
	for _, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return nil, "", fmt.Errorf("invalid price %v", p)
		}
	}
	switch len(prices) {
	case 0:
		return nil, "", errors.New("prices required")
	case 1:
		return strategy.Constant(prices[0]), "constant", nil
	case ps.NumPredictedGroups:
		return strategy.UniformMatrix(prices, ps.NVisits, ps.NPeriods), "matrix", nil
	default:
		return nil, "", fmt.Errorf("got %d prices, want 1 or %d", len(prices), ps.NumPredictedGroups)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}
