// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/plan"
	"github.com/jeranaias/planrun/internal/planner"
	"github.com/jeranaias/planrun/internal/progress"
	"github.com/jeranaias/planrun/internal/util"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	// MaxRequestBodySize caps request bodies (1MB). Plans are limited to
	// the same size by the plan codec.
	MaxRequestBodySize = plan.MaxDocumentSize

	// MaxGoalLength is the maximum goal length in bytes.
	MaxGoalLength = 100000

	// healthCheckTimeout bounds the backend probe made by /health.
	healthCheckTimeout = 2 * time.Second
)

// EventResult is the type of the last line of a /v1/runs stream.
const EventResult = "result"

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks server usage statistics.
type ServerStats struct {
	TotalRequests int64     `json:"total_requests"`
	PlansCompiled int64     `json:"plans_compiled"`
	RunsStarted   int64     `json:"runs_started"`
	RunsCompleted int64     `json:"runs_completed"`
	RunsFailed    int64     `json:"runs_failed"`
	StartTime     time.Time `json:"start_time"`
}

type stats struct {
	requests  atomic.Int64
	compiled  atomic.Int64
	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	startTime time.Time
}

func newStats() *stats {
	return &stats{startTime: time.Now()}
}

func (s *stats) snapshot() ServerStats {
	return ServerStats{
		TotalRequests: s.requests.Load(),
		PlansCompiled: s.compiled.Load(),
		RunsStarted:   s.started.Load(),
		RunsCompleted: s.completed.Load(),
		RunsFailed:    s.failed.Load(),
		StartTime:     s.startTime,
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Config configures a Server.
type Config struct {
	// Addr is the listen address. Empty means DefaultAddr.
	Addr string

	// Token enables bearer authentication when non-empty.
	Token string

	// RateLimit is requests per second allowed per client. Zero disables
	// rate limiting.
	RateLimit float64

	// Options configures the planner used for every request.
	Options planner.Options

	// Version is reported by /health.
	Version string

	// HealthCheck probes the generation backend. Nil skips the probe.
	HealthCheck func(ctx context.Context) error
}

// Server exposes the planner over HTTP.
type Server struct {
	cfg    Config
	client llm.Client
	router *http.ServeMux
	stats  *stats

	mu     sync.Mutex
	server *http.Server
	closed bool

	// runs tracks in-flight /v1/runs handlers so Shutdown can wait for them.
	runs sync.WaitGroup
}

// New creates a Server that generates with client.
func New(client llm.Client, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{
		cfg:    cfg,
		client: client,
		router: http.NewServeMux(),
		stats:  newStats(),
	}
	s.setupRoutes()
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)

	s.router.HandleFunc("POST /v1/plans", s.handlePlans)
	s.router.HandleFunc("POST /v1/runs", s.handleRuns)
	s.router.HandleFunc("POST /v1/title", s.handleTitle)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		s.countRequests,
	}
	if s.cfg.RateLimit > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(s.cfg.RateLimit, burstFor(s.cfg.RateLimit))))
	}
	if s.cfg.Token != "" {
		middlewares = append(middlewares, AuthMiddleware(&AuthConfig{Enabled: true, BearerToken: s.cfg.Token}))
	}
	return Chain(middlewares...)(s.router)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stats.requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// burstFor lets a client spend a couple of seconds of its allowance at once.
func burstFor(perSecond float64) int {
	b := int(perSecond * 2)
	if b < 1 {
		b = 1
	}
	return b
}

// ============================================================================
// REQUEST TYPES
// ============================================================================

// GoalRequest is the body of /v1/plans and /v1/title.
type GoalRequest struct {
	Goal string `json:"goal"`
}

// RunRequest is the body of /v1/runs. Either Goal or Plan must be set; a
// plan document (as written by `planrun plan --format json`) skips
// compilation.
type RunRequest struct {
	Goal string          `json:"goal,omitempty"`
	Plan json.RawMessage `json:"plan,omitempty"`
}

// PlanResponse is returned by /v1/plans.
type PlanResponse struct {
	Plan    *plan.Plan `json:"plan"`
	Diagram string     `json:"diagram"`
}

// TitleResponse is returned by /v1/title.
type TitleResponse struct {
	Title string `json:"title"`
}

// ResultEvent is the final line of a /v1/runs stream.
type ResultEvent struct {
	Type string     `json:"type"`
	Data ResultData `json:"data"`
}

// ResultData carries the finished plan or the error that stopped the run.
type ResultData struct {
	Plan  *plan.Plan `json:"plan,omitempty"`
	Error string     `json:"error,omitempty"`
}

// ============================================================================
// PLAN HANDLERS
// ============================================================================

// handlePlans handles POST /v1/plans: compile only.
func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	var req GoalRequest
	if !s.decode(w, r, &req) {
		return
	}
	goal, ok := s.checkGoal(w, req.Goal)
	if !ok {
		return
	}

	p := planner.New(s.client, progress.Discard, s.cfg.Options)
	pl, err := p.Compile(r.Context(), goal)
	if err != nil {
		log.Printf("COMPILE_FAILED | goal=%q error=%v", util.TruncateRunes(goal, 50), err)
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.stats.compiled.Add(1)

	s.writeJSON(w, http.StatusOK, PlanResponse{Plan: pl, Diagram: pl.Mermaid()})
}

// handleRuns handles POST /v1/runs. Progress events are streamed as NDJSON
// while the run proceeds; the last line is a result event.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !s.decode(w, r, &req) {
		return
	}

	var pl *plan.Plan
	if len(bytes.TrimSpace(req.Plan)) > 0 && !bytes.Equal(bytes.TrimSpace(req.Plan), []byte("null")) {
		decoded, err := plan.Decode(req.Plan, plan.FormatJSON)
		if err == nil && s.cfg.Options.ValidateGraph {
			err = plan.ValidateGraph(decoded)
		}
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		pl = decoded
	} else if _, ok := s.checkGoal(w, req.Goal); !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	s.runs.Add(1)
	defer s.runs.Done()
	s.stats.started.Add(1)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// A slow client must not stall generation, so events are queued and
	// written by the sink's own goroutine.
	out := &flushWriter{w: w, f: flusher}
	events := progress.NewAsync(progress.NewJSONWriter(out), 0)
	p := planner.New(s.client, events, s.cfg.Options)

	var err error
	if pl == nil {
		pl, err = p.Run(r.Context(), strings.TrimSpace(req.Goal))
	} else {
		pl, err = p.Execute(r.Context(), pl)
	}

	// Drain queued events before the result line; anything emitted later
	// by an abandoned action is dropped.
	events.Close()
	if n := events.Dropped(); n > 0 {
		log.Printf("WARNING: run stream dropped %d progress event(s)", n)
	}

	result := ResultEvent{Type: EventResult}
	if pl != nil {
		result.Data.Plan = pl.Clone()
	}
	if err != nil {
		s.stats.failed.Add(1)
		result.Data.Error = err.Error()
		log.Printf("RUN_FAILED | error=%v", err)
	} else {
		s.stats.completed.Add(1)
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		log.Printf("WARNING: failed to write run result: %v", err)
	}
}

// handleTitle handles POST /v1/title.
func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	var req GoalRequest
	if !s.decode(w, r, &req) {
		return
	}
	goal, ok := s.checkGoal(w, req.Goal)
	if !ok {
		return
	}

	title, err := planner.New(s.client, progress.Discard, s.cfg.Options).Title(r.Context(), goal)
	if err != nil {
		log.Printf("TITLE_FAILED | error=%v", err)
		s.writeError(w, http.StatusBadGateway, "Title generation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, TitleResponse{Title: title})
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Backend       string `json:"backend"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       s.cfg.Version,
		UptimeSeconds: int64(time.Since(s.stats.startTime).Seconds()),
		Backend:       "not_checked",
	}

	if s.cfg.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.cfg.HealthCheck(ctx); err != nil {
			health.Backend = "unavailable"
			health.Status = "degraded"
		} else {
			health.Backend = "ok"
		}
	}

	s.writeJSON(w, http.StatusOK, health)
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.snapshot())
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address. It blocks until the server stops
// and returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Runs stream for as long as the plan takes, so there is no write
		// timeout; per-action timeouts bound the work instead.
		IdleTimeout: 120 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = srv
	s.mu.Unlock()

	log.Printf("SERVER_START | addr=%s version=%s auth=%t", s.cfg.Addr, s.cfg.Version, s.cfg.Token != "")
	return srv.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight runs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.closed = true
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")

	err := srv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a JSON body, writing an error response when it fails.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return false
		}
		log.Printf("Invalid request body: %v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return false
	}
	return true
}

func (s *Server) checkGoal(w http.ResponseWriter, goal string) (string, bool) {
	goal = strings.TrimSpace(goal)
	switch {
	case goal == "":
		s.writeError(w, http.StatusBadRequest, "goal is required")
		return "", false
	case len(goal) > MaxGoalLength:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("goal exceeds maximum length of %d", MaxGoalLength))
		return "", false
	}
	return goal, true
}

// statusForError maps compile failures to HTTP status codes.
func statusForError(err error) int {
	var compErr *plan.CompilationError
	switch {
	case errors.Is(err, plan.ErrEmptyGoal):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &compErr):
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) {
			return http.StatusBadGateway
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARNING: failed to write response: %v", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}

// flushWriter flushes after every write so each NDJSON line reaches the
// client as soon as it is produced.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}
