// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/llm/llmtest"
	"github.com/jeranaias/planrun/internal/plan"
	"github.com/jeranaias/planrun/internal/planner"
	"github.com/jeranaias/planrun/internal/progress"
)

const helloPlan = `{
  "goal": "Write a hello-world function",
  "actions": [
    {"id": "1", "type": "code", "description": "Implement hello()", "params": {"language": "go"}, "dependencies": []}
  ],
  "metadata": {"estimated_time": "2", "complexity": "low"}
}`

const danglingPlan = `{
  "goal": "g",
  "actions": [
    {"id": "A", "type": "t", "description": "first", "params": {}, "dependencies": ["Z"]}
  ],
  "metadata": {"estimated_time": "1", "complexity": "low"}
}`

func testOptions() planner.Options {
	opts := planner.DefaultOptions()
	opts.RetryDelay = 0
	return opts
}

// fakeBackend compiles to doc, titles everything "Hello World" and streams
// one fragment per generation.
func fakeBackend(doc string) *llmtest.Client {
	return &llmtest.Client{
		CompleteFunc: llmtest.Evaluations("yes", func(ctx context.Context, prompt string) (string, error) {
			if strings.Contains(prompt, "Given the goal:") {
				return doc, nil
			}
			return "Hello World", nil
		}),
		StreamFunc: func(ctx context.Context, messages []llm.Message) ([]string, error) {
			return []string{"func hello() {}"}, nil
		},
	}
}

func newTestServer(client llm.Client, cfg Config) http.Handler {
	if cfg.Options == (planner.Options{}) {
		cfg.Options = testOptions()
	}
	return New(client, cfg).Handler()
}

func post(t *testing.T, h http.Handler, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

type streamLine struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readStream(t *testing.T, body string) []streamLine {
	t.Helper()
	var lines []streamLine
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var l streamLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l), sc.Text())
		lines = append(lines, l)
	}
	require.NoError(t, sc.Err())
	return lines
}

// =============================================================================
// HEALTH AND STATS
// =============================================================================

func TestHealth(t *testing.T) {
	tests := []struct {
		name        string
		check       func(context.Context) error
		wantStatus  string
		wantBackend string
	}{
		{"no probe", nil, "ok", "not_checked"},
		{"backend up", func(context.Context) error { return nil }, "ok", "ok"},
		{"backend down", func(context.Context) error { return errors.New("refused") }, "degraded", "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&llmtest.Client{}, Config{Version: "1.2.3", HealthCheck: tt.check})
			rec := get(t, h, "/health")
			require.Equal(t, http.StatusOK, rec.Code)

			var health HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Equal(t, tt.wantBackend, health.Backend)
			assert.Equal(t, "1.2.3", health.Version)
		})
	}
}

func TestStats_CountsRequests(t *testing.T) {
	h := newTestServer(fakeBackend(helloPlan), Config{})
	post(t, h, "/v1/plans", `{"goal":"hello"}`)
	post(t, h, "/v1/plans", `{"goal":""}`)

	rec := get(t, h, "/stats")
	var stats ServerStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.PlansCompiled)
	assert.False(t, stats.StartTime.IsZero())
}

// =============================================================================
// PLANS
// =============================================================================

func TestPlans_Compile(t *testing.T) {
	h := newTestServer(fakeBackend(helloPlan), Config{})
	rec := post(t, h, "/v1/plans", `{"goal":"Write a hello-world function"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp PlanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Plan)
	require.Len(t, resp.Plan.Actions, 1)
	assert.Equal(t, plan.StatusPending, resp.Plan.Actions[0].Status)
	assert.True(t, strings.HasPrefix(resp.Diagram, "graph TD"))
}

func TestPlans_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty goal", `{"goal":"   "}`, http.StatusBadRequest},
		{"unknown field", `{"goal":"x","extra":1}`, http.StatusBadRequest},
		{"not json", `goal=x`, http.StatusBadRequest},
		{"too long", `{"goal":"` + strings.Repeat("a", MaxGoalLength+1) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := fakeBackend(helloPlan)
			rec := post(t, newTestServer(client, Config{}), "/v1/plans", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, client.CompleteCalls())
		})
	}
}

func TestPlans_CompileFailure(t *testing.T) {
	h := newTestServer(fakeBackend("not a plan"), Config{})
	rec := post(t, h, "/v1/plans", `{"goal":"hello"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to compile plan")
}

func TestPlans_BackendFailure(t *testing.T) {
	client := &llmtest.Client{CompleteFunc: func(context.Context, string) (string, error) {
		return "", llm.Wrap("ollama", "complete", errors.New("connection refused"))
	}}
	rec := post(t, newTestServer(client, Config{}), "/v1/plans", `{"goal":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// =============================================================================
// RUNS
// =============================================================================

func TestRuns_StreamsEventsThenResult(t *testing.T) {
	h := newTestServer(fakeBackend(helloPlan), Config{})
	rec := post(t, h, "/v1/runs", `{"goal":"Write a hello-world function"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	lines := readStream(t, rec.Body.String())
	require.GreaterOrEqual(t, len(lines), 3)

	var first progress.EventData
	require.Equal(t, "status", lines[0].Type)
	require.NoError(t, json.Unmarshal(lines[0].Data, &first))
	assert.Equal(t, "Creating execution plan...", first.Description)

	var sawReplace bool
	for _, l := range lines[:len(lines)-1] {
		if l.Type == "replace" {
			sawReplace = true
		}
	}
	assert.True(t, sawReplace)

	last := lines[len(lines)-1]
	require.Equal(t, EventResult, last.Type)
	var result ResultData
	require.NoError(t, json.Unmarshal(last.Data, &result))
	assert.Empty(t, result.Error)
	require.NotNil(t, result.Plan)
	assert.Equal(t, plan.StatusCompleted, result.Plan.Actions[0].Status)
	assert.Equal(t, "func hello() {}", result.Plan.FinalOutput)
	require.NotNil(t, result.Plan.Summary)
	assert.Equal(t, 1, result.Plan.Summary.CompletedSteps)
}

func TestRuns_PrecompiledPlanSkipsCompile(t *testing.T) {
	client := fakeBackend("never used")
	h := newTestServer(client, Config{})
	rec := post(t, h, "/v1/runs", `{"plan":`+helloPlan+`}`)
	require.Equal(t, http.StatusOK, rec.Code)

	lines := readStream(t, rec.Body.String())
	var first progress.EventData
	require.NoError(t, json.Unmarshal(lines[0].Data, &first))
	assert.Equal(t, "Executing plan...", first.Description)

	for _, prompt := range client.CompleteCalls() {
		assert.NotContains(t, prompt, "Given the goal:")
	}
	assert.Equal(t, EventResult, lines[len(lines)-1].Type)
}

// gatedWriter holds every write until gate closes, like a client that
// stops reading. A write that gives up waiting records the stall.
type gatedWriter struct {
	*httptest.ResponseRecorder
	gate    <-chan struct{}
	stalled atomic.Bool
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	select {
	case <-g.gate:
	case <-time.After(2 * time.Second):
		g.stalled.Store(true)
	}
	return g.ResponseRecorder.Write(p)
}

func TestRuns_SlowClientDoesNotBlockGeneration(t *testing.T) {
	gate := make(chan struct{})
	var evaluations atomic.Int32
	client := fakeBackend("never used")
	client.CompleteFunc = func(ctx context.Context, prompt string) (string, error) {
		// The action check and then the final result check end the run.
		if evaluations.Add(1) == 2 {
			close(gate)
		}
		return "yes", nil
	}
	h := newTestServer(client, Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(`{"plan":`+helloPlan+`}`))
	req.Header.Set("Content-Type", "application/json")
	w := &gatedWriter{ResponseRecorder: httptest.NewRecorder(), gate: gate}
	h.ServeHTTP(w, req)

	assert.False(t, w.stalled.Load(), "pipeline waited on the client")
	lines := readStream(t, w.Body.String())
	require.NotEmpty(t, lines)
	assert.Equal(t, EventResult, lines[len(lines)-1].Type)
}

func TestRuns_CompileFailureEndsWithError(t *testing.T) {
	h := newTestServer(fakeBackend("{}"), Config{})
	rec := post(t, h, "/v1/runs", `{"goal":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	lines := readStream(t, rec.Body.String())
	last := lines[len(lines)-1]
	require.Equal(t, EventResult, last.Type)
	var result ResultData
	require.NoError(t, json.Unmarshal(last.Data, &result))
	assert.Nil(t, result.Plan)
	assert.Contains(t, result.Error, "failed to compile plan")
}

func TestRuns_RejectsBadPlans(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"dangling dependency", `{"plan":` + danglingPlan + `}`},
		{"schema violation", `{"plan":{"goal":"g"}}`},
		{"neither goal nor plan", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := fakeBackend(helloPlan)
			rec := post(t, newTestServer(client, Config{}), "/v1/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, client.StreamCalls())
		})
	}
}

// =============================================================================
// TITLE
// =============================================================================

func TestTitle(t *testing.T) {
	h := newTestServer(fakeBackend(helloPlan), Config{})
	rec := post(t, h, "/v1/title", `{"goal":"say hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TitleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Planner: Hello World", resp.Title)
}

func TestTitle_BackendError(t *testing.T) {
	client := &llmtest.Client{CompleteFunc: func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	}}
	rec := post(t, newTestServer(client, Config{}), "/v1/title", `{"goal":"say hello"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestAuth(t *testing.T) {
	h := newTestServer(fakeBackend(helloPlan), Config{Token: "s3cret"})

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic s3cret"}, http.StatusUnauthorized},
		{"wrong token", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"valid", []string{"Authorization", "Bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, "/v1/title", `{"goal":"x"}`, tt.header...)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("abc", "abc"))
	assert.False(t, ValidateBearerToken("abc", "abd"))
	assert.False(t, ValidateBearerToken("", ""))
	assert.False(t, ValidateBearerToken("abc", ""))
}

func TestRateLimitMiddleware(t *testing.T) {
	h := newTestServer(&llmtest.Client{}, Config{RateLimit: 1})

	// Burst is two requests for a one-per-second limit.
	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimiter_Refills(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(2, 1)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("10.0.0.1")
	assert.True(t, ok)

	ok, wait := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	// Other clients have their own bucket.
	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok)

	now = now.Add(500 * time.Millisecond)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(2 * idleLimiterTTL)
	rl.Allow("10.0.0.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "10.0.0.1")
	assert.Contains(t, rl.clients, "10.0.0.2")
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.7:5000", "", "", "203.0.113.7"},
		{"untrusted forwarder ignored", "203.0.113.7:5000", "198.51.100.1", "", "203.0.113.7"},
		{"trusted proxy xff", "127.0.0.1:5000", "198.51.100.1, 10.0.0.1", "", "198.51.100.1"},
		{"trusted proxy real ip", "10.1.2.3:5000", "", "198.51.100.2", "198.51.100.2"},
		{"trusted proxy bad header", "127.0.0.1:5000", "not-an-ip", "", "127.0.0.1"},
		{"ipv6", "[2001:db8::1]:443", "", "", "2001:db8::1"},
		{"no port", "203.0.113.9", "", "", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestLoggingMiddleware_KeepsFlusher(t *testing.T) {
	var buf strings.Builder
	var flushable bool
	h := LoggingMiddleware(log.New(&buf, "", 0))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/runs", nil))

	assert.True(t, flushable)
	assert.Contains(t, buf.String(), "POST /v1/runs | 418 |")
}

func TestSecurityHeaders(t *testing.T) {
	rec := get(t, newTestServer(&llmtest.Client{}, Config{}), "/health")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
