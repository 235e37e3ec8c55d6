package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func TestHandler_Endpoints(t *testing.T) {
	cases := []struct {
		name      string
		checkers  map[string]Checker
		status    Status
		healthz   int
		readyz    int
		readyBody string
	}{
		{
			name:      "all healthy",
			checkers:  map[string]Checker{"postgres": NewSimpleChecker("postgres", pass)},
			status:    StatusHealthy,
			healthz:   http.StatusOK,
			readyz:    http.StatusOK,
			readyBody: "ready",
		},
		{
			name: "optional dependency down",
			checkers: map[string]Checker{
				"postgres": NewSimpleChecker("postgres", pass),
				"kafka":    NewOptionalChecker("kafka", failWith("no brokers")),
			},
			status:    StatusDegraded,
			healthz:   http.StatusOK,
			readyz:    http.StatusOK,
			readyBody: "ready",
		},
		{
			name: "required dependency down",
			checkers: map[string]Checker{
				"postgres": NewSimpleChecker("postgres", failWith("connection refused")),
				"kafka":    NewOptionalChecker("kafka", failWith("no brokers")),
			},
			status:    StatusUnhealthy,
			healthz:   http.StatusServiceUnavailable,
			readyz:    http.StatusServiceUnavailable,
			readyBody: "not ready",
		},
		{
			name:      "no checks",
			status:    StatusHealthy,
			healthz:   http.StatusOK,
			readyz:    http.StatusOK,
			readyBody: "ready",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler("v1.0.0")
			for name, c := range tc.checkers {
				h.RegisterChecker(name, c)
			}

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			require.Equal(t, tc.healthz, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tc.status, resp.Status)
			assert.Equal(t, "v1.0.0", resp.Version)
			assert.Len(t, resp.Checks, len(tc.checkers))

			w = httptest.NewRecorder()
			h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tc.readyz, w.Code)
			assert.Equal(t, tc.readyBody, w.Body.String())
		})
	}
}

func TestHandler_RunReportsEachCheck(t *testing.T) {
	h := NewHandler("dev")
	h.RegisterChecker("postgres", NewSimpleChecker("postgres", failWith("connection refused")))
	h.RegisterChecker("kafka", NewOptionalChecker("kafka", failWith("no brokers")))

	status, checks := h.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, status)
	assert.Equal(t, StatusDegraded, checks["kafka"].Status)
	assert.Equal(t, "connection refused", checks["postgres"].Message)
	assert.Equal(t, []string{"kafka", "postgres"}, h.Names())
}

func TestHandler_CheckTimeout(t *testing.T) {
	h := NewHandler("dev")
	h.SetTimeout(20 * time.Millisecond)
	h.SetTimeout(0)
	h.RegisterChecker("redis", NewSimpleChecker("redis", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	status, checks := h.Run(context.Background())
	require.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusUnhealthy, status)
	assert.Equal(t, context.DeadlineExceeded.Error(), checks["redis"].Message)
}

func TestHandler_Uptime(t *testing.T) {
	h := NewHandler("dev")
	h.started = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return h.started.Add(90 * time.Second) }

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(90), resp.UptimeSeconds)
	assert.True(t, resp.Timestamp.Equal(h.started.Add(90*time.Second)))
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestFuncChecker(t *testing.T) {
	slow := NewSimpleChecker("slow", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	res := slow.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "slow", res.Name)
	assert.GreaterOrEqual(t, res.Duration, 10*time.Millisecond)

	res = NewSimpleChecker("db", failWith("boom")).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "boom", res.Message)

	res = NewOptionalChecker("broker", failWith("boom")).Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
}
