package gatekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryrelay/queryrelay/internal/breaker"
	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
	"github.com/queryrelay/queryrelay/internal/models"
)

type fakeTrusted struct {
	status int
	body   []byte
	err    error

	posts int
}

func (f *fakeTrusted) PostJSON(_ string, _ interface{}) (int, []byte, error) {
	f.posts++
	return f.status, f.body, f.err
}

func (f *fakeTrusted) Get(_ string) (int, []byte, error) {
	return f.status, f.body, f.err
}

type fakeLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (f *fakeLimiter) Allow(_ context.Context, _ string) (bool, error) {
	f.calls++
	return f.allowed, f.err
}

func (f *fakeLimiter) Close() error { return nil }

func newTestApp(trusted forwarder, limiter *fakeLimiter) *fiber.App {
	cfg := config.GatekeeperConfig{MaxBodySize: 1 << 20}
	logger := logging.NewDevelopment()
	brk := breaker.New(config.BreakerConfig{Threshold: 3, Cooldown: time.Minute}, logger)
	return newApp(cfg, logger, trusted, limiter, brk)
}

func postQuery(t *testing.T, app *fiber.App, body string) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest("POST", "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func TestQuerySanitizesSuccessResponse(t *testing.T) {
	internal := models.QueryResult{
		Status: "success",
		Rows:   []map[string]interface{}{{"id": float64(7)}},
		Count:  1,
		Decision: &models.RoutingDecision{
			NodeID:   "worker-1",
			NodeAddr: "10.0.0.5:3316",
		},
	}
	raw, err := json.Marshal(internal)
	require.NoError(t, err)

	trusted := &fakeTrusted{status: fiber.StatusOK, body: raw}
	app := newTestApp(trusted, &fakeLimiter{allowed: true})

	status, body := postQuery(t, app, `{"query":"SELECT id FROM users"}`)
	assert.Equal(t, fiber.StatusOK, status)

	var result models.ClientResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 1, result.Count)

	// Routing detail and node addresses never reach clients
	assert.NotContains(t, string(body), "worker-1")
	assert.NotContains(t, string(body), "10.0.0.5")
}

func TestQueryGenericizesUpstreamErrors(t *testing.T) {
	upstreamBody := `{"error":{"code":"BAD_QUERY","message":"Error 1146: Table 'db.missing' doesn't exist"}}`
	trusted := &fakeTrusted{status: fiber.StatusBadRequest, body: []byte(upstreamBody)}
	app := newTestApp(trusted, &fakeLimiter{allowed: true})

	status, body := postQuery(t, app, `{"query":"SELECT * FROM missing"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, models.CodeBadQuery, resp.Error.Code)

	// The backend error text stays inside
	assert.NotContains(t, string(body), "1146")
	assert.NotContains(t, string(body), "db.missing")
}

func TestQueryTranslatesPoolExhaustionForClients(t *testing.T) {
	upstreamBody := `{"error":{"code":"POOL_EXHAUSTED","message":"Connection pool exhausted, retry later"}}`
	trusted := &fakeTrusted{status: fiber.StatusServiceUnavailable, body: []byte(upstreamBody)}
	app := newTestApp(trusted, &fakeLimiter{allowed: true})

	status, body := postQuery(t, app, `{"query":"SELECT 1"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, models.CodeUpstreamUnavailable, resp.Error.Code)

	// Pool state is internal; the client must not learn about it
	assert.NotContains(t, string(body), models.CodePoolExhausted)
}

func TestQueryOversizedBodyNotForwarded(t *testing.T) {
	trusted := &fakeTrusted{status: fiber.StatusOK}
	cfg := config.GatekeeperConfig{MaxBodySize: 128}
	logger := logging.NewDevelopment()
	brk := breaker.New(config.BreakerConfig{Threshold: 3, Cooldown: time.Minute}, logger)
	app := newApp(cfg, logger, trusted, &fakeLimiter{allowed: true}, brk)

	oversized := fmt.Sprintf(`{"query":"SELECT '%s'"}`, strings.Repeat("x", 512))
	req := httptest.NewRequest("POST", "/query", strings.NewReader(oversized))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, 0, trusted.posts)
}

func TestQueryRateLimited(t *testing.T) {
	trusted := &fakeTrusted{status: fiber.StatusOK}
	app := newTestApp(trusted, &fakeLimiter{allowed: false})

	status, body := postQuery(t, app, `{"query":"SELECT 1"}`)
	assert.Equal(t, fiber.StatusTooManyRequests, status)
	assert.Contains(t, string(body), models.CodeRateLimited)
	assert.Equal(t, 0, trusted.posts)
}

func TestQueryAdmitsWhenLimiterFails(t *testing.T) {
	trusted := &fakeTrusted{status: fiber.StatusOK, body: []byte(`{"status":"success","count":0}`)}
	app := newTestApp(trusted, &fakeLimiter{err: errors.New("redis down")})

	status, _ := postQuery(t, app, `{"query":"SELECT 1"}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 1, trusted.posts)
}

func TestQueryValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"empty query", `{"query":""}`, models.CodeBadQuery},
		{"malformed json", `{{{`, models.CodeBadQuery},
		{"bad strategy", `{"query":"SELECT 1","strategy":"psychic"}`, models.CodeConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trusted := &fakeTrusted{status: fiber.StatusOK}
			app := newTestApp(trusted, &fakeLimiter{allowed: true})

			status, body := postQuery(t, app, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Contains(t, string(body), tt.wantCode)
			assert.Equal(t, 0, trusted.posts)
		})
	}
}

func TestQueryTrustedHostUnreachable(t *testing.T) {
	trusted := &fakeTrusted{err: errors.New("connection refused")}
	app := newTestApp(trusted, &fakeLimiter{allowed: true})

	status, body := postQuery(t, app, `{"query":"SELECT 1"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), models.CodeUpstreamUnavailable)
}

func TestQueryBreakerShedsLoadWhileOpen(t *testing.T) {
	trusted := &fakeTrusted{err: errors.New("connection refused")}
	app := newTestApp(trusted, &fakeLimiter{allowed: true})

	for i := 0; i < 3; i++ {
		postQuery(t, app, `{"query":"SELECT 1"}`)
	}
	require.Equal(t, 3, trusted.posts)

	status, _ := postQuery(t, app, `{"query":"SELECT 1"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, 3, trusted.posts)
}

func TestHealth(t *testing.T) {
	app := newTestApp(&fakeTrusted{status: fiber.StatusOK}, &fakeLimiter{allowed: true})

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(raw, &health))
	assert.Equal(t, "gatekeeper", health.Service)
}
