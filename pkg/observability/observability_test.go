package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	halted := false
	hc := NewHealthChecker("test")
	hc.RegisterCheck(HaltCheck(func() bool { return halted }))

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "OK", resp.Checks["kill_switch"].Message)

	halted = true
	resp = hc.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, resp.Status)
	assert.Equal(t, ErrHalted.Error(), resp.Checks["kill_switch"].Message)

	hc.RegisterCheck(BackendCheck("redis", func(context.Context) error { return errors.New("connection refused") }))
	resp = hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Equal(t, HealthStatusUnhealthy, resp.Checks["checkpoint_redis"].Status)
}

func TestHealthCheckTimeout(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterCheck(&HealthCheck{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, resp.Status)
	assert.Contains(t, resp.Checks["slow"].Message, "deadline")
}

func TestServerRoutes(t *testing.T) {
	InitMetrics()
	hc := NewHealthChecker("test")
	srv := httptest.NewServer(NewServer(0, hc).Handler())
	t.Cleanup(srv.Close)

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, HealthStatusHealthy, body.Status)

	assert.Equal(t, http.StatusOK, get("/health/live").StatusCode)
	assert.Equal(t, http.StatusOK, get("/health/ready").StatusCode)
	assert.Equal(t, http.StatusOK, get("/metrics").StatusCode)

	hc.RegisterCheck(BackendCheck("file", func(context.Context) error { return errors.New("gone") }))
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready").StatusCode)
}

func TestMetricRecorders(t *testing.T) {
	InitMetrics()
	ResetAgentStatuses()

	RecordAgentStatusChange("", "spawned")
	RecordAgentStatusChange("spawned", "running")
	assert.Equal(t, 0.0, testutil.ToFloat64(agentsByStatus.WithLabelValues("spawned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(agentsByStatus.WithLabelValues("running")))

	SetHalted(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(swarmHalted))
	SetHalted(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(swarmHalted))

	before := testutil.ToFloat64(toolCallsTotal.WithLabelValues("swarm_send", "ok"))
	RecordToolCall("swarm_send", "", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(toolCallsTotal.WithLabelValues("swarm_send", "ok")))

	RecordCheckpoint("file", "success", 512, time.Millisecond)
	assert.Equal(t, 512.0, testutil.ToFloat64(checkpointBytes))
}
