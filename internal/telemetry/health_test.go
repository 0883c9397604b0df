package telemetry

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyCheck(_ context.Context) (CheckStatus, string)  { return StatusHealthy, "" }
func degradedCheck(_ context.Context) (CheckStatus, string) { return StatusDegraded, "slow" }
func unhealthyCheck(_ context.Context) (CheckStatus, string) {
	return StatusUnhealthy, "connection refused"
}

func TestHealthRegistry_AllHealthy(t *testing.T) {
	h := NewHealthRegistry()
	h.Register("redis", true, healthyCheck)
	h.Register("finnhub", false, healthyCheck)

	report := h.Run(context.Background())

	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.Ready)
	assert.Len(t, report.Checks, 2)
}

func TestHealthRegistry_DegradedCriticalStaysReady(t *testing.T) {
	h := NewHealthRegistry()
	h.Register("redis", true, degradedCheck)

	report := h.Run(context.Background())

	assert.Equal(t, StatusDegraded, report.Status)
	assert.True(t, report.Ready, "degraded critical deps do not fail readiness")
}

func TestHealthRegistry_UnhealthyNonCriticalStaysReady(t *testing.T) {
	h := NewHealthRegistry()
	h.Register("redis", true, healthyCheck)
	h.Register("openweather", false, unhealthyCheck)

	report := h.Run(context.Background())

	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.True(t, report.Ready, "optional providers never gate readiness")
}

func TestHealthRegistry_UnhealthyCriticalFailsReadiness(t *testing.T) {
	h := NewHealthRegistry()
	h.Register("redis", true, unhealthyCheck)

	report := h.Run(context.Background())

	assert.False(t, report.Ready)
}

func TestHealthRegistry_PanickingCheckIsTrapped(t *testing.T) {
	h := NewHealthRegistry()
	h.Register("flaky", false, func(_ context.Context) (CheckStatus, string) {
		panic("boom")
	})
	h.Register("redis", true, healthyCheck)

	report := h.Run(context.Background())

	require.Len(t, report.Checks, 2)
	assert.True(t, report.Ready)
	for _, c := range report.Checks {
		if c.Name == "flaky" {
			assert.Equal(t, StatusUnhealthy, c.Status)
			assert.Contains(t, c.Detail, "panicked")
		}
	}
}

func TestHealthRegistry_ChecksRunInParallel(t *testing.T) {
	h := NewHealthRegistry()
	slow := func(_ context.Context) (CheckStatus, string) {
		time.Sleep(50 * time.Millisecond)
		return StatusHealthy, ""
	}
	for i := 0; i < 4; i++ {
		h.Register("slow", false, slow)
	}

	start := time.Now()
	h.Run(context.Background())
	assert.Less(t, time.Since(start), 150*time.Millisecond, "4x50ms sequential would exceed this")
}

func TestHealthHandlers(t *testing.T) {
	h := NewHealthRegistry()
	h.Register("redis", true, unhealthyCheck)

	t.Run("liveness is always 200", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.LivenessHandler()(rec, httptest.NewRequest("GET", "/health/live", nil))
		assert.Equal(t, 200, rec.Code)
	})

	t.Run("health reports status with 200", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HealthHandler()(rec, httptest.NewRequest("GET", "/health", nil))
		assert.Equal(t, 200, rec.Code)

		var report HealthReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, StatusUnhealthy, report.Status)
	})

	t.Run("readiness is 503 when a critical dep is down", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ReadinessHandler()(rec, httptest.NewRequest("GET", "/health/ready", nil))
		assert.Equal(t, 503, rec.Code)
	})
}
