package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// CheckStatus is the health verdict of one dependency.
type CheckStatus string

const (
	StatusHealthy   CheckStatus = "healthy"
	StatusDegraded  CheckStatus = "degraded"
	StatusUnhealthy CheckStatus = "unhealthy"
)

// CheckFunc probes one dependency. Returning an error marks it unhealthy;
// a degraded-but-working dependency returns StatusDegraded with nil error.
type CheckFunc func(ctx context.Context) (CheckStatus, string)

// CheckResult is one executed probe.
type CheckResult struct {
	Name      string      `json:"name"`
	Status    CheckStatus `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	Critical  bool        `json:"critical"`
	LatencyMs int64       `json:"latencyMs"`
	CheckedAt time.Time   `json:"checkedAt"`
}

// HealthReport is the aggregate of one health pass.
type HealthReport struct {
	Status    CheckStatus   `json:"status"`
	Ready     bool          `json:"ready"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checkedAt"`
}

type registeredCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// HealthRegistry runs registered dependency checks in parallel. Readiness
// requires every critical check to be healthy or degraded.
type HealthRegistry struct {
	mu      sync.RWMutex
	checks  []registeredCheck
	timeout time.Duration
	now     func() time.Time
}

// NewHealthRegistry builds an empty registry with a 3s per-check timeout.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{timeout: 3 * time.Second, now: time.Now}
}

// Register adds a named check. Critical checks gate readiness.
func (h *HealthRegistry) Register(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{name: name, critical: critical, fn: fn})
}

// Run executes all checks concurrently. A panicking check is trapped and
// reported unhealthy instead of taking the process down.
func (h *HealthRegistry) Run(ctx context.Context) HealthReport {
	h.mu.RLock()
	checks := make([]registeredCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c registeredCheck) {
			defer wg.Done()
			results[i] = h.runOne(ctx, c)
		}(i, c)
	}
	wg.Wait()

	report := HealthReport{Status: StatusHealthy, Ready: true, Checks: results, CheckedAt: h.now()}
	for _, r := range results {
		if r.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
			if r.Critical {
				report.Ready = false
			}
		} else if r.Status == StatusDegraded && report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}
	return report
}

func (h *HealthRegistry) runOne(ctx context.Context, c registeredCheck) (res CheckResult) {
	start := h.now()
	res = CheckResult{Name: c.name, Critical: c.critical, CheckedAt: start}

	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusUnhealthy
			res.Detail = fmt.Sprintf("check panicked: %v", r)
		}
		res.LatencyMs = h.now().Sub(start).Milliseconds()
	}()

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status, detail := c.fn(cctx)
	res.Status = status
	res.Detail = detail
	if cctx.Err() != nil && status == StatusHealthy {
		res.Status = StatusUnhealthy
		res.Detail = "check timed out"
	}
	return res
}

// ============================================================================
// HTTP HANDLERS
// ============================================================================

// LivenessHandler always reports the process alive.
func (h *HealthRegistry) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// HealthHandler reports the full check set with 200 regardless of status.
func (h *HealthRegistry) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Run(r.Context()))
	}
}

// ReadinessHandler returns 503 while any critical dependency is unhealthy.
func (h *HealthRegistry) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.Run(r.Context())
		status := http.StatusOK
		if !report.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
