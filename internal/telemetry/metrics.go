// Package telemetry carries the operational surface of the lens gate:
// Prometheus metrics, structured operational events, and health checks.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lens gate
type Metrics struct {
	// Turn metrics
	TurnsTotal   *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec

	// Classification metrics
	Classifications *prometheus.CounterVec

	// Provider metrics
	ProviderFetches  *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	CacheHits        *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec

	// Evidence metrics
	PackTokens *prometheus.HistogramVec

	// Guard metrics
	LeakVerdicts  *prometheus.CounterVec
	Regenerations prometheus.Counter

	// LLM metrics
	LLMCalls      *prometheus.CounterVec
	LLMTokensUsed *prometheus.CounterVec

	// Rate limit metrics
	RateLimitDenials *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_turns_total",
				Help: "Total turns handled by the lens gate",
			},
			[]string{"outcome"}, // success, partial_success, degraded, passthrough, blocked, error
		),

		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lens_turn_duration_seconds",
				Help:    "End-to-end turn handling duration",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"truth_mode"},
		),

		Classifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_classifications_total",
				Help: "Turn classification outcomes",
			},
			[]string{"truth_mode", "method"}, // method: rule_based, llm, hybrid
		),

		ProviderFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_provider_fetches_total",
				Help: "Provider fetch attempts by result",
			},
			[]string{"provider", "result"}, // result: ok, or a provider error code
		),

		ProviderDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lens_provider_fetch_duration_seconds",
				Help:    "Upstream provider call duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_fetch_cache_total",
				Help: "Fetch cache lookups by outcome",
			},
			[]string{"category", "outcome"}, // outcome: hit, miss, bypass
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lens_breaker_state",
				Help: "Circuit breaker state per provider (0 closed, 1 half_open, 2 open)",
			},
			[]string{"provider"},
		),

		PackTokens: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lens_evidence_pack_tokens",
				Help:    "Numeric tokens per sealed evidence pack",
				Buckets: []float64{0, 1, 3, 5, 10, 20, 35, 50},
			},
			[]string{"category"},
		),

		LeakVerdicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_leak_verdicts_total",
				Help: "Numeric leak guard verdicts",
			},
			[]string{"verdict"}, // pass, violation, exempted, skipped
		),

		Regenerations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lens_leak_regenerations_total",
				Help: "Strict-mode regenerations triggered by leak violations",
			},
		),

		LLMCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_llm_calls_total",
				Help: "LLM completions by purpose and result",
			},
			[]string{"purpose", "result"}, // result: ok, blocked, timeout, unavailable, error
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_llm_tokens_used_total",
				Help: "Tokens consumed by LLM completions",
			},
			[]string{"purpose"},
		),

		RateLimitDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_rate_limit_denials_total",
				Help: "Requests denied by rate limiting",
			},
			[]string{"scope"}, // provider, user, tier
		),
	}
}

// RecordTurn records one completed turn
func (m *Metrics) RecordTurn(outcome, truthMode string, durationSec float64) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(truthMode).Observe(durationSec)
}

// RecordClassification records a classifier verdict
func (m *Metrics) RecordClassification(truthMode, method string) {
	m.Classifications.WithLabelValues(truthMode, method).Inc()
}

// RecordFetch records a provider fetch result
func (m *Metrics) RecordFetch(provider, result string, durationSec float64) {
	m.ProviderFetches.WithLabelValues(provider, result).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(durationSec)
}

// RecordBreakerState mirrors a breaker state into the gauge
func (m *Metrics) RecordBreakerState(provider, state string) {
	v := 0.0
	switch state {
	case "half_open":
		v = 1.0
	case "open":
		v = 2.0
	}
	m.BreakerState.WithLabelValues(provider).Set(v)
}

// RecordLeakVerdict records a guard verdict
func (m *Metrics) RecordLeakVerdict(verdict string) {
	m.LeakVerdicts.WithLabelValues(verdict).Inc()
}

// RecordLLMCall records one completion attempt
func (m *Metrics) RecordLLMCall(purpose, result string, tokensUsed int) {
	m.LLMCalls.WithLabelValues(purpose, result).Inc()
	if tokensUsed > 0 {
		m.LLMTokensUsed.WithLabelValues(purpose).Add(float64(tokensUsed))
	}
}
