// Package core holds the domain records shared across the Lens Gate:
// correlation context, principals, provider results, and the closed
// enumerations every component agrees on.
package core

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// CORRELATION
// ============================================================================

// CorrelationContext identifies one request across every component.
// Created once at admission, immutable afterwards.
type CorrelationContext struct {
	RequestID      string    `json:"request_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserIDHash     string    `json:"user_id_hash,omitempty"`
	TraceID        string    `json:"trace_id"`
	SpanID         string    `json:"span_id"`
	ParentSpanID   string    `json:"parent_span_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Environment    string    `json:"environment"`
	ServiceVersion string    `json:"service_version"`
}

// NewCorrelation creates a fresh correlation context for a request.
func NewCorrelation(env, version string) CorrelationContext {
	return CorrelationContext{
		RequestID:      uuid.NewString(),
		TraceID:        uuid.NewString(),
		SpanID:         uuid.NewString()[:8],
		Timestamp:      time.Now().UTC(),
		Environment:    env,
		ServiceVersion: version,
	}
}

// Child derives a new span under the same trace.
func (c CorrelationContext) Child() CorrelationContext {
	child := c
	child.ParentSpanID = c.SpanID
	child.SpanID = uuid.NewString()[:8]
	return child
}

// ============================================================================
// PRINCIPALS
// ============================================================================

// Role is a coarse access level attached to a principal.
type Role string

const (
	RoleAnonymous Role = "anonymous"
	RoleUser      Role = "user"
	RolePremium   Role = "premium"
	RoleAdmin     Role = "admin"
)

// Permission is a fine-grained capability string, e.g. "audit:read".
type Permission string

const (
	PermAuditRead   Permission = "audit:read"
	PermAuditVerify Permission = "audit:verify"
	PermAuditErase  Permission = "audit:erase"
	PermLensInvoke  Permission = "lens:invoke"
	PermLimitsRead  Permission = "limits:read"
	PermAdminAll    Permission = "admin:*"
)

// Tier determines global rate-limit budgets.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Principal is the authenticated identity a request runs as.
// Mutable only via re-authentication; treat as read-only downstream.
type Principal struct {
	ID          string       `json:"id"`
	Roles       []Role       `json:"roles"`
	Permissions []Permission `json:"permissions"`
	Tier        Tier         `json:"tier"`
}

// Anonymous returns the unauthenticated principal.
func Anonymous() *Principal {
	return &Principal{ID: "", Roles: []Role{RoleAnonymous}, Tier: TierFree}
}

// IsAuthenticated reports whether the principal carries a real identity.
func (p *Principal) IsAuthenticated() bool {
	return p != nil && p.ID != ""
}

// HasRole reports whether the principal holds the given role.
func (p *Principal) HasRole(r Role) bool {
	if p == nil {
		return false
	}
	for _, have := range p.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// HasPermission reports whether the principal holds the permission.
// Admins implicitly hold admin:* which grants everything.
func (p *Principal) HasPermission(perm Permission) bool {
	if p == nil {
		return false
	}
	for _, have := range p.Permissions {
		if have == perm || have == PermAdminAll {
			return true
		}
	}
	return false
}

// ============================================================================
// DATA CATEGORIES & TRUTH MODES
// ============================================================================

// Category identifies the real-world data domain a fetch belongs to.
type Category string

const (
	CategoryMarket   Category = "market"
	CategoryCrypto   Category = "crypto"
	CategoryFX       Category = "fx"
	CategoryWeather  Category = "weather"
	CategoryLocation Category = "location"
	CategoryNews     Category = "news"
	CategoryNone     Category = "none"
)

// TruthMode states how an answer must be grounded.
type TruthMode string

const (
	TruthLocal    TruthMode = "local"    // purely conversational
	TruthHybrid   TruthMode = "hybrid"   // mixed
	TruthExternal TruthMode = "external" // must be grounded in live data
)

// LensOutcome summarizes how a turn ended.
type LensOutcome string

const (
	OutcomeSuccess        LensOutcome = "success"
	OutcomePartialSuccess LensOutcome = "partial_success"
	OutcomeDegraded       LensOutcome = "degraded"
	OutcomeBlocked        LensOutcome = "blocked"
	OutcomePassthrough    LensOutcome = "passthrough"
	OutcomeError          LensOutcome = "error"
)

// ============================================================================
// PROVIDER RESULTS
// ============================================================================

// ProviderErrorCode is the stable taxonomy every provider error collapses to.
type ProviderErrorCode string

const (
	ErrRateLimited    ProviderErrorCode = "RATE_LIMITED"
	ErrUnauthorized   ProviderErrorCode = "UNAUTHORIZED"
	ErrInvalidSymbol  ProviderErrorCode = "INVALID_SYMBOL"
	ErrSymbolNotFound ProviderErrorCode = "SYMBOL_NOT_FOUND"
	ErrHTTP4xx        ProviderErrorCode = "HTTP_4xx"
	ErrHTTP5xx        ProviderErrorCode = "HTTP_5xx"
	ErrTimeout        ProviderErrorCode = "TIMEOUT"
	ErrFetch          ProviderErrorCode = "FETCH_ERROR"
)

// ProviderFailure is the Fail arm of a provider result.
type ProviderFailure struct {
	Code          ProviderErrorCode `json:"code"`
	Message       string            `json:"message"`
	Retryable     bool              `json:"retryable"`
	RetryAfterSec int               `json:"retry_after_sec,omitempty"`
}

func (f *ProviderFailure) Error() string {
	return string(f.Code) + ": " + f.Message
}

// ProviderResult is a tagged union: exactly one of Data or Failure is set.
type ProviderResult struct {
	Data      any              `json:"data,omitempty"`
	LatencyMs int64            `json:"latency_ms"`
	Failure   *ProviderFailure `json:"failure,omitempty"`
}

// Ok reports whether the result carries data.
func (r ProviderResult) Ok() bool { return r.Failure == nil }

// OkResult builds a successful provider result.
func OkResult(data any, latency time.Duration) ProviderResult {
	return ProviderResult{Data: data, LatencyMs: latency.Milliseconds()}
}

// FailResult builds a failed provider result.
func FailResult(f *ProviderFailure, latency time.Duration) ProviderResult {
	return ProviderResult{Failure: f, LatencyMs: latency.Milliseconds()}
}

// FetchRecord wraps a provider result with cache provenance.
type FetchRecord struct {
	Result       ProviderResult `json:"result"`
	FromCache    bool           `json:"from_cache"`
	ProviderName string         `json:"provider_name"`
	FetchedAt    time.Time      `json:"fetched_at"`
	CacheKey     string         `json:"cache_key"`
	Category     Category       `json:"category"`
	Query        string         `json:"query"`
}

// ============================================================================
// TYPED PROVIDER DATA
// ============================================================================

// StockData is a market quote as normalized from a market provider.
type StockData struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PrevClose     float64 `json:"prev_close"`
	Currency      string  `json:"currency"`
}

// FxData is a currency-pair rate.
type FxData struct {
	Base  string  `json:"base"`
	Quote string  `json:"quote"`
	Rate  float64 `json:"rate"`
}

// CryptoData is a crypto spot quote.
type CryptoData struct {
	Symbol        string  `json:"symbol"`
	PriceUSD      float64 `json:"price_usd"`
	ChangePercent float64 `json:"change_percent"`
}

// WeatherData is a current-conditions reading for a location.
type WeatherData struct {
	Location    string  `json:"location"`
	TempC       float64 `json:"temp_c"`
	FeelsLikeC  float64 `json:"feels_like_c"`
	HumidityPct float64 `json:"humidity_pct"`
	Conditions  string  `json:"conditions"`
	WindKph     float64 `json:"wind_kph"`
}
