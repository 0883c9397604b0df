package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/ratelimit"
)

var testSecret = []byte("test-jwt-secret")

func echoPrincipal(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFrom(r.Context())
		_ = json.NewEncoder(w).Encode(p)
	})
}

func TestAuthenticator_BearerToken(t *testing.T) {
	auth := NewAuthenticator(testSecret, nil)
	token, err := auth.IssueToken(&core.Principal{
		ID:    "u1",
		Roles: []core.Role{core.RoleUser},
		Tier:  core.TierPro,
	}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	auth.Middleware(echoPrincipal(t)).ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var p core.Principal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, core.TierPro, p.Tier)
	assert.Equal(t, []core.Role{core.RoleUser}, p.Roles)
}

func TestAuthenticator_APIKey(t *testing.T) {
	auth := NewAuthenticator(testSecret, nil)
	key, err := auth.IssueAPIKey(&core.Principal{ID: "svc1", Tier: core.TierEnterprise}, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, key, "nova_")

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()
	auth.Middleware(echoPrincipal(t)).ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var p core.Principal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "svc1", p.ID)
}

func TestAuthenticator_MissingCredentialsIsAnonymous(t *testing.T) {
	auth := NewAuthenticator(testSecret, nil)

	rec := httptest.NewRecorder()
	auth.Middleware(echoPrincipal(t)).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	require.Equal(t, 200, rec.Code)
	var p core.Principal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Empty(t, p.ID)
	assert.Equal(t, []core.Role{core.RoleAnonymous}, p.Roles)
}

func TestAuthenticator_InvalidTokenRejected(t *testing.T) {
	auth := NewAuthenticator(testSecret, nil)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec := httptest.NewRecorder()
	auth.Middleware(echoPrincipal(t)).ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code)
	var apiErr core.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, core.CodeAuthInvalid, apiErr.Code)
}

func TestAuthenticator_ExpiredTokenRejected(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := NewAuthenticator(testSecret, func() time.Time { return issued })
	token, err := issuer.IssueToken(&core.Principal{ID: "u1"}, time.Hour)
	require.NoError(t, err)

	// Verification happens two hours later.
	verifier := NewAuthenticator(testSecret, func() time.Time { return issued.Add(2 * time.Hour) })
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	verifier.Middleware(echoPrincipal(t)).ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code)
}

func TestAuthenticator_WrongSecretRejected(t *testing.T) {
	other := NewAuthenticator([]byte("other-secret"), nil)
	token, err := other.IssueToken(&core.Principal{ID: "u1"}, time.Hour)
	require.NoError(t, err)

	auth := NewAuthenticator(testSecret, nil)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	auth.Middleware(echoPrincipal(t)).ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code)
}

func TestCorrelation_InjectsAndEchoes(t *testing.T) {
	var got core.CorrelationContext
	h := Correlation("test", "dev")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CorrelationFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.NotEmpty(t, got.RequestID)
	assert.Equal(t, got.RequestID, rec.Header().Get("X-Request-ID"))

	// Caller-supplied request ids survive.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "upstream-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-123", got.RequestID)
}

func TestTierLimit_HeadersAndDenial(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewTierLimiter(map[core.Tier]ratelimit.Config{
		core.TierFree: {Limit: 2, Window: time.Minute},
	}, func() time.Time { return now })
	defer limiter.Stop()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	h := TierLimit(limiter)(ok)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send()
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	rec = send()
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = send()
	assert.Equal(t, 429, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var apiErr core.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, core.CodeRateLimited, apiErr.Code)
	assert.EqualValues(t, 2, apiErr.Details["limit"])
	assert.EqualValues(t, 60, apiErr.Details["window"])
	assert.NotNil(t, apiErr.Details["retryAfter"])
}

func TestTierLimit_SeparatesUsersByPrincipal(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewTierLimiter(map[core.Tier]ratelimit.Config{
		core.TierPro: {Limit: 1, Window: time.Minute},
	}, func() time.Time { return now })
	defer limiter.Stop()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	h := TierLimit(limiter)(ok)

	send := func(userID string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(WithPrincipal(req.Context(),
			&core.Principal{ID: userID, Tier: core.TierPro}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, 200, send("alice"))
	assert.Equal(t, 429, send("alice"))
	assert.Equal(t, 200, send("bob"), "budgets are per user")
}
