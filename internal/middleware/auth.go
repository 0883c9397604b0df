package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/novaos/backend/internal/core"
)

// API keys are JWTs behind a stable prefix so they can be recognized and
// revoked independently of browser sessions.
const apiKeyPrefix = "nova_"

// Claims is the JWT payload carried by both bearer tokens and API keys.
type Claims struct {
	jwt.RegisteredClaims
	Roles       []core.Role       `json:"roles,omitempty"`
	Permissions []core.Permission `json:"permissions,omitempty"`
	Tier        core.Tier         `json:"tier,omitempty"`
}

// Authenticator verifies bearer tokens and API keys and attaches the
// resulting principal to the request context.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator builds an authenticator over an HMAC secret.
func NewAuthenticator(secret []byte, now func() time.Time) *Authenticator {
	if now == nil {
		now = time.Now
	}
	return &Authenticator{secret: secret, now: now}
}

// IssueToken mints a signed token for a principal. API keys are the same
// token behind the nova_ prefix.
func (a *Authenticator) IssueToken(p *core.Principal, expiry time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Roles:       p.Roles,
		Permissions: p.Permissions,
		Tier:        p.Tier,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// IssueAPIKey mints a long-lived prefixed key.
func (a *Authenticator) IssueAPIKey(p *core.Principal, expiry time.Duration) (string, error) {
	token, err := a.IssueToken(p, expiry)
	if err != nil {
		return "", err
	}
	return apiKeyPrefix + token, nil
}

// Middleware authenticates the request. Requests without credentials run
// as the anonymous principal; invalid credentials are rejected outright.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), core.Anonymous())))
			return
		}

		p, err := a.verify(token)
		if err != nil {
			writeAPIError(w, CorrelationFrom(r.Context()).RequestID,
				core.NewAPIError(core.CodeAuthInvalid, "invalid or expired credentials"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (a *Authenticator) verify(token string) (*core.Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	tier := claims.Tier
	if tier == "" {
		tier = core.TierFree
	}
	return &core.Principal{
		ID:          claims.Subject,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		Tier:        tier,
	}, nil
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); strings.HasPrefix(key, apiKeyPrefix) {
		return strings.TrimPrefix(key, apiKeyPrefix)
	}
	return ""
}

func writeAPIError(w http.ResponseWriter, requestID string, apiErr *core.APIError) {
	apiErr.RequestID = requestID
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(apiErr)
}
