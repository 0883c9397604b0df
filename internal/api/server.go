// Package api exposes the lens gate over REST/JSON: the turn endpoint,
// the audit surface, and operational endpoints.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/novaos/backend/internal/audit"
	"github.com/novaos/backend/internal/authz"
	"github.com/novaos/backend/internal/lens"
	"github.com/novaos/backend/internal/middleware"
	"github.com/novaos/backend/internal/ratelimit"
	"github.com/novaos/backend/internal/telemetry"
)

// turnGate is the slice of the lens gate the server needs.
type turnGate interface {
	HandleTurn(ctx context.Context, req lens.TurnRequest) (lens.TurnResponse, error)
}

// Server wires handlers, middleware, and lifecycle.
type Server struct {
	gate        turnGate
	auditLog    *audit.Log
	checker     *authz.Checker
	health      *telemetry.HealthRegistry
	auth        *middleware.Authenticator
	tierLimiter *ratelimit.TierLimiter
	env         string
	version     string
	logger      *log.Logger

	httpServer *http.Server
}

// Options collects the server dependencies.
type Options struct {
	Gate        turnGate
	AuditLog    *audit.Log
	Checker     *authz.Checker
	Health      *telemetry.HealthRegistry
	Auth        *middleware.Authenticator
	TierLimiter *ratelimit.TierLimiter
	Env         string
	Version     string
}

// NewServer builds the HTTP server without binding a port.
func NewServer(opts Options) *Server {
	return &Server{
		gate:        opts.Gate,
		auditLog:    opts.AuditLog,
		checker:     opts.Checker,
		health:      opts.Health,
		auth:        opts.Auth,
		tierLimiter: opts.TierLimiter,
		env:         opts.Env,
		version:     opts.Version,
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router assembles the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Correlation(s.env, s.version))
	r.Use(s.auth.Middleware)

	// Operational endpoints sit outside the tier budget.
	r.HandleFunc("/health", s.health.HealthHandler()).Methods("GET")
	r.HandleFunc("/health/live", s.health.LivenessHandler()).Methods("GET")
	r.HandleFunc("/health/ready", s.health.ReadinessHandler()).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(middleware.TierLimit(s.tierLimiter))

	v1.HandleFunc("/lens/turn", s.handleTurn).Methods("POST")
	v1.HandleFunc("/audit/entries", s.handleAuditEntries).Methods("GET")
	v1.HandleFunc("/audit/verify", s.handleAuditVerify).Methods("GET")
	v1.HandleFunc("/audit/users/{user_id}", s.handleAuditErase).Methods("DELETE")
	v1.HandleFunc("/limits", s.handleLimits).Methods("GET")

	return r
}

// Start binds the port and serves until Shutdown.
func (s *Server) Start(port string) error {
	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Printf("🚀 lens gate listening on :%s (env=%s)", port, s.env)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Printf("draining connections")
	return s.httpServer.Shutdown(ctx)
}
