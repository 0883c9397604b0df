package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/novaos/backend/internal/audit"
	"github.com/novaos/backend/internal/authz"
	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/lens"
	"github.com/novaos/backend/internal/llm"
	"github.com/novaos/backend/internal/middleware"
)

const maxTurnBodyBytes = 64 * 1024

type turnBody struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := middleware.PrincipalFrom(ctx)
	corr := middleware.CorrelationFrom(ctx)

	if s.denied(w, r, s.checker.RequireAction(ctx, p, "lens.turn")) {
		return
	}

	var body turnBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBodyBytes)).Decode(&body); err != nil {
		s.writeErr(w, r, core.NewAPIError(core.CodeValidation, "invalid request body"))
		return
	}
	if body.Message == "" {
		s.writeErr(w, r, core.NewAPIError(core.CodeValidation, "message is required"))
		return
	}

	corr.ConversationID = body.ConversationID
	resp, err := s.gate.HandleTurn(ctx, lens.TurnRequest{
		Correlation:    corr,
		Principal:      p,
		Message:        body.Message,
		ConversationID: body.ConversationID,
	})
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrSanitizationBlocked):
			s.writeErr(w, r, core.NewAPIError(core.CodeSanitizationBlock,
				"message rejected by input screening"))
		case errors.Is(err, llm.ErrTokenLimitExceeded):
			s.writeErr(w, r, core.NewAPIError(core.CodeTokenLimitExceeded,
				"message exceeds the input token budget"))
		case errors.Is(err, llm.ErrTimeout):
			s.writeErr(w, r, core.NewAPIError(core.CodeTimeout, "turn timed out"))
		case errors.Is(err, llm.ErrUnavailable):
			s.writeErr(w, r, core.NewAPIError(core.CodeBackendError, "language model unavailable"))
		default:
			s.logger.Printf("⚠️ turn failed: request=%s err=%v", corr.RequestID, err)
			s.writeErr(w, r, core.NewAPIError(core.CodeInternal, "turn processing failed"))
		}
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := middleware.PrincipalFrom(ctx)

	if s.denied(w, r, s.checker.RequireAction(ctx, p, "audit.read")) {
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOptions{
		UserID:     q.Get("userId"),
		Category:   q.Get("category"),
		Action:     q.Get("action"),
		Severity:   q.Get("severity"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		SearchText: q.Get("search"),
		SortOrder:  q.Get("sort"),
	}
	opts.FromTs, _ = strconv.ParseInt(q.Get("from"), 10, 64)
	opts.ToTs, _ = strconv.ParseInt(q.Get("to"), 10, 64)
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))
	opts.SuccessOnly = q.Get("successOnly") == "true"
	opts.FailedOnly = q.Get("failedOnly") == "true"

	// Non-admins only ever see their own trail.
	if !p.HasPermission(core.PermAdminAll) {
		opts.UserID = p.ID
	}

	entries, total, err := s.auditLog.Query(ctx, opts)
	if err != nil {
		s.writeErr(w, r, core.NewAPIError(core.CodeBackendError, "audit query failed"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := middleware.PrincipalFrom(ctx)

	if s.denied(w, r, s.checker.RequireAction(ctx, p, "audit.verify")) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	res, err := s.auditLog.VerifyIntegrity(ctx, audit.VerifyOptions{
		FromID: r.URL.Query().Get("fromId"),
		Limit:  limit,
	})
	if err != nil {
		s.writeErr(w, r, core.NewAPIError(core.CodeBackendError, "integrity walk failed"))
		return
	}
	if !res.Valid {
		s.logger.Printf("🛡️ audit chain broken at %s: %s", res.BrokenAtID, res.Error)
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAuditErase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := middleware.PrincipalFrom(ctx)

	if s.denied(w, r, s.checker.RequireAction(ctx, p, "audit.erase")) {
		return
	}

	userID := mux.Vars(r)["user_id"]
	deleted, err := s.auditLog.EraseUser(ctx, userID)
	if err != nil {
		s.writeErr(w, r, core.NewAPIError(core.CodeBackendError, "erasure failed"))
		return
	}
	s.logger.Printf("erased %d audit entries for user %s", deleted, userID)
	s.writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "deleted": deleted})
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := middleware.PrincipalFrom(ctx)

	if s.denied(w, r, s.checker.RequireAction(ctx, p, "limits.read")) {
		return
	}

	cfg := s.tierLimiter.ConfigFor(p.Tier)
	blocked, until := s.tierLimiter.IsBlocked(p.ID)
	resp := map[string]any{
		"tier":          p.Tier,
		"limit":         cfg.Limit,
		"windowSeconds": int(cfg.Window / time.Second),
		"blocked":       blocked,
	}
	if blocked {
		resp["blockedUntil"] = until
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "novaos-lens-gate",
		"version": s.version,
		"env":     s.env,
		"time":    time.Now().UTC(),
	})
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

// denied writes the denial envelope and reports whether the request was
// rejected.
func (s *Server) denied(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return false
	}
	var d *authz.Denial
	if errors.As(err, &d) {
		s.writeErr(w, r, d.APIError())
		return true
	}
	s.writeErr(w, r, core.NewAPIError(core.CodeInternal, "authorization check failed"))
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, apiErr *core.APIError) {
	apiErr.RequestID = middleware.CorrelationFrom(r.Context()).RequestID
	s.writeJSON(w, apiErr.HTTPStatus(), apiErr)
}
