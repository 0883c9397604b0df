package lens

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/entity"
	"github.com/novaos/backend/internal/evidence"
	"github.com/novaos/backend/internal/guard"
	"github.com/novaos/backend/internal/llm"
	"github.com/novaos/backend/internal/provider"
)

// ============================================================================
// CONTRACTS
// ============================================================================

// completer is the slice of the LLM client the gate uses.
type completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

// turnFetcher is the slice of the fetch core the gate uses.
type turnFetcher interface {
	FetchAll(ctx context.Context, reqs []provider.FetchRequest) ([]core.FetchRecord, error)
}

// entityValidator confirms extracted entities against providers.
type entityValidator interface {
	ValidateAll(ctx context.Context, entities []entity.Resolved) ([]entity.Resolved, []entity.Validation)
}

// Auditor receives the gate's audit events.
type Auditor interface {
	Record(ctx context.Context, e AuditEvent)
}

// AuditEvent is the gate-level audit shape; the audit log gives it a
// hash-chained home.
type AuditEvent struct {
	Category    string         `json:"category"`
	Action      string         `json:"action"`
	Severity    string         `json:"severity"`
	UserID      string         `json:"user_id,omitempty"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
	Success     bool           `json:"success"`
}

// ============================================================================
// TURN TYPES
// ============================================================================

// TurnRequest is one user turn entering the gate.
type TurnRequest struct {
	Correlation    core.CorrelationContext
	Principal      *core.Principal
	Message        string
	ConversationID string
}

// Trace summarizes everything that happened during one turn.
type Trace struct {
	Outcome            core.LensOutcome `json:"outcome"`
	EntityCount        int              `json:"entity_count"`
	ProvidersCalled    int              `json:"providers_called"`
	ProvidersSucceeded int              `json:"providers_succeeded"`
	ProvidersFailed    int              `json:"providers_failed"`
	NumericTokenCount  int              `json:"numeric_token_count"`
	UsedFallback       bool             `json:"used_fallback"`
	UsedStaleData      bool             `json:"used_stale_data"`
	LeakVerdict        string           `json:"leak_verdict,omitempty"`
	HasErrors          bool             `json:"has_errors"`
	Errors             []string         `json:"errors,omitempty"`
	TimingsMs          map[string]int64 `json:"timings_ms"`
}

// TurnResponse is the gate's answer for one turn.
type TurnResponse struct {
	Answer         string           `json:"answer"`
	Outcome        core.LensOutcome `json:"outcome"`
	Classification Classification   `json:"classification"`
	Trace          Trace            `json:"trace"`
}

// ============================================================================
// GATE
// ============================================================================

// Gate runs the full per-turn pipeline: classify, resolve, fetch, pack,
// complete, guard, audit.
type Gate struct {
	classifier *Classifier
	validator  entityValidator
	fetcher    turnFetcher
	llm        completer
	auditor    Auditor
	ttls       map[core.Category]time.Duration
	now        func() time.Time
	logger     *log.Logger
}

// GateOptions wires the gate's collaborators.
type GateOptions struct {
	Classifier *Classifier
	Validator  entityValidator
	Fetcher    turnFetcher
	LLM        completer
	Auditor    Auditor
	CacheTTLs  map[core.Category]time.Duration
	Now        func() time.Time
}

// NewGate builds the gate.
func NewGate(opts GateOptions) *Gate {
	if opts.CacheTTLs == nil {
		opts.CacheTTLs = provider.DefaultCacheTTLs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{
		classifier: opts.Classifier,
		validator:  opts.Validator,
		fetcher:    opts.Fetcher,
		llm:        opts.LLM,
		auditor:    opts.Auditor,
		ttls:       opts.CacheTTLs,
		now:        opts.Now,
		logger:     log.New(log.Writer(), "[LENS] ", log.LstdFlags),
	}
}

// HandleTurn runs one turn end to end. Errors are folded into the
// response outcome; the only hard failure is a blocked prompt.
func (g *Gate) HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	trace := Trace{TimingsMs: make(map[string]int64)}
	userID := ""
	if req.Principal != nil {
		userID = req.Principal.ID
	}

	// Classify.
	stepStart := g.now()
	classification := g.classifier.Classify(ctx, req.Message)
	trace.TimingsMs["classify"] = g.now().Sub(stepStart).Milliseconds()

	if !classification.NeedsExternalData {
		return g.passthroughTurn(ctx, req, classification, trace, userID)
	}

	// Resolve and validate entities.
	stepStart = g.now()
	resolved, _ := g.validator.ValidateAll(ctx, classification.Entities)
	trace.TimingsMs["resolve"] = g.now().Sub(stepStart).Milliseconds()
	trace.EntityCount = len(resolved)

	// Fetch live data for every resolved entity.
	stepStart = g.now()
	records := g.fetchForEntities(ctx, resolved, userID)
	trace.TimingsMs["fetch"] = g.now().Sub(stepStart).Milliseconds()

	builder := evidence.NewBuilder(req.Correlation, classification.TruthMode,
		classification.PrimaryCategory, g.ttls, g.now)
	for _, rec := range records {
		trace.ProvidersCalled++
		if rec.Result.Ok() {
			trace.ProvidersSucceeded++
			if rec.FromCache {
				trace.UsedStaleData = true
			}
		} else {
			trace.ProvidersFailed++
			trace.HasErrors = true
			trace.Errors = append(trace.Errors, string(rec.Result.Failure.Code))
		}
		builder.AddFetch(rec)
	}
	pack := builder.Seal()
	trace.NumericTokenCount = len(pack.Tokens)
	trace.UsedFallback = pack.FallbackMode

	// Complete with the evidence-grounded prompt.
	answer, leakVerdict, err := g.completeWithGuard(ctx, req, pack)
	trace.LeakVerdict = string(leakVerdict)
	if err != nil {
		return g.failedTurn(ctx, req, classification, trace, userID, err)
	}

	trace.Outcome = g.deriveOutcome(trace, pack, leakVerdict)
	g.audit(ctx, AuditEvent{
		Category: "lens", Action: "lens.turn", Severity: "info", UserID: userID,
		Description: "lens turn completed",
		Details: map[string]any{
			"outcome":     string(trace.Outcome),
			"token_count": trace.NumericTokenCount,
			"providers":   trace.ProvidersCalled,
		},
		Success: true,
	})

	return TurnResponse{
		Answer:         answer,
		Outcome:        trace.Outcome,
		Classification: classification,
		Trace:          trace,
	}, nil
}

// passthroughTurn answers conversational messages with no providers.
// The answer still runs through the numeric leak scan; with no evidence
// pack any non-exempt figure is stripped.
func (g *Gate) passthroughTurn(ctx context.Context, req TurnRequest, classification Classification, trace Trace, userID string) (TurnResponse, error) {
	stepStart := g.now()
	resp, err := g.llm.Complete(ctx, llm.Request{
		Purpose:      llm.PurposeContentSummary,
		SystemPrompt: basePrompt + "\nAnswer conversationally. Do not state any specific figures.",
		Messages:     []llm.Message{{Role: "user", Content: req.Message}},
	})
	trace.TimingsMs["llm"] = g.now().Sub(stepStart).Milliseconds()
	if err != nil {
		return g.failedTurn(ctx, req, classification, trace, userID, err)
	}

	answer := resp.Content
	report := guard.CheckNumericLeaks(answer, nil)
	if report.Verdict == guard.LeakViolation {
		g.logger.Printf("⚠️ numeric leak in passthrough answer, stripping: request=%s", req.Correlation.RequestID)
		answer = guard.StripAndQualify(answer, report)
	}

	trace.Outcome = core.OutcomePassthrough
	trace.LeakVerdict = string(report.Verdict)
	return TurnResponse{
		Answer:         answer,
		Outcome:        core.OutcomePassthrough,
		Classification: classification,
		Trace:          trace,
	}, nil
}

// failedTurn maps an LLM error to a blocked or error outcome and audits it.
func (g *Gate) failedTurn(ctx context.Context, req TurnRequest, classification Classification, trace Trace, userID string, err error) (TurnResponse, error) {
	trace.HasErrors = true
	trace.Errors = append(trace.Errors, err.Error())

	if errors.Is(err, llm.ErrSanitizationBlocked) {
		trace.Outcome = core.OutcomeBlocked
		g.audit(ctx, AuditEvent{
			Category: "security", Action: "security.blocked", Severity: "warning",
			UserID: userID, Description: "prompt blocked by sanitization", Success: false,
		})
	} else {
		trace.Outcome = core.OutcomeError
		g.audit(ctx, AuditEvent{
			Category: "lens", Action: "lens.turn", Severity: "error",
			UserID: userID, Description: "lens turn failed: " + err.Error(), Success: false,
		})
	}

	return TurnResponse{
		Outcome:        trace.Outcome,
		Classification: classification,
		Trace:          trace,
	}, err
}

// fetchForEntities turns resolved entities into deduplicated fetch
// requests and runs them in parallel.
func (g *Gate) fetchForEntities(ctx context.Context, entities []entity.Resolved, userID string) []core.FetchRecord {
	var reqs []provider.FetchRequest
	seen := make(map[string]bool)
	for _, e := range entities {
		if e.Status != entity.StatusResolved || e.Category == core.CategoryNone {
			continue
		}
		key := string(e.Category) + ":" + e.CanonicalID
		if seen[key] {
			continue
		}
		seen[key] = true
		reqs = append(reqs, provider.FetchRequest{
			Category: e.Category,
			Query:    e.CanonicalID,
			Options:  provider.FetchOptions{UserID: userID},
		})
	}
	if len(reqs) == 0 {
		return nil
	}

	records, err := g.fetcher.FetchAll(ctx, reqs)
	if err != nil {
		g.logger.Printf("⚠️ fetch fan-out aborted: %v", err)
	}
	return records
}

// completeWithGuard calls the LLM and runs the numeric leak guard,
// regenerating once on a violation before stripping as a last resort.
func (g *Gate) completeWithGuard(ctx context.Context, req TurnRequest, pack *evidence.Pack) (string, guard.LeakVerdict, error) {
	resp, err := g.llm.Complete(ctx, llm.Request{
		Purpose:      llm.PurposeContentSummary,
		SystemPrompt: buildSystemPrompt(pack, false),
		Messages:     []llm.Message{{Role: "user", Content: req.Message}},
	})
	if err != nil {
		return "", "", err
	}

	report := guard.CheckNumericLeaks(resp.Content, pack)
	if report.Verdict != guard.LeakViolation {
		return resp.Content, report.Verdict, nil
	}

	// One stricter regeneration.
	g.logger.Printf("⚠️ numeric leak detected, regenerating: request=%s", req.Correlation.RequestID)
	g.audit(ctx, AuditEvent{
		Category: "security", Action: "security.numeric_leak", Severity: "high",
		Description: "unverified numeric literal in generated answer",
		Details:     map[string]any{"violations": len(report.Violations)},
		Success:     false,
	})

	resp, err = g.llm.Complete(ctx, llm.Request{
		Purpose:      llm.PurposeContentSummary,
		SystemPrompt: buildSystemPrompt(pack, true),
		Messages:     []llm.Message{{Role: "user", Content: req.Message}},
		SkipCache:    true,
	})
	if err != nil {
		return "", "", err
	}

	report = guard.CheckNumericLeaks(resp.Content, pack)
	if report.Verdict != guard.LeakViolation {
		return resp.Content, report.Verdict, nil
	}

	// Still leaking: strip the numbers and answer qualitatively.
	return guard.StripAndQualify(resp.Content, report), guard.LeakViolation, nil
}

// deriveOutcome collapses the turn's signals into one outcome.
func (g *Gate) deriveOutcome(trace Trace, pack *evidence.Pack, leak guard.LeakVerdict) core.LensOutcome {
	switch {
	case trace.NumericTokenCount == 0:
		// External data was needed and none was verifiable.
		return core.OutcomeDegraded
	case leak == guard.LeakViolation, trace.UsedFallback:
		return core.OutcomeDegraded
	case trace.ProvidersFailed > 0:
		return core.OutcomePartialSuccess
	default:
		return core.OutcomeSuccess
	}
}

func (g *Gate) audit(ctx context.Context, e AuditEvent) {
	if g.auditor != nil {
		g.auditor.Record(ctx, e)
	}
}

// ============================================================================
// PROMPTING
// ============================================================================

const basePrompt = "You are a careful assistant. Ground every factual claim in the verified data you are given."

// buildSystemPrompt renders the evidence pack into the system prompt.
func buildSystemPrompt(pack *evidence.Pack, strict bool) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nVerified data:\n")
	if len(pack.Tokens) == 0 {
		b.WriteString("(none available)\n")
	}
	for _, tok := range pack.Tokens {
		fmt.Fprintf(&b, "- %s = %v %s (source: %s)\n", tok.ContextKey, tok.Value, tok.Unit, tok.Source)
	}
	for _, line := range pack.NarrativeEvidence {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}

	if !pack.NumericPrecisionAllowed {
		b.WriteString("\nDo not state precise numeric values; describe trends qualitatively.\n")
	} else {
		b.WriteString("\nOnly state numbers that appear in the verified data above, and name what each number refers to.\n")
	}
	if !pack.ActionRecommendationsAllowed {
		b.WriteString("Do not give buy, sell, or other action recommendations.\n")
	}
	if strict {
		b.WriteString("STRICT MODE: your previous draft contained unverified numbers. Use only the verified values listed above, verbatim, or no numbers at all.\n")
	}
	return b.String()
}
