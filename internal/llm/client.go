package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/novaos/backend/internal/provider"
	"github.com/novaos/backend/internal/sanitize"
)

// ============================================================================
// ERRORS
// ============================================================================

var (
	// ErrSanitizationBlocked means the prompt tripped a blocking pattern.
	ErrSanitizationBlocked = errors.New("llm: prompt blocked by sanitization")
	// ErrTimeout means the purpose deadline fired before the provider answered.
	ErrTimeout = errors.New("llm: provider call timed out")
	// ErrUnavailable means the circuit breaker is holding calls off.
	ErrUnavailable = errors.New("llm: provider temporarily unavailable")
	// ErrSchemaInvalid means the response failed JSON schema validation.
	ErrSchemaInvalid = errors.New("llm: response failed schema validation")
	// ErrTokenLimitExceeded means truncation cannot fit the input budget
	// because the system messages alone exceed it.
	ErrTokenLimitExceeded = errors.New("llm: input exceeds token budget after truncation")
)

// ============================================================================
// CONTRACTS
// ============================================================================

// Adapter is the transport a Client dispatches to.
type Adapter interface {
	Name() string
	Complete(ctx context.Context, req AdapterRequest) (AdapterResponse, error)
}

// AdapterRequest is the provider-neutral call shape.
type AdapterRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// AdapterResponse is what the transport hands back.
type AdapterResponse struct {
	Content      string
	TokensUsed   int
	FinishReason string
}

// Schema describes the expected response shape.
type Schema struct {
	Type           string   `json:"type"` // "json" or "text"
	RequiredFields []string `json:"required_fields,omitempty"`
}

// Request is one secured LLM call.
type Request struct {
	Purpose        Purpose
	SystemPrompt   string
	Messages       []Message
	ExpectedSchema *Schema
	Temperature    float64
	// SkipCache forces a live call even when a cached response exists.
	SkipCache bool
}

// Response is the validated result of a call.
type Response struct {
	Content      string `json:"content"`
	TokensUsed   int    `json:"tokens_used"`
	FinishReason string `json:"finish_reason"`
	WasTruncated bool   `json:"was_truncated"`
	SchemaValid  bool   `json:"schema_valid"`
	FromCache    bool   `json:"from_cache"`
}

// Audit captures everything security review needs about one call.
type Audit struct {
	Purpose             Purpose   `json:"purpose"`
	Provider            string    `json:"provider"`
	PatternsDetected    []string  `json:"patterns_detected,omitempty"`
	PromptWasModified   bool      `json:"prompt_was_modified"`
	Blocked             bool      `json:"blocked"`
	WasTruncated        bool      `json:"was_truncated"`
	TokensIn            int       `json:"tokens_in"`
	TokensUsed          int       `json:"tokens_used"`
	Retries             int       `json:"retries"`
	FinishReason        string    `json:"finish_reason,omitempty"`
	SchemaValid         bool      `json:"schema_valid"`
	HallucinationReport string    `json:"hallucination_report,omitempty"`
	DurationMs          int64     `json:"duration_ms"`
	Timestamp           time.Time `json:"timestamp"`
	Error               string    `json:"error,omitempty"`
}

// AuditSink receives the audit record for every call, blocked or not.
type AuditSink func(Audit)

// HallucinationCheck inspects a curriculum response. The report is
// recorded in the audit; critical reports the draft must be rejected.
type HallucinationCheck func(content string) (report string, critical bool)

// curriculumFallback replaces a curriculum draft that failed the
// hallucination check twice. It cites no resources and no figures.
const curriculumFallback = `{"title":"Learning plan","steps":[{"title":"Review the verified resources","description":"Work through the provided resources in order, taking notes as you go.","resource_indices":[]}]}`

// ============================================================================
// CLIENT
// ============================================================================

// Client is stateless per request; only the breaker and response cache
// persist across calls.
type Client struct {
	adapter   Adapter
	sanitizer *sanitize.Sanitizer
	budgets   map[Purpose]Budget
	breaker   *provider.Breaker
	auditSink AuditSink
	hallCheck HallucinationCheck
	now       func() time.Time

	cacheMu   sync.RWMutex
	respCache map[string]cachedResponse
	cacheTTL  time.Duration
}

type cachedResponse struct {
	response Response
	storedAt time.Time
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Budgets            map[Purpose]Budget
	AuditSink          AuditSink
	HallucinationCheck HallucinationCheck
	// CacheTTL enables the content-hash response cache when positive.
	CacheTTL time.Duration
	Now      func() time.Time
}

// NewClient builds the secured client around a transport adapter.
func NewClient(adapter Adapter, sanitizer *sanitize.Sanitizer, opts ClientOptions) *Client {
	if opts.Budgets == nil {
		opts.Budgets = DefaultBudgets()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AuditSink == nil {
		opts.AuditSink = func(Audit) {}
	}
	return &Client{
		adapter:   adapter,
		sanitizer: sanitizer,
		budgets:   opts.Budgets,
		breaker:   provider.NewBreaker("llm:"+adapter.Name(), provider.DefaultBreakerConfig(), opts.Now),
		auditSink: opts.AuditSink,
		hallCheck: opts.HallucinationCheck,
		now:       opts.Now,
		respCache: make(map[string]cachedResponse),
		cacheTTL:  opts.CacheTTL,
	}
}

// Complete runs the full secured pipeline for one request.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	start := c.now()
	budget, ok := c.budgets[req.Purpose]
	if !ok {
		budget = c.budgets[PurposeTest]
	}

	audit := Audit{Purpose: req.Purpose, Provider: c.adapter.Name(), Timestamp: start}
	defer func() {
		audit.DurationMs = c.now().Sub(start).Milliseconds()
		c.auditSink(audit)
	}()

	// 1. Sanitize every prompt surface.
	messages, sanErr := c.sanitizeRequest(req, &audit)
	if sanErr != nil {
		audit.Blocked = true
		audit.Error = sanErr.Error()
		return Response{}, sanErr
	}

	// 2. Fit the input budget, system messages untouched. A system
	// surface that alone exceeds the budget cannot be truncated into it.
	if SystemTokens(messages) > budget.MaxTokensInput {
		audit.TokensIn = EstimateMessages(messages)
		audit.Error = ErrTokenLimitExceeded.Error()
		return Response{}, ErrTokenLimitExceeded
	}
	messages, truncated := FitToBudget(messages, budget.MaxTokensInput)
	audit.WasTruncated = truncated
	audit.TokensIn = EstimateMessages(messages)

	// 3. Response cache by content hash.
	key := contentHash(req.Purpose, messages)
	if !req.SkipCache {
		if resp, ok := c.cacheGet(key); ok {
			resp.FromCache = true
			resp.WasTruncated = truncated
			audit.TokensUsed = resp.TokensUsed
			audit.FinishReason = resp.FinishReason
			audit.SchemaValid = resp.SchemaValid
			return resp, nil
		}
	}

	// 4-5. Breaker-gated dispatch under the purpose deadline.
	adResp, err := c.dispatch(ctx, messages, budget, req.Temperature)
	if err != nil {
		audit.Error = err.Error()
		return Response{}, err
	}

	resp := Response{
		Content:      adResp.Content,
		TokensUsed:   adResp.TokensUsed,
		FinishReason: adResp.FinishReason,
		WasTruncated: truncated,
	}
	audit.TokensUsed = adResp.TokensUsed
	audit.FinishReason = adResp.FinishReason

	// 6. Schema validation.
	if err := validateSchema(resp.Content, req.ExpectedSchema); err != nil {
		audit.SchemaValid = false
		audit.Error = err.Error()
		return resp, err
	}
	resp.SchemaValid = true
	audit.SchemaValid = true

	// 7. Hallucination policy for curriculum purposes: a critical finding
	// rejects the draft and regenerates once; a second critical finding
	// falls back to templated content.
	usedFallback := false
	if c.hallCheck != nil && req.Purpose.RequiresHallucinationCheck() {
		report, critical := c.hallCheck(resp.Content)
		audit.HallucinationReport = report
		if critical {
			audit.Retries++
			adResp, err = c.dispatch(ctx, messages, budget, req.Temperature)
			if err != nil {
				audit.Error = err.Error()
				return Response{}, err
			}
			resp.Content = adResp.Content
			resp.TokensUsed += adResp.TokensUsed
			resp.FinishReason = adResp.FinishReason
			audit.TokensUsed = resp.TokensUsed
			audit.FinishReason = adResp.FinishReason

			if err := validateSchema(resp.Content, req.ExpectedSchema); err != nil {
				audit.SchemaValid = false
				audit.Error = err.Error()
				return resp, err
			}

			report, critical = c.hallCheck(resp.Content)
			audit.HallucinationReport = report
			if critical {
				resp.Content = curriculumFallback
				resp.FinishReason = "templated_fallback"
				usedFallback = true
			}
		}
	}

	if !usedFallback {
		c.cachePut(key, resp)
	}
	return resp, nil
}

// dispatch runs one breaker-gated adapter call under the purpose
// deadline, mapping transport failures to the sentinel errors.
func (c *Client) dispatch(ctx context.Context, messages []Message, budget Budget, temperature float64) (AdapterResponse, error) {
	if err := c.breaker.Allow(); err != nil {
		return AdapterResponse{}, ErrUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, budget.Timeout)
	defer cancel()

	adResp, err := c.adapter.Complete(callCtx, AdapterRequest{
		Messages:    messages,
		MaxTokens:   budget.MaxTokensOutput,
		Temperature: temperature,
	})
	if err != nil {
		c.breaker.RecordFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			return AdapterResponse{}, ErrTimeout
		}
		return AdapterResponse{}, fmt.Errorf("llm: provider call failed: %w", err)
	}
	c.breaker.RecordSuccess()
	return adResp, nil
}

// sanitizeRequest cleans system and user prompts and rebuilds the
// conversation with sanitized content.
func (c *Client) sanitizeRequest(req Request, audit *Audit) ([]Message, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	for i, m := range messages {
		result := c.sanitizer.Sanitize(m.Content)
		if len(result.Matches) > 0 {
			audit.PatternsDetected = append(audit.PatternsDetected, result.PatternNames()...)
		}
		if result.WasModified {
			audit.PromptWasModified = true
		}
		if result.ShouldBlock {
			return nil, fmt.Errorf("%w: %v", ErrSanitizationBlocked, result.PatternNames())
		}
		messages[i].Content = result.Sanitized
	}
	return messages, nil
}

func validateSchema(content string, schema *Schema) error {
	if schema == nil || schema.Type != "json" {
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return fmt.Errorf("%w: not valid JSON", ErrSchemaInvalid)
	}
	for _, field := range schema.RequiredFields {
		if _, ok := parsed[field]; !ok {
			return fmt.Errorf("%w: missing field %q", ErrSchemaInvalid, field)
		}
	}
	return nil
}

// ============================================================================
// RESPONSE CACHE
// ============================================================================

func contentHash(purpose Purpose, messages []Message) string {
	h := sha256.New()
	h.Write([]byte(purpose))
	for _, m := range messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) cacheGet(key string) (Response, bool) {
	if c.cacheTTL <= 0 {
		return Response{}, false
	}
	c.cacheMu.RLock()
	entry, ok := c.respCache[key]
	c.cacheMu.RUnlock()
	if !ok || c.now().Sub(entry.storedAt) > c.cacheTTL {
		return Response{}, false
	}
	return entry.response, true
}

func (c *Client) cachePut(key string, resp Response) {
	if c.cacheTTL <= 0 {
		return
	}
	c.cacheMu.Lock()
	c.respCache[key] = cachedResponse{response: resp, storedAt: c.now()}
	c.cacheMu.Unlock()
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}
