package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/ratelimit"
	"github.com/novaos/backend/internal/store"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

const (
	// maxConcurrency bounds the parallel fan-out across categories.
	maxConcurrency = 5

	defaultFetchTimeout = 5 * time.Second
	defaultMaxRetries   = 2

	backoffBase   = 200 * time.Millisecond
	backoffCap    = 5 * time.Second
	backoffJitter = 0.2
)

// DefaultCacheTTLs returns the per-category freshness windows for cached
// provider responses. Fast-moving data expires quickly; location data
// barely moves.
func DefaultCacheTTLs() map[core.Category]time.Duration {
	return map[core.Category]time.Duration{
		core.CategoryMarket:   30 * time.Second,
		core.CategoryCrypto:   30 * time.Second,
		core.CategoryFX:       5 * time.Minute,
		core.CategoryWeather:  10 * time.Minute,
		core.CategoryLocation: time.Hour,
		core.CategoryNews:     5 * time.Minute,
	}
}

// FetchOptions tunes one fetch call.
type FetchOptions struct {
	// UserID scopes the per-user-per-provider rate limit; empty skips it.
	UserID string
	// BypassCache forces a live call even when a fresh cached value exists.
	BypassCache bool
	// Timeout overrides the per-attempt deadline; zero uses the default.
	Timeout time.Duration
}

// FetchRequest is one unit of work for the parallel fan-out.
type FetchRequest struct {
	Category core.Category
	Query    string
	Options  FetchOptions
}

// cachedEntry is the JSON envelope stored for a successful fetch.
type cachedEntry struct {
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// ============================================================================
// FETCHER
// ============================================================================

// Fetcher is the fetch core: it walks a category's providers best tier
// first and runs each attempt through cache, rate limiter, circuit
// breaker, and bounded retry.
type Fetcher struct {
	registry  *Registry
	cache     store.Store
	limiter   *ratelimit.Limiter
	breakers  *BreakerSet
	cacheTTLs map[core.Category]time.Duration

	maxRetries int
	timeout    time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func() float64

	logger *log.Logger
}

// FetcherOptions configures a Fetcher; zero values take defaults.
type FetcherOptions struct {
	CacheTTLs  map[core.Category]time.Duration
	MaxRetries int
	Timeout    time.Duration
	Now        func() time.Time
}

// NewFetcher wires the fetch core together.
func NewFetcher(reg *Registry, cache store.Store, limiter *ratelimit.Limiter, breakers *BreakerSet, opts FetcherOptions) *Fetcher {
	if opts.CacheTTLs == nil {
		opts.CacheTTLs = DefaultCacheTTLs()
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Fetcher{
		registry:   reg,
		cache:      cache,
		limiter:    limiter,
		breakers:   breakers,
		cacheTTLs:  opts.CacheTTLs,
		maxRetries: opts.MaxRetries,
		timeout:    opts.Timeout,
		now:        opts.Now,
		sleep:      sleepCtx,
		jitter:     rand.Float64,
		logger:     log.New(log.Writer(), "[FETCH] ", log.LstdFlags),
	}
}

// Fetch resolves one query for a category, falling back through the
// registry's reliability tiers. The returned record always carries the
// last attempted provider's name; Failure is set only when every
// candidate failed.
func (f *Fetcher) Fetch(ctx context.Context, cat core.Category, query string, opts FetchOptions) core.FetchRecord {
	candidates := f.registry.ForCategory(cat)
	if len(candidates) == 0 {
		return core.FetchRecord{
			Category: cat,
			Query:    query,
			Result: core.FailResult(&core.ProviderFailure{
				Code:    core.ErrFetch,
				Message: "no provider available for category " + string(cat),
			}, 0),
		}
	}

	var last core.FetchRecord
	for _, p := range candidates {
		last = f.fetchOne(ctx, p, cat, query, opts)
		if last.Result.Ok() {
			return last
		}
		// Non-retryable query errors fail the whole chain: a symbol that
		// does not exist at the official provider will not exist downstream.
		code := last.Result.Failure.Code
		if code == core.ErrInvalidSymbol || code == core.ErrSymbolNotFound {
			return last
		}
		if ctx.Err() != nil {
			return last
		}
		f.logger.Printf("⚠️ fallback: provider=%s category=%s code=%s", p.Name(), cat, code)
	}
	return last
}

// FetchAll runs several category fetches concurrently, bounded by the
// fan-out semaphore. Results keep request order. Individual failures are
// encoded in the records; the only returned error is context expiry.
func (f *Fetcher) FetchAll(ctx context.Context, reqs []FetchRequest) ([]core.FetchRecord, error) {
	records := make([]core.FetchRecord, len(reqs))
	sem := semaphore.NewWeighted(maxConcurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			records[i] = f.Fetch(gctx, req.Category, req.Query, req.Options)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return records, err
	}
	return records, nil
}

// ============================================================================
// SINGLE-PROVIDER PIPELINE
// ============================================================================

// fetchOne runs the full pipeline for one provider: cache, limiter,
// breaker, live call with bounded retry, cache write.
func (f *Fetcher) fetchOne(ctx context.Context, p Provider, cat core.Category, query string, opts FetchOptions) core.FetchRecord {
	rec := core.FetchRecord{
		ProviderName: p.Name(),
		Category:     cat,
		Query:        query,
		CacheKey:     cacheKey(p.Name(), query),
		FetchedAt:    f.now(),
	}

	if !opts.BypassCache {
		if hit, ok := f.cacheLookup(ctx, rec.CacheKey); ok {
			rec.Result = core.OkResult(hit.Data, 0)
			rec.FromCache = true
			rec.FetchedAt = hit.FetchedAt
			return rec
		}
	}

	d := f.limiter.TryAcquire(p.Name(), opts.UserID)
	if !d.Allowed {
		rec.Result = core.FailResult(&core.ProviderFailure{
			Code:          core.ErrRateLimited,
			Message:       "rate limit exceeded for scope " + d.Scope,
			Retryable:     true,
			RetryAfterSec: int((d.RetryAfterMs + 999) / 1000),
		}, 0)
		return rec
	}

	breaker := f.breakers.For(p.Name())
	if err := breaker.Allow(); err != nil {
		// The admitted slot goes unused; hand it back.
		f.limiter.Release(p.Name(), opts.UserID)
		rec.Result = core.FailResult(&core.ProviderFailure{
			Code:      core.ErrFetch,
			Message:   "provider temporarily disabled by circuit breaker",
			Retryable: true,
		}, 0)
		return rec
	}

	rec.Result = f.callWithRetry(ctx, p, query, opts)

	if rec.Result.Ok() {
		breaker.RecordSuccess()
		f.cacheWrite(ctx, rec.CacheKey, cat, rec.Result.Data)
		return rec
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		// A cancelled turn consumed nothing upstream; return the slot and
		// leave the breaker untouched.
		f.limiter.Release(p.Name(), opts.UserID)
		return rec
	}

	// Query-shaped failures say nothing about provider health.
	switch rec.Result.Failure.Code {
	case core.ErrInvalidSymbol, core.ErrSymbolNotFound:
	default:
		breaker.RecordFailure()
	}
	return rec
}

// callWithRetry runs the live provider call, retrying retryable failures
// with exponential backoff and jitter. A Retry-After hint from the
// provider overrides the computed backoff.
func (f *Fetcher) callWithRetry(ctx context.Context, p Provider, query string, opts FetchOptions) core.ProviderResult {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.timeout
	}

	var result core.ProviderResult
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result = p.Fetch(attemptCtx, query)
		cancel()

		if result.Ok() || !result.Failure.Retryable || attempt >= f.maxRetries {
			return result
		}
		if ctx.Err() != nil {
			return result
		}

		delay := f.backoff(attempt)
		if result.Failure.RetryAfterSec > 0 {
			delay = time.Duration(result.Failure.RetryAfterSec) * time.Second
		}
		f.logger.Printf("retry: provider=%s attempt=%d delay=%s code=%s",
			p.Name(), attempt+1, delay, result.Failure.Code)
		if err := f.sleep(ctx, delay); err != nil {
			return result
		}
	}
}

// backoff is base * 2^attempt with ±20% jitter, capped.
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := backoffBase << uint(attempt)
	if d > backoffCap {
		d = backoffCap
	}
	spread := 1 + backoffJitter*(2*f.jitter()-1)
	return time.Duration(float64(d) * spread)
}

// ============================================================================
// CACHE
// ============================================================================

func (f *Fetcher) cacheLookup(ctx context.Context, key string) (cachedEntry, bool) {
	raw, err := f.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			f.logger.Printf("⚠️ cache read failed: key=%s err=%v", key, err)
		}
		return cachedEntry{}, false
	}

	var entry cachedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return cachedEntry{}, false
	}
	return entry, true
}

func (f *Fetcher) cacheWrite(ctx context.Context, key string, cat core.Category, data any) {
	ttl, ok := f.cacheTTLs[cat]
	if !ok || ttl <= 0 {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	raw, err := json.Marshal(cachedEntry{Data: payload, FetchedAt: f.now()})
	if err != nil {
		return
	}
	if err := f.cache.Set(ctx, key, raw, ttl); err != nil {
		f.logger.Printf("⚠️ cache write failed: key=%s err=%v", key, err)
	}
}

// cacheKey normalizes the query so "AAPL" and " aapl " share an entry.
func cacheKey(providerName, query string) string {
	return "fetch:" + providerName + ":" + strings.ToLower(strings.TrimSpace(query))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
