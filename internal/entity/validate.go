package entity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/provider"
)

// ============================================================================
// VALIDATION
// ============================================================================

// ValidationStatus is the provider-backed verdict for one entity.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationUnknown ValidationStatus = "unknown"
	ValidationSkipped ValidationStatus = "skipped"
)

// Validation is the outcome of checking one entity against a provider.
type Validation struct {
	Status           ValidationStatus `json:"status"`
	Provider         string           `json:"provider,omitempty"`
	ValidationTimeMs int64            `json:"validation_time_ms"`
	FromCache        bool             `json:"from_cache"`
	ProviderData     any              `json:"provider_data,omitempty"`
	Suggestions      []string         `json:"suggestions,omitempty"`
}

// fetcher is the slice of the fetch core validation needs.
type fetcher interface {
	Fetch(ctx context.Context, cat core.Category, query string, opts provider.FetchOptions) core.FetchRecord
}

const (
	defaultSkipConfidence = 0.9
	cacheMaxEntries       = 1000
	cacheTTL              = 5 * time.Minute
	// evictFraction of the cache is dropped, oldest first, when full.
	evictFraction = 0.1
)

// Validator checks extracted entities against live providers, caching
// verdicts in a bounded LRU so repeated mentions cost one call.
type Validator struct {
	fetcher        fetcher
	skipConfidence float64
	now            func() time.Time

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	validation Validation
	storedAt   time.Time
	lastUsed   time.Time
}

// NewValidator creates a validator over the fetch core. A zero
// skipConfidence uses the default threshold.
func NewValidator(f fetcher, skipConfidence float64, now func() time.Time) *Validator {
	if skipConfidence == 0 {
		skipConfidence = defaultSkipConfidence
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{
		fetcher:        f,
		skipConfidence: skipConfidence,
		now:            now,
		cache:          make(map[string]*cacheEntry),
	}
}

// Validate checks one entity. Entities already resolved with confidence at
// or above the skip threshold are not re-verified.
func (v *Validator) Validate(ctx context.Context, e Resolved) Validation {
	if e.Status == StatusResolved && e.Confidence >= v.skipConfidence {
		return Validation{Status: ValidationSkipped}
	}

	query := e.CanonicalID
	if query == "" {
		query = e.RawText
	}
	key := string(e.Type) + ":" + query

	if cached, ok := v.cacheGet(key); ok {
		cached.FromCache = true
		return cached
	}

	start := v.now()
	rec := v.fetcher.Fetch(ctx, e.Category, query, provider.FetchOptions{})
	val := Validation{
		Provider:         rec.ProviderName,
		ValidationTimeMs: v.now().Sub(start).Milliseconds(),
	}

	switch {
	case rec.Result.Ok():
		val.Status = ValidationValid
		val.ProviderData = rec.Result.Data
	case rec.Result.Failure.Code == core.ErrSymbolNotFound,
		rec.Result.Failure.Code == core.ErrInvalidSymbol:
		val.Status = ValidationInvalid
		val.Suggestions = suggestFor(e)
	default:
		// Provider trouble proves nothing about the entity.
		val.Status = ValidationUnknown
	}

	v.cachePut(key, val)
	return val
}

// ValidateAll validates a batch in order, promoting entities the provider
// confirmed: an ambiguous entity that validates becomes resolved.
func (v *Validator) ValidateAll(ctx context.Context, entities []Resolved) ([]Resolved, []Validation) {
	validations := make([]Validation, len(entities))
	out := make([]Resolved, len(entities))

	for i, e := range entities {
		val := v.Validate(ctx, e)
		validations[i] = val

		switch val.Status {
		case ValidationValid:
			if e.Status != StatusResolved {
				e.Status = StatusResolved
				if e.CanonicalID == "" {
					e.CanonicalID = e.RawText
				}
				e.Confidence = 0.85
			}
		case ValidationInvalid:
			e.Status = StatusUnresolved
			e.CanonicalID = ""
			e.Confidence = 0
		}
		out[i] = e
	}
	return out, validations
}

// suggestFor offers near-miss alternatives for an invalid entity.
func suggestFor(e Resolved) []string {
	if e.Type != TypeTicker {
		return nil
	}
	if sym, ok := companyAliases[strings.ToLower(e.RawText)]; ok {
		return []string{sym}
	}
	return nil
}

// ============================================================================
// BOUNDED CACHE
// ============================================================================

func (v *Validator) cacheGet(key string) (Validation, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.cache[key]
	if !ok {
		return Validation{}, false
	}
	if v.now().Sub(entry.storedAt) > cacheTTL {
		delete(v.cache, key)
		return Validation{}, false
	}
	entry.lastUsed = v.now()
	return entry.validation, true
}

func (v *Validator) cachePut(key string, val Validation) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.cache) >= cacheMaxEntries {
		v.evictLocked()
	}
	now := v.now()
	v.cache[key] = &cacheEntry{validation: val, storedAt: now, lastUsed: now}
}

// evictLocked drops the least recently used tenth of the cache in one step
// so a full cache does not evict on every insert.
func (v *Validator) evictLocked() {
	type aged struct {
		key      string
		lastUsed time.Time
	}
	entries := make([]aged, 0, len(v.cache))
	for k, e := range v.cache {
		entries = append(entries, aged{k, e.lastUsed})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastUsed.Before(entries[j].lastUsed)
	})

	n := int(float64(len(entries)) * evictFraction)
	if n < 1 {
		n = 1
	}
	for _, e := range entries[:n] {
		delete(v.cache, e.key)
	}
}

// CacheSize reports the live entry count, used by health reporting.
func (v *Validator) CacheSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.cache)
}
