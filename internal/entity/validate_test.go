package entity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/provider"
)

// stubFetcher answers from a canned table and counts calls per query.
type stubFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	records map[string]core.FetchRecord
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{calls: make(map[string]int), records: make(map[string]core.FetchRecord)}
}

func (f *stubFetcher) on(query string, rec core.FetchRecord) {
	f.records[query] = rec
}

func (f *stubFetcher) Fetch(_ context.Context, _ core.Category, query string, _ provider.FetchOptions) core.FetchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[query]++
	if rec, ok := f.records[query]; ok {
		return rec
	}
	return core.FetchRecord{Result: core.FailResult(&core.ProviderFailure{
		Code: core.ErrSymbolNotFound, Message: "unknown"}, 0)}
}

func (f *stubFetcher) callCount(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[query]
}

func okRecord(provider string, data any) core.FetchRecord {
	return core.FetchRecord{ProviderName: provider, Result: core.OkResult(data, time.Millisecond)}
}

func TestValidator_SkipsHighConfidenceResolved(t *testing.T) {
	f := newStubFetcher()
	v := NewValidator(f, 0.9, nil)

	val := v.Validate(context.Background(), Resolved{
		RawText: "$AAPL", Type: TypeTicker, CanonicalID: "AAPL",
		Category: core.CategoryMarket, Status: StatusResolved, Confidence: 0.95,
	})

	assert.Equal(t, ValidationSkipped, val.Status)
	assert.Zero(t, f.callCount("AAPL"))
}

func TestValidator_ValidAndInvalid(t *testing.T) {
	f := newStubFetcher()
	f.on("AAPL", okRecord("finnhub", core.StockData{Symbol: "AAPL", Price: 187.32}))
	v := NewValidator(f, 0.9, nil)

	val := v.Validate(context.Background(), Resolved{
		RawText: "AAPL", Type: TypeTicker, CanonicalID: "AAPL",
		Category: core.CategoryMarket, Status: StatusResolved, Confidence: 0.85,
	})
	assert.Equal(t, ValidationValid, val.Status)
	assert.Equal(t, "finnhub", val.Provider)
	assert.NotNil(t, val.ProviderData)

	val = v.Validate(context.Background(), Resolved{
		RawText: "XYZQ", Type: TypeTicker,
		Category: core.CategoryMarket, Status: StatusAmbiguous, Confidence: 0.5,
	})
	assert.Equal(t, ValidationInvalid, val.Status)
}

func TestValidator_ProviderTroubleIsUnknown(t *testing.T) {
	f := newStubFetcher()
	f.on("AAPL", core.FetchRecord{ProviderName: "finnhub", Result: core.FailResult(&core.ProviderFailure{
		Code: core.ErrHTTP5xx, Message: "upstream down", Retryable: true}, 0)})
	v := NewValidator(f, 0.9, nil)

	val := v.Validate(context.Background(), Resolved{
		RawText: "AAPL", Type: TypeTicker, CanonicalID: "AAPL",
		Category: core.CategoryMarket, Status: StatusResolved, Confidence: 0.85,
	})

	assert.Equal(t, ValidationUnknown, val.Status)
}

func TestValidator_CachesVerdicts(t *testing.T) {
	f := newStubFetcher()
	f.on("XYZQ", core.FetchRecord{ProviderName: "finnhub", Result: core.FailResult(&core.ProviderFailure{
		Code: core.ErrSymbolNotFound}, 0)})
	v := NewValidator(f, 0.9, nil)

	e := Resolved{RawText: "XYZQ", Type: TypeTicker, Category: core.CategoryMarket,
		Status: StatusAmbiguous, Confidence: 0.5}

	first := v.Validate(context.Background(), e)
	second := v.Validate(context.Background(), e)

	assert.False(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, 1, f.callCount("XYZQ"))
}

func TestValidator_CacheTTLExpires(t *testing.T) {
	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	f := newStubFetcher()
	v := NewValidator(f, 0.9, func() time.Time { return clock })

	e := Resolved{RawText: "XYZQ", Type: TypeTicker, Category: core.CategoryMarket,
		Status: StatusAmbiguous, Confidence: 0.5}

	v.Validate(context.Background(), e)
	clock = clock.Add(cacheTTL + time.Second)
	val := v.Validate(context.Background(), e)

	assert.False(t, val.FromCache)
	assert.Equal(t, 2, f.callCount("XYZQ"))
}

func TestValidator_EvictionKeepsCacheBounded(t *testing.T) {
	f := newStubFetcher()
	v := NewValidator(f, 0.9, nil)

	for i := 0; i < cacheMaxEntries+100; i++ {
		v.Validate(context.Background(), Resolved{
			RawText: "Q" + string(rune('A'+i%26)) + string(rune('A'+(i/26)%26)) + string(rune('A'+(i/676)%26)),
			Type:    Type("synthetic-" + string(rune('0'+i%10))), Category: core.CategoryMarket,
			Status: StatusAmbiguous, Confidence: 0.5,
		})
	}

	assert.LessOrEqual(t, v.CacheSize(), cacheMaxEntries)
}

func TestValidator_PromotionAndDemotion(t *testing.T) {
	f := newStubFetcher()
	f.on("GRPN", okRecord("finnhub", core.StockData{Symbol: "GRPN", Price: 12.4}))
	v := NewValidator(f, 0.9, nil)

	entities := []Resolved{
		{RawText: "GRPN", Type: TypeTicker, Category: core.CategoryMarket, Status: StatusAmbiguous, Confidence: 0.5},
		{RawText: "XYZQ", Type: TypeTicker, CanonicalID: "XYZQ", Category: core.CategoryMarket, Status: StatusResolved, Confidence: 0.6},
	}

	resolved, validations := v.ValidateAll(context.Background(), entities)
	require.Len(t, resolved, 2)

	// Provider confirmation promotes the ambiguous entity.
	assert.Equal(t, StatusResolved, resolved[0].Status)
	assert.Equal(t, "GRPN", resolved[0].CanonicalID)
	assert.Equal(t, ValidationValid, validations[0].Status)

	// Provider rejection demotes and clears the canonical id.
	assert.Equal(t, StatusUnresolved, resolved[1].Status)
	assert.Empty(t, resolved[1].CanonicalID)
	assert.Equal(t, ValidationInvalid, validations[1].Status)
}

func TestValidator_SuggestsAliasForInvalidTicker(t *testing.T) {
	f := newStubFetcher()
	v := NewValidator(f, 0.9, nil)

	val := v.Validate(context.Background(), Resolved{
		RawText: "APPLE", Type: TypeTicker, Category: core.CategoryMarket,
		Status: StatusAmbiguous, Confidence: 0.5,
	})

	require.Equal(t, ValidationInvalid, val.Status)
	assert.Equal(t, []string{"AAPL"}, val.Suggestions)
}
