package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/ratelimit"
	"github.com/novaos/backend/internal/store"
)

// fakeProvider replays scripted results and counts calls.
type fakeProvider struct {
	name    string
	cats    []core.Category
	tier    ReliabilityTier
	offline bool

	mu      sync.Mutex
	calls   int
	results []core.ProviderResult
}

func (p *fakeProvider) Name() string                { return p.name }
func (p *fakeProvider) Categories() []core.Category { return p.cats }
func (p *fakeProvider) Reliability() ReliabilityTier {
	return p.tier
}
func (p *fakeProvider) IsAvailable() bool { return !p.offline }

func (p *fakeProvider) Fetch(_ context.Context, _ string) core.ProviderResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.calls
	p.calls++
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	return p.results[idx]
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func okStock(symbol string, price float64) core.ProviderResult {
	return core.OkResult(core.StockData{Symbol: symbol, Price: price, Currency: "USD"}, time.Millisecond)
}

func failWith(code core.ProviderErrorCode, retryable bool) core.ProviderResult {
	return core.FailResult(&core.ProviderFailure{Code: code, Message: string(code), Retryable: retryable}, time.Millisecond)
}

type fetchEnv struct {
	fetcher *Fetcher
	limiter *ratelimit.Limiter
	cache   *store.MemoryStore
	sleeps  []time.Duration
}

func newFetchEnv(t *testing.T, reg *Registry, providerLimit int) *fetchEnv {
	t.Helper()

	cache := store.NewMemoryStore()
	t.Cleanup(cache.Stop)

	limiter := ratelimit.NewLimiter(ratelimit.LimiterOptions{
		Defaults:  ratelimit.Config{Limit: providerLimit, Window: time.Minute},
		UserScope: ratelimit.Config{Limit: 1000, Window: time.Minute},
	})
	t.Cleanup(limiter.Stop)

	env := &fetchEnv{limiter: limiter, cache: cache}
	env.fetcher = NewFetcher(reg, cache, limiter, NewBreakerSet(DefaultBreakerConfig(), time.Now), FetcherOptions{})
	env.fetcher.sleep = func(_ context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	env.fetcher.jitter = func() float64 { return 0.5 } // no spread
	return env
}

func TestFetcher_CachesSuccessfulResults(t *testing.T) {
	p := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{okStock("AAPL", 187.32)}}
	reg := NewRegistry()
	reg.Register(p)
	env := newFetchEnv(t, reg, 100)

	rec := env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{})
	require.True(t, rec.Result.Ok())
	assert.False(t, rec.FromCache)

	rec = env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{})
	require.True(t, rec.Result.Ok())
	assert.True(t, rec.FromCache)
	assert.Equal(t, 1, p.callCount(), "second fetch must be served from cache")

	// Normalized queries share the cache entry.
	rec = env.fetcher.Fetch(context.Background(), core.CategoryMarket, "  aapl ", FetchOptions{})
	assert.True(t, rec.FromCache)
	assert.Equal(t, 1, p.callCount())
}

func TestFetcher_BypassCacheGoesLive(t *testing.T) {
	p := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{okStock("AAPL", 187.32)}}
	reg := NewRegistry()
	reg.Register(p)
	env := newFetchEnv(t, reg, 100)

	env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{})
	rec := env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{BypassCache: true})

	assert.False(t, rec.FromCache)
	assert.Equal(t, 2, p.callCount())
}

func TestFetcher_RateLimitDenial(t *testing.T) {
	p := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{okStock("AAPL", 187.32)}}
	reg := NewRegistry()
	reg.Register(p)
	env := newFetchEnv(t, reg, 1)

	require.True(t, env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{}).Result.Ok())

	rec := env.fetcher.Fetch(context.Background(), core.CategoryMarket, "MSFT", FetchOptions{})
	require.False(t, rec.Result.Ok())
	assert.Equal(t, core.ErrRateLimited, rec.Result.Failure.Code)
	assert.True(t, rec.Result.Failure.Retryable)
	assert.Positive(t, rec.Result.Failure.RetryAfterSec)
	assert.Equal(t, 1, p.callCount(), "denied fetch must not reach the provider")
}

func TestFetcher_RetriesRetryableFailures(t *testing.T) {
	p := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{
			failWith(core.ErrHTTP5xx, true),
			okStock("AAPL", 187.32),
		}}
	reg := NewRegistry()
	reg.Register(p)
	env := newFetchEnv(t, reg, 100)

	rec := env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{})

	require.True(t, rec.Result.Ok())
	assert.Equal(t, 2, p.callCount())
	require.Len(t, env.sleeps, 1)
	assert.Equal(t, backoffBase, env.sleeps[0])
}

func TestFetcher_RetryAfterOverridesBackoff(t *testing.T) {
	rateLimited := failWith(core.ErrRateLimited, true)
	rateLimited.Failure.RetryAfterSec = 3
	p := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{rateLimited, okStock("AAPL", 187.32)}}
	reg := NewRegistry()
	reg.Register(p)
	env := newFetchEnv(t, reg, 100)

	rec := env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{})

	require.True(t, rec.Result.Ok())
	require.Len(t, env.sleeps, 1)
	assert.Equal(t, 3*time.Second, env.sleeps[0])
}

func TestFetcher_NoRetryOnPermanentFailure(t *testing.T) {
	p := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{failWith(core.ErrUnauthorized, false)}}
	reg := NewRegistry()
	reg.Register(p)
	env := newFetchEnv(t, reg, 100)

	rec := env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{})

	require.False(t, rec.Result.Ok())
	assert.Equal(t, 1, p.callCount())
	assert.Empty(t, env.sleeps)
}

func TestFetcher_FallsBackThroughTiers(t *testing.T) {
	official := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{failWith(core.ErrUnauthorized, false)}}
	feed := &fakeProvider{name: "backupfeed", cats: []core.Category{core.CategoryMarket}, tier: TierFeed,
		results: []core.ProviderResult{okStock("AAPL", 187.10)}}
	reg := NewRegistry()
	reg.Register(feed)
	reg.Register(official)
	env := newFetchEnv(t, reg, 100)

	rec := env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{})

	require.True(t, rec.Result.Ok())
	assert.Equal(t, "backupfeed", rec.ProviderName)
	assert.Equal(t, 1, official.callCount(), "official tier must be tried first")
}

func TestFetcher_UnknownSymbolStopsFallback(t *testing.T) {
	official := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{failWith(core.ErrSymbolNotFound, false)}}
	feed := &fakeProvider{name: "backupfeed", cats: []core.Category{core.CategoryMarket}, tier: TierFeed,
		results: []core.ProviderResult{okStock("ZZZZZ", 1)}}
	reg := NewRegistry()
	reg.Register(official)
	reg.Register(feed)
	env := newFetchEnv(t, reg, 100)

	rec := env.fetcher.Fetch(context.Background(), core.CategoryMarket, "ZZZZZ", FetchOptions{})

	require.False(t, rec.Result.Ok())
	assert.Equal(t, core.ErrSymbolNotFound, rec.Result.Failure.Code)
	assert.Zero(t, feed.callCount(), "an unknown symbol will not exist at the fallback either")
}

func TestFetcher_BreakerShortCircuits(t *testing.T) {
	p := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{failWith(core.ErrHTTP5xx, false)}}
	reg := NewRegistry()
	reg.Register(p)
	env := newFetchEnv(t, reg, 100)

	for i := 0; i < 3; i++ {
		env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{BypassCache: true})
	}
	before := p.callCount()

	rec := env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{BypassCache: true})

	require.False(t, rec.Result.Ok())
	assert.Equal(t, before, p.callCount(), "open circuit must not reach the provider")
	assert.True(t, rec.Result.Failure.Retryable)
}

func TestFetcher_FailuresAreNotCached(t *testing.T) {
	p := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{
			failWith(core.ErrSymbolNotFound, false),
			okStock("AAPL", 187.32),
		}}
	reg := NewRegistry()
	reg.Register(p)
	env := newFetchEnv(t, reg, 100)

	require.False(t, env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{}).Result.Ok())

	rec := env.fetcher.Fetch(context.Background(), core.CategoryMarket, "AAPL", FetchOptions{})
	require.True(t, rec.Result.Ok())
	assert.False(t, rec.FromCache)
}

func TestFetcher_NoProviderForCategory(t *testing.T) {
	env := newFetchEnv(t, NewRegistry(), 100)

	rec := env.fetcher.Fetch(context.Background(), core.CategoryNews, "openai", FetchOptions{})

	require.False(t, rec.Result.Ok())
	assert.Equal(t, core.ErrFetch, rec.Result.Failure.Code)
}

func TestFetcher_FetchAllKeepsRequestOrder(t *testing.T) {
	market := &fakeProvider{name: "finnhub", cats: []core.Category{core.CategoryMarket}, tier: TierOfficial,
		results: []core.ProviderResult{okStock("AAPL", 187.32)}}
	weather := &fakeProvider{name: "openweathermap", cats: []core.Category{core.CategoryWeather}, tier: TierOfficial,
		results: []core.ProviderResult{core.OkResult(core.WeatherData{Location: "Oslo", TempC: -3.5}, time.Millisecond)}}
	reg := NewRegistry()
	reg.Register(market)
	reg.Register(weather)
	env := newFetchEnv(t, reg, 100)

	records, err := env.fetcher.FetchAll(context.Background(), []FetchRequest{
		{Category: core.CategoryMarket, Query: "AAPL"},
		{Category: core.CategoryWeather, Query: "Oslo"},
	})

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "finnhub", records[0].ProviderName)
	assert.Equal(t, "openweathermap", records[1].ProviderName)
	assert.True(t, records[0].Result.Ok())
	assert.True(t, records[1].Result.Ok())
}
