package evidence

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaos/backend/internal/core"
)

var testTTLs = map[core.Category]time.Duration{
	core.CategoryMarket:  30 * time.Second,
	core.CategoryWeather: 10 * time.Minute,
}

func marketRecord(symbol string, price float64, fetchedAt time.Time, fromCache bool) core.FetchRecord {
	return core.FetchRecord{
		ProviderName: "finnhub",
		Category:     core.CategoryMarket,
		FetchedAt:    fetchedAt,
		FromCache:    fromCache,
		Result: core.OkResult(core.StockData{
			Symbol: symbol, Price: price, Change: 1.25, ChangePercent: 0.67, Currency: "USD",
		}, time.Millisecond),
	}
}

func failedRecord() core.FetchRecord {
	return core.FetchRecord{
		ProviderName: "finnhub",
		Category:     core.CategoryMarket,
		Result: core.FailResult(&core.ProviderFailure{
			Code: core.ErrHTTP5xx, Message: "upstream down", Retryable: true}, time.Millisecond),
	}
}

func TestBuilder_TokensCarryProvenance(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	b := NewBuilder(core.NewCorrelation("test", "dev"), core.TruthExternal, core.CategoryMarket,
		testTTLs, func() time.Time { return now })

	b.AddFetch(marketRecord("AAPL", 187.32, now, false))
	pack := b.Seal()

	tok, ok := pack.Token("AAPL.price")
	require.True(t, ok)
	assert.Equal(t, 187.32, tok.Value)
	assert.Equal(t, "finnhub", tok.Source)
	assert.Equal(t, now, tok.FetchedAt)
	assert.Equal(t, 1.0, tok.Confidence)
	assert.Equal(t, "USD", tok.Unit)

	require.Len(t, pack.NarrativeEvidence, 1)
	assert.Contains(t, pack.NarrativeEvidence[0], "AAPL")
	assert.Contains(t, pack.NarrativeEvidence[0], "187.32")
}

func TestBuilder_FlagDerivation(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	nowFn := func() time.Time { return now }
	correlation := core.NewCorrelation("test", "dev")

	t.Run("fresh tokens allow precision", func(t *testing.T) {
		b := NewBuilder(correlation, core.TruthExternal, core.CategoryMarket, testTTLs, nowFn)
		b.AddFetch(marketRecord("AAPL", 187.32, now, false))
		pack := b.Seal()

		assert.True(t, pack.NumericPrecisionAllowed)
		assert.True(t, pack.ActionRecommendationsAllowed)
	})

	t.Run("empty pack forbids precision", func(t *testing.T) {
		b := NewBuilder(correlation, core.TruthExternal, core.CategoryMarket, testTTLs, nowFn)
		pack := b.Seal()

		assert.False(t, pack.NumericPrecisionAllowed)
	})

	t.Run("expired token forbids precision", func(t *testing.T) {
		b := NewBuilder(correlation, core.TruthExternal, core.CategoryMarket, testTTLs, nowFn)
		b.AddFetch(marketRecord("AAPL", 187.32, now.Add(-time.Minute), false))
		pack := b.Seal()

		assert.False(t, pack.NumericPrecisionAllowed)
	})

	t.Run("secondary token expires on its own horizon", func(t *testing.T) {
		ttls := map[core.Category]time.Duration{
			core.CategoryMarket: time.Hour,
			core.CategoryFX:     30 * time.Second,
		}
		b := NewBuilder(correlation, core.TruthExternal, core.CategoryMarket, ttls, nowFn)
		b.AddFetch(marketRecord("AAPL", 187.32, now, false))
		b.AddFetch(core.FetchRecord{
			ProviderName: "exchangerate", Category: core.CategoryFX, FetchedAt: now.Add(-time.Minute),
			Result: core.OkResult(core.FxData{Base: "USD", Quote: "EUR", Rate: 0.9214}, time.Millisecond),
		})
		pack := b.Seal()

		// The fx rate is stale on the fx horizon even though the primary
		// market horizon would still accept it.
		assert.False(t, pack.NumericPrecisionAllowed)

		tok, ok := pack.Token("USD/EUR.rate")
		require.True(t, ok)
		assert.Equal(t, core.CategoryFX, tok.Category)
	})

	t.Run("provider failure forbids recommendations", func(t *testing.T) {
		b := NewBuilder(correlation, core.TruthExternal, core.CategoryMarket, testTTLs, nowFn)
		b.AddFetch(marketRecord("AAPL", 187.32, now, false))
		b.AddFetch(failedRecord())
		pack := b.Seal()

		assert.True(t, pack.NumericPrecisionAllowed)
		assert.False(t, pack.ActionRecommendationsAllowed)
	})

	t.Run("non-external truth mode forbids recommendations", func(t *testing.T) {
		b := NewBuilder(correlation, core.TruthHybrid, core.CategoryMarket, testTTLs, nowFn)
		b.AddFetch(marketRecord("AAPL", 187.32, now, false))
		pack := b.Seal()

		assert.False(t, pack.ActionRecommendationsAllowed)
	})
}

func TestBuilder_DeduplicationKeepsFreshest(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	b := NewBuilder(core.NewCorrelation("test", "dev"), core.TruthExternal, core.CategoryMarket,
		testTTLs, func() time.Time { return now })

	b.AddFetch(marketRecord("AAPL", 186.00, now.Add(-10*time.Second), false))
	b.AddFetch(marketRecord("AAPL", 187.32, now, false))
	pack := b.Seal()

	tok, ok := pack.Token("AAPL.price")
	require.True(t, ok)
	assert.Equal(t, 187.32, tok.Value, "freshest fetch wins")

	count := 0
	for _, tk := range pack.Tokens {
		if tk.ContextKey == "AAPL.price" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestBuilder_CeilingDropsLowestConfidence(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	b := NewBuilder(core.NewCorrelation("test", "dev"), core.TruthExternal, core.CategoryMarket,
		testTTLs, func() time.Time { return now })

	// 20 live symbols (3 tokens each) plus cached ones pushes past the cap.
	for i := 0; i < 20; i++ {
		b.AddFetch(marketRecord(fmt.Sprintf("SYM%02d", i), float64(i), now, false))
	}
	for i := 20; i < 30; i++ {
		b.AddFetch(marketRecord(fmt.Sprintf("SYM%02d", i), float64(i), now, true))
	}
	pack := b.Seal()

	require.Len(t, pack.Tokens, MaxPackTokens)
	for _, tok := range pack.Tokens {
		assert.Equal(t, 1.0, tok.Confidence, "cached lower-confidence tokens are dropped first")
	}
}

func TestBuilder_SealedPackIgnoresLateFetches(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	b := NewBuilder(core.NewCorrelation("test", "dev"), core.TruthExternal, core.CategoryMarket,
		testTTLs, func() time.Time { return now })

	b.AddFetch(marketRecord("AAPL", 187.32, now, false))
	pack := b.Seal()
	b.AddFetch(marketRecord("MSFT", 410.50, now, false))

	_, ok := pack.Token("MSFT.price")
	assert.False(t, ok)
	assert.Len(t, pack.Tokens, 3)
}

func TestBuilder_WeatherAndFxTokens(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	b := NewBuilder(core.NewCorrelation("test", "dev"), core.TruthExternal, core.CategoryWeather,
		testTTLs, func() time.Time { return now })

	b.AddFetch(core.FetchRecord{
		ProviderName: "openweathermap", Category: core.CategoryWeather, FetchedAt: now,
		Result: core.OkResult(core.WeatherData{
			Location: "Oslo", TempC: -3.5, HumidityPct: 81, WindKph: 18, Conditions: "light snow",
		}, time.Millisecond),
	})
	b.AddFetch(core.FetchRecord{
		ProviderName: "exchangerate", Category: core.CategoryFX, FetchedAt: now,
		Result: core.OkResult(core.FxData{Base: "USD", Quote: "EUR", Rate: 0.9214}, time.Millisecond),
	})
	pack := b.Seal()

	temp, ok := pack.Token("Oslo.temperature_c")
	require.True(t, ok)
	assert.Equal(t, -3.5, temp.Value)
	assert.Equal(t, "°C", temp.Unit)

	rate, ok := pack.Token("USD/EUR.rate")
	require.True(t, ok)
	assert.Equal(t, 0.9214, rate.Value)
}

func TestBuilder_CachedRawJSONDecodes(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	b := NewBuilder(core.NewCorrelation("test", "dev"), core.TruthExternal, core.CategoryMarket,
		testTTLs, func() time.Time { return now })

	rec := marketRecord("AAPL", 187.32, now, true)
	rec.Result.Data = json.RawMessage(`{"symbol":"AAPL","price":187.32,"change":1.25,"change_percent":0.67,"currency":"USD"}`)
	b.AddFetch(rec)
	pack := b.Seal()

	tok, ok := pack.Token("AAPL.price")
	require.True(t, ok)
	assert.Equal(t, 187.32, tok.Value)
	assert.Equal(t, 0.9, tok.Confidence, "cached data carries reduced confidence")
}
