// Package evidence builds the per-turn evidence pack: verified numeric
// tokens with full provenance, narrative summaries, and the flags that
// tell the LLM layer what the answer may contain.
package evidence

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/novaos/backend/internal/core"
)

// MaxPackTokens is the pack size ceiling; lowest-confidence tokens are
// dropped first when exceeded.
const MaxPackTokens = 50

// ContextKey names one verified value, e.g. "AAPL.price" or "USD/EUR.rate".
type ContextKey string

// NumericToken is one verified number with its provenance. Every token
// traces back to exactly one provider fetch and keeps that fetch's
// category so freshness is judged on the right horizon.
type NumericToken struct {
	ContextKey ContextKey    `json:"context_key"`
	Category   core.Category `json:"category,omitempty"`
	Value      float64       `json:"value"`
	Unit       string        `json:"unit,omitempty"`
	Source     string        `json:"source"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Confidence float64       `json:"confidence"`
}

// Pack is the sealed evidence artifact handed to the LLM layer and the
// leak guard. Treat as read-only after Seal.
type Pack struct {
	Correlation                  core.CorrelationContext `json:"correlation"`
	Tokens                       []NumericToken          `json:"tokens"`
	NarrativeEvidence            []string                `json:"narrative_evidence"`
	TruthMode                    core.TruthMode          `json:"truth_mode"`
	PrimaryCategory              core.Category           `json:"primary_category"`
	FallbackMode                 bool                    `json:"fallback_mode"`
	NumericPrecisionAllowed      bool                    `json:"numeric_precision_allowed"`
	ActionRecommendationsAllowed bool                    `json:"action_recommendations_allowed"`
}

// Token returns the token for a context key, if present.
func (p *Pack) Token(key ContextKey) (NumericToken, bool) {
	for _, tok := range p.Tokens {
		if tok.ContextKey == key {
			return tok, true
		}
	}
	return NumericToken{}, false
}

// ============================================================================
// BUILDER
// ============================================================================

// Builder accumulates fetch records and seals them into a Pack.
type Builder struct {
	correlation core.CorrelationContext
	truthMode   core.TruthMode
	primary     core.Category
	ttls        map[core.Category]time.Duration
	now         func() time.Time

	tokens       []NumericToken
	narrative    []string
	failures     int
	usedFallback bool
	sealed       bool
}

// NewBuilder starts a pack for one turn. ttls gives the per-category
// freshness horizon used for the expiry check at seal time.
func NewBuilder(correlation core.CorrelationContext, truthMode core.TruthMode, primary core.Category, ttls map[core.Category]time.Duration, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{
		correlation: correlation,
		truthMode:   truthMode,
		primary:     primary,
		ttls:        ttls,
		now:         now,
	}
}

// AddFetch folds one fetch record into the pack. Failed fetches count
// against the action-recommendation flag but contribute no tokens.
func (b *Builder) AddFetch(rec core.FetchRecord) {
	if b.sealed {
		return
	}
	if !rec.Result.Ok() {
		b.failures++
		return
	}

	data, err := decodeData(rec)
	if err != nil {
		b.failures++
		return
	}

	confidence := 1.0
	if rec.FromCache {
		confidence = 0.9
	}
	fetchedAt := rec.FetchedAt

	switch d := data.(type) {
	case core.StockData:
		b.add(ContextKey(d.Symbol+".price"), rec.Category, d.Price, d.Currency, rec.ProviderName, fetchedAt, confidence)
		b.add(ContextKey(d.Symbol+".change"), rec.Category, d.Change, d.Currency, rec.ProviderName, fetchedAt, confidence)
		b.add(ContextKey(d.Symbol+".change_percent"), rec.Category, d.ChangePercent, "%", rec.ProviderName, fetchedAt, confidence)
		b.narrative = append(b.narrative, fmt.Sprintf("%s quote from %s: %.2f %s (%+.2f%%)",
			d.Symbol, rec.ProviderName, d.Price, d.Currency, d.ChangePercent))
	case core.FxData:
		b.add(ContextKey(d.Base+"/"+d.Quote+".rate"), rec.Category, d.Rate, "", rec.ProviderName, fetchedAt, confidence)
		b.narrative = append(b.narrative, fmt.Sprintf("%s/%s rate from %s: %.4f",
			d.Base, d.Quote, rec.ProviderName, d.Rate))
	case core.CryptoData:
		b.add(ContextKey(d.Symbol+".price_usd"), rec.Category, d.PriceUSD, "USD", rec.ProviderName, fetchedAt, confidence)
		b.add(ContextKey(d.Symbol+".change_percent"), rec.Category, d.ChangePercent, "%", rec.ProviderName, fetchedAt, confidence)
		b.narrative = append(b.narrative, fmt.Sprintf("%s spot from %s: %.2f USD (%+.2f%%)",
			d.Symbol, rec.ProviderName, d.PriceUSD, d.ChangePercent))
	case core.WeatherData:
		b.add(ContextKey(d.Location+".temperature_c"), rec.Category, d.TempC, "°C", rec.ProviderName, fetchedAt, confidence)
		b.add(ContextKey(d.Location+".humidity_pct"), rec.Category, d.HumidityPct, "%", rec.ProviderName, fetchedAt, confidence)
		b.add(ContextKey(d.Location+".wind_kph"), rec.Category, d.WindKph, "km/h", rec.ProviderName, fetchedAt, confidence)
		b.narrative = append(b.narrative, fmt.Sprintf("Weather in %s from %s: %.1f°C, %s",
			d.Location, rec.ProviderName, d.TempC, d.Conditions))
	default:
		// Category without numeric shape contributes narrative only.
		if raw, err := json.Marshal(data); err == nil {
			b.narrative = append(b.narrative, string(raw))
		}
	}
}

// MarkFallback records that a non-primary provider served the data.
func (b *Builder) MarkFallback() {
	if !b.sealed {
		b.usedFallback = true
	}
}

func (b *Builder) add(key ContextKey, category core.Category, value float64, unit, source string, fetchedAt time.Time, confidence float64) {
	b.tokens = append(b.tokens, NumericToken{
		ContextKey: key,
		Category:   category,
		Value:      value,
		Unit:       unit,
		Source:     source,
		FetchedAt:  fetchedAt,
		Confidence: confidence,
	})
}

// Seal deduplicates, enforces the size ceiling, derives the flags, and
// freezes the pack. Further AddFetch calls are ignored.
func (b *Builder) Seal() *Pack {
	b.sealed = true

	tokens := dedupe(b.tokens)
	tokens = capTokens(tokens, MaxPackTokens)

	// Stable presentation order for prompts and the leak guard.
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].ContextKey < tokens[j].ContextKey
	})

	// Each token expires on its own category's horizon, not the primary's.
	noneExpired := true
	now := b.now()
	for _, tok := range tokens {
		ttl := b.ttls[tok.Category]
		if ttl <= 0 {
			ttl = b.ttls[b.primary]
		}
		if ttl > 0 && now.Sub(tok.FetchedAt) > ttl {
			noneExpired = false
			break
		}
	}

	return &Pack{
		Correlation:                  b.correlation,
		Tokens:                       tokens,
		NarrativeEvidence:            b.narrative,
		TruthMode:                    b.truthMode,
		PrimaryCategory:              b.primary,
		FallbackMode:                 b.usedFallback,
		NumericPrecisionAllowed:      len(tokens) > 0 && noneExpired,
		ActionRecommendationsAllowed: b.truthMode == core.TruthExternal && b.failures == 0,
	}
}

// dedupe collapses tokens sharing (contextKey, source, fetchedAt) and,
// per context key, keeps only the freshest fetch.
func dedupe(tokens []NumericToken) []NumericToken {
	type identity struct {
		key       ContextKey
		source    string
		fetchedAt int64
	}
	seen := make(map[identity]bool)
	freshest := make(map[ContextKey]time.Time)

	for _, tok := range tokens {
		if prev, ok := freshest[tok.ContextKey]; !ok || tok.FetchedAt.After(prev) {
			freshest[tok.ContextKey] = tok.FetchedAt
		}
	}

	out := tokens[:0]
	for _, tok := range tokens {
		if !tok.FetchedAt.Equal(freshest[tok.ContextKey]) {
			continue
		}
		id := identity{tok.ContextKey, tok.Source, tok.FetchedAt.UnixNano()}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, tok)
	}
	return out
}

// capTokens enforces the ceiling, dropping lowest confidence first.
func capTokens(tokens []NumericToken, max int) []NumericToken {
	if len(tokens) <= max {
		return tokens
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].Confidence > tokens[j].Confidence
	})
	return tokens[:max]
}

// decodeData returns the typed payload of a record, unmarshalling the
// raw JSON form cached fetches carry.
func decodeData(rec core.FetchRecord) (any, error) {
	raw, ok := rec.Result.Data.(json.RawMessage)
	if !ok {
		return rec.Result.Data, nil
	}

	switch rec.Category {
	case core.CategoryMarket:
		var d core.StockData
		err := json.Unmarshal(raw, &d)
		return d, err
	case core.CategoryFX:
		var d core.FxData
		err := json.Unmarshal(raw, &d)
		return d, err
	case core.CategoryCrypto:
		var d core.CryptoData
		err := json.Unmarshal(raw, &d)
		return d, err
	case core.CategoryWeather:
		var d core.WeatherData
		err := json.Unmarshal(raw, &d)
		return d, err
	default:
		return raw, nil
	}
}
