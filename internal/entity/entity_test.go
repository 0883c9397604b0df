package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaos/backend/internal/core"
)

func findEntity(t *testing.T, entities []Resolved, typ Type, canonical string) Resolved {
	t.Helper()
	for _, e := range entities {
		if e.Type == typ && e.CanonicalID == canonical {
			return e
		}
	}
	t.Fatalf("no %s entity with canonical id %q in %v", typ, canonical, entities)
	return Resolved{}
}

func TestExtract_Cashtag(t *testing.T) {
	entities := Extract("what is $AAPL trading at?")

	e := findEntity(t, entities, TypeTicker, "AAPL")
	assert.Equal(t, StatusResolved, e.Status)
	assert.Equal(t, core.CategoryMarket, e.Category)
	assert.Equal(t, 0.95, e.Confidence)
}

func TestExtract_CompanyAlias(t *testing.T) {
	entities := Extract("how is apple doing today")

	e := findEntity(t, entities, TypeTicker, "AAPL")
	assert.Equal(t, StatusResolved, e.Status)
	assert.Equal(t, "apple", e.RawText)
}

func TestExtract_KnownBareTicker(t *testing.T) {
	entities := Extract("compare TSLA and NVDA please")

	tsla := findEntity(t, entities, TypeTicker, "TSLA")
	assert.Equal(t, StatusResolved, tsla.Status)
	findEntity(t, entities, TypeTicker, "NVDA")
}

func TestExtract_UnknownUppercaseStaysAmbiguous(t *testing.T) {
	entities := Extract("any news on XYZQ?")

	require.Len(t, entities, 1)
	assert.Equal(t, TypeTicker, entities[0].Type)
	assert.Equal(t, StatusAmbiguous, entities[0].Status)
	assert.Empty(t, entities[0].CanonicalID, "ambiguous entities carry no canonical id")
}

func TestExtract_StopwordsAreNotTickers(t *testing.T) {
	entities := Extract("I think the CEO of a US company did an IPO, OK?")
	assert.Empty(t, entities)
}

func TestExtract_CurrencyPairForms(t *testing.T) {
	for _, msg := range []string{
		"convert USD/EUR for me",
		"what is the USDEUR rate",
		"how much is USD to EUR right now",
	} {
		entities := Extract(msg)
		e := findEntity(t, entities, TypeCurrencyPair, "USD/EUR")
		assert.Equal(t, StatusResolved, e.Status, msg)
		assert.Equal(t, core.CategoryFX, e.Category, msg)
	}
}

func TestExtract_RejectsBadPairs(t *testing.T) {
	assert.Empty(t, Extract("USD/USD makes no sense"))

	// Unknown legs are not pairs.
	entities := Extract("ABCDEF is not a pair")
	for _, e := range entities {
		assert.NotEqual(t, TypeCurrencyPair, e.Type)
	}
}

func TestExtract_CryptoAliases(t *testing.T) {
	entities := Extract("price of bitcoin and eth?")

	btc := findEntity(t, entities, TypeCryptoSymbol, "BTC")
	assert.Equal(t, core.CategoryCrypto, btc.Category)
	findEntity(t, entities, TypeCryptoSymbol, "ETH")
}

func TestExtract_Location(t *testing.T) {
	entities := Extract("what's the weather in New York today")

	e := findEntity(t, entities, TypeLocation, "New York")
	assert.Equal(t, core.CategoryWeather, e.Category)
	assert.Equal(t, StatusResolved, e.Status)
}

func TestExtract_DeduplicatesMentions(t *testing.T) {
	entities := Extract("$AAPL $AAPL AAPL")

	count := 0
	for _, e := range entities {
		if e.CanonicalID == "AAPL" {
			count++
		}
	}
	// Cashtag and bare mention differ in raw text; identical mentions collapse.
	assert.LessOrEqual(t, count, 2)
	require.NotZero(t, count)
}

func TestExtract_ResolvedInvariant(t *testing.T) {
	entities := Extract("$AAPL bitcoin USD/EUR XYZQ weather in Oslo")

	for _, e := range entities {
		if e.Status == StatusResolved {
			assert.NotEmpty(t, e.CanonicalID, "resolved entity %+v must carry canonical id", e)
		} else {
			assert.Empty(t, e.CanonicalID, "non-resolved entity %+v must not carry canonical id", e)
		}
	}
}
