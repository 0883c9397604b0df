package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/evidence"
)

func testPack(tokens ...evidence.NumericToken) *evidence.Pack {
	return &evidence.Pack{
		Correlation:             core.NewCorrelation("test", "dev"),
		Tokens:                  tokens,
		TruthMode:               core.TruthExternal,
		PrimaryCategory:         core.CategoryMarket,
		NumericPrecisionAllowed: true,
	}
}

func priceToken(key string, value float64) evidence.NumericToken {
	return evidence.NumericToken{
		ContextKey: evidence.ContextKey(key),
		Value:      value,
		Source:     "finnhub",
		FetchedAt:  time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		Confidence: 1.0,
	}
}

func TestLeakGuard_VerifiedNumberPasses(t *testing.T) {
	pack := testPack(priceToken("AAPL.price", 187.32))

	report := CheckNumericLeaks("AAPL is trading at $187.32 right now.", pack)

	assert.Equal(t, LeakPass, report.Verdict)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "token", report.Findings[0].Rule)
	assert.Equal(t, evidence.ContextKey("AAPL.price"), report.Findings[0].ContextKey)
}

func TestLeakGuard_ToleranceMatching(t *testing.T) {
	pack := testPack(priceToken("AAPL.price", 187.32))

	// Within 0.5% relative tolerance.
	report := CheckNumericLeaks("AAPL is around 187.5 given the price action.", pack)
	assert.Equal(t, LeakPass, report.Verdict)

	// Far outside tolerance is a leak.
	report = CheckNumericLeaks("AAPL price is 203.10 today.", pack)
	assert.Equal(t, LeakViolation, report.Verdict)
}

func TestLeakGuard_NumberWithoutContextMentionViolates(t *testing.T) {
	pack := testPack(priceToken("AAPL.price", 187.32))

	// The value matches a token but nothing nearby names it.
	report := CheckNumericLeaks("The magic number you want is 187.32 apparently.", pack)

	assert.Equal(t, LeakViolation, report.Verdict)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, 187.32, report.Violations[0].Value)
}

func TestLeakGuard_UnverifiedNumberViolates(t *testing.T) {
	pack := testPack(priceToken("AAPL.price", 187.32))

	report := CheckNumericLeaks("AAPL trades at 187.32 and MSFT at 410.50.", pack)

	assert.Equal(t, LeakViolation, report.Verdict)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "410.50", report.Violations[0].Literal)
}

func TestLeakGuard_Exemptions(t *testing.T) {
	pack := testPack(priceToken("AAPL.price", 187.32))

	// Small enumeration integers and contextual years pass.
	report := CheckNumericLeaks("Here are 3 things to know. Apple was founded in 1976.", pack)

	assert.Equal(t, LeakExempted, report.Verdict)
	assert.Empty(t, report.Violations)
}

func TestLeakGuard_BareLargeNumberIsNotAYear(t *testing.T) {
	pack := testPack(priceToken("AAPL.price", 187.32))

	// 1976 without a contextual cue is not exempt.
	report := CheckNumericLeaks("The figure 1976 means nothing here.", pack)

	assert.Equal(t, LeakViolation, report.Verdict)
}

func TestLeakGuard_VerbatimQuoteAllowed(t *testing.T) {
	pack := testPack(priceToken("AAPL.price", 187.32))
	pack.NarrativeEvidence = []string{"AAPL quote from finnhub: 187.32 USD (+0.67%)"}

	report := CheckNumericLeaks(`The provider said "quote from finnhub: 187.32 USD" earlier.`, pack)

	assert.Equal(t, LeakPass, report.Verdict)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "quote", report.Findings[0].Rule)
}

func TestLeakGuard_EmptyPackFailsClosed(t *testing.T) {
	// No verified tokens means no number can be justified.
	report := CheckNumericLeaks("AAPL is trading at $192.53 right now.", testPack())

	assert.Equal(t, LeakViolation, report.Verdict)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "192.53", report.Violations[0].Literal)

	// No pack at all still scans.
	report = CheckNumericLeaks("The figure is 410.50 today.", nil)
	assert.Equal(t, LeakViolation, report.Verdict)

	report = CheckNumericLeaks("Nothing numeric here.", nil)
	assert.Equal(t, LeakPass, report.Verdict)
}

func TestLeakGuard_LocalTruthModeSkipped(t *testing.T) {
	pack := testPack()
	pack.TruthMode = core.TruthLocal

	report := CheckNumericLeaks("The answer is 42.", pack)

	assert.Equal(t, LeakSkipped, report.Verdict)
}

func TestLeakGuard_MarkedNumbersAreNeverExempt(t *testing.T) {
	pack := testPack(priceToken("AAPL.price", 187.32))

	// A percent on a small integer defeats the enumeration exemption.
	report := CheckNumericLeaks("Revenue was up 7% on the quarter.", pack)
	assert.Equal(t, LeakViolation, report.Verdict)

	report = CheckNumericLeaks("That would cost you $5 per share.", pack)
	assert.Equal(t, LeakViolation, report.Verdict)
}

func TestLeakGuard_SmallIntegerNeedsEnumerationContext(t *testing.T) {
	pack := testPack(priceToken("AAPL.price", 187.32))

	report := CheckNumericLeaks("Check the top 5 holdings first.", pack)
	assert.Equal(t, LeakExempted, report.Verdict)

	// A bare small integer with no list cue is not an enumeration.
	report = CheckNumericLeaks("AAPL could hit 8 soon enough.", pack)
	assert.Equal(t, LeakViolation, report.Verdict)
}

func TestLeakGuard_ThousandsSeparators(t *testing.T) {
	pack := testPack(priceToken("BTC.price_usd", 64250))

	report := CheckNumericLeaks("BTC price is $64,250 at the moment.", pack)

	assert.Equal(t, LeakPass, report.Verdict)
}

func TestStripAndQualify(t *testing.T) {
	pack := testPack(priceToken("AAPL.price", 187.32))
	answer := "AAPL trades at 187.32 and MSFT at 410.50 today."

	report := CheckNumericLeaks(answer, pack)
	require.Equal(t, LeakViolation, report.Verdict)

	cleaned := StripAndQualify(answer, report)

	assert.NotContains(t, cleaned, "410.50")
	assert.Contains(t, cleaned, "a recent figure")
	assert.Contains(t, cleaned, "187.32", "verified numbers survive")
}
