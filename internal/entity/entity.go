// Package entity extracts market, currency, crypto, and location entities
// from user text, canonicalizes them, and validates them against live
// providers with a bounded cache. Extraction is rule-driven token scanning;
// untrusted text is never fed to a regex engine.
package entity

import (
	"strings"
	"unicode"

	"github.com/novaos/backend/internal/core"
)

// Type classifies what kind of real-world thing an entity refers to.
type Type string

const (
	TypeTicker       Type = "ticker"
	TypeCryptoSymbol Type = "crypto_symbol"
	TypeCurrencyPair Type = "currency_pair"
	TypeLocation     Type = "location"
)

// Status is the resolution outcome for one extracted entity.
type Status string

const (
	StatusResolved   Status = "resolved"
	StatusAmbiguous  Status = "ambiguous"
	StatusUnresolved Status = "unresolved"
)

// Resolved is one extracted entity with its canonical identity.
// CanonicalID is non-empty exactly when Status is resolved.
type Resolved struct {
	RawText     string        `json:"raw_text"`
	Type        Type          `json:"type"`
	CanonicalID string        `json:"canonical_id,omitempty"`
	Category    core.Category `json:"category,omitempty"`
	Status      Status        `json:"status"`
	Confidence  float64       `json:"resolution_confidence"`
}

// ============================================================================
// ALIAS TABLES
// ============================================================================

// companyAliases maps lowercase company names to their primary ticker.
var companyAliases = map[string]string{
	"apple":     "AAPL",
	"microsoft": "MSFT",
	"google":    "GOOGL",
	"alphabet":  "GOOGL",
	"amazon":    "AMZN",
	"tesla":     "TSLA",
	"nvidia":    "NVDA",
	"meta":      "META",
	"facebook":  "META",
	"netflix":   "NFLX",
	"intel":     "INTC",
	"amd":       "AMD",
	"boeing":    "BA",
	"disney":    "DIS",
}

// cryptoAliases maps lowercase crypto names and symbols to canonical symbols.
var cryptoAliases = map[string]string{
	"bitcoin":  "BTC",
	"btc":      "BTC",
	"ethereum": "ETH",
	"eth":      "ETH",
	"solana":   "SOL",
	"sol":      "SOL",
	"dogecoin": "DOGE",
	"doge":     "DOGE",
	"cardano":  "ADA",
	"ripple":   "XRP",
	"xrp":      "XRP",
	"litecoin": "LTC",
}

// isoCurrencies is the accepted set of currency-pair legs.
var isoCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"CAD": true, "AUD": true, "NZD": true, "CNY": true, "SEK": true,
	"NOK": true, "DKK": true, "INR": true, "BRL": true, "MXN": true,
	"KRW": true, "SGD": true, "HKD": true, "PLN": true, "ZAR": true,
}

// knownTickers resolves bare uppercase tokens with high confidence; unknown
// uppercase tokens stay ambiguous rather than guessing.
var knownTickers = map[string]bool{
	"AAPL": true, "MSFT": true, "GOOGL": true, "GOOG": true, "AMZN": true,
	"TSLA": true, "NVDA": true, "META": true, "NFLX": true, "INTC": true,
	"AMD": true, "BA": true, "DIS": true, "JPM": true, "V": true,
	"BRK.A": true, "BRK.B": true, "SPY": true, "QQQ": true, "IBM": true,
}

// tickerStopwords are uppercase tokens that read as English, not symbols.
var tickerStopwords = map[string]bool{
	"A": true, "I": true, "OK": true, "USA": true, "US": true, "UK": true,
	"CEO": true, "CFO": true, "AI": true, "IPO": true, "ETF": true,
	"FAQ": true, "ASAP": true, "PLEASE": true, "AND": true, "THE": true,
	"IS": true, "TO": true, "VS": true, "API": true, "LLM": true,
}

// locationCues precede a place name in phrasings like "weather in Oslo".
var locationCues = map[string]bool{"in": true, "at": true, "for": true, "near": true}

// ============================================================================
// EXTRACTION
// ============================================================================

// Extract scans the message and returns resolved entities in textual order.
// Duplicate canonical identities are collapsed, first occurrence wins.
func Extract(message string) []Resolved {
	words := tokenize(message)
	var out []Resolved
	seen := make(map[string]bool)

	add := func(e Resolved) {
		key := string(e.Type) + ":" + e.CanonicalID + ":" + strings.ToLower(e.RawText)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, e)
	}

	for i := 0; i < len(words); i++ {
		w := words[i]

		// $AAPL cashtags are an explicit ticker signal.
		if strings.HasPrefix(w, "$") && len(w) > 1 {
			sym := strings.ToUpper(w[1:])
			if isTickerShaped(sym) {
				add(Resolved{RawText: w, Type: TypeTicker, CanonicalID: sym,
					Category: core.CategoryMarket, Status: StatusResolved, Confidence: 0.95})
			}
			continue
		}

		lower := strings.ToLower(w)

		if sym, ok := cryptoAliases[lower]; ok {
			add(Resolved{RawText: w, Type: TypeCryptoSymbol, CanonicalID: sym,
				Category: core.CategoryCrypto, Status: StatusResolved, Confidence: 0.9})
			continue
		}

		if sym, ok := companyAliases[lower]; ok {
			add(Resolved{RawText: w, Type: TypeTicker, CanonicalID: sym,
				Category: core.CategoryMarket, Status: StatusResolved, Confidence: 0.85})
			continue
		}

		if pair, ok := parsePairToken(w); ok {
			add(Resolved{RawText: w, Type: TypeCurrencyPair, CanonicalID: pair,
				Category: core.CategoryFX, Status: StatusResolved, Confidence: 0.95})
			continue
		}

		// "USD to EUR" spans three tokens.
		if i+2 < len(words) && strings.EqualFold(words[i+1], "to") {
			base, quote := strings.ToUpper(w), strings.ToUpper(words[i+2])
			if isoCurrencies[base] && isoCurrencies[quote] {
				raw := w + " " + words[i+1] + " " + words[i+2]
				add(Resolved{RawText: raw, Type: TypeCurrencyPair, CanonicalID: base + "/" + quote,
					Category: core.CategoryFX, Status: StatusResolved, Confidence: 0.9})
				i += 2
				continue
			}
		}

		// "weather in Oslo" style location cues.
		if locationCues[lower] && i+1 < len(words) {
			if place, span := takePlaceName(words[i+1:]); place != "" {
				add(Resolved{RawText: place, Type: TypeLocation, CanonicalID: place,
					Category: core.CategoryWeather, Status: StatusResolved, Confidence: 0.75})
				i += span
				continue
			}
		}

		// Bare uppercase tokens: known tickers resolve, the rest stay
		// ambiguous for provider validation to settle.
		if w == strings.ToUpper(w) && isTickerShaped(w) && !tickerStopwords[w] && !isoCurrencies[w] {
			if knownTickers[w] {
				add(Resolved{RawText: w, Type: TypeTicker, CanonicalID: w,
					Category: core.CategoryMarket, Status: StatusResolved, Confidence: 0.85})
			} else {
				add(Resolved{RawText: w, Type: TypeTicker,
					Category: core.CategoryMarket, Status: StatusAmbiguous, Confidence: 0.5})
			}
		}
	}
	return out
}

// tokenize splits on whitespace and trims edge punctuation, keeping a
// leading $ and interior dots and slashes intact.
func tokenize(message string) []string {
	fields := strings.Fields(message)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return r != '$' && (unicode.IsPunct(r) || unicode.IsSymbol(r)) && r != '/' && r != '.'
		})
		f = strings.Trim(f, ".,")
		if f != "" && f != "$" {
			out = append(out, f)
		}
	}
	return out
}

// isTickerShaped accepts 1-5 uppercase letters with an optional one-letter
// class suffix like BRK.B.
func isTickerShaped(s string) bool {
	parts := strings.SplitN(s, ".", 2)
	if len(parts[0]) < 1 || len(parts[0]) > 5 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < 'A' || r > 'Z' {
				return false
			}
		}
	}
	return true
}

// parsePairToken accepts "USD/EUR" and "USDEUR" forms.
func parsePairToken(w string) (string, bool) {
	u := strings.ToUpper(w)
	var base, quote string
	if i := strings.IndexByte(u, '/'); i >= 0 {
		base, quote = u[:i], u[i+1:]
	} else if len(u) == 6 {
		base, quote = u[:3], u[3:]
	} else {
		return "", false
	}
	if !isoCurrencies[base] || !isoCurrencies[quote] || base == quote {
		return "", false
	}
	return base + "/" + quote, true
}

// takePlaceName consumes up to two leading title-case words as a place
// name and reports how many tokens it spanned.
func takePlaceName(words []string) (string, int) {
	var parts []string
	for _, w := range words {
		if len(parts) == 2 || !isTitleCase(w) {
			break
		}
		parts = append(parts, w)
	}
	if len(parts) == 0 {
		return "", 0
	}
	return strings.Join(parts, " "), len(parts)
}

func isTitleCase(w string) bool {
	runes := []rune(w)
	if len(runes) < 2 || !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !unicode.IsLower(r) {
			return false
		}
	}
	return true
}
