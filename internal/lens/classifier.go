// Package lens decides, per turn, whether a message needs external
// real-time data and orchestrates the fetch, evidence, LLM, and guard
// pipeline when it does.
package lens

import (
	"context"
	"strings"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/entity"
)

// Confidence grades how sure the classifier is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Method records which path produced the classification.
type Method string

const (
	MethodRuleBased Method = "rule_based"
	MethodLLM       Method = "llm"
	MethodHybrid    Method = "hybrid"
)

// DataType says what kind of external data the turn needs.
type DataType string

const (
	DataRealtime  DataType = "realtime"
	DataWebSearch DataType = "web_search"
	DataNone      DataType = "none"
)

// Classification is the lens verdict for one message.
type Classification struct {
	TruthMode         core.TruthMode  `json:"truth_mode"`
	PrimaryCategory   core.Category   `json:"primary_category"`
	Categories        []core.Category `json:"categories"`
	Confidence        Confidence      `json:"classification_confidence"`
	Method            Method          `json:"classification_method"`
	NeedsExternalData bool            `json:"needs_external_data"`
	DataType          DataType        `json:"data_type"`
	Entities          []entity.Resolved
}

// LLMClassifier is the fallback invoked only when rules come back with
// low confidence.
type LLMClassifier interface {
	Classify(ctx context.Context, message string) (Classification, error)
}

// Classifier runs rule-based classification with an optional LLM fallback.
type Classifier struct {
	fallback LLMClassifier
}

// NewClassifier creates a classifier; fallback may be nil.
func NewClassifier(fallback LLMClassifier) *Classifier {
	return &Classifier{fallback: fallback}
}

// ============================================================================
// SIGNAL TABLES
// ============================================================================

var greetingPhrases = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"how are you", "thanks", "thank you", "bye", "goodbye",
}

var opinionCues = []string{
	"what do you think", "your opinion", "do you believe", "do you like",
	"would you rather", "favorite",
}

var creativeCues = []string{
	"write a poem", "write a story", "write me a", "make up", "compose",
	"brainstorm", "imagine",
}

// realtimeKeywords map trigger words to the category they signal.
var realtimeKeywords = map[string]core.Category{
	"price":       core.CategoryMarket,
	"stock":       core.CategoryMarket,
	"shares":      core.CategoryMarket,
	"trading":     core.CategoryMarket,
	"market":      core.CategoryMarket,
	"quote":       core.CategoryMarket,
	"crypto":      core.CategoryCrypto,
	"rate":        core.CategoryFX,
	"convert":     core.CategoryFX,
	"exchange":    core.CategoryFX,
	"weather":     core.CategoryWeather,
	"temperature": core.CategoryWeather,
	"forecast":    core.CategoryWeather,
	"humidity":    core.CategoryWeather,
	"news":        core.CategoryNews,
	"headlines":   core.CategoryNews,
}

// keywordOrder fixes the scan order over realtimeKeywords.
var keywordOrder = []string{
	"price", "stock", "shares", "trading", "market", "quote", "crypto",
	"rate", "convert", "exchange", "weather", "temperature", "forecast",
	"humidity", "news", "headlines",
}

var recencyCues = []string{
	"right now", "currently", "today", "at the moment", "latest", "live",
}

// ============================================================================
// CLASSIFICATION
// ============================================================================

// Classify runs the rule engine and, when it is unsure, the LLM fallback.
func (c *Classifier) Classify(ctx context.Context, message string) Classification {
	result := classifyByRules(message)
	if result.Confidence != ConfidenceLow || c.fallback == nil {
		return result
	}

	llmResult, err := c.fallback.Classify(ctx, message)
	if err != nil {
		// A broken fallback never blocks the turn; the rule verdict stands.
		return result
	}
	llmResult.Method = MethodHybrid
	llmResult.Entities = result.Entities
	return llmResult
}

func classifyByRules(message string) Classification {
	lower := strings.ToLower(strings.TrimSpace(message))

	// Conversational messages never need external data.
	if isGreeting(lower) || containsAny(lower, opinionCues) || containsAny(lower, creativeCues) {
		return Classification{
			TruthMode:         core.TruthLocal,
			PrimaryCategory:   core.CategoryNone,
			Confidence:        ConfidenceHigh,
			Method:            MethodRuleBased,
			NeedsExternalData: false,
			DataType:          DataNone,
		}
	}

	entities := entity.Extract(message)

	categories := make([]core.Category, 0, 2)
	catSeen := make(map[core.Category]bool)
	addCat := func(cat core.Category) {
		if cat != core.CategoryNone && !catSeen[cat] {
			catSeen[cat] = true
			categories = append(categories, cat)
		}
	}

	// Entity categories first so they win primary; keywords follow in a
	// fixed order to keep the verdict deterministic.
	for _, e := range entities {
		addCat(e.Category)
	}
	keywordHits := 0
	for _, word := range keywordOrder {
		if containsWord(lower, word) {
			keywordHits++
			addCat(realtimeKeywords[word])
		}
	}

	hasRecency := containsAny(lower, recencyCues)

	switch {
	case len(entities) > 0 && (keywordHits > 0 || hasRecency):
		return Classification{
			TruthMode:         core.TruthExternal,
			PrimaryCategory:   categories[0],
			Categories:        categories,
			Confidence:        ConfidenceHigh,
			Method:            MethodRuleBased,
			NeedsExternalData: true,
			DataType:          DataRealtime,
			Entities:          entities,
		}
	case len(entities) > 0:
		return Classification{
			TruthMode:         core.TruthHybrid,
			PrimaryCategory:   categories[0],
			Categories:        categories,
			Confidence:        ConfidenceMedium,
			Method:            MethodRuleBased,
			NeedsExternalData: true,
			DataType:          DataRealtime,
			Entities:          entities,
		}
	case keywordHits > 0:
		return Classification{
			TruthMode:         core.TruthHybrid,
			PrimaryCategory:   categories[0],
			Categories:        categories,
			Confidence:        ConfidenceLow,
			Method:            MethodRuleBased,
			NeedsExternalData: true,
			DataType:          DataRealtime,
			Entities:          entities,
		}
	default:
		return Classification{
			TruthMode:         core.TruthLocal,
			PrimaryCategory:   core.CategoryNone,
			Confidence:        ConfidenceHigh,
			Method:            MethodRuleBased,
			NeedsExternalData: false,
			DataType:          DataNone,
		}
	}
}

// isGreeting matches pure greetings; a greeting that leads into a real
// question ("hi, what's AAPL at?") is not one.
func isGreeting(lower string) bool {
	trimmed := strings.Trim(lower, "!.,? ")
	for _, g := range greetingPhrases {
		if trimmed == g {
			return true
		}
		if strings.HasPrefix(trimmed, g+" ") && len(strings.Fields(trimmed)) <= len(strings.Fields(g))+2 {
			return true
		}
	}
	return false
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// containsWord matches whole words only, so "rate" does not fire inside
// "grateful".
func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(s[start-1])
		afterOK := end == len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
