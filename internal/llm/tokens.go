package llm

import (
	"math"
	"strings"
)

// truncationMarker is appended to any message content that was cut.
const truncationMarker = " [truncated]"

// Message is one prompt message in provider-neutral form.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// EstimateTokens approximates the token count of a string: four chars per
// token with a 10% safety margin.
func EstimateTokens(s string) int {
	return int(math.Ceil(math.Ceil(float64(len(s))/4) * 1.1))
}

// EstimateMessages sums the estimates over a conversation.
func EstimateMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// SystemTokens sums the estimates of system messages only. Truncation
// never touches these, so they bound what FitToBudget can achieve.
func SystemTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		if m.Role == "system" {
			total += EstimateTokens(m.Content)
		}
	}
	return total
}

// FitToBudget trims a conversation to maxTokens. System messages are
// preserved in full; non-system messages are dropped oldest first, and
// the oldest surviving one is smart-truncated if the budget is still
// exceeded. Returns the fitted conversation and whether anything changed.
func FitToBudget(messages []Message, maxTokens int) ([]Message, bool) {
	if EstimateMessages(messages) <= maxTokens {
		return messages, false
	}

	// Walk non-system messages newest first, keeping what fits.
	remaining := maxTokens - SystemTokens(messages)
	keep := make(map[int]bool)
	truncateAt := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "system" {
			continue
		}
		cost := EstimateTokens(messages[i].Content)
		if cost <= remaining {
			keep[i] = true
			remaining -= cost
			continue
		}
		// Partial room left: truncate this one and stop.
		if remaining > 0 && truncateAt == -1 {
			truncateAt = i
			keep[i] = true
		}
		break
	}

	out := make([]Message, 0, len(messages))
	for i, m := range messages {
		if m.Role == "system" {
			out = append(out, m)
			continue
		}
		if !keep[i] {
			continue
		}
		if i == truncateAt {
			m.Content = SmartTruncate(m.Content, remaining)
		}
		out = append(out, m)
	}
	return out, true
}

// SmartTruncate cuts content to roughly maxTokens, preferring paragraph
// boundaries, then sentences, then words, then a hard cut. Cut content
// always ends with the truncation marker.
func SmartTruncate(content string, maxTokens int) string {
	if EstimateTokens(content) <= maxTokens {
		return content
	}
	// Budget in characters, reserving room for the marker.
	maxChars := maxTokens * 4 * 10 / 11
	maxChars -= len(truncationMarker)
	if maxChars <= 0 {
		return truncationMarker[1:]
	}

	if cut, ok := cutAtBoundary(content, maxChars, "\n\n"); ok {
		return cut + truncationMarker
	}
	if cut, ok := cutAtSentence(content, maxChars); ok {
		return cut + truncationMarker
	}
	if cut, ok := cutAtBoundary(content, maxChars, " "); ok {
		return cut + truncationMarker
	}
	return hardCut(content, maxChars) + truncationMarker
}

// cutAtBoundary keeps whole segments split by sep as long as they fit.
// It reports false when not even the first segment fits.
func cutAtBoundary(content string, maxChars int, sep string) (string, bool) {
	idx := strings.LastIndex(content[:min(len(content), maxChars)], sep)
	if idx <= 0 {
		return "", false
	}
	return strings.TrimRight(content[:idx], " \n"), true
}

func cutAtSentence(content string, maxChars int) (string, bool) {
	window := content[:min(len(content), maxChars)]
	best := -1
	for _, end := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(window, end); i > best {
			best = i
		}
	}
	if best <= 0 {
		return "", false
	}
	return window[:best+1], true
}

// hardCut cuts at a byte budget without splitting a UTF-8 rune.
func hardCut(content string, maxChars int) string {
	if maxChars >= len(content) {
		return content
	}
	cut := maxChars
	for cut > 0 && content[cut]&0xC0 == 0x80 {
		cut--
	}
	return content[:cut]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
