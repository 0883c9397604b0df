package guard

import (
	"math"
	"strconv"
	"strings"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/evidence"
)

// LeakVerdict is the overall outcome of the numeric leak check.
type LeakVerdict string

const (
	LeakPass      LeakVerdict = "pass"
	LeakViolation LeakVerdict = "violation"
	LeakExempted  LeakVerdict = "exempted"
	LeakSkipped   LeakVerdict = "skipped"
)

// NumberFinding is one numeric literal found in the answer with the rule
// that allowed it, or none.
type NumberFinding struct {
	Literal string  `json:"literal"`
	Value   float64 `json:"value"`
	// Rule is "token", "exemption", "quote", or "" for a violation.
	Rule       string             `json:"rule,omitempty"`
	ContextKey evidence.ContextKey `json:"context_key,omitempty"`
}

// LeakReport is the full scan result for one answer.
type LeakReport struct {
	Verdict    LeakVerdict     `json:"verdict"`
	Findings   []NumberFinding `json:"findings,omitempty"`
	Violations []NumberFinding `json:"violations,omitempty"`
}

// relative tolerance for matching a literal against a verified token.
const tokenTolerance = 0.005

// contextWindow is how many words around a number are searched for the
// token's context key.
const contextWindow = 6

// CheckNumericLeaks scans the answer for numeric literals and verifies
// each against the evidence pack. Every number must be justified by a
// verified token, the exemption table, or a verbatim evidence quote.
// With no pack, or a pack with no tokens, the scan still runs and any
// non-exempt number is a violation; only local truth mode skips it.
func CheckNumericLeaks(answer string, pack *evidence.Pack) LeakReport {
	if pack != nil && pack.TruthMode == core.TruthLocal {
		// Local turns answer from the model's own knowledge.
		return LeakReport{Verdict: LeakSkipped}
	}

	words := strings.Fields(answer)
	report := LeakReport{Verdict: LeakPass}
	sawExemption := false

	for i, w := range words {
		literal, value, marked, ok := parseNumber(w)
		if !ok {
			continue
		}
		finding := NumberFinding{Literal: literal, Value: value}

		if key, ok := matchesToken(value, words, i, pack); ok {
			finding.Rule = "token"
			finding.ContextKey = key
		} else if isExempt(value, literal, marked, words, i) {
			finding.Rule = "exemption"
			sawExemption = true
		} else if inVerbatimQuote(answer, literal, pack) {
			finding.Rule = "quote"
		} else {
			report.Violations = append(report.Violations, finding)
		}
		report.Findings = append(report.Findings, finding)
	}

	switch {
	case len(report.Violations) > 0:
		report.Verdict = LeakViolation
	case sawExemption && len(report.Findings) > 0:
		report.Verdict = LeakExempted
	}
	return report
}

// StripAndQualify removes violating literals from the answer, replacing
// each with qualitative language.
func StripAndQualify(answer string, report LeakReport) string {
	out := answer
	for _, v := range report.Violations {
		out = strings.ReplaceAll(out, v.Literal, "a recent figure")
	}
	return out
}

// ============================================================================
// RULES
// ============================================================================

// matchesToken reports whether the value matches a pack token within
// tolerance and the nearby text mentions that token's context key.
func matchesToken(value float64, words []string, pos int, pack *evidence.Pack) (evidence.ContextKey, bool) {
	if pack == nil {
		return "", false
	}
	for _, tok := range pack.Tokens {
		tolerance := math.Max(math.Abs(tok.Value)*tokenTolerance, 0.01)
		if math.Abs(value-tok.Value) > tolerance {
			continue
		}
		if contextMentions(words, pos, tok.ContextKey) {
			return tok.ContextKey, true
		}
	}
	return "", false
}

// contextMentions checks the window around a number for any component of
// the context key ("AAPL.price" matches "AAPL" or "price").
func contextMentions(words []string, pos int, key evidence.ContextKey) bool {
	parts := splitKey(key)

	lo := pos - contextWindow
	if lo < 0 {
		lo = 0
	}
	hi := pos + contextWindow
	if hi > len(words)-1 {
		hi = len(words) - 1
	}

	for i := lo; i <= hi; i++ {
		w := strings.ToLower(strings.Trim(words[i], ".,;:()[]\"'?!"))
		for _, part := range parts {
			if w == part {
				return true
			}
		}
	}
	return false
}

func splitKey(key evidence.ContextKey) []string {
	raw := strings.FieldsFunc(strings.ToLower(string(key)), func(r rune) bool {
		return r == '.' || r == '/' || r == '_'
	})
	out := raw[:0]
	for _, p := range raw {
		if len(p) > 1 {
			out = append(out, p)
		}
	}
	return out
}

// yearCues appear next to a year in ordinary prose.
var yearCues = map[string]bool{
	"in": true, "since": true, "by": true, "year": true, "until": true,
	"from": true, "during": true, "before": true, "after": true,
}

// enumCues precede a small integer used as an enumeration ("top 5").
var enumCues = map[string]bool{
	"top": true, "step": true, "steps": true, "phase": true, "stage": true,
	"part": true, "chapter": true, "option": true, "number": true, "rank": true,
}

// enumFollowers are counting nouns that follow one ("3 things to know").
var enumFollowers = map[string]bool{
	"things": true, "ways": true, "items": true, "options": true,
	"points": true, "reasons": true, "parts": true, "stages": true,
	"factors": true, "examples": true,
}

// isExempt applies the fixed exemption table: small integers in
// enumeration contexts and years in contextual phrases. A currency or
// percent marker disqualifies both rules.
func isExempt(value float64, literal string, marked bool, words []string, pos int) bool {
	if marked {
		return false
	}
	isInt := value == math.Trunc(value) && !strings.Contains(literal, ".")

	// Small integers only where the surrounding text is enumeration-shaped.
	if isInt && value >= 0 && value <= 10 && enumerationContext(words, pos) {
		return true
	}

	// Years with a contextual cue word beside them.
	if isInt && value >= 1900 && value <= 2100 {
		if pos > 0 && yearCues[strings.ToLower(words[pos-1])] {
			return true
		}
		if pos+1 < len(words) {
			next := trimWord(words[pos+1])
			if next == "was" || next == "saw" || yearCues[next] {
				return true
			}
		}
	}
	return false
}

// enumerationContext checks the words beside a small integer for a list
// or counting cue.
func enumerationContext(words []string, pos int) bool {
	if pos > 0 && enumCues[trimWord(words[pos-1])] {
		return true
	}
	if pos+1 < len(words) {
		next := trimWord(words[pos+1])
		if enumCues[next] || enumFollowers[next] {
			return true
		}
	}
	return false
}

func trimWord(w string) string {
	return strings.ToLower(strings.Trim(w, ".,;:()[]\"'?!"))
}

// inVerbatimQuote reports whether the literal appears inside a quoted
// span that is itself a substring of the pack's narrative evidence.
func inVerbatimQuote(answer, literal string, pack *evidence.Pack) bool {
	if pack == nil {
		return false
	}
	for _, span := range quotedSpans(answer) {
		if !strings.Contains(span, literal) {
			continue
		}
		for _, ev := range pack.NarrativeEvidence {
			if strings.Contains(ev, span) {
				return true
			}
		}
	}
	return false
}

func quotedSpans(s string) []string {
	var spans []string
	for {
		start := strings.IndexByte(s, '"')
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start+1:], '"')
		if end < 0 {
			break
		}
		spans = append(spans, s[start+1:start+1+end])
		s = s[start+2+end:]
	}
	return spans
}

// parseNumber extracts a numeric literal from one word, tolerating
// currency signs, percent suffixes, thousands separators, and trailing
// punctuation. marked reports whether the word carried a currency or
// percent marker.
func parseNumber(word string) (literal string, value float64, marked, ok bool) {
	trimmed := strings.Trim(word, ".,;:()[]\"'?!")
	for _, sign := range []string{"$", "€", "£"} {
		if strings.HasPrefix(trimmed, sign) {
			trimmed = strings.TrimPrefix(trimmed, sign)
			marked = true
		}
	}
	if strings.HasSuffix(trimmed, "%") {
		trimmed = strings.TrimSuffix(trimmed, "%")
		marked = true
	}
	if trimmed == "" {
		return "", 0, false, false
	}

	normalized := strings.ReplaceAll(trimmed, ",", "")
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return "", 0, false, false
	}
	return trimmed, v, marked, true
}
