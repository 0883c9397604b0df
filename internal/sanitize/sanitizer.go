// Package sanitize normalizes untrusted prompt text and detects injection
// attempts with a token-based matcher. No regular expressions ever run on
// user text here: matching is O(tokens × patterns) with hard ceilings on
// both input size and token count.
package sanitize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Hard ceilings for matcher complexity.
const (
	MaxInputChars = 50000
	MaxTokens     = 500
)

// Severity ranks how dangerous a pattern hit is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category is one of the eight suspicious-pattern classes.
type Category string

const (
	CatRoleManipulation    Category = "role_manipulation"
	CatInstructionOverride Category = "instruction_override"
	CatSystemInjection     Category = "system_injection"
	CatJailbreak           Category = "jailbreak"
	CatDataExfiltration    Category = "data_exfiltration"
	CatUnicodeAbuse        Category = "unicode_abuse"
	CatPromptLeaking       Category = "prompt_leaking"
	CatResourceFabrication Category = "resource_fabrication"
)

// MatchMode selects how each pattern token compares against an input token.
type MatchMode string

const (
	ModeExact    MatchMode = "exact"
	ModePrefix   MatchMode = "prefix"
	ModeContains MatchMode = "contains"
)

// Pattern is one entry in the fixed detection catalogue. Tokens must match
// consecutively in the input token stream under the pattern's mode.
type Pattern struct {
	Name        string
	Tokens      []string
	Mode        MatchMode
	Category    Category
	Severity    Severity
	Weight      float64
	ShouldBlock bool
}

// Match records a single pattern hit.
type Match struct {
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Weight      float64  `json:"weight"`
	ShouldBlock bool     `json:"should_block"`
	TokenIndex  int      `json:"token_index"`
}

// Result is the outcome of sanitizing one piece of text.
type Result struct {
	Sanitized   string  `json:"sanitized"`
	WasModified bool    `json:"was_modified"`
	Truncated   bool    `json:"truncated"`
	ShouldBlock bool    `json:"should_block"`
	RiskScore   float64 `json:"risk_score"`
	Matches     []Match `json:"matches,omitempty"`
}

// PatternNames lists the distinct pattern names that hit, for audit records.
func (r Result) PatternNames() []string {
	seen := make(map[string]bool, len(r.Matches))
	names := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		if !seen[m.Name] {
			seen[m.Name] = true
			names = append(names, m.Name)
		}
	}
	return names
}

// Sanitizer holds the compiled catalogue.
type Sanitizer struct {
	patterns []Pattern
}

// New builds a sanitizer over the default catalogue.
func New() *Sanitizer {
	return &Sanitizer{patterns: DefaultPatterns()}
}

// NewWithPatterns builds a sanitizer over a custom catalogue (tests).
func NewWithPatterns(patterns []Pattern) *Sanitizer {
	return &Sanitizer{patterns: patterns}
}

// Sanitize normalizes the input and scans it against the catalogue.
func (s *Sanitizer) Sanitize(input string) Result {
	cleaned, modified, truncated := Normalize(input)

	res := Result{
		Sanitized:   cleaned,
		WasModified: modified,
		Truncated:   truncated,
	}

	// Unicode abuse is detected on the raw input: the abuse characters are
	// exactly what normalization strips.
	if abuse := detectUnicodeAbuse(input); abuse != nil {
		res.Matches = append(res.Matches, *abuse)
	}

	tokens := Tokenize(cleaned)
	for _, p := range s.patterns {
		if idx, ok := matchPattern(tokens, p); ok {
			res.Matches = append(res.Matches, Match{
				Name:        p.Name,
				Category:    p.Category,
				Severity:    p.Severity,
				Weight:      p.Weight,
				ShouldBlock: p.ShouldBlock,
				TokenIndex:  idx,
			})
		}
	}

	for _, m := range res.Matches {
		res.RiskScore += m.Weight
		if m.ShouldBlock && (m.Severity == SeverityCritical || m.Severity == SeverityHigh) {
			res.ShouldBlock = true
		}
	}

	return res
}

// Normalize applies NFC, strips null bytes and control characters other
// than \t and \n, and enforces the input length ceiling. Returns the
// cleaned text plus whether anything changed or was cut.
func Normalize(input string) (cleaned string, modified bool, truncated bool) {
	if len(input) > MaxInputChars {
		input = input[:MaxInputChars]
		// Avoid splitting a rune at the cut point.
		for len(input) > 0 && !isRuneStart(input[len(input)-1]) {
			input = input[:len(input)-1]
		}
		truncated = true
	}

	normalized := norm.NFC.String(input)

	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if r == 0 {
			continue
		}
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			continue
		}
		if isInvisible(r) {
			continue
		}
		b.WriteRune(r)
	}

	cleaned = b.String()
	modified = truncated || cleaned != input
	return cleaned, modified, truncated
}

// Tokenize lowercases and splits on anything that is not a letter, digit,
// or one of the joining characters that matter inside identifiers.
// Output is capped at MaxTokens.
func Tokenize(text string) []string {
	text = strings.ToLower(text)

	tokens := strings.FieldsFunc(text, func(r rune) bool {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
		return r != '_' && r != '-' && r != '.'
	})

	if len(tokens) > MaxTokens {
		tokens = tokens[:MaxTokens]
	}
	return tokens
}

// matchPattern looks for the pattern's token sequence as consecutive input
// tokens under the pattern's comparison mode. Returns the start index.
func matchPattern(tokens []string, p Pattern) (int, bool) {
	if len(p.Tokens) == 0 || len(tokens) < len(p.Tokens) {
		return 0, false
	}

	for start := 0; start+len(p.Tokens) <= len(tokens); start++ {
		matched := true
		for i, want := range p.Tokens {
			if !tokenMatches(tokens[start+i], want, p.Mode) {
				matched = false
				break
			}
		}
		if matched {
			return start, true
		}
	}
	return 0, false
}

func tokenMatches(got, want string, mode MatchMode) bool {
	switch mode {
	case ModePrefix:
		return strings.HasPrefix(got, want)
	case ModeContains:
		return strings.Contains(got, want)
	default:
		return got == want
	}
}

// detectUnicodeAbuse flags inputs with enough invisible or bidi-control
// characters to suggest deliberate obfuscation.
func detectUnicodeAbuse(raw string) *Match {
	count := 0
	for _, r := range raw {
		if isInvisible(r) || isBidiControl(r) {
			count++
		}
	}
	if count < 3 {
		return nil
	}
	return &Match{
		Name:        "unicode_invisible_chars",
		Category:    CatUnicodeAbuse,
		Severity:    SeverityHigh,
		Weight:      0.8,
		ShouldBlock: true,
	}
}

func isInvisible(r rune) bool {
	switch r {
	case '\u200b', // zero width space
		'\u200c', // zero width non-joiner
		'\u200d', // zero width joiner
		'\u2060', // word joiner
		'\ufeff', // BOM / zero width no-break space
		'\u00ad': // soft hyphen
		return true
	}
	return false
}

func isBidiControl(r rune) bool {
	return (r >= '\u202a' && r <= '\u202e') || (r >= '\u2066' && r <= '\u2069')
}

// isRuneStart reports whether b can begin a UTF-8 encoded rune.
func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
