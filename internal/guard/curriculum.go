// Package guard runs the post-generation checks: fabricated resource
// references in curriculum output and numeric leaks in final answers.
package guard

import (
	"fmt"
	"net/url"
	"strings"
)

// FindingType classifies one hallucination finding.
type FindingType string

const (
	FindingFabricatedIndex FindingType = "fabricated_index"
	FindingFabricatedURL   FindingType = "fabricated_url"
	FindingSuspiciousClaim FindingType = "suspicious_claim"
)

// Severity grades a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityLow      Severity = "low"
)

// Finding is one detected problem in model output.
type Finding struct {
	Type     FindingType `json:"type"`
	Severity Severity    `json:"severity"`
	Detail   string      `json:"detail"`
}

// Report aggregates the findings for one output.
type Report struct {
	HasHallucinations bool                `json:"has_hallucinations"`
	HasCritical       bool                `json:"has_critical"`
	Findings          []Finding           `json:"findings,omitempty"`
	CountByType       map[FindingType]int `json:"count_by_type,omitempty"`
	CountBySeverity   map[Severity]int    `json:"count_by_severity,omitempty"`
}

func buildReport(findings []Finding) Report {
	r := Report{Findings: findings}
	if len(findings) == 0 {
		return r
	}
	r.HasHallucinations = true
	r.CountByType = make(map[FindingType]int)
	r.CountBySeverity = make(map[Severity]int)
	for _, f := range findings {
		r.CountByType[f.Type]++
		r.CountBySeverity[f.Severity]++
		if f.Severity == SeverityCritical {
			r.HasCritical = true
		}
	}
	return r
}

// ============================================================================
// CURRICULUM GUARD
// ============================================================================

// CurriculumStep is one step of structured curriculum output, referencing
// verified resources by 1-based index.
type CurriculumStep struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	ResourceIndices  []int  `json:"resource_indices"`
	RelatedResources []int  `json:"related_resources,omitempty"`
}

// Curriculum is the structured model output under guard.
type Curriculum struct {
	Title string           `json:"title"`
	Steps []CurriculumStep `json:"steps"`
}

// CheckCurriculum validates indices against the verified resource count
// and URLs against the verified set.
func CheckCurriculum(c Curriculum, resourceCount int, verifiedURLs []string) Report {
	verified := make(map[string]bool, len(verifiedURLs))
	for _, u := range verifiedURLs {
		verified[CanonicalizeURL(u)] = true
	}

	var findings []Finding

	for si, step := range c.Steps {
		for _, idx := range step.ResourceIndices {
			if idx < 1 || idx > resourceCount {
				findings = append(findings, Finding{
					Type:     FindingFabricatedIndex,
					Severity: SeverityCritical,
					Detail:   fmt.Sprintf("step %d references resource %d of %d", si+1, idx, resourceCount),
				})
			}
		}
		for _, idx := range step.RelatedResources {
			if idx < 1 || idx > resourceCount {
				findings = append(findings, Finding{
					Type:     FindingFabricatedIndex,
					Severity: SeverityHigh,
					Detail:   fmt.Sprintf("step %d relates to resource %d of %d", si+1, idx, resourceCount),
				})
			}
		}

		for _, text := range []string{step.Title, step.Description} {
			for _, raw := range extractURLs(text) {
				if !verified[CanonicalizeURL(raw)] {
					findings = append(findings, Finding{
						Type:     FindingFabricatedURL,
						Severity: SeverityCritical,
						Detail:   "unverified url: " + raw,
					})
				}
			}
			findings = append(findings, suspiciousClaims(text)...)
		}
	}
	for _, raw := range extractURLs(c.Title) {
		if !verified[CanonicalizeURL(raw)] {
			findings = append(findings, Finding{
				Type: FindingFabricatedURL, Severity: SeverityCritical,
				Detail: "unverified url: " + raw,
			})
		}
	}

	return buildReport(findings)
}

// extractURLs pulls http(s) tokens out of free text.
func extractURLs(text string) []string {
	var out []string
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, ".,;:()[]<>\"'")
		lower := strings.ToLower(w)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			out = append(out, w)
		}
	}
	return out
}

// claimCues are citation-shaped phrases that tend to dress up invented
// statistics.
var claimCues = []string{
	"studies show", "research proves", "research shows", "experts agree",
	"it is proven", "scientists say", "according to studies", "et al",
}

func suspiciousClaims(text string) []Finding {
	lower := strings.ToLower(text)
	var findings []Finding
	for _, cue := range claimCues {
		if strings.Contains(lower, cue) {
			findings = append(findings, Finding{
				Type:     FindingSuspiciousClaim,
				Severity: SeverityLow,
				Detail:   "citation-shaped claim: " + cue,
			})
		}
	}
	return findings
}

// CanonicalizeURL normalizes a URL for set membership: lowercased scheme
// and host, default ports and fragments dropped, trailing slash trimmed.
// Canonicalizing twice yields the same string.
func CanonicalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(strings.TrimSpace(raw)), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
