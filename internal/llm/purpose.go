// Package llm is the security-hardened LLM client: prompt sanitization,
// token budgeting with smart truncation, deadline-raced dispatch, circuit
// breaking, response validation, and per-call audit records.
package llm

import "time"

// Purpose names the kind of work a call performs; every purpose carries
// its own budget.
type Purpose string

const (
	PurposeCurriculumStructuring Purpose = "curriculum_structuring"
	PurposeGoalRefinement        Purpose = "goal_refinement"
	PurposeStepGeneration        Purpose = "step_generation"
	PurposeSparkCreation         Purpose = "spark_creation"
	PurposeContentSummary        Purpose = "content_summary"
	PurposeDifficultyAssessment  Purpose = "difficulty_assessment"
	PurposeTest                  Purpose = "test"
)

// Budget is the per-purpose resource envelope.
type Budget struct {
	MaxTokensInput  int           `json:"max_tokens_input"`
	MaxTokensOutput int           `json:"max_tokens_output"`
	Timeout         time.Duration `json:"timeout"`
	Priority        int           `json:"priority"`
}

// DefaultBudgets returns the per-purpose envelopes. Curriculum work gets
// the largest windows; test calls stay tiny.
func DefaultBudgets() map[Purpose]Budget {
	return map[Purpose]Budget{
		PurposeCurriculumStructuring: {MaxTokensInput: 8000, MaxTokensOutput: 4000, Timeout: 60 * time.Second, Priority: 1},
		PurposeGoalRefinement:        {MaxTokensInput: 4000, MaxTokensOutput: 2000, Timeout: 30 * time.Second, Priority: 2},
		PurposeStepGeneration:        {MaxTokensInput: 6000, MaxTokensOutput: 3000, Timeout: 45 * time.Second, Priority: 2},
		PurposeSparkCreation:         {MaxTokensInput: 3000, MaxTokensOutput: 1500, Timeout: 30 * time.Second, Priority: 3},
		PurposeContentSummary:        {MaxTokensInput: 6000, MaxTokensOutput: 1000, Timeout: 30 * time.Second, Priority: 3},
		PurposeDifficultyAssessment:  {MaxTokensInput: 2000, MaxTokensOutput: 500, Timeout: 20 * time.Second, Priority: 3},
		PurposeTest:                  {MaxTokensInput: 500, MaxTokensOutput: 200, Timeout: 10 * time.Second, Priority: 5},
	}
}

// CurriculumPurposes are the purposes whose responses run the
// hallucination detector.
func (p Purpose) RequiresHallucinationCheck() bool {
	return p == PurposeCurriculumStructuring || p == PurposeStepGeneration
}
