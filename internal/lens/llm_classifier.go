package lens

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/llm"
)

const classifierPrompt = `You decide whether a user message needs live external data.
Respond with JSON only: {"needs_external_data": bool, "truth_mode": "local"|"external"|"hybrid", "primary_category": "market"|"fx"|"crypto"|"weather"|"news"|"location"|"", "confidence": "high"|"medium"|"low"}.
Conversational, opinion, and general-knowledge messages do not need external data.`

// ModelClassifier resolves low-confidence rule verdicts with a cheap
// model call through the secured client.
type ModelClassifier struct {
	llm completer
}

// NewModelClassifier wraps a completion client as a classifier fallback.
func NewModelClassifier(client completer) *ModelClassifier {
	return &ModelClassifier{llm: client}
}

type classifierVerdict struct {
	NeedsExternalData bool   `json:"needs_external_data"`
	TruthMode         string `json:"truth_mode"`
	PrimaryCategory   string `json:"primary_category"`
	Confidence        string `json:"confidence"`
}

// Classify asks the model for a verdict. Unparseable or contradictory
// answers surface as errors so the caller keeps the rule verdict.
func (m *ModelClassifier) Classify(ctx context.Context, message string) (Classification, error) {
	resp, err := m.llm.Complete(ctx, llm.Request{
		Purpose:      llm.PurposeTest,
		SystemPrompt: classifierPrompt,
		Messages:     []llm.Message{{Role: "user", Content: message}},
		ExpectedSchema: &llm.Schema{
			Type:           "object",
			RequiredFields: []string{"needs_external_data", "truth_mode", "confidence"},
		},
		Temperature: 0,
	})
	if err != nil {
		return Classification{}, err
	}

	var v classifierVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &v); err != nil {
		return Classification{}, fmt.Errorf("classifier verdict parse: %w", err)
	}

	truthMode, ok := parseTruthMode(v.TruthMode)
	if !ok {
		return Classification{}, fmt.Errorf("classifier returned unknown truth mode %q", v.TruthMode)
	}

	c := Classification{
		TruthMode:         truthMode,
		Confidence:        parseConfidence(v.Confidence),
		Method:            MethodLLM,
		NeedsExternalData: v.NeedsExternalData,
	}
	if c.NeedsExternalData {
		c.DataType = DataRealtime
	} else {
		c.DataType = DataNone
	}
	if cat := core.Category(v.PrimaryCategory); v.PrimaryCategory != "" && knownCategory(cat) {
		c.PrimaryCategory = cat
		c.Categories = []core.Category{cat}
	}
	return c, nil
}

func parseTruthMode(s string) (core.TruthMode, bool) {
	switch core.TruthMode(s) {
	case core.TruthLocal, core.TruthExternal, core.TruthHybrid:
		return core.TruthMode(s), true
	}
	return "", false
}

func parseConfidence(s string) Confidence {
	switch Confidence(s) {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return Confidence(s)
	}
	return ConfidenceLow
}

func knownCategory(c core.Category) bool {
	switch c {
	case core.CategoryMarket, core.CategoryFX, core.CategoryCrypto,
		core.CategoryWeather, core.CategoryNews, core.CategoryLocation:
		return true
	}
	return false
}
