package lens

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/llm"
)

type cannedCompleter struct {
	content string
	err     error
	lastReq llm.Request
}

func (c *cannedCompleter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	c.lastReq = req
	if c.err != nil {
		return llm.Response{}, c.err
	}
	return llm.Response{Content: c.content, SchemaValid: true}, nil
}

func TestModelClassifier_ParsesVerdict(t *testing.T) {
	cc := &cannedCompleter{content: `{"needs_external_data": true, "truth_mode": "external", "primary_category": "market", "confidence": "high"}`}
	mc := NewModelClassifier(cc)

	c, err := mc.Classify(context.Background(), "how are stocks doing")

	require.NoError(t, err)
	assert.True(t, c.NeedsExternalData)
	assert.Equal(t, core.TruthExternal, c.TruthMode)
	assert.Equal(t, core.CategoryMarket, c.PrimaryCategory)
	assert.Equal(t, ConfidenceHigh, c.Confidence)
	assert.Equal(t, MethodLLM, c.Method)
	assert.Equal(t, llm.PurposeTest, cc.lastReq.Purpose)
	require.NotNil(t, cc.lastReq.ExpectedSchema)
}

func TestModelClassifier_LocalVerdict(t *testing.T) {
	cc := &cannedCompleter{content: `{"needs_external_data": false, "truth_mode": "local", "primary_category": "", "confidence": "medium"}`}
	mc := NewModelClassifier(cc)

	c, err := mc.Classify(context.Background(), "what do you think about poetry")

	require.NoError(t, err)
	assert.False(t, c.NeedsExternalData)
	assert.Equal(t, DataNone, c.DataType)
	assert.Empty(t, c.PrimaryCategory)
}

func TestModelClassifier_BadVerdicts(t *testing.T) {
	mc := NewModelClassifier(&cannedCompleter{content: "not json"})
	_, err := mc.Classify(context.Background(), "anything")
	assert.Error(t, err)

	mc = NewModelClassifier(&cannedCompleter{content: `{"needs_external_data": true, "truth_mode": "galactic", "confidence": "high"}`})
	_, err = mc.Classify(context.Background(), "anything")
	assert.Error(t, err)
}

func TestClassifier_UsesModelFallbackEndToEnd(t *testing.T) {
	cc := &cannedCompleter{content: `{"needs_external_data": true, "truth_mode": "external", "primary_category": "news", "confidence": "high"}`}
	classifier := NewClassifier(NewModelClassifier(cc))

	// Keyword-only messages are low confidence and consult the fallback.
	c := classifier.Classify(context.Background(), "is the market open?")

	assert.Equal(t, MethodHybrid, c.Method)
	assert.True(t, c.NeedsExternalData)
}
