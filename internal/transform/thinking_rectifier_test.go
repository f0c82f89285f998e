package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestThinkingRectifier_PassthroughLeavesEventUnchanged(t *testing.T) {
	r := NewThinkingRectifier()
	in := []byte(`{"delta":{"type":"thinking_delta","thinking":"hm"}}`)
	out, err := r.Rewrite(ThinkingPassthrough, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestThinkingRectifier_AnthropicShapeToXMLTags(t *testing.T) {
	r := NewThinkingRectifier()
	in := []byte(`{"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"considering"}}`)

	out, err := r.Rewrite(ThinkingXMLTags, in)
	require.NoError(t, err)
	assert.Equal(t, "text_delta", gjson.GetBytes(out, "delta.type").String())
	assert.Equal(t, "<thinking>considering</thinking>", gjson.GetBytes(out, "delta.text").String())
	assert.False(t, gjson.GetBytes(out, "delta.thinking").Exists())
}

func TestThinkingRectifier_OpenAIShapeToReasoningField(t *testing.T) {
	r := NewThinkingRectifier()
	in := []byte(`{"choices":[{"delta":{"reasoning_content":"step one"}}]}`)

	out, err := r.Rewrite(ThinkingReasoningField, in)
	require.NoError(t, err)
	assert.Equal(t, "step one", gjson.GetBytes(out, "choices.0.delta.reasoning_content").String())
}

func TestThinkingRectifier_CrossShapeRewrite(t *testing.T) {
	r := NewThinkingRectifier()
	in := []byte(`{"delta":{"type":"thinking_delta","thinking":"mid-thought"}}`)

	out, err := r.Rewrite(ThinkingReasoningField, in)
	require.NoError(t, err)
	assert.Equal(t, "mid-thought", gjson.GetBytes(out, "choices.0.delta.reasoning_content").String())
	assert.False(t, gjson.GetBytes(out, "delta.thinking").Exists())
}

func TestThinkingRectifier_NoThinkingContentIsNoOp(t *testing.T) {
	r := NewThinkingRectifier()
	in := []byte(`{"choices":[{"delta":{"content":"hello"}}]}`)
	out, err := r.Rewrite(ThinkingXMLTags, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
