package transform

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ThinkingMode selects the envelope a client tool expects reasoning/
// "thinking" content in. main.go maps each app to one of these with a fixed
// rule (Claude gets ThinkingXMLTags, every other app ThinkingPassthrough);
// domain.GlobalProxyConfig.RectifierConfig is not read.
type ThinkingMode string

const (
	// ThinkingPassthrough forwards the upstream's thinking shape unchanged.
	ThinkingPassthrough ThinkingMode = "passthrough"
	// ThinkingXMLTags wraps thinking text in a <thinking>...</thinking>
	// text delta, the shape Claude Code's older renderers expect.
	ThinkingXMLTags ThinkingMode = "xml_tags"
	// ThinkingReasoningField rewrites thinking content into a top-level
	// reasoning_content delta field, the shape OpenAI-compatible CLIs read.
	ThinkingReasoningField ThinkingMode = "reasoning_field"
)

// ThinkingRectifier rewrites one SSE event payload's thinking/reasoning
// content into the target client's expected envelope (spec.md §4.5).
// Operates on a single already-framed event body; it never buffers or
// reorders events, so partial-word streaming remains byte-for-byte
// incremental across the rewrite.
type ThinkingRectifier struct{}

// NewThinkingRectifier constructs a stateless ThinkingRectifier.
func NewThinkingRectifier() *ThinkingRectifier { return &ThinkingRectifier{} }

// Rewrite inspects eventData for a known upstream thinking/reasoning shape
// and re-encodes it per mode. If no thinking content is present, or mode is
// ThinkingPassthrough, eventData is returned unchanged.
func (r *ThinkingRectifier) Rewrite(mode ThinkingMode, eventData []byte) ([]byte, error) {
	if mode == ThinkingPassthrough || mode == "" {
		return eventData, nil
	}

	text, path, found := extractThinkingText(eventData)
	if !found {
		return eventData, nil
	}

	switch mode {
	case ThinkingXMLTags:
		return rewriteAsXMLTags(eventData, path, text)
	case ThinkingReasoningField:
		return rewriteAsReasoningField(eventData, path, text)
	default:
		return eventData, nil
	}
}

// extractThinkingText recognises the two upstream thinking shapes this
// proxy has seen in practice: Anthropic's content_block_delta
// thinking_delta, and an OpenAI-compatible choices[].delta.reasoning_content
// field. It returns the extracted text, the gjson path it came from, and
// whether anything was found.
func extractThinkingText(eventData []byte) (text string, path string, found bool) {
	if t := gjson.GetBytes(eventData, "delta.thinking"); t.Exists() && gjson.GetBytes(eventData, "delta.type").String() == "thinking_delta" {
		return t.String(), "delta.thinking", true
	}
	if t := gjson.GetBytes(eventData, "choices.0.delta.reasoning_content"); t.Exists() {
		return t.String(), "choices.0.delta.reasoning_content", true
	}
	if t := gjson.GetBytes(eventData, "thinking"); t.Exists() {
		return t.String(), "thinking", true
	}
	return "", "", false
}

func rewriteAsXMLTags(eventData []byte, sourcePath, text string) ([]byte, error) {
	switch sourcePath {
	case "delta.thinking":
		out, err := sjson.SetBytes(eventData, "delta.type", "text_delta")
		if err != nil {
			return eventData, err
		}
		out, err = sjson.SetBytes(out, "delta.text", "<thinking>"+text+"</thinking>")
		if err != nil {
			return eventData, err
		}
		return sjson.DeleteBytes(out, "delta.thinking")
	case "choices.0.delta.reasoning_content":
		out, err := sjson.SetBytes(eventData, "choices.0.delta.content", "<thinking>"+text+"</thinking>")
		if err != nil {
			return eventData, err
		}
		return sjson.DeleteBytes(out, "choices.0.delta.reasoning_content")
	default:
		return sjson.SetBytes(eventData, sourcePath, "<thinking>"+text+"</thinking>")
	}
}

func rewriteAsReasoningField(eventData []byte, sourcePath, text string) ([]byte, error) {
	if sourcePath == "choices.0.delta.reasoning_content" {
		return eventData, nil
	}
	out, err := sjson.SetBytes(eventData, "choices.0.delta.reasoning_content", text)
	if err != nil {
		return eventData, err
	}
	if sourcePath == "delta.thinking" {
		out, err = sjson.DeleteBytes(out, "delta.thinking")
		if err != nil {
			return eventData, err
		}
		return sjson.DeleteBytes(out, "delta.type")
	}
	return sjson.DeleteBytes(out, sourcePath)
}
