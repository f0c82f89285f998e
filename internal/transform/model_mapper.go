// Package transform implements C5: the Model Mapper, Body Filter and
// Thinking Rectifier (spec.md §4.5). A registry-per-kind pattern backs the
// Body Filter's static rule table, and gjson's single-field-extraction
// style keeps the request/response hot path off a full unmarshal.
// github.com/tidwall/sjson is gjson's natural write-side counterpart for
// field-level body mutation.
package transform

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ModelMapper rewrites a request body's top-level "model" field from the
// client-facing name to the name the upstream provider expects. Missing
// entries pass through unchanged; response bodies are never reverse-mapped
// (spec.md §4.5 - clients ignore the upstream's echoed model id).
type ModelMapper struct{}

// NewModelMapper constructs a stateless ModelMapper.
func NewModelMapper() *ModelMapper { return &ModelMapper{} }

// Apply rewrites body's "model" field per overrides, returning the
// (possibly unchanged) body and whether a rewrite happened.
func (m *ModelMapper) Apply(body []byte, overrides map[string]string) ([]byte, bool, error) {
	if len(overrides) == 0 {
		return body, false, nil
	}
	clientModel := gjson.GetBytes(body, "model")
	if !clientModel.Exists() {
		return body, false, nil
	}
	upstreamModel, ok := overrides[clientModel.String()]
	if !ok || upstreamModel == clientModel.String() {
		return body, false, nil
	}
	out, err := sjson.SetBytes(body, "model", upstreamModel)
	if err != nil {
		return body, false, err
	}
	return out, true, nil
}
