package transform

import (
	"github.com/tidwall/sjson"

	"github.com/synebula/cc-switch/internal/domain"
)

// forbiddenFields is the static per-app rule table (spec.md §4.5: "Rules
// are a static table per provider kind"). Each app's upstream wire format
// rejects a fixed set of fields the corresponding client tool sends that
// only make sense against its native backend - keyed by a fixed format name
// rather than discovered at runtime.
var forbiddenFields = map[domain.App][]string{
	domain.AppClaude:   {"metadata.user_id"},
	domain.AppCodex:    {"cache_control", "metadata"},
	domain.AppGemini:   {"cache_control", "anthropic_version"},
	domain.AppOpenCode: {"cache_control"},
}

// BodyFilter removes provider-forbidden fields from a request body before
// it is forwarded upstream.
type BodyFilter struct {
	rules map[domain.App][]string
}

// NewBodyFilter constructs a BodyFilter using the built-in static rule
// table. A custom table may be supplied for testing.
func NewBodyFilter() *BodyFilter {
	return &BodyFilter{rules: forbiddenFields}
}

// Apply strips every forbidden field registered for app from body. Fields
// that are absent are silently skipped; sjson.DeleteBytes is a no-op on a
// missing path.
func (f *BodyFilter) Apply(app domain.App, body []byte) ([]byte, error) {
	fields, ok := f.rules[app]
	if !ok {
		return body, nil
	}
	out := body
	for _, path := range fields {
		next, err := sjson.DeleteBytes(out, path)
		if err != nil {
			return body, err
		}
		out = next
	}
	return out, nil
}
