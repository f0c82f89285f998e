package transform

import "github.com/synebula/cc-switch/internal/domain"

// Pipeline bundles the three C5 transforms behind one call per request,
// mirroring a converter-factory registering every provider-format handler
// behind a single lookup.
type Pipeline struct {
	Mapper    *ModelMapper
	Filter    *BodyFilter
	Rectifier *ThinkingRectifier
}

// NewPipeline wires the default stateless transforms together.
func NewPipeline() *Pipeline {
	return &Pipeline{
		Mapper:    NewModelMapper(),
		Filter:    NewBodyFilter(),
		Rectifier: NewThinkingRectifier(),
	}
}

// ApplyRequest runs the Model Mapper then the Body Filter over a request
// body before it is forwarded upstream.
func (p *Pipeline) ApplyRequest(app domain.App, body []byte, modelOverrides map[string]string) ([]byte, error) {
	mapped, _, err := p.Mapper.Apply(body, modelOverrides)
	if err != nil {
		return body, err
	}
	return p.Filter.Apply(app, mapped)
}

// RewriteThinkingEvent runs the Thinking Rectifier over a single SSE event
// payload for app under the given mode.
func (p *Pipeline) RewriteThinkingEvent(mode ThinkingMode, eventData []byte) ([]byte, error) {
	return p.Rectifier.Rewrite(mode, eventData)
}
