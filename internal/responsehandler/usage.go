// Package responsehandler implements C7 (spec.md §4.7): streaming and
// buffered response forwarding, usage-token extraction, thinking
// rectification, and the RequestLog write every proxied request always
// produces exactly one of. Usage extraction uses gjson's single-field
// extraction style to stay off a full unmarshal on the hot path.
package responsehandler

import "github.com/tidwall/gjson"

// extractUsage scans a JSON response/chunk body for one of the named usage
// shapes spec.md §4.7 lists: Anthropic/OpenAI's "usage.{input,output,
// cache_*}_tokens" and Gemini's "usageMetadata.*TokenCount". Fields already
// populated in acc are never zeroed by a later, absent shape - SSE usage
// frequently arrives as a single terminal event, so accumulation must
// survive chunks that carry no usage object at all.
func extractUsage(body []byte, acc *UsageAccumulator) {
	if usage := gjson.GetBytes(body, "usage"); usage.Exists() {
		acc.addIfPresent(usage, "input_tokens", "output_tokens", "cache_read_input_tokens", "cache_creation_input_tokens")
		acc.addIfPresent(usage, "prompt_tokens", "completion_tokens", "", "")
		return
	}
	if meta := gjson.GetBytes(body, "usageMetadata"); meta.Exists() {
		acc.Input = maxInt64(acc.Input, meta.Get("promptTokenCount").Int())
		acc.Output = maxInt64(acc.Output, meta.Get("candidatesTokenCount").Int())
		acc.CacheRead = maxInt64(acc.CacheRead, meta.Get("cachedContentTokenCount").Int())
	}
}

// UsageAccumulator tracks the highest usage counters seen across a
// streamed response's events, since upstreams commonly resend cumulative
// totals rather than deltas.
type UsageAccumulator struct {
	Input       int64
	Output      int64
	CacheRead   int64
	CacheCreate int64
}

func (acc *UsageAccumulator) addIfPresent(usage gjson.Result, inputKey, outputKey, cacheReadKey, cacheCreateKey string) {
	if v := usage.Get(inputKey); v.Exists() {
		acc.Input = maxInt64(acc.Input, v.Int())
	}
	if v := usage.Get(outputKey); v.Exists() {
		acc.Output = maxInt64(acc.Output, v.Int())
	}
	if cacheReadKey != "" {
		if v := usage.Get(cacheReadKey); v.Exists() {
			acc.CacheRead = maxInt64(acc.CacheRead, v.Int())
		}
	}
	if cacheCreateKey != "" {
		if v := usage.Get(cacheCreateKey); v.Exists() {
			acc.CacheCreate = maxInt64(acc.CacheCreate, v.Int())
		}
	}
}

func maxInt64(a, b int64) int64 {
	if b > a {
		return b
	}
	return a
}
