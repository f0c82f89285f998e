package domain

import "time"

// RequestStatus is the terminal outcome recorded for a proxied request (§3).
type RequestStatus string

const (
	StatusSuccess      RequestStatus = "Success"
	StatusClientError  RequestStatus = "ClientError"
	StatusUpstreamErr  RequestStatus = "UpstreamError"
	StatusTimeout      RequestStatus = "Timeout"
	StatusCancelled    RequestStatus = "Cancelled"
)

// RequestLog is an append-only record of one proxied request (§3). Rows are
// never mutated after insert; Cost is computed from the pricing table at
// insert time and never recomputed.
type RequestLog struct {
	RequestID           string        `json:"request_id"`
	Timestamp           time.Time     `json:"timestamp"`
	App                 App           `json:"app"`
	ProviderID          string        `json:"provider_id"`
	Model               string        `json:"model"`
	InputTokens         int64         `json:"input_tokens"`
	OutputTokens        int64         `json:"output_tokens"`
	CacheReadTokens     int64         `json:"cache_read_tokens"`
	CacheCreationTokens int64         `json:"cache_creation_tokens"`
	Cost                string        `json:"cost"`
	Status              RequestStatus `json:"status"`
	LatencyMs           int64         `json:"latency_ms"`
	HTTPStatus          int           `json:"http_status"`
}

// UsageCounters is the subset of RequestLog extracted mid-flight by the
// response handler (C7) before a full RequestLog row can be assembled.
type UsageCounters struct {
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}
