package responsehandler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/synebula/cc-switch/internal/circuitbreaker"
	"github.com/synebula/cc-switch/internal/domain"
	"github.com/synebula/cc-switch/internal/metrics"
	"github.com/synebula/cc-switch/internal/ports"
	"github.com/synebula/cc-switch/internal/providerrouter"
	"github.com/synebula/cc-switch/internal/transform"
	"github.com/synebula/cc-switch/pkg/pool"
)

// defaultMaxBufferedBytes caps the non-streaming body reader at 200 MiB
// (spec.md §4.7) so a misbehaving upstream can't exhaust memory on a single
// request.
const defaultMaxBufferedBytes = 200 * 1024 * 1024

const sseLineBufferSize = 64 * 1024

// lineBuffer is the pooled unit streamed responses copy through; line-based
// so the Thinking Rectifier can rewrite one SSE event at a time without
// buffering the whole response - sized per-line instead of per-chunk since
// rewriting requires seeing complete lines.
type lineBuffer struct {
	buf bytes.Buffer
}

func (l *lineBuffer) Reset() { l.buf.Reset() }

// Handler streams or buffers a provider's HTTP response to the client,
// extracts usage, rectifies thinking events, drives the circuit breaker,
// and always appends exactly one RequestLog row (spec.md §4.7, §7). The
// streaming tail uses a buffer-pooled copy with context-aware cancellation
// and RecordSuccess/RecordFailure outcome tracking.
type Handler struct {
	store            ports.Store
	breaker          *circuitbreaker.Breaker
	rectifier        *transform.ThinkingRectifier
	metrics          *metrics.Collector
	bufferPool       *pool.Pool[*lineBuffer]
	maxBufferedBytes int64
	logger           *slog.Logger
}

// New constructs a Handler. metricsCollector may be nil, in which case
// request/usage/circuit-state accounting is skipped.
func New(store ports.Store, breaker *circuitbreaker.Breaker, rectifier *transform.ThinkingRectifier, metricsCollector *metrics.Collector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     store,
		breaker:   breaker,
		rectifier: rectifier,
		metrics:   metricsCollector,
		bufferPool: pool.NewLitePool(func() *lineBuffer {
			return &lineBuffer{}
		}),
		maxBufferedBytes: defaultMaxBufferedBytes,
		logger:           logger,
	}
}

// isStreaming reports whether resp should be forwarded as SSE rather than
// buffered whole, per its Content-Type.
func isStreaming(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

// Handle copies resp to w, returning the RequestLog row it saved. It never
// returns an error for a well-formed upstream response - even a non-2xx
// status is a normal outcome that still produces a log row - reserving the
// error return for I/O failures while writing to the client, which the
// caller needs to know about (e.g. to avoid writing headers twice).
func (h *Handler) Handle(ctx context.Context, w http.ResponseWriter, plan providerrouter.ForwardPlan, resp *http.Response, thinkingMode transform.ThinkingMode, requestID, model string, start time.Time) (domain.RequestLog, error) {
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	acc := &UsageAccumulator{}
	var copyErr error
	if isStreaming(resp) {
		copyErr = h.streamSSE(ctx, w, resp.Body, thinkingMode, acc)
	} else {
		copyErr = h.copyBuffered(w, resp.Body, acc)
	}

	status := classifyStatus(resp.StatusCode, copyErr, ctx)
	log := h.finish(plan, requestID, model, resp.StatusCode, status, acc, start)
	return log, copyErr
}

// HandleTransportError records the outcome of a request that never produced
// an upstream response at all (dial failure, TLS error, context deadline),
// which the response path above can't see since there is no *http.Response.
func (h *Handler) HandleTransportError(ctx context.Context, plan providerrouter.ForwardPlan, requestID, model string, err error, start time.Time) domain.RequestLog {
	status := domain.StatusUpstreamErr
	if errors.Is(err, context.DeadlineExceeded) {
		status = domain.StatusTimeout
	} else if errors.Is(err, context.Canceled) {
		status = domain.StatusCancelled
	}
	return h.finish(plan, requestID, model, 0, status, &UsageAccumulator{}, start)
}

// finish records the terminal outcome of a request. It deliberately uses a
// detached context for its Store writes rather than the request's own
// context: a client disconnect or per-request timeout must never prevent
// the health update and RequestLog row it's responsible for (spec.md §7,
// §8 "exactly one RequestLog row appended, regardless of success/error/cancel").
func (h *Handler) finish(plan providerrouter.ForwardPlan, requestID, model string, httpStatus int, status domain.RequestStatus, acc *UsageAccumulator, start time.Time) domain.RequestLog {
	bg := context.Background()
	latency := time.Since(start)

	var circuitState domain.CircuitStateKind
	if isBreakerFailure(status, httpStatus) {
		circuitState = h.breaker.RecordFailure(plan.App, plan.Provider.ID)
		_ = h.store.UpdateProviderHealth(bg, plan.App, plan.Provider.ID, false, string(status))
	} else {
		circuitState = h.breaker.RecordSuccess(plan.App, plan.Provider.ID)
		_ = h.store.UpdateProviderHealth(bg, plan.App, plan.Provider.ID, true, "")
	}

	usage := domain.UsageCounters{
		InputTokens:         acc.Input,
		OutputTokens:        acc.Output,
		CacheReadTokens:     acc.CacheRead,
		CacheCreationTokens: acc.CacheCreate,
	}

	if h.metrics != nil {
		h.metrics.RecordRequest(plan.App, plan.Provider.ID, status, latency.Seconds())
		h.metrics.RecordUsage(plan.App, plan.Provider.ID, usage)
		h.metrics.SetCircuitState(plan.App, plan.Provider.ID, circuitState)
	}
	pricing, err := h.store.GetModelPricing(bg, model)
	if err != nil {
		pricing = domain.ModelPricing{ModelID: model}
	}

	log := domain.RequestLog{
		RequestID:           requestID,
		Timestamp:           start,
		App:                 plan.App,
		ProviderID:          plan.Provider.ID,
		Model:               model,
		InputTokens:         usage.InputTokens,
		OutputTokens:        usage.OutputTokens,
		CacheReadTokens:     usage.CacheReadTokens,
		CacheCreationTokens: usage.CacheCreationTokens,
		Cost:                pricing.ComputeCost(usage),
		Status:              status,
		LatencyMs:           latency.Milliseconds(),
		HTTPStatus:          httpStatus,
	}
	if saveErr := h.store.SaveRequestLog(bg, log); saveErr != nil {
		h.logger.Error("save request log failed", "error", saveErr, "request_id", requestID)
	}
	return log
}

// classifyStatus turns an upstream HTTP status (plus an optional copy
// error) into the terminal RequestStatus spec.md §3 names.
func classifyStatus(httpStatus int, copyErr error, ctx context.Context) domain.RequestStatus {
	if copyErr != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return domain.StatusCancelled
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return domain.StatusTimeout
		default:
			return domain.StatusUpstreamErr
		}
	}
	switch {
	case httpStatus >= 200 && httpStatus < 400:
		return domain.StatusSuccess
	case httpStatus == http.StatusTooManyRequests || httpStatus >= 500:
		return domain.StatusUpstreamErr
	case httpStatus >= 400:
		return domain.StatusClientError
	default:
		return domain.StatusSuccess
	}
}

// isBreakerFailure decides whether an outcome trips the circuit breaker:
// 4xx other than 429 is the caller's fault and is recorded as a success
// for the provider; 5xx, 429, and any transport-level failure count against it
// (spec.md §4.7).
func isBreakerFailure(status domain.RequestStatus, httpStatus int) bool {
	if status == domain.StatusTimeout || status == domain.StatusUpstreamErr {
		return true
	}
	if status == domain.StatusCancelled {
		return false
	}
	if httpStatus == http.StatusTooManyRequests || httpStatus >= 500 {
		return true
	}
	return false
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		if isHopByHopResponseHeader(k) {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func isHopByHopResponseHeader(header string) bool {
	switch strings.ToLower(header) {
	case "connection", "keep-alive", "transfer-encoding", "content-length":
		return true
	default:
		return false
	}
}

// copyBuffered reads the whole response (bounded by maxBufferedBytes),
// extracts usage from the final JSON body, and writes it to w unmodified -
// non-streamed responses are a single JSON document, so there is nothing
// for the Thinking Rectifier to rewrite per-event.
func (h *Handler) copyBuffered(w http.ResponseWriter, body io.Reader, acc *UsageAccumulator) error {
	limited := io.LimitReader(body, defaultMaxBufferedBytes)
	data, err := io.ReadAll(limited)
	if err != nil {
		return err
	}
	extractUsage(data, acc)
	_, err = w.Write(data)
	return err
}

// streamSSE forwards resp line by line, rewriting each "data: " payload
// through the Thinking Rectifier and accumulating usage as it passes,
// without ever buffering more than one event at a time.
func (h *Handler) streamSSE(ctx context.Context, w http.ResponseWriter, body io.Reader, mode transform.ThinkingMode, acc *UsageAccumulator) error {
	flusher, _ := w.(http.Flusher)

	lb := h.bufferPool.Get()
	defer h.bufferPool.Put(lb)

	reader := bufio.NewReaderSize(body, sseLineBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			out := h.rewriteSSELine(lb, line, mode, acc)
			if _, err := w.Write(out); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

var sseDataPrefix = []byte("data:")

// rewriteSSELine applies the Thinking Rectifier to a single SSE "data:"
// line's JSON payload and extracts usage from it, leaving non-data lines
// (event:, id:, blank separators, "[DONE]") untouched. The rewritten line
// is built in lb's reusable buffer rather than a fresh allocation per event.
func (h *Handler) rewriteSSELine(lb *lineBuffer, line []byte, mode transform.ThinkingMode, acc *UsageAccumulator) []byte {
	trimmed := bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(trimmed, sseDataPrefix) {
		return line
	}
	payload := bytes.TrimSpace(trimmed[len(sseDataPrefix):])
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return line
	}

	extractUsage(payload, acc)

	rewritten, err := h.rectifier.Rewrite(mode, payload)
	if err != nil || rewritten == nil {
		return line
	}

	lb.buf.Reset()
	lb.buf.WriteString("data: ")
	lb.buf.Write(rewritten)
	lb.buf.WriteByte('\n')
	return lb.buf.Bytes()
}
