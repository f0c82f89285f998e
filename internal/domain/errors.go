package domain

import (
	"fmt"
	"net/http"
)

// ErrorKind enumerates the §7 error taxonomy for the proxy hot path.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrNoProviderConfigured
	ErrProxyDisabledForApp
	ErrCircuitOpen
	ErrUpstreamUnavailable
	ErrUpstreamTimeout
	ErrUpstreamStatus
	ErrBadRequest
	ErrInternal
)

// HTTPStatus maps an ErrorKind to the response status the proxy server
// writes to the client (§7).
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrNoProviderConfigured:
		return http.StatusServiceUnavailable
	case ErrProxyDisabledForApp:
		return http.StatusForbidden
	case ErrUpstreamUnavailable:
		return http.StatusBadGateway
	case ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RouteError is the single error type threaded through the provider router
// and response handler; it carries enough context to both log and answer
// the client without re-deriving the HTTP status from scratch each time.
type RouteError struct {
	Kind       ErrorKind
	App        App
	ProviderID string
	UpstreamStatus int
	Err        error
}

func (e *RouteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s[%s/%s]: %v", e.kindLabel(), e.App, e.ProviderID, e.Err)
	}
	return fmt.Sprintf("%s[%s/%s]", e.kindLabel(), e.App, e.ProviderID)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

func (e *RouteError) kindLabel() string {
	switch e.Kind {
	case ErrNoProviderConfigured:
		return "NoProviderConfigured"
	case ErrProxyDisabledForApp:
		return "ProxyDisabledForApp"
	case ErrCircuitOpen:
		return "CircuitOpen"
	case ErrUpstreamUnavailable:
		return "UpstreamUnavailable"
	case ErrUpstreamTimeout:
		return "UpstreamTimeout"
	case ErrUpstreamStatus:
		return "UpstreamError"
	case ErrBadRequest:
		return "BadRequest"
	default:
		return "Internal"
	}
}

// NewRouteError constructs a RouteError, the idiomatic way components in
// this codebase wrap a low-level cause with routing context.
func NewRouteError(kind ErrorKind, app App, providerID string, err error) *RouteError {
	return &RouteError{Kind: kind, App: app, ProviderID: providerID, Err: err}
}

// StoreError wraps a storage-layer failure with the operation that failed.
type StoreError struct {
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s failed: %v", e.Operation, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func NewStoreError(operation string, err error) *StoreError {
	return &StoreError{Operation: operation, Err: err}
}

// ConfigValidationError reports a malformed configuration value.
type ConfigValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s=%v: %s", e.Field, e.Value, e.Reason)
}
