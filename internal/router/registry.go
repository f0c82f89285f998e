// Package router provides the control-plane's route table: a thin registry
// over http.ServeMux that remembers registration order so the startup log
// can print routes in the sequence they were declared. No path-prefix
// stripping here - cc-switch's control plane has no path prefixes to strip.
package router

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/pterm/pterm"

	"github.com/synebula/cc-switch/internal/logger"
)

// RouteInfo describes one registered control-plane route.
type RouteInfo struct {
	Handler     http.HandlerFunc
	Description string
	Method      string
	Order       int
}

// RouteRegistry collects routes before wiring them onto a ServeMux, so the
// wire-up step can also print a human-readable table of what it registered.
type RouteRegistry struct {
	routes   map[string]RouteInfo
	logger   *logger.StyledLogger
	orderSeq int
}

// NewRouteRegistry constructs an empty RouteRegistry.
func NewRouteRegistry(styled *logger.StyledLogger) *RouteRegistry {
	return &RouteRegistry{
		routes: make(map[string]RouteInfo),
		logger: styled,
	}
}

// Register adds a GET route.
func (r *RouteRegistry) Register(route string, handler http.HandlerFunc, description string) {
	r.RegisterWithMethod(route, handler, description, http.MethodGet)
}

// RegisterWithMethod adds a route under an explicit HTTP method.
func (r *RouteRegistry) RegisterWithMethod(route string, handler http.HandlerFunc, description, method string) {
	r.routes[method+" "+route] = RouteInfo{
		Handler:     handler,
		Description: description,
		Method:      method,
		Order:       r.orderSeq,
	}
	r.orderSeq++
}

// WireUp registers every route onto mux and logs the resulting table.
func (r *RouteRegistry) WireUp(mux *http.ServeMux) {
	for pattern, info := range r.routes {
		mux.HandleFunc(pattern, info.Handler)
	}
	r.logRoutesTable()
}

func (r *RouteRegistry) logRoutesTable() {
	if len(r.routes) == 0 || r.logger == nil {
		return
	}

	type routeEntry struct {
		pattern string
		method  string
		desc    string
		order   int
	}

	entries := make([]routeEntry, 0, len(r.routes))
	for pattern, info := range r.routes {
		entries = append(entries, routeEntry{pattern: pattern, method: info.Method, desc: info.Description, order: info.Order})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	tableData := [][]string{{"ROUTE", "METHOD", "DESCRIPTION"}}
	for _, entry := range entries {
		tableData = append(tableData, []string{entry.pattern, entry.method, entry.desc})
	}

	r.logger.InfoWithCount("Registered control-plane routes", len(entries))
	tableString, _ := pterm.DefaultTable.WithHasHeader().WithData(tableData).Srender()
	fmt.Print(tableString)
}

// GetRoutes exposes the registered route table, mainly for tests.
func (r *RouteRegistry) GetRoutes() map[string]RouteInfo {
	return r.routes
}
