// Package controlplane implements the thin HTTP surface of spec.md §6:
// GET /health, POST /invoke (a named-command registry dispatching into C9),
// and GET /events (an SSE feed of provider-switched notifications). Command
// dispatch is a small registry of named handlers calling straight into C9 -
// no SPA serving, no multi-backend routing, deliberately minimal.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/synebula/cc-switch/internal/domain"
	"github.com/synebula/cc-switch/internal/events"
	"github.com/synebula/cc-switch/internal/proxyservice"
)

// CommandFunc handles one named /invoke command against raw JSON args.
type CommandFunc func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Registry maps command names to handlers. Unknown commands are a 400
// BadRequest at the HTTP layer (spec.md §6), not a registry concern.
type Registry struct {
	commands map[string]CommandFunc
}

// NewRegistry builds the full command set bound to svc, the C9 facade.
func NewRegistry(svc *proxyservice.Service) *Registry {
	r := &Registry{commands: make(map[string]CommandFunc)}

	r.register("start", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return nil, svc.Start(ctx)
	})
	r.register("stop", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return nil, svc.Stop(ctx)
	})
	r.register("stop_with_restore", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return nil, svc.StopWithRestore(ctx)
	})
	r.register("is_running", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return map[string]bool{"running": svc.IsRunning()}, nil
	})
	r.register("get_status", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return svc.GetStatus(ctx)
	})
	r.register("get_takeover_status", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req struct {
			App domain.App `json:"app"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		enabled, err := svc.GetTakeoverStatus(ctx, req.App)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"enabled": enabled}, nil
	})
	r.register("set_takeover_for_app", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req struct {
			App     domain.App `json:"app"`
			Enabled bool       `json:"enabled"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		return nil, svc.SetTakeoverForApp(ctx, req.App, req.Enabled)
	})
	r.register("set_auto_failover_enabled", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req struct {
			App     domain.App `json:"app"`
			Enabled bool       `json:"enabled"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		return nil, svc.SetAutoFailoverEnabled(ctx, req.App, req.Enabled)
	})
	r.register("switch_proxy_target", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req struct {
			App        domain.App `json:"app"`
			ProviderID string     `json:"provider_id"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		switched, err := svc.SwitchProxyTarget(ctx, req.App, req.ProviderID, events.ReasonManual)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"switched": switched}, nil
	})
	r.register("reset_provider_circuit_breaker", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req struct {
			App        domain.App `json:"app"`
			ProviderID string     `json:"provider_id"`
		}
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		return nil, svc.ResetProviderCircuitBreaker(ctx, req.App, req.ProviderID)
	})
	r.register("update_circuit_breaker_configs", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var cfg domain.CircuitBreakerConfig
		if err := unmarshalArgs(args, &cfg); err != nil {
			return nil, err
		}
		svc.UpdateCircuitBreakerConfigs(cfg)
		return nil, nil
	})

	return r
}

func (r *Registry) register(name string, fn CommandFunc) {
	r.commands[name] = fn
}

// Dispatch looks up and runs a named command, returning ErrUnknownCommand
// for anything not registered.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	fn, ok := r.commands[name]
	if !ok {
		return nil, &ErrUnknownCommand{Name: name}
	}
	return fn(ctx, args)
}

// ErrUnknownCommand is returned for an /invoke call naming a command the
// registry never registered.
type ErrUnknownCommand struct {
	Name string
}

func (e *ErrUnknownCommand) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

func unmarshalArgs(args json.RawMessage, dst interface{}) error {
	if len(args) == 0 {
		return fmt.Errorf("missing args")
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	return nil
}
