// Package proxyservice implements C9 (spec.md §4.9): the facade that wraps
// the data-plane Server with lifecycle management, the per-app takeover
// state machine, and the switch_proxy_target entry point used by manual
// control-plane requests and by circuit-breaker resets. Automatic failover
// on a circuit trip does not pass through it: the provider router calls
// failover.Switcher.TrySwitch directly and publishes its own event. Built around a
// Name/Start/Stop/Dependencies wrapper-over-lifecycle pattern adapted to
// cc-switch's single proxyserver.Server plus per-app live-config takeover
// bookkeeping.
package proxyservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/synebula/cc-switch/internal/circuitbreaker"
	"github.com/synebula/cc-switch/internal/domain"
	"github.com/synebula/cc-switch/internal/events"
	"github.com/synebula/cc-switch/internal/failover"
	"github.com/synebula/cc-switch/internal/ports"
	"github.com/synebula/cc-switch/internal/proxyserver"
)

// AppStatus is the per-app slice of Status.
type AppStatus struct {
	Enabled           bool
	CurrentProviderID string
	CircuitState      domain.CircuitStateKind
}

// Status is the snapshot returned by get_status (spec.md §4.9).
type Status struct {
	Running       bool
	ListenAddress string
	ListenPort    int
	Apps          map[domain.App]AppStatus
}

// Service is the C9 facade.
type Service struct {
	server     *proxyserver.Server
	store      ports.Store
	breaker    *circuitbreaker.Breaker
	switcher   *failover.Switcher
	liveConfig ports.LiveConfigAdapter
	bus        *events.Bus
	logger     *slog.Logger

	cfg Config

	mu             sync.Mutex
	running        bool
	startedEnabled map[domain.App]bool
}

// Config carries the listener address the facade reports in get_status;
// the actual bind happens inside the wrapped proxyserver.Server.
type Config struct {
	ListenAddress string
	ListenPort    int
}

// New constructs a Service. liveConfig may be nil (takeover push/restore is
// then skipped, matching failover.Switcher's own nil-tolerance).
func New(cfg Config, server *proxyserver.Server, store ports.Store, breaker *circuitbreaker.Breaker, switcher *failover.Switcher, liveConfig ports.LiveConfigAdapter, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		server:     server,
		store:      store,
		breaker:    breaker,
		switcher:   switcher,
		liveConfig: liveConfig,
		bus:        bus,
		logger:     logger.With("component", "proxyservice"),
		cfg:        cfg,
	}
}

// Name identifies this service in a startup dependency graph.
func (s *Service) Name() string { return "proxy" }

// Dependencies lists the services that must be ready before Start runs.
func (s *Service) Dependencies() []string { return []string{"store"} }

// Start binds the data-plane listener and snapshots which apps had
// takeover enabled at boot, so a later StopWithRestore knows which of them
// to hand back to their device-level config file.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.startedEnabled = make(map[domain.App]bool)
	for _, app := range domain.AllApps() {
		cfg, err := s.store.GetAppProxyConfig(ctx, app)
		if err != nil {
			s.logger.Warn("failed to read app proxy config at startup", "app", app, "error", err)
			continue
		}
		s.startedEnabled[app] = cfg.Enabled
	}

	if err := s.server.Start(ctx); err != nil {
		return fmt.Errorf("proxyservice: start: %w", err)
	}
	s.running = true
	return nil
}

// Stop shuts down the listener without touching any app's external
// settings file - a plain restart, not a takeover release.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	if err := s.server.Stop(ctx); err != nil {
		return fmt.Errorf("proxyservice: stop: %w", err)
	}
	s.running = false
	return nil
}

// StopWithRestore shuts down the listener and, for every app that had
// takeover enabled when Start ran, restores its device-level settings file
// from the live_backup captured at enable time (spec.md §4.8
// stop_with_restore). Apps that were never enabled are left untouched.
func (s *Service) StopWithRestore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		if err := s.server.Stop(ctx); err != nil {
			return fmt.Errorf("proxyservice: stop: %w", err)
		}
		s.running = false
	}

	if s.liveConfig == nil {
		return nil
	}
	for app, wasEnabled := range s.startedEnabled {
		if !wasEnabled {
			continue
		}
		backup, ok, err := s.store.GetLiveBackup(ctx, app)
		if err != nil {
			s.logger.Warn("failed to read live backup for restore", "app", app, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := s.liveConfig.Restore(ctx, app, []byte(backup)); err != nil {
			s.logger.Warn("failed to restore live config on shutdown", "app", app, "error", err)
		}
	}
	return nil
}

// IsRunning reports whether the data-plane listener is currently accepting
// connections.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetStatus reports the listener state plus every app's current takeover
// and provider standing.
func (s *Service) GetStatus(ctx context.Context) (Status, error) {
	status := Status{
		Running:       s.IsRunning(),
		ListenAddress: s.cfg.ListenAddress,
		ListenPort:    s.cfg.ListenPort,
		Apps:          make(map[domain.App]AppStatus, len(domain.AllApps())),
	}

	for _, app := range domain.AllApps() {
		cfg, err := s.store.GetAppProxyConfig(ctx, app)
		if err != nil {
			return Status{}, fmt.Errorf("proxyservice: get status: %w", err)
		}
		appStatus := AppStatus{Enabled: cfg.Enabled}
		if providerID, ok, err := s.store.GetCurrentProvider(ctx, app); err == nil && ok {
			appStatus.CurrentProviderID = providerID
			appStatus.CircuitState = s.breaker.State(app, providerID)
		}
		status.Apps[app] = appStatus
	}
	return status, nil
}

// GetTakeoverStatus reports whether app currently has takeover enabled.
func (s *Service) GetTakeoverStatus(ctx context.Context, app domain.App) (bool, error) {
	cfg, err := s.store.GetAppProxyConfig(ctx, app)
	if err != nil {
		return false, fmt.Errorf("proxyservice: get takeover status: %w", err)
	}
	return cfg.Enabled, nil
}

// SetTakeoverForApp drives the takeover state machine (spec.md §4.9):
// Off->On captures a fresh live_backup of the app's currently-configured
// provider settings and pushes them live; On->Off restores the device file
// from that backup. Both transitions are serialised under the same lock a
// concurrent toggle of the same app uses, so an Off->On->Off race always
// settles on the most-recently-captured backup rather than an interleaved
// write.
func (s *Service) SetTakeoverForApp(ctx context.Context, app domain.App, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.GetAppProxyConfig(ctx, app)
	if err != nil {
		return fmt.Errorf("proxyservice: set takeover: %w", err)
	}
	if cfg.Enabled == enabled {
		return nil
	}

	if enabled {
		if providerID, ok, err := s.store.GetCurrentProvider(ctx, app); err == nil && ok {
			if provider, ok, err := s.store.GetProvider(ctx, app, providerID); err == nil && ok {
				if err := s.store.SaveLiveBackup(ctx, app, string(provider.SettingsConfig)); err != nil {
					s.logger.Warn("failed to capture live backup on enable", "app", app, "error", err)
				}
				if s.liveConfig != nil {
					if err := s.liveConfig.SetCurrentProvider(ctx, app, provider.SettingsConfig); err != nil {
						s.logger.Warn("failed to push live config on enable", "app", app, "error", err)
					}
				}
			}
		}
	} else if s.liveConfig != nil {
		if backup, ok, err := s.store.GetLiveBackup(ctx, app); err == nil && ok {
			if err := s.liveConfig.Restore(ctx, app, []byte(backup)); err != nil {
				s.logger.Warn("failed to restore live config on disable", "app", app, "error", err)
			}
		}
	}

	cfg.Enabled = enabled
	if err := s.store.SetAppProxyConfig(ctx, cfg); err != nil {
		return fmt.Errorf("proxyservice: persist takeover state: %w", err)
	}
	return nil
}

// SwitchProxyTarget is the entry point for manual (control plane) and
// reset-driven provider switches; automatic failover in the provider
// router calls C4's TrySwitch without going through it. It drives C4's
// try_switch and, on an actual switch, publishes a ProviderSwitched event
// so subscribers never have to re-derive a change from provider health.
func (s *Service) SwitchProxyTarget(ctx context.Context, app domain.App, providerID string, reason events.SwitchReason) (bool, error) {
	provider, ok, err := s.store.GetProvider(ctx, app, providerID)
	if err != nil {
		return false, fmt.Errorf("proxyservice: switch target: %w", err)
	}
	if !ok {
		return false, fmt.Errorf("proxyservice: provider %q not found for %s", providerID, app)
	}

	switched, err := s.switcher.TrySwitch(ctx, app, providerID, provider.Name)
	if err != nil {
		return false, fmt.Errorf("proxyservice: switch target: %w", err)
	}
	if switched && s.bus != nil {
		s.bus.Publish(events.ProviderSwitched{App: app, ProviderID: providerID, Reason: reason, At: time.Now()})
	}
	return switched, nil
}

// ResetProviderCircuitBreaker reopens admission for (app, providerId) and
// clears its durable health record. Per spec.md §4.4's priority-restoration
// rule, if auto-failover is enabled and the reset provider outranks the
// current one (lower sort_index), it proactively switches back rather than
// waiting for the current provider to trip again.
func (s *Service) ResetProviderCircuitBreaker(ctx context.Context, app domain.App, providerID string) error {
	if err := s.switcher.ResetCircuitBreaker(ctx, app, providerID); err != nil {
		return err
	}

	cfg, err := s.store.GetAppProxyConfig(ctx, app)
	if err != nil || !cfg.AutoFailoverEnabled {
		return nil
	}

	currentID, ok, err := s.store.GetCurrentProvider(ctx, app)
	if err != nil || !ok || currentID == providerID {
		return nil
	}

	reset, ok, err := s.store.GetProvider(ctx, app, providerID)
	if err != nil || !ok {
		return nil
	}
	current, ok, err := s.store.GetProvider(ctx, app, currentID)
	if err != nil || !ok {
		return nil
	}

	if reset.SortIndex >= current.SortIndex {
		return nil
	}
	if _, err := s.SwitchProxyTarget(ctx, app, providerID, events.ReasonCircuitBreakerReset); err != nil {
		return fmt.Errorf("proxyservice: restore priority provider on reset: %w", err)
	}
	return nil
}

// SetAutoFailoverEnabled toggles AppProxyConfig.AutoFailoverEnabled for app.
// Per spec.md §3's queue-item lifecycle, enabling auto-failover against an
// empty failover queue bootstraps the queue with the app's current provider
// as its sole, highest-priority (P1) entry; enabling with no current
// provider at all is rejected with ErrBadRequest rather than silently
// leaving the queue empty. Disabling never touches the queue.
func (s *Service) SetAutoFailoverEnabled(ctx context.Context, app domain.App, enabled bool) error {
	cfg, err := s.store.GetAppProxyConfig(ctx, app)
	if err != nil {
		return fmt.Errorf("proxyservice: set auto failover: %w", err)
	}

	if enabled {
		queue, err := s.store.GetFailoverQueue(ctx, app)
		if err != nil {
			return fmt.Errorf("proxyservice: set auto failover: %w", err)
		}
		if len(queue) == 0 {
			currentID, ok, err := s.store.GetCurrentProvider(ctx, app)
			if err != nil {
				return fmt.Errorf("proxyservice: set auto failover: %w", err)
			}
			if !ok {
				return domain.NewRouteError(domain.ErrBadRequest, app, "", fmt.Errorf("cannot enable auto-failover: no current provider to seed the queue"))
			}
			if err := s.store.AddToFailoverQueue(ctx, app, currentID); err != nil {
				return fmt.Errorf("proxyservice: seed failover queue: %w", err)
			}
		}
	}

	cfg.AutoFailoverEnabled = enabled
	if err := s.store.SetAppProxyConfig(ctx, cfg); err != nil {
		return fmt.Errorf("proxyservice: persist auto failover state: %w", err)
	}
	return nil
}

// UpdateCircuitBreakerConfigs applies new thresholds to every (app,
// providerId) key's future transitions.
func (s *Service) UpdateCircuitBreakerConfigs(cfg domain.CircuitBreakerConfig) {
	s.breaker.UpdateConfig(cfg)
}
