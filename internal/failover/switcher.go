// Package failover implements C4: priority-ordered candidate selection and
// the try_switch primitive (spec.md §4.4): a pending_switches dedup set plus
// a transactional switch sequence, and queue-ordered candidate selection,
// narrowed to a strictly one-active-provider-per-app model.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/synebula/cc-switch/internal/circuitbreaker"
	"github.com/synebula/cc-switch/internal/domain"
	"github.com/synebula/cc-switch/internal/ports"
)

// Switcher owns the pending_switches dedup set and drives try_switch against
// the store, the circuit breaker and the best-effort live config adapter.
type Switcher struct {
	store      ports.Store
	breaker    *circuitbreaker.Breaker
	liveConfig ports.LiveConfigAdapter
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// New constructs a Switcher. liveConfig may be nil, in which case the
// device-level settings push step of try_switch is skipped entirely.
func New(store ports.Store, breaker *circuitbreaker.Breaker, liveConfig ports.LiveConfigAdapter, logger *slog.Logger) *Switcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Switcher{
		store:      store,
		breaker:    breaker,
		liveConfig: liveConfig,
		logger:     logger.With("component", "failover.switcher"),
		pending:    make(map[string]struct{}),
	}
}

func switchKey(app domain.App, providerID string) string {
	return string(app) + ":" + providerID
}

// TrySwitch is the single entry point for both manual and automatic
// provider switches (spec.md §4.9). It de-dups concurrent attempts at the
// same (app, providerId) pair, verifies the app has takeover enabled, sets
// the new current provider, and best-effort pushes the change to the
// device-level config file. Returns false (no error) when the switch was
// skipped as a duplicate or because the app is disabled; it returns an
// error only for a genuine store failure.
func (s *Switcher) TrySwitch(ctx context.Context, app domain.App, providerID, providerName string) (bool, error) {
	key := switchKey(app, providerID)

	s.mu.Lock()
	if _, inFlight := s.pending[key]; inFlight {
		s.mu.Unlock()
		s.logger.Debug("switch already in progress, skipping", "app", app, "provider_id", providerID)
		return false, nil
	}
	s.pending[key] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}()

	return s.doSwitch(ctx, app, providerID, providerName)
}

func (s *Switcher) doSwitch(ctx context.Context, app domain.App, providerID, providerName string) (bool, error) {
	cfg, err := s.store.GetAppProxyConfig(ctx, app)
	if err != nil {
		s.logger.Warn("cannot read app proxy config, skipping switch", "app", app, "error", err)
		return false, nil
	}
	if !cfg.Enabled {
		s.logger.Debug("app proxy not enabled, skipping switch", "app", app)
		return false, nil
	}

	if err := s.store.SetCurrentProvider(ctx, app, providerID); err != nil {
		return false, fmt.Errorf("failover: set current provider: %w", err)
	}

	s.logger.Info("switched current provider", "app", app, "provider_id", providerID, "provider_name", providerName)

	provider, ok, err := s.store.GetProvider(ctx, app, providerID)
	if err != nil || !ok {
		// The switch itself already succeeded; a missing provider row at
		// this point only affects the best-effort backup refresh below.
		return true, nil
	}

	if s.liveConfig != nil {
		if err := s.liveConfig.SetCurrentProvider(ctx, app, provider.SettingsConfig); err != nil {
			s.logger.Warn("live config push failed, device settings may be stale", "app", app, "provider_id", providerID, "error", err)
		}
	}
	if err := s.store.SaveLiveBackup(ctx, app, string(provider.SettingsConfig)); err != nil {
		s.logger.Warn("failed to refresh live backup", "app", app, "error", err)
	}

	return true, nil
}

// NextCandidate reads app's failover queue (already ordered highest
// priority first, see store.GetFailoverQueue) and returns the first entry
// that both exists as a provider and is not the currently tripped one,
// skipping entries whose circuit breaker is still open.
func (s *Switcher) NextCandidate(ctx context.Context, app domain.App, excludeProviderID string) (domain.Provider, bool, error) {
	queue, err := s.store.GetFailoverQueue(ctx, app)
	if err != nil {
		return domain.Provider{}, false, fmt.Errorf("failover: read queue: %w", err)
	}

	for _, item := range queue {
		if item.ProviderID == excludeProviderID {
			continue
		}
		provider, ok, err := s.store.GetProvider(ctx, app, item.ProviderID)
		if err != nil {
			return domain.Provider{}, false, fmt.Errorf("failover: read candidate: %w", err)
		}
		if !ok {
			continue
		}
		if !s.breaker.CanDispatch(app, item.ProviderID) {
			continue
		}
		return provider, true, nil
	}
	return domain.Provider{}, false, nil
}

// ResetCircuitBreaker manually reopens admission for (app, providerId) and
// clears its durable health record. The proactive priority-restoration
// switch (spec.md §4.4: switch back when the reset provider outranks the
// current one) is the caller's responsibility, since it needs the app's
// current provider and auto-failover setting - see
// proxyservice.Service.ResetProviderCircuitBreaker.
func (s *Switcher) ResetCircuitBreaker(ctx context.Context, app domain.App, providerID string) error {
	s.breaker.Reset(app, providerID)
	if err := s.store.UpdateProviderHealth(ctx, app, providerID, true, ""); err != nil {
		return fmt.Errorf("failover: reset circuit breaker: %w", err)
	}
	s.logger.Info("circuit breaker manually reset", "app", app, "provider_id", providerID)
	return nil
}
