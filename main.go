// main.go wires C1-C9 plus the control plane into a running process.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/synebula/cc-switch/internal/circuitbreaker"
	"github.com/synebula/cc-switch/internal/config"
	"github.com/synebula/cc-switch/internal/controlplane"
	"github.com/synebula/cc-switch/internal/domain"
	"github.com/synebula/cc-switch/internal/events"
	"github.com/synebula/cc-switch/internal/failover"
	"github.com/synebula/cc-switch/internal/httpclient"
	"github.com/synebula/cc-switch/internal/liveconfig"
	"github.com/synebula/cc-switch/internal/logger"
	"github.com/synebula/cc-switch/internal/metrics"
	"github.com/synebula/cc-switch/internal/providerrouter"
	"github.com/synebula/cc-switch/internal/proxyserver"
	"github.com/synebula/cc-switch/internal/proxyservice"
	"github.com/synebula/cc-switch/internal/responsehandler"
	"github.com/synebula/cc-switch/internal/store"
	"github.com/synebula/cc-switch/internal/transform"
	"github.com/synebula/cc-switch/internal/version"
	"github.com/synebula/cc-switch/pkg/container"
	"github.com/synebula/cc-switch/pkg/format"
	"github.com/synebula/cc-switch/pkg/nerdstats"
	"github.com/synebula/cc-switch/pkg/profiler"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	} else {
		version.PrintVersionInfo(false, vlog)
	}

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level:      cfg.Logging.Level,
		LogDir:     cfg.Logging.LogDir,
		Theme:      "default",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		FileOutput: cfg.Logging.FileOutput,
		PrettyLogs: cfg.Logging.PrettyLogs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid(), "containerised", container.IsContainerised())

	if os.Getenv("CC_SWITCH_PROFILER") == "true" {
		profiler.InitialiseProfiler()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	dataStore, err := store.NewSQLiteStore(store.Config{
		Path:          cfg.Store.Path,
		MaxOpenConns:  cfg.Store.MaxOpenConns,
		MaxIdleConns:  cfg.Store.MaxIdleConns,
		WALMode:       cfg.Store.WALMode,
		BusyTimeoutMs: cfg.Store.BusyTimeoutMs,
	}, logInstance)
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to open store", "error", err)
	}
	defer dataStore.Close()

	liveConfig, err := liveconfig.NewFileAdapter("./live-config")
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to initialise live config adapter", "error", err)
	}

	failureThreshold, successThreshold, probeCount, openDuration := cfg.CircuitBreaker.Domain()
	breaker := circuitbreaker.New(domain.CircuitBreakerConfig{
		FailureThreshold:        failureThreshold,
		OpenDuration:            openDuration,
		HalfOpenProbeCount:      probeCount,
		SuccessThresholdToClose: successThreshold,
	})

	seedCircuitBreakerState(ctx, dataStore, breaker, styledLogger)

	switcher := failover.New(dataStore, breaker, liveConfig, logInstance)
	pool := httpclient.NewPool()
	pipeline := transform.NewPipeline()
	metricsCollector := metrics.New()

	router := providerrouter.New(dataStore, breaker, switcher, pipeline)
	bus := events.NewBus()
	router.SetEventBus(bus)

	go recordFailoverMetrics(ctx, bus, metricsCollector)

	rectifier := transform.NewThinkingRectifier()
	handler := responsehandler.New(dataStore, breaker, rectifier, metricsCollector, logInstance)

	thinkingMode := func(app domain.App) transform.ThinkingMode {
		if app == domain.AppClaude {
			return transform.ThinkingXMLTags
		}
		return transform.ThinkingPassthrough
	}

	proxySrv := proxyserver.New(proxyserver.Config{
		ListenAddress: cfg.Proxy.ListenAddress,
		ListenPort:    cfg.Proxy.ListenPort,
		ShutdownGrace: cfg.Proxy.ShutdownGrace,
	}, router, handler, pool, appFromRequest, thinkingMode, logInstance)

	proxySvc := proxyservice.New(proxyservice.Config{
		ListenAddress: cfg.Proxy.ListenAddress,
		ListenPort:    cfg.Proxy.ListenPort,
	}, proxySrv, dataStore, breaker, switcher, liveConfig, bus, logInstance)

	registry := controlplane.NewRegistry(proxySvc)
	controlSrv := controlplane.New(controlplane.Config{
		Listen:       cfg.Web.Listen,
		AuthToken:    cfg.Web.AuthToken,
		AllowOrigin:  cfg.Web.AllowOrigin,
		MaxBodyBytes: cfg.Web.MaxBodyBytes,
	}, registry, bus, metricsCollector.Handler(), styledLogger, logInstance)

	if err := controlSrv.Start(); err != nil {
		logger.FatalWithLogger(logInstance, "Failed to start control plane", "error", err)
	}

	if cfg.Proxy.AutoStart {
		if err := proxySvc.Start(ctx); err != nil {
			logger.FatalWithLogger(logInstance, "Failed to auto-start proxy", "error", err)
		}
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Proxy.ShutdownGrace)
	defer shutdownCancel()

	if err := controlSrv.Stop(shutdownCtx); err != nil {
		styledLogger.Error("Error stopping control plane", "error", err)
	}
	if err := proxySvc.StopWithRestore(shutdownCtx); err != nil {
		styledLogger.Error("Error during proxy shutdown", "error", err)
	}
	bus.Shutdown()

	reportProcessStats(styledLogger, startTime)
	styledLogger.Info("cc-switch has shutdown")
}

// appFromRequest derives the target app from the request's leading path
// segment (e.g. "/claude/v1/messages") and strips that segment so the
// remainder is the path the provider router joins against the provider's
// base URL (spec.md §4.6).
func appFromRequest(r *http.Request) (domain.App, error) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	segment, rest, _ := strings.Cut(path, "/")

	app, err := domain.ParseApp(segment)
	if err != nil {
		return "", fmt.Errorf("app_from_request: %w", err)
	}

	r.URL.Path = "/" + rest
	return app, nil
}

// seedCircuitBreakerState primes breaker from durable ProviderHealth for
// every configured provider across every app, so a provider that was
// unhealthy when the process last stopped doesn't come back up Closed and
// admitting (spec.md §3's health/state-separation invariant: runtime
// CircuitState is rebuilt, not persisted, so it must be rebuilt at boot).
func seedCircuitBreakerState(ctx context.Context, dataStore *store.SQLiteStore, breaker *circuitbreaker.Breaker, l *logger.StyledLogger) {
	for _, app := range domain.AllApps() {
		providers, err := dataStore.GetAllProviders(ctx, app)
		if err != nil {
			l.Warn("failed to load providers for circuit breaker seeding", "app", app, "error", err)
			continue
		}
		for providerID := range providers {
			health, err := dataStore.GetProviderHealth(ctx, app, providerID)
			if err != nil {
				l.Warn("failed to load provider health for circuit breaker seeding", "app", app, "provider_id", providerID, "error", err)
				continue
			}
			breaker.Seed(app, providerID, health.Healthy)
		}
	}
}

// recordFailoverMetrics drains the provider-switched bus into the failovers_total
// series until ctx is cancelled. It runs alongside the SSE subscribers the
// control plane hands out to external clients - the bus supports any number
// of independent subscribers, so this one never competes with those for events.
func recordFailoverMetrics(ctx context.Context, bus *events.Bus, collector *metrics.Collector) {
	sub, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()
	for evt := range sub {
		collector.RecordFailover(evt.App, string(evt.Reason))
	}
}

func reportProcessStats(l *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	l.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	l.Info("Process Allocation Stats",
		"total_mallocs", stats.Mallocs,
		"total_frees", stats.Frees,
		"net_objects", int64(stats.Mallocs)-int64(stats.Frees),
	)

	if stats.NumGC > 0 {
		l.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
		)
	}

	l.Info("Goroutine Stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"num_cgo_calls", stats.NumCgoCall,
	)

	l.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)

	l.Info("Process Health Summary",
		"memory_pressure", stats.GetMemoryPressure(),
		"goroutine_status", stats.GetGoroutineHealthStatus(),
		"uptime", format.Duration(stats.Uptime),
		"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
	)
}
