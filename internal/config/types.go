package config

import "time"

// Config holds all configuration for the application, loaded by Load()
// from an (optional) YAML file overlaid with CC_SWITCH_* environment
// variables.
type Config struct {
	Web            WebConfig            `yaml:"web"`
	Proxy          ProxyConfig          `yaml:"proxy"`
	Store          StoreConfig          `yaml:"store"`
	Logging        LoggingConfig        `yaml:"logging"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// WebConfig is the control-plane HTTP surface (§6) - a thin collaborator,
// deliberately out of core scope beyond its external interface.
type WebConfig struct {
	Listen       string `yaml:"listen"`
	AuthToken    string `yaml:"auth_token"`
	AllowOrigin  string `yaml:"allow_origin"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// ProxyConfig is the GlobalProxyConfig of §3: data-plane listen address and
// whether the proxy auto-starts on boot.
type ProxyConfig struct {
	AutoStart     bool          `yaml:"auto_start"`
	ListenAddress string        `yaml:"listen_address"`
	ListenPort    int           `yaml:"listen_port"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// StoreConfig configures the SQLite-backed Store (C1).
type StoreConfig struct {
	Path          string `yaml:"path"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeoutMs int    `yaml:"busy_timeout_ms"`
}

// LoggingConfig mirrors internal/logger.Config's surface.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	PrettyLogs bool   `yaml:"pretty_logs"`
	FileOutput bool   `yaml:"file_output"`
	LogDir     string `yaml:"log_dir"`
}

// CircuitBreakerConfig mirrors domain.CircuitBreakerConfig but uses a
// millisecond int so it round-trips cleanly through YAML/env.
type CircuitBreakerConfig struct {
	FailureThreshold        uint32 `yaml:"failure_threshold"`
	OpenDurationMs          int64  `yaml:"open_duration_ms"`
	HalfOpenProbeCount      uint32 `yaml:"half_open_probe_count"`
	SuccessThresholdToClose uint32 `yaml:"success_threshold_to_close"`
}

// Domain converts the YAML-friendly shape into the pieces
// domain.CircuitBreakerConfig is built from.
func (c CircuitBreakerConfig) Domain() (failureThreshold, successThreshold, probeCount uint32, openDuration time.Duration) {
	return c.FailureThreshold, c.SuccessThresholdToClose, c.HalfOpenProbeCount, time.Duration(c.OpenDurationMs) * time.Millisecond
}
