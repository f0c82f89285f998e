package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultProxyPort    = 8787
	DefaultProxyHost    = "127.0.0.1"
	DefaultWebListen    = "127.0.0.1:8899"
	DefaultStorePath    = "cc-switch.db"
	DefaultReloadDebounce = 500 * time.Millisecond

	// DefaultFileWriteDelay gives the filesystem time to finish a write
	// before the watcher re-reads it; fsnotify on some platforms fires
	// before the write is flushed.
	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults - every value
// a fresh install needs to proxy localhost LLM CLIs without a config file.
func DefaultConfig() *Config {
	return &Config{
		Web: WebConfig{
			Listen:       DefaultWebListen,
			MaxBodyBytes: 10 << 20,
		},
		Proxy: ProxyConfig{
			AutoStart:     false,
			ListenAddress: DefaultProxyHost,
			ListenPort:    DefaultProxyPort,
			ShutdownGrace: 10 * time.Second,
		},
		Store: StoreConfig{
			Path:          DefaultStorePath,
			MaxOpenConns:  1,
			MaxIdleConns:  1,
			WALMode:       true,
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			PrettyLogs: true,
			FileOutput: false,
			LogDir:     "./logs",
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:        3,
			OpenDurationMs:          30_000,
			HalfOpenProbeCount:      1,
			SuccessThresholdToClose: 2,
		},
	}
}

// Load loads configuration from an optional YAML file and CC_SWITCH_*
// environment variables via viper. onConfigChange, if non-nil, is invoked
// (debounced) whenever the config file changes on disk.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("cc-switch")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("CC_SWITCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("CC_SWITCH_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < DefaultReloadDebounce {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return cfg, nil
}
