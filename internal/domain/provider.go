package domain

import (
	"encoding/json"
	"time"
)

// Provider is a remote LLM endpoint configuration: credentials, base URL,
// model map. SettingsConfig is kept as opaque JSON so the store can persist
// unknown/future fields across versions without a schema migration.
type Provider struct {
	ID             string          `json:"id"`
	App            App             `json:"app"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	SortIndex      int64           `json:"sort_index"`
	SettingsConfig json.RawMessage `json:"settings_config"`
	IsCurrent      bool            `json:"is_current"`
	UsageScript    string          `json:"usage_script,omitempty"`
}

// ProviderSettings is the decoded view of Provider.SettingsConfig used by
// the provider router and transform layer. Unknown fields round-trip
// because the store never re-serialises through this struct — it only
// reads from it.
type ProviderSettings struct {
	BaseURL         string            `json:"base_url"`
	APIKey          string            `json:"api_key,omitempty"`
	AccessToken     string            `json:"access_token,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
	CustomHeaders   map[string]string `json:"custom_headers,omitempty"`
	CustomEndpoints []CustomEndpoint  `json:"custom_endpoints,omitempty"`
	ModelOverrides  map[string]string `json:"model_overrides,omitempty"`
}

// CustomEndpoint is one entry of a provider's alternate base URL list. The
// most-recently-used entry is the active base URL (§4.6); LastUsedAt is
// updated by an explicit mark-used action, not by every dispatched request.
type CustomEndpoint struct {
	URL        string    `json:"url"`
	LastUsedAt time.Time `json:"last_used_ts"`
}

// DecodeSettings unmarshals Provider.SettingsConfig into ProviderSettings,
// tolerating an empty payload.
func (p *Provider) DecodeSettings() (ProviderSettings, error) {
	var s ProviderSettings
	if len(p.SettingsConfig) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(p.SettingsConfig, &s); err != nil {
		return ProviderSettings{}, err
	}
	return s, nil
}

// AppProxyConfig holds per-app proxy takeover settings (§3).
type AppProxyConfig struct {
	App                App               `json:"app"`
	Enabled            bool              `json:"enabled"`
	AutoFailoverEnabled bool             `json:"auto_failover_enabled"`
	CustomHeaders      map[string]string `json:"custom_headers,omitempty"`
	TimeoutMs          int64             `json:"timeout_ms"`
}

// GlobalProxyConfig holds proxy-wide settings shared across apps (§3).
type GlobalProxyConfig struct {
	ListenAddress    string `json:"listen_address"`
	ListenPort       int    `json:"listen_port"`
	LogConfig        string `json:"log_config,omitempty"`
	RectifierConfig  string `json:"rectifier_config,omitempty"`
}
