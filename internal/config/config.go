package config

import "time"

// Config holds runtime settings for the mxauth CLI.
//
// Fields:
//   - HomeserverURL: optional explicit homeserver; when set, discovery by
//     username is skipped and flows are negotiated against this URL.
//   - CallbackListenAddr: loopback address the SSO redirect listener binds.
//   - StorePath: sqlite file for persisted sessions; empty means a default
//     under the user config dir.
//   - VaultBackend: "keyring" (OS secure store) or "file" (encrypted file).
//   - VaultFilePath: location of the encrypted vault when VaultBackend is
//     "file"; empty means a default under the user config dir.
//   - HTTPTimeout: per-request timeout for all homeserver calls.
//   - DiscoveryCacheTTL: how long well-known resolutions are reused.
//   - Verbose: debug-level logging.
type Config struct {
	HomeserverURL      string
	CallbackListenAddr string
	StorePath          string
	VaultBackend       string
	VaultFilePath      string
	HTTPTimeout        time.Duration
	DiscoveryCacheTTL  time.Duration
	Verbose            bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.CallbackListenAddr = "127.0.0.1:29600"
	c.VaultBackend = "keyring"
	c.HTTPTimeout = 15 * time.Second
	c.DiscoveryCacheTTL = 5 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if a config file was given) and command-line flags. Later
// sources take precedence.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
