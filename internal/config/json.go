package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/avolkov/mxauth/internal/flagx"
	"github.com/avolkov/mxauth/internal/timex"
)

// jsonConfig is the DTO for JSON unmarshalling. Durations accept either
// strings like "15s" or integer nanoseconds via timex.Duration.
type jsonConfig struct {
	HomeserverURL      *string         `json:"homeserver_url"`
	CallbackListenAddr *string         `json:"callback_listen_addr"`
	StorePath          *string         `json:"store_path"`
	VaultBackend       *string         `json:"vault_backend"`
	VaultFilePath      *string         `json:"vault_file_path"`
	HTTPTimeout        *timex.Duration `json:"http_timeout"`
	DiscoveryCacheTTL  *timex.Duration `json:"discovery_cache_ttl"`
	Verbose            *bool           `json:"verbose"`
}

// parseJSON overlays cfg with values from the JSON file named by -c/-config.
// Absent fields leave defaults untouched. Read or unmarshal errors panic;
// a broken config file should stop startup, not be silently ignored.
func parseJSON(cfg *Config) {
	path := flagx.JSONConfigFlags()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.HomeserverURL != nil {
		cfg.HomeserverURL = *jc.HomeserverURL
	}
	if jc.CallbackListenAddr != nil {
		cfg.CallbackListenAddr = *jc.CallbackListenAddr
	}
	if jc.StorePath != nil {
		cfg.StorePath = *jc.StorePath
	}
	if jc.VaultBackend != nil {
		cfg.VaultBackend = *jc.VaultBackend
	}
	if jc.VaultFilePath != nil {
		cfg.VaultFilePath = *jc.VaultFilePath
	}
	if jc.HTTPTimeout != nil {
		cfg.HTTPTimeout = time.Duration(jc.HTTPTimeout.Duration)
	}
	if jc.DiscoveryCacheTTL != nil {
		cfg.DiscoveryCacheTTL = time.Duration(jc.DiscoveryCacheTTL.Duration)
	}
	if jc.Verbose != nil {
		cfg.Verbose = *jc.Verbose
	}
}
