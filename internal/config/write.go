package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const defaultHeader = `# kiosksync configuration
#
# Every key can be overridden from the environment with the KIOSK_ prefix,
# e.g. KIOSK_SYNC_BASE_URL or KIOSK_REACHABILITY_MODE.
#
# storage.encryption_key = "auto" keeps a generated key under data_dir/secure.

`

// WriteDefault writes the built-in configuration as TOML to path.
// An existing file is left untouched unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	d := Default()
	// durations are written as strings so the file reads "15s" rather than nanoseconds
	doc := map[string]map[string]interface{}{
		"app": {
			"env":       d.App.Env,
			"data_dir":  d.App.DataDir,
			"log_level": d.App.LogLevel,
			"log_file":  d.App.LogFile,
		},
		"sync": {
			"max_retries":         d.Sync.MaxRetries,
			"base_url":            d.Sync.BaseURL,
			"request_timeout":     d.Sync.RequestTimeout.String(),
			"periodic_interval":   d.Sync.PeriodicInterval.String(),
			"retry_client_errors": d.Sync.RetryClientErrors,
		},
		"reachability": {
			"mode":          d.Reachability.Mode,
			"probe_url":     d.Reachability.ProbeURL,
			"probe_timeout": d.Reachability.ProbeTimeout.String(),
			"poll_interval": d.Reachability.PollInterval.String(),
			"watch_file":    d.Reachability.WatchFile,
		},
		"storage": {
			"driver":         d.Storage.Driver,
			"encryption_key": d.Storage.EncryptionKey,
		},
		"server": {
			"addr": d.Server.Addr,
		},
	}

	var buf bytes.Buffer
	buf.WriteString(defaultHeader)
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}
