// Package config loads and holds vaultfs's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level, flat configuration for a vaultfs instance.
// A single vaultfs data directory holds one catalog, one checkpoint store,
// and credentials for exactly one remote channel.
type Config struct {
	DataDir string `toml:"data_dir"`

	Remote      RemoteConfig      `toml:"remote"`
	Transfer    TransferConfig    `toml:"transfer"`
	Sync        SyncConfig        `toml:"sync"`
	Watcher     WatcherConfig     `toml:"watcher"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

// RemoteConfig points at the credential cache and base URL for the remote
// blob channel. vaultfs never performs the login flow itself — it only
// reads an already-populated credential cache.
type RemoteConfig struct {
	BaseURL        string `toml:"base_url"`
	CredentialFile string `toml:"credential_file"`

	// UserIdentity names the channel owner passed to Channel.EnsureChannel.
	// It is distinct from the bearer credential read from CredentialFile —
	// the credential authenticates the request, UserIdentity picks which
	// dedicated storage channel it resolves to. Left blank, Open falls
	// back to the local hostname.
	UserIdentity string `toml:"user_identity"`
}

// TransferConfig tunes the transfer engine's concurrency and retry behavior.
type TransferConfig struct {
	MaxConcurrentTransfers int `toml:"max_concurrent_transfers"`
	MaxResumedConcurrency  int `toml:"max_resumed_concurrency"`
}

// SyncConfig tunes the catalogue sync debounce window.
type SyncConfig struct {
	DebounceMillis int `toml:"debounce_millis"`
}

// WatcherConfig tunes the file-existence watcher poll interval.
type WatcherConfig struct {
	PollIntervalMillis int `toml:"poll_interval_millis"`
}

// MaintenanceConfig tunes background upkeep that isn't tied to any one
// command: currently just the trash expiry sweep.
type MaintenanceConfig struct {
	TrashSweepIntervalMillis int `toml:"trash_sweep_interval_millis"`
}

const (
	defaultMaxConcurrentTransfers   = 8
	defaultMaxResumedConcurrency    = 3
	defaultDebounceMillis           = 2000
	defaultPollIntervalMillis       = 500
	defaultTrashSweepIntervalMillis = 6 * 60 * 60 * 1000
)

// DefaultConfig returns a Config with every field set to its documented
// default, ready for a TOML file to be decoded on top of it.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		DataDir: filepath.Join(home, ".vaultfs"),
		Remote: RemoteConfig{
			CredentialFile: filepath.Join(home, ".vaultfs", "credentials.json"),
		},
		Transfer: TransferConfig{
			MaxConcurrentTransfers: defaultMaxConcurrentTransfers,
			MaxResumedConcurrency:  defaultMaxResumedConcurrency,
		},
		Sync: SyncConfig{
			DebounceMillis: defaultDebounceMillis,
		},
		Watcher: WatcherConfig{
			PollIntervalMillis: defaultPollIntervalMillis,
		},
		Maintenance: MaintenanceConfig{
			TrashSweepIntervalMillis: defaultTrashSweepIntervalMillis,
		},
	}
}

// Load reads and decodes a TOML config file on top of DefaultConfig. A
// missing file is not an error — vaultfs runs on defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// CatalogPath returns the path to the metadata store file.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// CheckpointPath returns the path to the transfer checkpoint store file.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.DataDir, "checkpoint.db")
}

// DebounceInterval returns the catalogue-sync debounce window as a Duration.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.Sync.DebounceMillis) * time.Millisecond
}

// PollInterval returns the file-existence watcher's poll period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watcher.PollIntervalMillis) * time.Millisecond
}

// TrashSweepInterval returns how often the trash expiry sweeper runs.
func (c *Config) TrashSweepInterval() time.Duration {
	return time.Duration(c.Maintenance.TrashSweepIntervalMillis) * time.Millisecond
}
