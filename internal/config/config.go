// Package config handles loading and managing mailmirror configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// SyncConfig holds sync-related configuration.
type SyncConfig struct {
	// Folders is the ordered list of folders to sync; earlier entries are
	// downloaded first. Defaults to INBOX followed by the Gmail archive.
	Folders []string `toml:"folders"`

	// ChunkSize is the number of message bodies fetched per IMAP round trip.
	ChunkSize int `toml:"chunk_size"`

	// FetchRateLimit caps IMAP fetch commands per second (0 = unlimited).
	FetchRateLimit float64 `toml:"fetch_rate_limit"`
}

// ServerConfig holds the daemon status API configuration.
type ServerConfig struct {
	APIPort int    `toml:"api_port"` // HTTP status server port (default: 8080)
	APIKey  string `toml:"api_key"`  // optional bearer key
}

// AccountSchedule defines the polling schedule for a single account.
type AccountSchedule struct {
	Email    string `toml:"email"`    // account email address
	Schedule string `toml:"schedule"` // cron expression (e.g., "*/5 * * * *")
	Enabled  bool   `toml:"enabled"`  // whether scheduled polling is active
}

// Config represents the mailmirror configuration.
type Config struct {
	Data     DataConfig        `toml:"data"`
	Sync     SyncConfig        `toml:"sync"`
	Server   ServerConfig      `toml:"server"`
	Accounts []AccountSchedule `toml:"accounts"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default mailmirror home directory.
// Respects the MAILMIRROR_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILMIRROR_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailmirror"
	}
	return filepath.Join(home, ".mailmirror")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.mailmirror/config.toml).
// If homeDir is non-empty it overrides the computed home directory.
func Load(path, homeDir string) (*Config, error) {
	if homeDir == "" {
		homeDir = DefaultHome()
	}
	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Data: DataConfig{
			DataDir: homeDir,
		},
		Sync: SyncConfig{
			Folders:        []string{"INBOX", "[Gmail]/All Mail"},
			ChunkSize:      100,
			FetchRateLimit: 5,
		},
		Server: ServerConfig{
			APIPort: 8080,
		},
		Accounts: []AccountSchedule{},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)

	if len(cfg.Sync.Folders) == 0 {
		cfg.Sync.Folders = []string{"INBOX", "[Gmail]/All Mail"}
	}
	if cfg.Sync.ChunkSize <= 0 {
		cfg.Sync.ChunkSize = 100
	}

	return cfg, nil
}

// EnsureHomeDir creates the home directory if it does not exist.
func (c *Config) EnsureHomeDir() error {
	return os.MkdirAll(c.HomeDir, 0700)
}

// ConfigFilePath returns the path to the config file.
func (c *Config) ConfigFilePath() string {
	return filepath.Join(c.HomeDir, "config.toml")
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "mailmirror.db")
}

// BlobsDir returns the path to the message part blob store.
func (c *Config) BlobsDir() string {
	return filepath.Join(c.Data.DataDir, "blobs")
}

// CredentialsDir returns the path to the account credentials directory.
func (c *Config) CredentialsDir() string {
	return filepath.Join(c.Data.DataDir, "credentials")
}

// ScheduledAccounts returns accounts with scheduling enabled.
func (c *Config) ScheduledAccounts() []AccountSchedule {
	var scheduled []AccountSchedule
	for _, acc := range c.Accounts {
		if acc.Enabled && acc.Schedule != "" {
			scheduled = append(scheduled, acc)
		}
	}
	return scheduled
}

// GetAccountSchedule returns the schedule for a specific account email.
// Returns nil if the account is not configured for scheduling.
func (c *Config) GetAccountSchedule(email string) *AccountSchedule {
	for i := range c.Accounts {
		if c.Accounts[i].Email == email {
			return &c.Accounts[i]
		}
	}
	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
