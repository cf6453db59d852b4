// Package config loads sharesync's connection and tuning settings from a
// config.yaml (if present) layered under environment variables and CLI
// flags, using one *viper.Viper per load rather than a package-global
// singleton.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds everything the sync engine needs to talk to a Share
// instance and tune its own concurrency.
type Config struct {
	// ServerURL is the base URL of the Share instance, e.g.
	// "https://share.example.com".
	ServerURL string
	// AuthToken is the bearer credential sent on every request.
	AuthToken string
	// SQLiteDSN is the data source name passed to sqlite.Connect.
	SQLiteDSN string
	// DownloadWorkers is read from pull.download-workers and must be
	// positive. Nothing passes it to the engine or the pull pipeline, whose
	// downloader limit is fixed at 10; setting it does not change pull
	// concurrency.
	DownloadWorkers int
	// ConnectTimeout bounds how long Connect will retry a locked SQLite
	// file before giving up (see internal/store/sqlite.Connect).
	ConnectTimeout time.Duration

	v *viper.Viper
}

// defaults registers one viper.SetDefault per config key.
func defaults(v *viper.Viper) {
	v.SetDefault("server.url", "")
	v.SetDefault("server.token", "")
	v.SetDefault("store.dsn", "sharesync.db")
	v.SetDefault("pull.download-workers", 10)
	v.SetDefault("store.connect-timeout", 5*time.Second)
}

// Load reads configPath (if non-empty and present) into a fresh viper
// instance, binds SHARESYNC_-prefixed environment variables over it, and
// returns the resolved Config. A missing configPath is not an error — env
// vars and defaults alone are a valid configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	defaults(v)

	v.SetEnvPrefix("SHARESYNC")
	// "server.url" binds to SHARESYNC_SERVER_URL, "pull.download-workers"
	// to SHARESYNC_PULL_DOWNLOAD_WORKERS.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// An explicit path that doesn't exist is not an error: env
			// vars and defaults alone are a valid configuration. Viper
			// reports this as a bare *fs.PathError when the path was set
			// with SetConfigFile, not as ConfigFileNotFoundError.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	workers := v.GetInt("pull.download-workers")
	if workers <= 0 {
		return nil, fmt.Errorf("config: pull.download-workers must be positive, got %d", workers)
	}

	return &Config{
		ServerURL:       v.GetString("server.url"),
		AuthToken:       v.GetString("server.token"),
		SQLiteDSN:       v.GetString("store.dsn"),
		DownloadWorkers: workers,
		ConnectTimeout:  v.GetDuration("store.connect-timeout"),
		v:               v,
	}, nil
}

// WatchForChanges asks viper to watch the config file this Config was
// loaded from (a no-op if Load was given an empty configPath, since there
// is no file to watch) and calls onChange every time it's rewritten.
// onChange receives the reloaded Config; it does not replace c in place.
func (c *Config) WatchForChanges(logger *slog.Logger, onChange func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config: file changed, reloading", "path", e.Name)
		reloaded, err := Load(e.Name)
		if err != nil {
			logger.Error("config: reload failed, keeping previous settings", "path", e.Name, "error", err)
			return
		}
		onChange(reloaded)
	})
	c.v.WatchConfig()
}

// Validate checks that the configuration is complete enough to attempt a
// sync call. Called explicitly by cmd/sharesync before wiring the engine,
// rather than from Load, so library callers can Load a partial config
// (e.g. in tests) without tripping validation.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: server.url is required")
	}
	if c.SQLiteDSN == "" {
		return fmt.Errorf("config: store.dsn is required")
	}
	return nil
}
