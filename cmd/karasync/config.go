package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentworkforce/karasync/internal/titletag"
)

// Config is the validated runtime configuration. It is built once at
// startup and handed to constructors; nothing reads configuration globals
// after this point.
type Config struct {
	SourceBackend string // "sqlite" or "postgres"
	SourcePath    string // sqlite database file
	SourceDSN     string // postgres connection string

	KarakeepURL string // API base URL including /api/v1
	KarakeepKey string
	ListName    string

	StateDSN string // path, file://, memory:// or postgres://

	MaxTitleLength int
	PageDelay      time.Duration
	RecordDelay    time.Duration
	RetryDelay     time.Duration

	WatchInterval time.Duration
	WatchJitter   float64
	WatchDebounce time.Duration

	LogFile string
}

// sourceLocation is what source.Open expects for the configured backend.
func (c Config) sourceLocation() string {
	if strings.EqualFold(c.SourceBackend, "postgres") || strings.EqualFold(c.SourceBackend, "postgresql") {
		return c.SourceDSN
	}
	return c.SourcePath
}

// loadConfig merges the config file (karasync.yaml), KARASYNC_* environment
// variables, and defaults, then validates the result. Environment variables
// take precedence over the file.
func loadConfig(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("karasync")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "karasync"))
		}
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".karasync"))
		}
	}

	v.SetEnvPrefix("KARASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("source.backend", "sqlite")
	v.SetDefault("source.path", "")
	v.SetDefault("source.dsn", "")
	v.SetDefault("karakeep.url", "")
	v.SetDefault("karakeep.api-key", "")
	v.SetDefault("karakeep.list", "Chats")
	v.SetDefault("state.dsn", "sync_state.json")
	v.SetDefault("sync.max-title-length", titletag.DefaultMaxLength)
	v.SetDefault("sync.page-delay", "100ms")
	v.SetDefault("sync.record-delay", "100ms")
	v.SetDefault("sync.retry-delay", "5s")
	v.SetDefault("watch.interval", "5m")
	v.SetDefault("watch.jitter", 0.2)
	v.SetDefault("watch.debounce", "2s")
	v.SetDefault("log.file", "")

	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return Config{}, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; env and defaults carry the run.
	}

	cfg := Config{
		SourceBackend:  v.GetString("source.backend"),
		SourcePath:     v.GetString("source.path"),
		SourceDSN:      v.GetString("source.dsn"),
		KarakeepURL:    v.GetString("karakeep.url"),
		KarakeepKey:    v.GetString("karakeep.api-key"),
		ListName:       v.GetString("karakeep.list"),
		StateDSN:       v.GetString("state.dsn"),
		MaxTitleLength: v.GetInt("sync.max-title-length"),
		PageDelay:      v.GetDuration("sync.page-delay"),
		RecordDelay:    v.GetDuration("sync.record-delay"),
		RetryDelay:     v.GetDuration("sync.retry-delay"),
		WatchInterval:  v.GetDuration("watch.interval"),
		WatchJitter:    v.GetFloat64("watch.jitter"),
		WatchDebounce:  v.GetDuration("watch.debounce"),
		LogFile:        v.GetString("log.file"),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.KarakeepURL) == "" {
		return fmt.Errorf("karakeep.url is required (set it in karasync.yaml or KARASYNC_KARAKEEP_URL)")
	}
	if strings.TrimSpace(c.KarakeepKey) == "" {
		return fmt.Errorf("karakeep.api-key is required (set it in karasync.yaml or KARASYNC_KARAKEEP_API_KEY)")
	}
	if strings.TrimSpace(c.ListName) == "" {
		return fmt.Errorf("karakeep.list must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.SourceBackend)) {
	case "", "sqlite":
		if strings.TrimSpace(c.SourcePath) == "" {
			return fmt.Errorf("source.path is required for the sqlite backend")
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(c.SourceDSN) == "" {
			return fmt.Errorf("source.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported source.backend %q (choose sqlite or postgres)", c.SourceBackend)
	}
	if strings.TrimSpace(c.StateDSN) == "" {
		return fmt.Errorf("state.dsn must not be empty")
	}
	return nil
}
