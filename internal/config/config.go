// Package config handles configuration loading for the YardMap server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Render   RenderConfig   `yaml:"render"`
	Prefetch PrefetchConfig `yaml:"prefetch"`
	Sessions SessionsConfig `yaml:"sessions"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port          int      `yaml:"port"`
	CORSOrigins   []string `yaml:"cors_origins"`
	ThrottleLimit int      `yaml:"throttle_limit"`
}

// StoreConfig contains listing storage settings.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB     int `yaml:"tile_size_mb"`
	TileTTLMinutes int `yaml:"tile_ttl_minutes"`
	QuerySize      int `yaml:"query_size"`
}

// RenderConfig contains density tile rendering settings.
type RenderConfig struct {
	TileSize  int `yaml:"tile_size"`
	GridCells int `yaml:"grid_cells"`
}

// PrefetchConfig contains adjacent-tile prefetch settings.
type PrefetchConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// SessionsConfig contains coordinator session settings.
type SessionsConfig struct {
	TTLMinutes           int `yaml:"ttl_minutes"`
	CleanupPeriodMinutes int `yaml:"cleanup_period_minutes"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8080,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			ThrottleLimit: 100,
		},
		Store: StoreConfig{
			SQLitePath: "./data/listings.sqlite",
		},
		Cache: CacheConfig{
			TileSizeMB:     256,
			TileTTLMinutes: 10,
			QuerySize:      1000,
		},
		Render: RenderConfig{
			TileSize:  256,
			GridCells: 16,
		},
		Prefetch: PrefetchConfig{
			Workers:   2,
			QueueSize: 64,
		},
		Sessions: SessionsConfig{
			TTLMinutes:           30,
			CleanupPeriodMinutes: 5,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.ThrottleLimit == 0 {
		cfg.Server.ThrottleLimit = defaults.Server.ThrottleLimit
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.QuerySize == 0 {
		cfg.Cache.QuerySize = defaults.Cache.QuerySize
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.GridCells == 0 {
		cfg.Render.GridCells = defaults.Render.GridCells
	}
	if cfg.Prefetch.Workers == 0 {
		cfg.Prefetch.Workers = defaults.Prefetch.Workers
	}
	if cfg.Prefetch.QueueSize == 0 {
		cfg.Prefetch.QueueSize = defaults.Prefetch.QueueSize
	}
	if cfg.Sessions.TTLMinutes == 0 {
		cfg.Sessions.TTLMinutes = defaults.Sessions.TTLMinutes
	}
	if cfg.Sessions.CleanupPeriodMinutes == 0 {
		cfg.Sessions.CleanupPeriodMinutes = defaults.Sessions.CleanupPeriodMinutes
	}
}
