package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FullConfig(t *testing.T) {
	content := `
server:
  port: 9000
  cors_origins: ["https://yardmap.example"]
  throttle_limit: 50
store:
  sqlite_path: "/data/listings.sqlite"
cache:
  tile_size_mb: 128
  tile_ttl_minutes: 5
  query_size: 200
render:
  tile_size: 512
  grid_cells: 32
prefetch:
  workers: 4
  queue_size: 128
sessions:
  ttl_minutes: 10
  cleanup_period_minutes: 1
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.ThrottleLimit != 50 {
		t.Errorf("expected throttle 50, got %d", cfg.Server.ThrottleLimit)
	}
	if cfg.Store.SQLitePath != "/data/listings.sqlite" {
		t.Errorf("unexpected sqlite_path: %s", cfg.Store.SQLitePath)
	}
	if cfg.Cache.TileSizeMB != 128 || cfg.Cache.QuerySize != 200 {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Render.GridCells != 32 {
		t.Errorf("expected 32 grid cells, got %d", cfg.Render.GridCells)
	}
	if cfg.Prefetch.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Prefetch.Workers)
	}
	if cfg.Sessions.TTLMinutes != 10 {
		t.Errorf("expected 10 minute TTL, got %d", cfg.Sessions.TTLMinutes)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 9000
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Store.SQLitePath != "./data/listings.sqlite" {
		t.Errorf("expected default sqlite path, got %s", cfg.Store.SQLitePath)
	}
	if cfg.Cache.TileSizeMB != 256 {
		t.Errorf("expected default cache size 256, got %d", cfg.Cache.TileSizeMB)
	}
	if cfg.Render.TileSize != 256 {
		t.Errorf("expected default tile size 256, got %d", cfg.Render.TileSize)
	}
	if cfg.Prefetch.Workers != 2 {
		t.Errorf("expected default 2 workers, got %d", cfg.Prefetch.Workers)
	}
	if cfg.Sessions.TTLMinutes != 30 {
		t.Errorf("expected default 30 minute TTL, got %d", cfg.Sessions.TTLMinutes)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/server.yaml")
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not: valid"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
