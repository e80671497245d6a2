// Package cache provides caching for density tiles and listing query results.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/yardmap/server/internal/tile"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	QueryCacheSize  int
}

// Manager manages the density-tile and query-result caches. Query payloads
// (JSON listing sets) are zstd-compressed before storage; rendered PNG tiles
// are stored as-is.
type Manager struct {
	tileCache  *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	tileCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       100 * 1024, // 100KB per tile
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Manager{
		tileCache:  tileCache,
		queryCache: queryCache,
		encoder:    encoder,
		decoder:    decoder,
	}, nil
}

// GetTile retrieves a rendered tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores a rendered tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// GetQuery retrieves a query result payload from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	compressed, ok := m.queryCache.Get(key)
	if !ok {
		return nil, false
	}
	data, err := m.decoder.DecodeAll(compressed, nil)
	if err != nil {
		// Treat a corrupt entry as a miss and drop it.
		m.queryCache.Remove(key)
		return nil, false
	}
	return data, true
}

// SetQuery stores a query result payload in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, m.encoder.EncodeAll(data, nil))
}

// DensityTileKey generates a cache key for a density tile at a grid cell,
// scoped by filter hash.
func DensityTileKey(id tile.ID, filterHash string) string {
	return "density:" + string(id) + ":" + filterHash
}

// MarkerTileKey generates a cache key for a marker tile at a grid cell,
// scoped by filter hash.
func MarkerTileKey(id tile.ID, filterHash string) string {
	return "markers:" + string(id) + ":" + filterHash
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len":  m.tileCache.Len(),
		"tile_cache_cap":  m.tileCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	m.encoder.Close()
	m.decoder.Close()
	return m.tileCache.Close()
}
