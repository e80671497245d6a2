// Package service provides business logic for the viewport query coordinator.
package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/yardmap/server/internal/cache"
	"github.com/yardmap/server/internal/filter"
	"github.com/yardmap/server/internal/intent"
	"github.com/yardmap/server/internal/render"
	"github.com/yardmap/server/internal/store"
	"github.com/yardmap/server/internal/tile"
)

// ListingSource is the subset of the listing store the query service needs.
type ListingSource interface {
	QueryBBox(b tile.Bounds, categories []string, window filter.Window, limit int) ([]store.Listing, error)
	CountInCells(b tile.Bounds, n int, categories []string, window filter.Window) ([]int, error)
}

// QueryServiceConfig contains query service configuration.
type QueryServiceConfig struct {
	Store      ListingSource
	Cache      *cache.Manager
	Renderer   *render.TileRenderer
	QueryLimit int
}

// QueryService coordinates viewport queries: it derives the tile and filter
// cache key for a viewport, fetches listings through the cache, and gates
// result application per session with the intent/sequence admission guard.
type QueryService struct {
	store      ListingSource
	cache      *cache.Manager
	renderer   *render.TileRenderer
	queryLimit int
}

// NewQueryService creates a new query service.
func NewQueryService(cfg QueryServiceConfig) *QueryService {
	limit := cfg.QueryLimit
	if limit <= 0 {
		limit = 500
	}
	return &QueryService{
		store:      cfg.Store,
		cache:      cfg.Cache,
		renderer:   cfg.Renderer,
		queryLimit: limit,
	}
}

// ViewportRequest describes one viewport change and the action behind it.
type ViewportRequest struct {
	Viewport tile.Viewport `json:"viewport"`
	Zoom     int           `json:"zoom"`
	Filters  filter.State  `json:"filters"`
	Intent   intent.Intent `json:"intent"`
}

// ViewResult is the outcome of one viewport query.
type ViewResult struct {
	TileID     tile.ID         `json:"tile_id"`
	FilterHash string          `json:"filter_hash"`
	CacheKey   string          `json:"cache_key"`
	Seq        uint64          `json:"seq"`
	Intent     intent.Kind     `json:"intent"`
	Listings   []store.Listing `json:"listings"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// ViewportQuery dispatches a query for the request and resolves it against
// the session's admission guard. The returned bool reports whether the
// result was admitted and applied to the session's view state; a rejected
// result is still returned so callers can observe what was discarded.
//
// The sequence counter advances synchronously at dispatch, before the fetch,
// so a concurrent request that dispatches later supersedes this one even if
// this one resolves last.
func (s *QueryService) ViewportQuery(sess *Session, req ViewportRequest) (*ViewResult, bool, error) {
	bounds := tile.ViewportBounds(req.Viewport, req.Zoom)
	tileID := tile.IDForBounds(bounds, req.Zoom)
	filterHash := filter.Hash(req.Filters)
	key := filter.CacheKey(tileID, filterHash)

	ticket := sess.coord.Dispatch(req.Intent)

	listings, err := s.fetchListings(key, bounds, req.Filters)
	if err != nil {
		return nil, false, err
	}

	result := &ViewResult{
		TileID:     tileID,
		FilterHash: filterHash,
		CacheKey:   key,
		Seq:        ticket.Seq,
		Intent:     ticket.Kind,
		Listings:   listings,
		FetchedAt:  time.Now(),
	}

	admitted := sess.coord.Admit(ticket)
	if admitted {
		sess.setView(result)
	}
	return result, admitted, nil
}

// fetchListings returns listings for the bounds, going through the query
// cache keyed by (tile, filter hash). The key is coarser than the bounds: a
// later lookup under the same (tile, filter hash) is served this entry's
// listing set even when its viewport covered a different part of the cell.
func (s *QueryService) fetchListings(key string, bounds tile.Bounds, f filter.State) ([]store.Listing, error) {
	if data, ok := s.cache.GetQuery(key); ok {
		var listings []store.Listing
		if err := json.Unmarshal(data, &listings); err == nil {
			return listings, nil
		}
		// Corrupt entry; fall through to the store.
	}

	window, err := filter.ResolveDateRange(f.DateRange, time.Now())
	if err != nil {
		return nil, err
	}

	listings, err := s.store.QueryBBox(bounds, f.Categories, window, s.queryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}

	if data, err := json.Marshal(listings); err == nil {
		s.cache.SetQuery(key, data)
	}
	return listings, nil
}

// WarmTile fetches and caches the listing set for a whole grid cell, so a
// pan into an adjacent tile can be answered from cache. A no-op for
// malformed IDs and for keys already cached; an entry a prior viewport
// query populated for part of the cell is kept as-is.
func (s *QueryService) WarmTile(id tile.ID, f filter.State) error {
	key := filter.CacheKey(id, filter.Hash(f))
	if _, ok := s.cache.GetQuery(key); ok {
		return nil
	}

	bounds, ok := id.Bounds()
	if !ok {
		return nil
	}

	_, err := s.fetchListings(key, bounds, f)
	return err
}

// DensityTile returns the rendered density PNG for a grid cell under the
// given filters, through the tile cache.
func (s *QueryService) DensityTile(id tile.ID, f filter.State) ([]byte, error) {
	key := cache.DensityTileKey(id, filter.Hash(f))
	if data, ok := s.cache.GetTile(key); ok {
		return data, nil
	}

	bounds, ok := id.Bounds()
	if !ok {
		return nil, fmt.Errorf("malformed tile id: %s", id)
	}

	window, err := filter.ResolveDateRange(f.DateRange, time.Now())
	if err != nil {
		return nil, err
	}

	counts, err := s.store.CountInCells(bounds, s.renderer.GridCells(), f.Categories, window)
	if err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}

	total := 0
	for _, c := range counts {
		total += c
	}

	var data []byte
	if total == 0 {
		// No listings match: serve a transparent tile so the map below
		// shows through.
		data, err = s.renderer.CreateEmptyTile()
	} else {
		data, err = s.renderer.RenderDensityTile(counts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render tile: %w", err)
	}

	s.cache.SetTile(key, data)
	return data, nil
}

// MarkerTile returns the rendered marker PNG for a grid cell under the given
// filters: one dot per listing, colored by category. Shares the query cache
// with WarmTile, so a warmed cell renders without a store round trip.
func (s *QueryService) MarkerTile(id tile.ID, f filter.State) ([]byte, error) {
	filterHash := filter.Hash(f)
	key := cache.MarkerTileKey(id, filterHash)
	if data, ok := s.cache.GetTile(key); ok {
		return data, nil
	}

	bounds, ok := id.Bounds()
	if !ok {
		return nil, fmt.Errorf("malformed tile id: %s", id)
	}

	listings, err := s.fetchListings(filter.CacheKey(id, filterHash), bounds, f)
	if err != nil {
		return nil, err
	}

	var data []byte
	if len(listings) == 0 {
		data, err = s.renderer.CreateEmptyTile()
	} else {
		xs := make([]float64, len(listings))
		ys := make([]float64, len(listings))
		catIdx := make([]int, len(listings))
		index := categoryIndex(listings)
		for i, l := range listings {
			xs[i] = (l.Lng - bounds.West) / (bounds.East - bounds.West)
			ys[i] = (l.Lat - bounds.South) / (bounds.North - bounds.South)
			catIdx[i] = index[l.Category]
		}
		data, err = s.renderer.RenderMarkerTile(xs, ys, catIdx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render tile: %w", err)
	}

	s.cache.SetTile(key, data)
	return data, nil
}

// categoryIndex assigns palette indexes to the distinct categories present,
// in sorted order so the assignment is deterministic for a given listing set.
func categoryIndex(listings []store.Listing) map[string]int {
	names := make([]string, 0, 8)
	seen := make(map[string]bool, 8)
	for _, l := range listings {
		if !seen[l.Category] {
			seen[l.Category] = true
			names = append(names, l.Category)
		}
	}
	sort.Strings(names)

	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}
	return index
}

// CacheStats exposes cache statistics for the stats endpoint.
func (s *QueryService) CacheStats() map[string]interface{} {
	return s.cache.Stats()
}
