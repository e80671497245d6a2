package service

import (
	"bytes"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/yardmap/server/internal/cache"
	"github.com/yardmap/server/internal/filter"
	"github.com/yardmap/server/internal/intent"
	"github.com/yardmap/server/internal/render"
	"github.com/yardmap/server/internal/store"
	"github.com/yardmap/server/internal/tile"
)

// stubSource is an in-memory ListingSource that records calls and can block
// a chosen fetch to simulate slow queries racing each other.
type stubSource struct {
	mu       sync.Mutex
	calls    int
	listings []store.Listing

	// When set, the first QueryBBox call blocks until released.
	gate     chan struct{}
	entered  chan struct{}
	gateOnce sync.Once
}

func (s *stubSource) QueryBBox(b tile.Bounds, categories []string, window filter.Window, limit int) ([]store.Listing, error) {
	s.mu.Lock()
	s.calls++
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		blocked := false
		s.gateOnce.Do(func() {
			blocked = true
		})
		if blocked {
			close(s.entered)
			<-gate
		}
	}
	return s.listings, nil
}

func (s *stubSource) CountInCells(b tile.Bounds, n int, categories []string, window filter.Window) ([]int, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	counts := make([]int, n*n)
	counts[0] = len(s.listings)
	return counts, nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testService(t *testing.T, src ListingSource) *QueryService {
	t.Helper()

	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: 16,
		TileTTL:         1 * time.Minute,
		QueryCacheSize:  32,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { cacheManager.Close() })

	return NewQueryService(QueryServiceConfig{
		Store:    src,
		Cache:    cacheManager,
		Renderer: render.NewTileRenderer(render.Config{TileSize: 64, GridCells: 4}),
	})
}

var testViewport = tile.Viewport{
	Southwest: [2]float64{-122.36, 47.60},
	Northeast: [2]float64{-122.28, 47.68},
}

func TestViewportQuery_Admitted(t *testing.T) {
	src := &stubSource{listings: []store.Listing{{ID: "a1", Title: "garage sale"}}}
	svc := testService(t, src)
	sess := NewSession("s1")

	req := ViewportRequest{
		Viewport: testViewport,
		Zoom:     12,
		Filters:  filter.State{DateRange: filter.RangeAll},
		Intent:   intent.Intent{Kind: intent.UserPan},
	}

	result, admitted, err := svc.ViewportQuery(sess, req)
	if err != nil {
		t.Fatalf("ViewportQuery failed: %v", err)
	}
	if !admitted {
		t.Fatal("uncontended query should be admitted")
	}
	if result.TileID != tile.ID("12-12-2") {
		t.Errorf("unexpected tile id: %s", result.TileID)
	}
	if result.Seq != 1 {
		t.Errorf("expected seq 1, got %d", result.Seq)
	}
	if len(result.Listings) != 1 || result.Listings[0].ID != "a1" {
		t.Errorf("unexpected listings: %v", result.Listings)
	}

	view := sess.View()
	if view == nil || view.Seq != 1 {
		t.Fatalf("admitted result should be applied to the session view: %+v", view)
	}
}

func TestViewportQuery_CacheHit(t *testing.T) {
	src := &stubSource{listings: []store.Listing{{ID: "a1", Title: "garage sale"}}}
	svc := testService(t, src)
	sess := NewSession("s1")

	req := ViewportRequest{
		Viewport: testViewport,
		Zoom:     12,
		Filters:  filter.State{DateRange: filter.RangeAll},
		Intent:   intent.Intent{Kind: intent.UserPan},
	}

	if _, _, err := svc.ViewportQuery(sess, req); err != nil {
		t.Fatalf("first query failed: %v", err)
	}
	if _, _, err := svc.ViewportQuery(sess, req); err != nil {
		t.Fatalf("second query failed: %v", err)
	}

	if got := src.callCount(); got != 1 {
		t.Errorf("second identical query should be served from cache, store calls = %d", got)
	}
}

func TestViewportQuery_UnknownDateRange(t *testing.T) {
	svc := testService(t, &stubSource{})
	sess := NewSession("s1")

	_, _, err := svc.ViewportQuery(sess, ViewportRequest{
		Viewport: testViewport,
		Zoom:     12,
		Filters:  filter.State{DateRange: "fortnight"},
		Intent:   intent.Intent{Kind: intent.UserPan},
	})
	if err == nil {
		t.Fatal("expected error for unknown date range preset")
	}
}

func TestViewportQuery_CoarseCacheKey(t *testing.T) {
	// The cache key is (tile, filter hash), coarser than the viewport. A
	// second viewport in the same grid cell with the same filters is served
	// the first viewport's listing set without another store call.
	src := &stubSource{listings: []store.Listing{{ID: "a1", Title: "garage sale"}}}
	svc := testService(t, src)
	sess := NewSession("s1")

	f := filter.State{DateRange: filter.RangeAll}
	first, _, err := svc.ViewportQuery(sess, ViewportRequest{
		Viewport: testViewport,
		Zoom:     12,
		Filters:  f,
		Intent:   intent.Intent{Kind: intent.UserPan},
	})
	if err != nil {
		t.Fatalf("first query failed: %v", err)
	}

	// Different rectangle, same north/west-anchored cell (12-12-2 spans
	// lat 45..56.25, lng -135..-112.5).
	shifted := tile.Viewport{
		Southwest: [2]float64{-130.0, 50.0},
		Northeast: [2]float64{-129.0, 51.0},
	}
	second, _, err := svc.ViewportQuery(sess, ViewportRequest{
		Viewport: shifted,
		Zoom:     12,
		Filters:  f,
		Intent:   intent.Intent{Kind: intent.UserPan},
	})
	if err != nil {
		t.Fatalf("second query failed: %v", err)
	}

	if first.CacheKey != second.CacheKey {
		t.Fatalf("viewports in one cell should share a key: %s vs %s", first.CacheKey, second.CacheKey)
	}
	if got := src.callCount(); got != 1 {
		t.Errorf("second viewport in the same cell should be served from cache, store calls = %d", got)
	}
}

func TestViewportQuery_StaleResultRejected(t *testing.T) {
	// Query A (filters) blocks in the store; the user pans and query B
	// completes first. A must resolve rejected and must not overwrite B's
	// view.
	src := &stubSource{
		listings: []store.Listing{{ID: "a1", Title: "garage sale"}},
		gate:     make(chan struct{}),
		entered:  make(chan struct{}),
	}
	svc := testService(t, src)
	sess := NewSession("s1")

	type outcome struct {
		result   *ViewResult
		admitted bool
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		result, admitted, err := svc.ViewportQuery(sess, ViewportRequest{
			Viewport: testViewport,
			Zoom:     12,
			Filters:  filter.State{DateRange: filter.RangeAll, Categories: []string{"tools"}},
			Intent:   intent.Intent{Kind: intent.Filters},
		})
		done <- outcome{result, admitted, err}
	}()

	// Wait until A is inside the store call, then pan elsewhere.
	<-src.entered

	panViewport := tile.Viewport{
		Southwest: [2]float64{-100.0, 35.0},
		Northeast: [2]float64{-99.9, 35.1},
	}
	resultB, admittedB, err := svc.ViewportQuery(sess, ViewportRequest{
		Viewport: panViewport,
		Zoom:     12,
		Filters:  filter.State{DateRange: filter.RangeAll},
		Intent:   intent.Intent{Kind: intent.UserPan},
	})
	if err != nil {
		t.Fatalf("query B failed: %v", err)
	}
	if !admittedB {
		t.Fatal("query B should be admitted")
	}
	if resultB.Seq != 2 {
		t.Fatalf("expected seq 2 for B, got %d", resultB.Seq)
	}

	// Release A.
	close(src.gate)
	outA := <-done
	if outA.err != nil {
		t.Fatalf("query A failed: %v", outA.err)
	}
	if outA.admitted {
		t.Error("superseded query A must be rejected")
	}
	if outA.result.Seq != 1 {
		t.Errorf("expected seq 1 for A, got %d", outA.result.Seq)
	}

	view := sess.View()
	if view == nil || view.Seq != 2 {
		t.Fatalf("session view must keep B's result, got %+v", view)
	}
}

func TestWarmTile(t *testing.T) {
	src := &stubSource{listings: []store.Listing{{ID: "a1", Title: "garage sale"}}}
	svc := testService(t, src)

	f := filter.State{DateRange: filter.RangeAll}
	if err := svc.WarmTile(tile.ID("12-12-3"), f); err != nil {
		t.Fatalf("WarmTile failed: %v", err)
	}
	if got := src.callCount(); got != 1 {
		t.Fatalf("expected one store call, got %d", got)
	}

	// Second warm is a no-op.
	if err := svc.WarmTile(tile.ID("12-12-3"), f); err != nil {
		t.Fatalf("second WarmTile failed: %v", err)
	}
	if got := src.callCount(); got != 1 {
		t.Errorf("warm of a cached tile should not hit the store, calls = %d", got)
	}

	// Malformed IDs are ignored.
	if err := svc.WarmTile(tile.ID("garbage"), f); err != nil {
		t.Errorf("malformed id should be a no-op, got %v", err)
	}
}

func TestDensityTile(t *testing.T) {
	src := &stubSource{listings: []store.Listing{{ID: "a1"}, {ID: "a2"}}}
	svc := testService(t, src)

	f := filter.State{DateRange: filter.RangeAll}
	data, err := svc.DensityTile(tile.ID("12-12-2"), f)
	if err != nil {
		t.Fatalf("DensityTile failed: %v", err)
	}

	pngMagic := []byte{0x89, 0x50, 0x4e, 0x47}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Fatalf("expected PNG output, got prefix %v", data[:4])
	}

	// Cached on second request.
	if _, err := svc.DensityTile(tile.ID("12-12-2"), f); err != nil {
		t.Fatalf("second DensityTile failed: %v", err)
	}
	if got := src.callCount(); got != 1 {
		t.Errorf("second tile should come from cache, store calls = %d", got)
	}

	if _, err := svc.DensityTile(tile.ID("garbage"), f); err == nil {
		t.Error("expected error for malformed tile id")
	}
}

func TestDensityTile_NoListings(t *testing.T) {
	// A cell with no matching listings gets the transparent empty tile.
	svc := testService(t, &stubSource{})

	data, err := svc.DensityTile(tile.ID("12-12-2"), filter.State{DateRange: filter.RangeAll})
	if err != nil {
		t.Fatalf("DensityTile failed: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to decode tile: %v", err)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Errorf("expected transparent tile, got alpha %d", a)
	}
}

func TestMarkerTile(t *testing.T) {
	// Listings inside cell 12-12-2 (lat 45..56.25, lng -135..-112.5).
	src := &stubSource{listings: []store.Listing{
		{ID: "a1", Lat: 47.62, Lng: -122.33, Category: "tools"},
		{ID: "a2", Lat: 47.64, Lng: -122.30, Category: "furniture"},
	}}
	svc := testService(t, src)

	f := filter.State{DateRange: filter.RangeAll}
	data, err := svc.MarkerTile(tile.ID("12-12-2"), f)
	if err != nil {
		t.Fatalf("MarkerTile failed: %v", err)
	}

	pngMagic := []byte{0x89, 0x50, 0x4e, 0x47}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Fatalf("expected PNG output, got prefix %v", data[:4])
	}

	// Cached on second request.
	if _, err := svc.MarkerTile(tile.ID("12-12-2"), f); err != nil {
		t.Fatalf("second MarkerTile failed: %v", err)
	}
	if got := src.callCount(); got != 1 {
		t.Errorf("second tile should come from cache, store calls = %d", got)
	}

	if _, err := svc.MarkerTile(tile.ID("garbage"), f); err == nil {
		t.Error("expected error for malformed tile id")
	}
}

func TestCategoryIndex_Deterministic(t *testing.T) {
	listings := []store.Listing{
		{ID: "a1", Category: "tools"},
		{ID: "a2", Category: "furniture"},
		{ID: "a3", Category: "tools"},
		{ID: "a4", Category: "books"},
	}

	index := categoryIndex(listings)
	want := map[string]int{"books": 0, "furniture": 1, "tools": 2}
	for name, i := range want {
		if index[name] != i {
			t.Errorf("category %q: expected index %d, got %d", name, i, index[name])
		}
	}
}
