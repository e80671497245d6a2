// Package api provides HTTP handlers for the YardMap server.
package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/yardmap/server/internal/filter"
	"github.com/yardmap/server/internal/intent"
	"github.com/yardmap/server/internal/service"
	"github.com/yardmap/server/internal/store"
	"github.com/yardmap/server/internal/tile"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Sessions      *SessionRegistry
	Query         *service.QueryService
	Prefetch      *service.PrefetchManager
	Store         *store.Store
	CORSOrigins   []string
	ThrottleLimit int
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.ThrottleLimit > 0 {
		r.Use(middleware.ThrottleBacklog(cfg.ThrottleLimit, cfg.ThrottleLimit*2, 5*time.Second))
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Listing CRUD and bbox queries
	r.Route("/api/listings", func(r chi.Router) {
		r.Post("/", createListingHandler(cfg.Store))
		r.Get("/", queryListingsHandler(cfg.Store))
		r.Get("/{listing_id}", getListingHandler(cfg.Store))
		r.Delete("/{listing_id}", deleteListingHandler(cfg.Store))
	})

	// Coordinator sessions
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", createSessionHandler(cfg.Sessions))
		r.Route("/{session_id}", func(r chi.Router) {
			r.Delete("/", deleteSessionHandler(cfg.Sessions))
			r.Post("/query", viewportQueryHandler(cfg.Sessions, cfg.Query, cfg.Prefetch))
			r.Get("/view", sessionViewHandler(cfg.Sessions))
		})
	})

	// Tile endpoints
	r.Get("/api/tiles/{tile_id}/neighbors", tileNeighborsHandler)
	r.Get("/tiles/{tile_id}/density.png", densityTileHandler(cfg.Query))
	r.Get("/tiles/{tile_id}/markers.png", markerTileHandler(cfg.Query))

	// Stats
	r.Get("/api/stats", statsHandler(cfg.Query, cfg.Sessions))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseBBox reads minLng/minLat/maxLng/maxLat query parameters.
func parseBBox(r *http.Request) (tile.Bounds, bool) {
	var b tile.Bounds
	values := []struct {
		name string
		dst  *float64
	}{
		{"minLng", &b.West},
		{"minLat", &b.South},
		{"maxLng", &b.East},
		{"maxLat", &b.North},
	}
	for _, v := range values {
		raw := r.URL.Query().Get(v.name)
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return tile.Bounds{}, false
		}
		*v.dst = f
	}
	return b, true
}

// parseFilters reads date_range, categories and radius query parameters.
func parseFilters(r *http.Request) filter.State {
	f := filter.State{DateRange: r.URL.Query().Get("date_range")}
	if raw := r.URL.Query().Get("categories"); raw != "" {
		f.Categories = strings.Split(raw, ",")
	}
	if raw := r.URL.Query().Get("radius"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			f.Radius = v
		}
	}
	return f
}

// createListingHandler inserts a new listing.
func createListingHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var l store.Listing
		if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if l.Title == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		if l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 {
			writeError(w, http.StatusBadRequest, "invalid coordinates")
			return
		}
		if l.EndsAt.Before(l.StartsAt) {
			writeError(w, http.StatusBadRequest, "ends_at is before starts_at")
			return
		}

		l.ID = generateListingID()
		l.CreatedAt = time.Now()

		if err := st.CreateListing(&l); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create listing: "+err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

// queryListingsHandler returns listings inside a bounding box.
func queryListingsHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bounds, ok := parseBBox(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "missing or invalid bbox params (minLng/minLat/maxLng/maxLat)")
			return
		}

		f := parseFilters(r)
		window, err := filter.ResolveDateRange(f.DateRange, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, _ = strconv.Atoi(raw)
		}

		listings, err := st.QueryBBox(bounds, f.Categories, window, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "query failed: "+err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"listings": listings,
			"count":    len(listings),
		})
	}
}

func getListingHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "listing_id")
		l, err := st.GetListing(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if l == nil {
			writeError(w, http.StatusNotFound, "listing not found: "+id)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func deleteListingHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "listing_id")
		if err := st.DeleteListing(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func createSessionHandler(sessions *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessions.Create()
		writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID})
	}
}

func deleteSessionHandler(sessions *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions.Delete(chi.URLParam(r, "session_id"))
		w.WriteHeader(http.StatusNoContent)
	}
}

// viewportQueryHandler runs the coordinator operation: dispatch a query for
// the posted viewport, resolve it, and report whether the result was
// admitted. Adjacent tiles are queued for prefetch only when it was.
func viewportQueryHandler(sessions *SessionRegistry, query *service.QueryService, prefetch *service.PrefetchManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessions.Get(chi.URLParam(r, "session_id"))
		if sess == nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}

		var req service.ViewportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if req.Zoom < 0 {
			writeError(w, http.StatusBadRequest, "zoom must be >= 0")
			return
		}
		if req.Intent.Kind == "" {
			req.Intent.Kind = intent.UserPan
		}

		result, admitted, err := query.ViewportQuery(sess, req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if admitted && prefetch != nil {
			prefetch.EnqueueAdjacent(result.TileID, req.Filters)
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"admitted": admitted,
			"result":   result,
		})
	}
}

// sessionViewHandler returns the last admitted view result.
func sessionViewHandler(sessions *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessions.Get(chi.URLParam(r, "session_id"))
		if sess == nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}

		view := sess.View()
		current, seq := sess.Current()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"view":           view,
			"current_intent": current,
			"current_seq":    seq,
		})
	}
}

// tileNeighborsHandler returns the orthogonal neighbor IDs for a tile.
// Malformed IDs produce an empty list, not an error.
func tileNeighborsHandler(w http.ResponseWriter, r *http.Request) {
	id := tile.ID(chi.URLParam(r, "tile_id"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tile_id":   id,
		"neighbors": id.Adjacent(),
	})
}

func densityTileHandler(query *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := tile.ID(chi.URLParam(r, "tile_id"))
		data, err := query.DensityTile(id, parseFilters(r))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Write(data)
	}
}

func markerTileHandler(query *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := tile.ID(chi.URLParam(r, "tile_id"))
		data, err := query.MarkerTile(id, parseFilters(r))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Write(data)
	}
}

func statsHandler(query *service.QueryService, sessions *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := query.CacheStats()
		stats["sessions"] = sessions.Len()
		writeJSON(w, http.StatusOK, stats)
	}
}

func generateListingID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
