// Package tile provides the fixed-grid spatial bucketing used for
// map prefetch and cache keys.
package tile

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Bounds represents the visible map rectangle in degrees.
// North is expected to be greater than South; no validation is performed.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Viewport is the coordinate-pair form of the same rectangle,
// with corners as [lng, lat] pairs.
type Viewport struct {
	Southwest [2]float64 `json:"southwest"`
	Northeast [2]float64 `json:"northeast"`
}

// ID identifies a grid cell at a zoom level, encoded as
// "{zoom}-{latIndex}-{lngIndex}". IDs are derived on demand and never
// persisted; they serve only as cache-key components and for adjacency.
type ID string

// gridSize returns the number of cells per axis at a zoom level.
// Zoom levels at or below 8 collapse to a single world-sized cell.
func gridSize(zoom int) int {
	e := zoom - 8
	if e < 0 {
		e = 0
	}
	return 1 << e
}

// IDForBounds buckets a bounds rectangle into a grid cell at the given zoom.
// Only the north/west anchor corner participates; viewport size and aspect
// ratio do not affect the result. This is coarse best-effort bucketing for
// prefetch adjacency, not a precise quad-tree.
func IDForBounds(b Bounds, zoom int) ID {
	g := float64(gridSize(zoom))
	latStep := 180.0 / g
	lngStep := 360.0 / g
	latIndex := int(math.Floor((b.North + 90) / latStep))
	lngIndex := int(math.Floor((b.West + 180) / lngStep))
	return ID(fmt.Sprintf("%d-%d-%d", zoom, latIndex, lngIndex))
}

// parse splits an ID into zoom, latIndex, lngIndex.
// IDs without exactly three dash-separated integer segments are malformed.
func (id ID) parse() (zoom, latIndex, lngIndex int, ok bool) {
	parts := strings.Split(string(id), "-")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var err error
	if zoom, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, false
	}
	if latIndex, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, false
	}
	if lngIndex, err = strconv.Atoi(parts[2]); err != nil {
		return 0, 0, 0, false
	}
	return zoom, latIndex, lngIndex, true
}

// Adjacent returns the orthogonal neighbor IDs (north, east, south, west),
// dropping any neighbor whose index falls outside [0, gridSize). There is no
// wraparound across the antimeridian or poles. Malformed IDs yield an empty
// slice rather than an error.
func (id ID) Adjacent() []ID {
	zoom, latIndex, lngIndex, ok := id.parse()
	if !ok {
		return []ID{}
	}

	g := gridSize(zoom)
	candidates := [4][2]int{
		{latIndex + 1, lngIndex}, // north
		{latIndex, lngIndex + 1}, // east
		{latIndex - 1, lngIndex}, // south
		{latIndex, lngIndex - 1}, // west
	}

	out := make([]ID, 0, 4)
	for _, c := range candidates {
		if c[0] < 0 || c[0] >= g || c[1] < 0 || c[1] >= g {
			continue
		}
		out = append(out, ID(fmt.Sprintf("%d-%d-%d", zoom, c[0], c[1])))
	}
	return out
}

// Bounds returns the full rectangle of the grid cell the ID names.
// The second return is false for malformed IDs.
func (id ID) Bounds() (Bounds, bool) {
	zoom, latIndex, lngIndex, ok := id.parse()
	if !ok {
		return Bounds{}, false
	}

	g := float64(gridSize(zoom))
	latStep := 180.0 / g
	lngStep := 360.0 / g
	south := float64(latIndex)*latStep - 90
	west := float64(lngIndex)*lngStep - 180
	return Bounds{
		North: south + latStep,
		South: south,
		East:  west + lngStep,
		West:  west,
	}, true
}

// ViewportBounds converts a viewport to bounds form. The zoom parameter is
// accepted for signature symmetry with the sibling functions and is unused.
func ViewportBounds(v Viewport, _ int) Bounds {
	return Bounds{
		North: v.Northeast[1],
		South: v.Southwest[1],
		East:  v.Northeast[0],
		West:  v.Southwest[0],
	}
}

// CurrentTileID returns the tile ID for a viewport at a zoom level.
func CurrentTileID(v Viewport, zoom int) ID {
	return IDForBounds(ViewportBounds(v, zoom), zoom)
}

// BoundsQuery serializes bounds to the query parameters the listings API
// expects: minLng/minLat/maxLng/maxLat.
func BoundsQuery(b Bounds) url.Values {
	q := url.Values{}
	q.Set("minLng", strconv.FormatFloat(b.West, 'f', -1, 64))
	q.Set("minLat", strconv.FormatFloat(b.South, 'f', -1, 64))
	q.Set("maxLng", strconv.FormatFloat(b.East, 'f', -1, 64))
	q.Set("maxLat", strconv.FormatFloat(b.North, 'f', -1, 64))
	return q
}

const earthRadiusKm = 6371.0

// Distance returns the great-circle distance in kilometers between two
// points, using the haversine formula.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
