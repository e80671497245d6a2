// Package filter provides search-filter fingerprinting and date-range
// resolution for listing queries.
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/yardmap/server/internal/tile"
)

// State is the active search filter. Category order is not significant;
// two states differing only in category order fingerprint identically.
type State struct {
	DateRange  string   `json:"date_range"`
	Categories []string `json:"categories"`
	Radius     float64  `json:"radius"`
}

// Hash collapses a filter state into a short stable string suitable as a
// cache-key component. The hash is a djb2 variant rendered in base36; it is
// chosen for determinism and short output, not collision resistance.
func Hash(s State) string {
	// Sort a copy so the caller's slice is untouched.
	cats := make([]string, len(s.Categories))
	copy(cats, s.Categories)
	sort.Strings(cats)

	// Canonical serialization with fixed field order.
	canonical := fmt.Sprintf("dr=%s;cat=%s;r=%s",
		s.DateRange,
		strings.Join(cats, ","),
		strconv.FormatFloat(s.Radius, 'f', -1, 64),
	)

	var h int32
	for _, b := range []byte(canonical) {
		h = h*33 + int32(b)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}

// Equal reports whether two filter states fingerprint identically.
// This is equality by hash, not structural comparison.
func Equal(a, b State) bool {
	return Hash(a) == Hash(b)
}

// CacheKey combines a tile ID and a filter hash into the composite key used
// to look up cached query results per (region, filter) pair.
func CacheKey(id tile.ID, filterHash string) string {
	return string(id) + ":" + filterHash
}
