// Package store provides persistent storage for yard sale listings using SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yardmap/server/internal/filter"
	"github.com/yardmap/server/internal/tile"
)

// Listing is a single yard sale listing.
type Listing struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Category    string    `json:"category"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store provides persistent storage for listings using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based listing store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		price_cents INTEGER DEFAULT 0,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		category TEXT NOT NULL,
		starts_at TEXT NOT NULL,
		ends_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_lat ON listings(lat);
	CREATE INDEX IF NOT EXISTS idx_listings_lng ON listings(lng);
	CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(category);
	CREATE INDEX IF NOT EXISTS idx_listings_starts ON listings(starts_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateListing inserts a new listing.
func (s *Store) CreateListing(l *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO listings (id, title, description, price_cents, lat, lng, category, starts_at, ends_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID,
		l.Title,
		l.Description,
		l.PriceCents,
		l.Lat,
		l.Lng,
		l.Category,
		l.StartsAt.UTC().Format(time.RFC3339),
		l.EndsAt.UTC().Format(time.RFC3339),
		l.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetListing retrieves a listing by ID. Returns nil if not found.
func (s *Store) GetListing(id string) (*Listing, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, price_cents, lat, lng, category, starts_at, ends_at, created_at
		FROM listings WHERE id = ?
	`, id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// DeleteListing removes a listing by ID.
func (s *Store) DeleteListing(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM listings WHERE id = ?`, id)
	return err
}

// QueryBBox returns listings inside the bounding box whose sale dates overlap
// the window, optionally restricted by category.
// Category filter semantics match tile filtering elsewhere:
//   - nil  => no filter (all categories)
//   - []   => filter-to-none (no listings)
func (s *Store) QueryBBox(b tile.Bounds, categories []string, window filter.Window, limit int) ([]Listing, error) {
	if categories != nil && len(categories) == 0 {
		return []Listing{}, nil
	}
	if limit <= 0 {
		limit = 500
	}
	if limit > 5000 {
		limit = 5000
	}

	query := `
		SELECT id, title, description, price_cents, lat, lng, category, starts_at, ends_at, created_at
		FROM listings
		WHERE lat >= ? AND lat <= ? AND lng >= ? AND lng <= ?
	`
	args := []interface{}{b.South, b.North, b.West, b.East}

	if len(categories) > 0 {
		placeholders := strings.Repeat("?,", len(categories))
		query += " AND category IN (" + placeholders[:len(placeholders)-1] + ")"
		for _, c := range categories {
			args = append(args, c)
		}
	}

	if !window.Unbounded() {
		// Overlap: sale starts before the window ends and ends after it starts.
		query += " AND starts_at < ? AND ends_at > ?"
		args = append(args,
			window.End.UTC().Format(time.RFC3339),
			window.Start.UTC().Format(time.RFC3339),
		)
	}

	query += " ORDER BY starts_at, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Listing, 0, 64)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// CountInCells counts listings per cell of an n-by-n grid over the bounds,
// applying the same category and date filters as QueryBBox. Used by the
// density tile renderer. Index layout is row-major with row 0 at the south edge.
func (s *Store) CountInCells(b tile.Bounds, n int, categories []string, window filter.Window) ([]int, error) {
	counts := make([]int, n*n)

	if categories != nil && len(categories) == 0 {
		return counts, nil
	}

	listings, err := s.QueryBBox(b, categories, window, 5000)
	if err != nil {
		return nil, err
	}

	latSpan := b.North - b.South
	lngSpan := b.East - b.West
	if latSpan <= 0 || lngSpan <= 0 {
		return counts, nil
	}

	for _, l := range listings {
		row := int(float64(n) * (l.Lat - b.South) / latSpan)
		col := int(float64(n) * (l.Lng - b.West) / lngSpan)
		if row < 0 || row >= n || col < 0 || col >= n {
			continue
		}
		counts[row*n+col]++
	}
	return counts, nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(sc scanner) (*Listing, error) {
	var l Listing
	var startsAt, endsAt, createdAt string

	err := sc.Scan(
		&l.ID,
		&l.Title,
		&l.Description,
		&l.PriceCents,
		&l.Lat,
		&l.Lng,
		&l.Category,
		&startsAt,
		&endsAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if l.StartsAt, err = time.Parse(time.RFC3339, startsAt); err != nil {
		return nil, fmt.Errorf("invalid starts_at %q: %w", startsAt, err)
	}
	if l.EndsAt, err = time.Parse(time.RFC3339, endsAt); err != nil {
		return nil, fmt.Errorf("invalid ends_at %q: %w", endsAt, err)
	}
	if l.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	return &l, nil
}
