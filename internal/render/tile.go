// Package render provides density tile rendering using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/yardmap/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	TileSize int
	// GridCells is the number of density cells per tile axis.
	GridCells int
}

// TileRenderer renders listing-density heat tiles.
type TileRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	if cfg.GridCells <= 0 {
		cfg.GridCells = 16
	}
	return &TileRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// GridCells returns the number of density cells per tile axis.
func (r *TileRenderer) GridCells() int {
	return r.config.GridCells
}

// RenderDensityTile renders a heat tile from per-cell listing counts.
// counts is row-major with row 0 at the south edge of the tile, which maps
// to the bottom of the image.
func (r *TileRenderer) RenderDensityTile(counts []int) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	// Clear canvas with white background
	dc.SetColor(color.White)
	dc.Clear()

	n := r.config.GridCells
	if len(counts) < n*n {
		return r.encodeContext(dc)
	}

	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	if maxCount == 0 {
		return r.encodeContext(dc)
	}

	tileSize := float64(r.config.TileSize)
	cellSize := tileSize / float64(n)

	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			count := counts[row*n+col]
			if count == 0 {
				continue
			}

			intensity := float64(count) / float64(maxCount)
			dc.SetColor(colormap.Heat.At(intensity))

			// Row 0 is the south edge; the image origin is the top-left.
			px := float64(col) * cellSize
			py := tileSize - float64(row+1)*cellSize
			dc.DrawRectangle(px, py, cellSize, cellSize)
			dc.Fill()
		}
	}

	return r.encodeContext(dc)
}

// RenderMarkerTile renders listings as colored dots, one palette color per
// category index. Positions are tile-local fractions in [0, 1) with y=0 at
// the south edge.
func (r *TileRenderer) RenderMarkerTile(xs, ys []float64, categoryIdx []int) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	tileSize := float64(r.config.TileSize)
	radius := tileSize / 64
	if radius < 2 {
		radius = 2
	}

	for i := range xs {
		if i >= len(ys) {
			break
		}
		px := xs[i] * tileSize
		py := tileSize - ys[i]*tileSize
		if px < 0 || px >= tileSize || py < 0 || py >= tileSize {
			continue
		}

		catIdx := 0
		if i < len(categoryIdx) {
			catIdx = categoryIdx[i]
		}
		if catIdx < 0 {
			continue
		}

		dc.SetColor(colormap.Categorical.AtIndex(catIdx))
		dc.DrawCircle(px, py, radius)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

func (r *TileRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates an empty transparent tile.
func (r *TileRenderer) CreateEmptyTile() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.TileSize, r.config.TileSize))
	// Fill with transparent white
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255   // R
		img.Pix[i+1] = 255 // G
		img.Pix[i+2] = 255 // B
		img.Pix[i+3] = 0   // A (transparent)
	}

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
