package geotiff

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
)

var discardLogger = slog.New(slog.DiscardHandler)

// Sampler answers point queries on a tiled raster. It is immutable after
// construction and safe for concurrent use.
type Sampler struct {
	dir   *Directory
	tiles TileSource

	// Derived once from the transform so queries only multiply.
	originX   float64
	originY   float64
	invScaleX float64
	invScaleY float64

	logger  *slog.Logger
	onRagged func(TileLocation)
	workers int

	raggedEdges atomic.Uint64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger used for per-query diagnostics. The default
// discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRaggedEdgeHook registers fn to be called every time a query lands on a
// pixel whose tile or in-tile offset is not populated.
func WithRaggedEdgeHook(fn func(TileLocation)) Option {
	return func(s *Sampler) { s.onRagged = fn }
}

// WithDecodeWorkers bounds the parallelism of the eager decode done by
// NewSampler.
func WithDecodeWorkers(n int) Option {
	return func(s *Sampler) { s.workers = n }
}

// NewSampler parses and fully decodes an in-memory raster. Once it returns,
// raw is no longer referenced.
func NewSampler(raw []byte, opts ...Option) (*Sampler, error) {
	s := newSampler(opts)
	dir, err := ParseDirectory(raw)
	if err != nil {
		return nil, err
	}
	store, err := LoadTileStore(dir, raw, LoadOptions{Workers: s.workers})
	if err != nil {
		return nil, err
	}
	if err := s.init(dir, store); err != nil {
		return nil, err
	}
	s.logger.Debug("raster loaded", "directory", dir)
	return s, nil
}

// OpenSampler reads only the directory of the raster behind r and decodes
// tiles on demand through a CachedTileStore. r must implement io.ReaderAt.
func OpenSampler(r io.ReadSeeker, cfg CacheConfig, opts ...Option) (*Sampler, *CachedTileStore, error) {
	ra, ok := r.(io.ReaderAt)
	if !ok {
		return nil, nil, errors.New("reader does not support ReadAt for tile fetching")
	}
	s := newSampler(opts)
	dir, err := ReadDirectory(r)
	if err != nil {
		return nil, nil, err
	}
	store, err := NewCachedTileStore(dir, ra, cfg, s.logger)
	if err != nil {
		return nil, nil, err
	}
	if err := s.init(dir, store); err != nil {
		store.Close()
		return nil, nil, err
	}
	s.logger.Debug("raster opened", "directory", dir)
	return s, store, nil
}

// NewSamplerFromStore builds a sampler over an already populated tile
// source.
func NewSamplerFromStore(dir *Directory, tiles TileSource, opts ...Option) (*Sampler, error) {
	s := newSampler(opts)
	if err := s.init(dir, tiles); err != nil {
		return nil, err
	}
	return s, nil
}

func newSampler(opts []Option) *Sampler {
	s := &Sampler{logger: discardLogger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sampler) init(dir *Directory, tiles TileSource) error {
	if dir.Transform[0] == 0 || dir.Transform[5] == 0 {
		return malformed("zero pixel scale in transform")
	}
	s.dir = dir
	s.tiles = tiles
	s.originX = dir.Transform[3]
	s.originY = dir.Transform[7]
	s.invScaleX = 1.0 / dir.Transform[0]
	s.invScaleY = 1.0 / dir.Transform[5]
	return nil
}

// Directory returns the parsed raster directory.
func (s *Sampler) Directory() *Directory { return s.dir }

// PixelAt converts a geographic position to the nearest pixel column and
// row. Halves round up.
func (s *Sampler) PixelAt(easting, northing float64) (x, y int) {
	x = int(math.Floor((easting-s.originX)*s.invScaleX + 0.5))
	y = int(math.Floor((northing-s.originY)*s.invScaleY + 0.5))
	return x, y
}

// Coord converts a pixel column and row to its geographic position.
func (s *Sampler) Coord(x, y int) (easting, northing float64) {
	return s.originX + float64(x)*s.dir.Transform[0], s.originY + float64(y)*s.dir.Transform[5]
}

// Contains reports whether the pixel lies inside the image.
func (s *Sampler) Contains(x, y int) bool {
	return x >= 0 && x < s.dir.Width && y >= 0 && y < s.dir.Height
}

// SampleAt returns the value at the given position, NaN when the position
// falls outside the raster, and 0 when it falls on a part of a ragged edge
// tile that holds no data.
func (s *Sampler) SampleAt(easting, northing float64) float32 {
	v, err := s.Sample(easting, northing)
	if err != nil {
		s.logger.Warn("sample failed", "easting", easting, "northing", northing, "error", err)
		return float32(math.NaN())
	}
	return v
}

// Sample is SampleAt that reports tile source failures instead of folding
// them into NaN. Only a lazily loading source can fail.
func (s *Sampler) Sample(easting, northing float64) (float32, error) {
	x, y := s.PixelAt(easting, northing)
	if !s.Contains(x, y) {
		return float32(math.NaN()), nil
	}
	return s.pixel(x, y)
}

// Pixel returns the value of pixel (x, y) with the same out-of-extent and
// ragged edge rules as SampleAt.
func (s *Sampler) Pixel(x, y int) (float32, error) {
	if !s.Contains(x, y) {
		return float32(math.NaN()), nil
	}
	return s.pixel(x, y)
}

func (s *Sampler) pixel(x, y int) (float32, error) {
	loc := s.dir.Locate(x, y)
	if loc.TileIndex >= s.tiles.Len() {
		s.ragged(loc)
		return 0, nil
	}
	tile, err := s.tiles.Tile(loc.TileIndex)
	if err != nil {
		if errors.Is(err, ErrTileIndexOutOfRange) {
			s.ragged(loc)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get data for tile %d: %w", loc.TileIndex, err)
	}
	if loc.Offset >= len(tile) {
		s.ragged(loc)
		return 0, nil
	}
	return tile[loc.Offset], nil
}

func (s *Sampler) ragged(loc TileLocation) {
	s.raggedEdges.Add(1)
	if s.onRagged != nil {
		s.onRagged(loc)
	}
	s.logger.Debug("ragged tile edge",
		"tile_col", loc.TileCol, "off_x", loc.OffX,
		"tile_row", loc.TileRow, "off_y", loc.OffY,
		"tile_index", loc.TileIndex, "tile_offset", loc.Offset)
}

// RaggedEdges returns how many queries fell back to 0 on a ragged tile edge.
func (s *Sampler) RaggedEdges() uint64 { return s.raggedEdges.Load() }

// LowerLeftCorner returns transform slots 4 and 5, which the source format
// designates as the lower left easting and northing.
func (s *Sampler) LowerLeftCorner() (easting, northing float64) {
	return s.dir.Transform[4], s.dir.Transform[5]
}

// Bounds returns the envelope of positions SampleAt resolves to a pixel, as
// (minE, minN, maxE, maxN). Pixel positions are centres, so the envelope
// extends half a pixel past the first and last ones.
func (s *Sampler) Bounds() (minE, minN, maxE, maxN float64) {
	sx, sy := s.dir.Transform[0], s.dir.Transform[5]
	e0 := s.originX - 0.5*sx
	e1 := s.originX + (float64(s.dir.Width)-0.5)*sx
	n0 := s.originY - 0.5*sy
	n1 := s.originY + (float64(s.dir.Height)-0.5)*sy
	return math.Min(e0, e1), math.Min(n0, n1), math.Max(e0, e1), math.Max(n0, n1)
}
