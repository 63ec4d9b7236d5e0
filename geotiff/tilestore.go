package geotiff

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// TileSource serves decoded tiles by index. Buffers returned by Tile must be
// treated as read-only.
type TileSource interface {
	// Tile returns the TileWidth*TileHeight samples of tile index, or an
	// error wrapping ErrTileIndexOutOfRange if the index was never stored.
	Tile(index int) ([]float32, error)
	// Len is the number of tiles the source can serve.
	Len() int
}

// TileStore holds every tile of a raster decoded in memory. It is populated
// once by LoadTileStore and never mutated afterwards, so concurrent reads
// need no locking.
type TileStore struct {
	tiles [][]float32
}

// LoadOptions tunes LoadTileStore.
type LoadOptions struct {
	// Workers bounds the number of tiles decoded in parallel. Zero means
	// GOMAXPROCS.
	Workers int
}

// LoadTileStore decodes all tiles described by dir out of raw. It returns
// once every tile is decoded; raw is not retained.
func LoadTileStore(dir *Directory, raw []byte, opts LoadOptions) (*TileStore, error) {
	dec, err := newTileDecoder(dir)
	if err != nil {
		return nil, err
	}
	defer dec.close()

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	s := &TileStore{tiles: make([][]float32, dir.NumTiles())}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range s.tiles {
		off, count := dir.TileOffsets[i], dir.TileByteCounts[i]
		if off > uint64(len(raw)) || count > uint64(len(raw))-off {
			_ = g.Wait()
			return nil, malformed("tile %d spans [%d, %d) past end of %d byte buffer", i, off, off+count, len(raw))
		}
		stored := raw[off : off+count]
		g.Go(func() error {
			tile, err := dec.decode(i, stored)
			if err != nil {
				return err
			}
			s.tiles[i] = tile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to decode tiles: %w", err)
	}
	return s, nil
}

// Tile returns the decoded samples of tile index.
func (s *TileStore) Tile(index int) ([]float32, error) {
	if index < 0 || index >= len(s.tiles) {
		return nil, fmt.Errorf("%w: %d of %d", ErrTileIndexOutOfRange, index, len(s.tiles))
	}
	return s.tiles[index], nil
}

// Get is an alias of Tile.
func (s *TileStore) Get(index int) ([]float32, error) { return s.Tile(index) }

// Len returns the number of populated tiles.
func (s *TileStore) Len() int { return len(s.tiles) }
