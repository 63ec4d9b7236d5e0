package geotiff

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
)

// CacheConfig configures a CachedTileStore.
type CacheConfig struct {
	// MaxSize is the number of decoded tiles kept in memory.
	MaxSize int64
	// ItemsToPrune is how many tiles are evicted at once when MaxSize is hit.
	ItemsToPrune uint32
	// TTL bounds how long a decoded tile stays cached. Zero means 10 minutes.
	TTL time.Duration
	// Prefetch loads the 8 neighbours of every tile fetched on a miss.
	Prefetch bool
}

// CachedTileStore decodes tiles on demand from an io.ReaderAt and keeps the
// most recently used ones in memory. It serves the same contract as
// TileStore for rasters too large, or too remote, to decode eagerly.
type CachedTileStore struct {
	dir    *Directory
	reader io.ReaderAt
	dec    *tileDecoder
	ttl    time.Duration
	logger *slog.Logger

	prefetch bool

	// tileCache holds decoded []float32 slices keyed by tile index.
	tileCache *ccache.Cache[[]float32]

	// inflightData ensures only one goroutine reads and decodes a given tile
	// while concurrent callers wait for its result.
	inflightData singleflight.Group

	// inflightPrefetch keeps neighbour prefetching of a tile from being
	// triggered by several concurrent misses.
	inflightPrefetch singleflight.Group
	prefetching      sync.WaitGroup
}

// NewCachedTileStore returns a lazy tile store reading tile bytes from r.
func NewCachedTileStore(dir *Directory, r io.ReaderAt, cfg CacheConfig, logger *slog.Logger) (*CachedTileStore, error) {
	dec, err := newTileDecoder(dir)
	if err != nil {
		return nil, err
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1024
	}
	if cfg.ItemsToPrune == 0 {
		cfg.ItemsToPrune = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if logger == nil {
		logger = discardLogger
	}
	return &CachedTileStore{
		dir:       dir,
		reader:    r,
		dec:       dec,
		ttl:       cfg.TTL,
		logger:    logger,
		prefetch:  cfg.Prefetch,
		tileCache: ccache.New(ccache.Configure[[]float32]().MaxSize(cfg.MaxSize).ItemsToPrune(cfg.ItemsToPrune)),
	}, nil
}

// Len returns the number of tiles stored in the raster.
func (s *CachedTileStore) Len() int { return s.dir.NumTiles() }

// Tile returns the decoded samples of tile index, reading and decoding it on
// a cache miss.
func (s *CachedTileStore) Tile(index int) ([]float32, error) {
	data, hit, err := s.tile(index)
	if err != nil {
		return nil, err
	}
	if !hit && s.prefetch {
		key := strconv.Itoa(index)
		s.prefetching.Add(1)
		go func() {
			defer s.prefetching.Done()
			s.inflightPrefetch.Do(key, func() (any, error) {
				s.prefetchNeighbors(index)
				// Allow the same tile to trigger a new prefetch once its
				// neighbours may have been evicted.
				time.AfterFunc(time.Minute, func() {
					s.inflightPrefetch.Forget(key)
				})
				return nil, nil
			})
		}()
	}
	return data, nil
}

func (s *CachedTileStore) tile(index int) ([]float32, bool, error) {
	if index < 0 || index >= s.dir.NumTiles() {
		return nil, false, fmt.Errorf("%w: %d of %d", ErrTileIndexOutOfRange, index, s.dir.NumTiles())
	}

	key := strconv.Itoa(index)
	if item := s.tileCache.Get(key); item != nil && !item.Expired() {
		return item.Value(), true, nil
	}

	v, err, _ := s.inflightData.Do(key, func() (any, error) {
		stored, err := s.fetchTile(index)
		if err != nil {
			return nil, err
		}
		data, err := s.dec.decode(index, stored)
		if err != nil {
			return nil, err
		}
		s.tileCache.Set(key, data, s.ttl)
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]float32), false, nil
}

// fetchTile reads the stored bytes of a single tile.
func (s *CachedTileStore) fetchTile(index int) ([]byte, error) {
	offset := s.dir.TileOffsets[index]
	byteCount := s.dir.TileByteCounts[index]
	if byteCount == 0 {
		return nil, nil
	}
	stored := make([]byte, byteCount)
	n, err := s.reader.ReadAt(stored, int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(stored)) {
		return nil, fmt.Errorf("failed to read tile %d from source: %w", index, err)
	}
	return stored, nil
}

// prefetchNeighbors warms the cache with the 8 surrounding tiles. It does
// not trigger any further prefetching.
func (s *CachedTileStore) prefetchNeighbors(index int) {
	across := s.dir.TilesAcross
	tileY := index / across
	tileX := index % across

	var wg sync.WaitGroup
	for j := -1; j <= 1; j++ {
		for i := -1; i <= 1; i++ {
			if i == 0 && j == 0 {
				continue
			}
			nx, ny := tileX+i, tileY+j
			if nx < 0 || nx >= across || ny < 0 || ny >= s.dir.TilesDown {
				continue
			}
			num := ny*across + nx
			if num >= s.dir.NumTiles() {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := s.tile(num); err != nil {
					s.logger.Debug("tile prefetch failed", "tile", num, "error", err)
				}
			}()
		}
	}
	wg.Wait()
}

// Close waits for pending prefetches and stops the cache's background
// worker. The store must not be used afterwards.
func (s *CachedTileStore) Close() {
	s.prefetching.Wait()
	s.tileCache.Stop()
	s.dec.close()
}
