package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/allegro/bigcache/v3"
	"github.com/paulmach/orb"
	"golang.org/x/sync/singleflight"

	"github.com/akhenakh/heightmap/geotiff"
	"github.com/akhenakh/heightmap/heightmap"
)

var errTileOutOfMatrix = errors.New("tile is outside the tile matrix")

// tileService renders heightmap tiles on request from the served raster.
type tileService struct {
	matrix  heightmap.TileMatrix
	maxZoom int
	layer   heightmap.Layer
	sampler *geotiff.Sampler
	cache   *bigcache.BigCache
	group   singleflight.Group
	logger  *slog.Logger
}

func newTileService(cfg Config, sampler *geotiff.Sampler, logger *slog.Logger) (*tileService, error) {
	var extent orb.Bound
	switch len(cfg.HeightmapExtent) {
	case 0:
		minE, minN, maxE, maxN := sampler.Bounds()
		extent = orb.Bound{Min: orb.Point{minE, minN}, Max: orb.Point{maxE, maxN}}
	case 4:
		e := cfg.HeightmapExtent
		extent = orb.Bound{Min: orb.Point{e[0], e[1]}, Max: orb.Point{e[2], e[3]}}
	default:
		return nil, fmt.Errorf("HEIGHTMAP_EXTENT must have 4 values, got %d", len(cfg.HeightmapExtent))
	}

	matrix := heightmap.NewTileMatrix(extent)
	if err := matrix.Validate(); err != nil {
		return nil, err
	}

	cacheCfg := bigcache.DefaultConfig(cfg.HeightmapCacheTTL)
	cacheCfg.Shards = 64
	cacheCfg.MaxEntriesInWindow = 10000
	cacheCfg.MaxEntrySize = 8 << 10
	cacheCfg.HardMaxCacheSize = cfg.HeightmapCacheMB
	cacheCfg.Verbose = false
	cache, err := bigcache.New(context.Background(), cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create terrain tile cache: %w", err)
	}

	layer := heightmap.NewLayer(appName, cfg.HeightmapProjection, extent)
	layer.MaxZoom = cfg.HeightmapMaxZoom
	for z := 0; z <= cfg.HeightmapMaxZoom; z++ {
		layer.Available = append(layer.Available, []heightmap.TileRange{{
			EndX: matrix.TilesAcross(z) - 1,
			EndY: matrix.TilesDown(z) - 1,
		}})
	}

	return &tileService{
		matrix:  matrix,
		maxZoom: cfg.HeightmapMaxZoom,
		layer:   layer,
		sampler: sampler,
		cache:   cache,
		logger:  logger,
	}, nil
}

// Tile returns the encoded tile t and whether it came from the cache.
func (s *tileService) Tile(t heightmap.Tile) ([]byte, bool, error) {
	if t.Z > s.maxZoom || !s.matrix.Contains(t) {
		return nil, false, errTileOutOfMatrix
	}

	key := t.String()
	if data, err := s.cache.Get(key); err == nil {
		return data, true, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		heights := heightmap.Sample(s.matrix, s.matrix.TileBound(t), s.sampler)
		var mask byte
		if t.Z < s.maxZoom {
			mask = heightmap.AllChildren
		}
		data, err := heightmap.Encode(heights, mask)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(key, data); err != nil {
			s.logger.Warn("failed to cache terrain tile", "tile", key, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

func (s *tileService) Close() error { return s.cache.Close() }
