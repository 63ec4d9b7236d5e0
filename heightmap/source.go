package heightmap

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/akhenakh/heightmap/geotiff"
	"github.com/akhenakh/heightmap/wcs"
)

// PointSampler returns the elevation at a position, NaN when it has none.
// *geotiff.Sampler implements it.
type PointSampler interface {
	SampleAt(easting, northing float64) float32
}

// Source provides a sampler covering at least bound.
type Source interface {
	Sampler(ctx context.Context, bound orb.Bound) (PointSampler, error)
}

// StaticSource serves every bound from a single preloaded sampler.
type StaticSource struct {
	PointSampler
}

// Sampler returns the wrapped sampler.
func (s StaticSource) Sampler(context.Context, orb.Bound) (PointSampler, error) {
	return s.PointSampler, nil
}

// CoverageFetcher downloads a coverage subset as a GeoTIFF. *wcs.Client
// implements it.
type CoverageFetcher interface {
	GetCoverage(ctx context.Context, desc *wcs.CoverageDescription, bound orb.Bound) ([]byte, error)
}

// CoverageSource downloads the GeoTIFF subset of a WCS coverage for every
// requested bound.
type CoverageSource struct {
	Fetcher  CoverageFetcher
	Coverage *wcs.CoverageDescription
	// Margin widens every request so the grid points on the tile edges fall
	// inside the downloaded raster.
	Margin  float64
	Options []geotiff.Option
}

// Sampler fetches and decodes the coverage inside bound.
func (s CoverageSource) Sampler(ctx context.Context, bound orb.Bound) (PointSampler, error) {
	req := bound.Pad(s.Margin)
	raw, err := s.Fetcher.GetCoverage(ctx, s.Coverage, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get coverage %s for %v: %w", s.Coverage.ID, req, err)
	}
	sampler, err := geotiff.NewSampler(raw, s.Options...)
	if err != nil {
		return nil, fmt.Errorf("failed to decode coverage %s for %v: %w", s.Coverage.ID, req, err)
	}
	return sampler, nil
}
