package heightmap

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/heightmap/geotiff/geotifftest"
	"github.com/akhenakh/heightmap/wcs"
)

type fakeFetcher struct {
	raw   []byte
	err   error
	bound orb.Bound
}

func (f *fakeFetcher) GetCoverage(_ context.Context, _ *wcs.CoverageDescription, b orb.Bound) ([]byte, error) {
	f.bound = b
	return f.raw, f.err
}

func TestCoverageSource(t *testing.T) {
	// 10 m pixels with the first pixel centre at (1000, 2000)
	raw, err := geotifftest.Build(geotifftest.Raster{
		Width: 20, Height: 20, TileWidth: 16, TileHeight: 16,
		Value:     func(x, y int) float32 { return float32(x + 100*y) },
		Transform: geotifftest.Transform(1000, 2000, 10),
	})
	require.NoError(t, err)

	f := &fakeFetcher{raw: raw}
	src := CoverageSource{
		Fetcher:  f,
		Coverage: &wcs.CoverageDescription{ID: "dem"},
		Margin:   10,
	}

	bound := orb.Bound{Min: orb.Point{1000, 1850}, Max: orb.Point{1150, 2000}}
	s, err := src.Sampler(context.Background(), bound)
	require.NoError(t, err)
	assert.Equal(t, bound.Pad(10), f.bound)

	assert.Equal(t, float32(0), s.SampleAt(1000, 2000))
	assert.Equal(t, float32(3+100*2), s.SampleAt(1030, 1980))
}

func TestCoverageSourceErrors(t *testing.T) {
	boom := errors.New("boom")
	src := CoverageSource{Fetcher: &fakeFetcher{err: boom}, Coverage: &wcs.CoverageDescription{ID: "dem"}}
	_, err := src.Sampler(context.Background(), testExtent)
	require.ErrorIs(t, err, boom)

	src = CoverageSource{Fetcher: &fakeFetcher{raw: []byte("<html>")}, Coverage: &wcs.CoverageDescription{ID: "dem"}}
	_, err = src.Sampler(context.Background(), testExtent)
	require.Error(t, err)
}
