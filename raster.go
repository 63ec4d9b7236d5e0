package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/akhenakh/heightmap/geotiff"
)

// Raster modes.
const (
	modeEager = "eager"
	modeLazy  = "lazy"
)

// raster is the opened elevation raster and the resources backing it.
type raster struct {
	sampler *geotiff.Sampler
	closers []func() error
}

func (r *raster) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openRaster opens cfg.RasterSource and builds its sampler, eagerly or
// lazily according to cfg.RasterMode.
func openRaster(ctx context.Context, cfg Config, logger *slog.Logger, metrics *Metrics) (*raster, error) {
	logger.Info("initializing raster", "source", cfg.RasterSource, "mode", cfg.RasterMode)

	opts := []geotiff.Option{
		geotiff.WithLogger(logger),
		geotiff.WithDecodeWorkers(cfg.DecodeWorkers),
	}
	if metrics != nil {
		opts = append(opts, geotiff.WithRaggedEdgeHook(metrics.raggedEdge))
	}

	r := &raster{}
	reader, err := openSource(ctx, cfg.RasterSource, r)
	if err != nil {
		r.Close()
		return nil, err
	}

	switch cfg.RasterMode {
	case modeEager:
		raw, err := io.ReadAll(reader)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to read raster: %w", err)
		}
		r.sampler, err = geotiff.NewSampler(raw, opts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to load raster: %w", err)
		}
	case modeLazy:
		logger.Info("configuring tile cache", "max_size", cfg.CacheMaxSize, "items_to_prune", cfg.CacheItemsToPrune)
		sampler, store, err := geotiff.OpenSampler(reader, geotiff.CacheConfig{
			MaxSize:      cfg.CacheMaxSize,
			ItemsToPrune: cfg.CacheItemsToPrune,
			TTL:          cfg.CacheTTL,
			Prefetch:     cfg.CachePrefetch,
		}, opts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to open raster: %w", err)
		}
		r.sampler = sampler
		r.closers = append(r.closers, func() error { store.Close(); return nil })
	default:
		r.Close()
		return nil, fmt.Errorf("unknown raster mode %q", cfg.RasterMode)
	}

	dir := r.sampler.Directory()
	minE, minN, maxE, maxN := r.sampler.Bounds()
	logger.Info("raster ready",
		"width", dir.Width, "height", dir.Height,
		"tiles", dir.NumTiles(),
		"bounds", []float64{minE, minN, maxE, maxN})
	return r, nil
}

// openSource returns a seekable reader over source and registers what must
// be closed on r.
func openSource(ctx context.Context, source string, r *raster) (io.ReadSeeker, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain path, possibly with a windows drive letter
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("failed to open local raster file: %w", err)
		}
		r.closers = append(r.closers, f.Close)
		return f, nil
	}

	switch u.Scheme {
	case "http", "https":
		hr, err := geotiff.NewHTTPRangeReader(ctx, source, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP reader for raster: %w", err)
		}
		return hr, nil
	default:
		bucketURL, key := splitBlobURL(u)
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
		}
		r.closers = append(r.closers, bucket.Close)
		br, err := geotiff.NewBlobReader(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		return br, nil
	}
}

// splitBlobURL splits a blob URL into its bucket URL and object key. For
// file URLs the bucket is the parent directory.
func splitBlobURL(u *url.URL) (bucketURL, key string) {
	b := *u
	if u.Scheme == "file" {
		dir, base := path.Split(u.Path)
		b.Path = strings.TrimSuffix(dir, "/")
		return b.String(), base
	}
	b.Path = ""
	return b.String(), strings.TrimPrefix(u.Path, "/")
}
