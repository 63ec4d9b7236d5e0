package geotiff

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/fileblob"

	"github.com/akhenakh/heightmap/geotiff/geotifftest"
)

func TestHTTPRangeReader(t *testing.T) {
	raw := buildRaster(t, geotifftest.Raster{
		Width: 16, Height: 16, TileWidth: 8, TileHeight: 8,
		Compression: geotifftest.CompressionDeflate,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		http.ServeContent(w, r, "dem.tif", time.Time{}, bytes.NewReader(raw))
	}))
	defer srv.Close()

	r, err := NewHTTPRangeReader(context.Background(), srv.URL, srv.Client())
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), r.Size())

	p := make([]byte, 10)
	n, err := r.ReadAt(p, int64(len(raw))-4)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, raw[len(raw)-4:], p[:4])

	s, store, err := OpenSampler(r, CacheConfig{})
	require.NoError(t, err)
	defer store.Close()
	e, nn := s.Coord(9, 13)
	assert.Equal(t, pixelValue(9, 13), s.SampleAt(e, nn))
}

func TestHTTPRangeReaderRequiresRanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
	}))
	defer srv.Close()

	_, err := NewHTTPRangeReader(context.Background(), srv.URL, nil)
	assert.ErrorContains(t, err, "byte range")
}

func TestBlobReader(t *testing.T) {
	raw := buildRaster(t, geotifftest.Raster{Width: 12, Height: 9, TileWidth: 4, TileHeight: 4})
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dem.tif"), raw, 0o644))

	ctx := context.Background()
	bucket, err := fileblob.OpenBucket(dir, nil)
	require.NoError(t, err)
	defer bucket.Close()

	r, err := NewBlobReader(ctx, bucket, "dem.tif")
	require.NoError(t, err)

	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, raw, all)

	_, err = r.Seek(0, io.SeekStart)
	require.NoError(t, err)
	s, store, err := OpenSampler(r, CacheConfig{})
	require.NoError(t, err)
	defer store.Close()
	e, n := s.Coord(11, 8)
	assert.Equal(t, pixelValue(11, 8), s.SampleAt(e, n))
}
