package heightmap

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir, NewLayer("test", "EPSG:3067", testExtent))
	require.NoError(t, err)

	ctx := context.Background()
	for _, tile := range []Tile{{0, 0, 0}, {0, 1, 0}, {1, 2, 0}, {1, 3, 1}} {
		require.NoError(t, w.WriteTile(ctx, tile, []byte(tile.String())))
	}
	require.NoError(t, w.Close())

	b, err := os.ReadFile(filepath.Join(dir, "1", "3", "1.terrain"))
	require.NoError(t, err)
	assert.Equal(t, "1/3/1", string(b))

	b, err = os.ReadFile(filepath.Join(dir, "layer.json"))
	require.NoError(t, err)
	var layer Layer
	require.NoError(t, json.Unmarshal(b, &layer))

	assert.Equal(t, "heightmap-1.0", layer.Format)
	assert.Equal(t, "tms", layer.Scheme)
	assert.Equal(t, 1, layer.MaxZoom)
	assert.Equal(t, [4]float64{0, 0, 2000, 1000}, layer.Bounds)
	assert.Equal(t, [][]TileRange{
		{{StartX: 0, StartY: 0, EndX: 1, EndY: 0}},
		{{StartX: 2, StartY: 0, EndX: 3, EndY: 1}},
	}, layer.Available)
}

func TestMBTilesWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "terrain.mbtiles")
	w, err := NewMBTilesWriter(path, NewLayer("test", "EPSG:3067", testExtent))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.WriteTile(ctx, Tile{0, 1, 0}, []byte("a")))
	require.NoError(t, w.WriteTile(ctx, Tile{0, 1, 0}, []byte("b")))
	require.NoError(t, w.WriteTile(ctx, Tile{2, 5, 3}, []byte("c")))

	data, err := w.ReadTile(ctx, Tile{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)

	_, err = w.ReadTile(ctx, Tile{0, 0, 0})
	require.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, w.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM tiles").Scan(&count))
	assert.Equal(t, 2, count)

	var format, maxZoom string
	require.NoError(t, db.QueryRow("SELECT value FROM metadata WHERE name = 'format'").Scan(&format))
	require.NoError(t, db.QueryRow("SELECT value FROM metadata WHERE name = 'maxzoom'").Scan(&maxZoom))
	assert.Equal(t, "heightmap-1.0", format)
	assert.Equal(t, "2", maxZoom)
}
