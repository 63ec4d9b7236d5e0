package heightmap

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	_ "modernc.org/sqlite"
)

// Layer describes a tileset the way Cesium's layer.json does.
type Layer struct {
	TileJSON    string        `json:"tilejson"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Version     string        `json:"version"`
	Format      string        `json:"format"`
	Scheme      string        `json:"scheme"`
	Tiles       []string      `json:"tiles"`
	Projection  string        `json:"projection,omitempty"`
	Bounds      [4]float64    `json:"bounds"`
	MinZoom     int           `json:"minzoom"`
	MaxZoom     int           `json:"maxzoom"`
	Available   [][]TileRange `json:"available"`
}

// TileRange is an inclusive rectangle of tiles of one zoom level.
type TileRange struct {
	StartX int `json:"startX"`
	StartY int `json:"startY"`
	EndX   int `json:"endX"`
	EndY   int `json:"endY"`
}

// NewLayer returns the layer description of a heightmap tileset.
func NewLayer(name, projection string, extent orb.Bound) Layer {
	return Layer{
		TileJSON:   "2.1.0",
		Name:       name,
		Version:    "1.0.0",
		Format:     "heightmap-1.0",
		Scheme:     "tms",
		Tiles:      []string{"{z}/{x}/{y}.terrain"},
		Projection: projection,
		Bounds:     [4]float64{extent.Min[0], extent.Min[1], extent.Max[0], extent.Max[1]},
	}
}

// availability tracks the written tiles of every zoom level.
type availability struct {
	mu     sync.Mutex
	ranges []TileRange
	seen   []bool
}

func (a *availability) add(t Tile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.ranges) <= t.Z {
		a.ranges = append(a.ranges, TileRange{})
		a.seen = append(a.seen, false)
	}
	r := &a.ranges[t.Z]
	if !a.seen[t.Z] {
		*r = TileRange{StartX: t.X, StartY: t.Y, EndX: t.X, EndY: t.Y}
		a.seen[t.Z] = true
		return
	}
	r.StartX = min(r.StartX, t.X)
	r.StartY = min(r.StartY, t.Y)
	r.EndX = max(r.EndX, t.X)
	r.EndY = max(r.EndY, t.Y)
}

func (a *availability) apply(l *Layer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l.Available = l.Available[:0]
	for z, r := range a.ranges {
		if !a.seen[z] {
			l.Available = append(l.Available, []TileRange{})
			continue
		}
		l.Available = append(l.Available, []TileRange{r})
	}
	if len(a.ranges) > 0 {
		l.MaxZoom = len(a.ranges) - 1
	}
}

// FileWriter writes tiles as dir/z/x/y.terrain and a layer.json on Close.
type FileWriter struct {
	dir   string
	layer Layer
	avail availability
}

// NewFileWriter returns a writer storing the tileset under dir.
func NewFileWriter(dir string, layer Layer) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileWriter{dir: dir, layer: layer}, nil
}

// Path returns the file path of tile t.
func (w *FileWriter) Path(t Tile) string {
	return filepath.Join(w.dir, strconv.Itoa(t.Z), strconv.Itoa(t.X), strconv.Itoa(t.Y)+".terrain")
}

// WriteTile writes one tile file.
func (w *FileWriter) WriteTile(_ context.Context, t Tile, data []byte) error {
	p := w.Path(t)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return err
	}
	w.avail.add(t)
	return nil
}

// Close writes layer.json.
func (w *FileWriter) Close() error {
	w.avail.apply(&w.layer)
	b, err := json.MarshalIndent(w.layer, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode layer.json: %w", err)
	}
	return os.WriteFile(filepath.Join(w.dir, "layer.json"), b, 0o644)
}

// MBTilesWriter stores tiles in an MBTiles SQLite database. Rows use the TMS
// scheme, as the tile matrix does.
type MBTilesWriter struct {
	db    *sql.DB
	mu    sync.Mutex
	layer Layer
	avail availability
}

// NewMBTilesWriter creates or truncates the MBTiles file at path.
func NewMBTilesWriter(path string, layer Layer) (*MBTilesWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for mbtiles: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove previous mbtiles: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB);
	CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);
	CREATE TABLE IF NOT EXISTS metadata (name TEXT, value TEXT);
	CREATE UNIQUE INDEX IF NOT EXISTS name ON metadata (name);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create mbtiles schema: %w", err)
	}
	return &MBTilesWriter{db: db, layer: layer}, nil
}

// WriteTile inserts or replaces one tile.
func (w *MBTilesWriter) WriteTile(ctx context.Context, t Tile, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)",
		t.Z, t.X, t.Y, data)
	if err != nil {
		return err
	}
	w.avail.add(t)
	return nil
}

// ReadTile returns the stored tile, or sql.ErrNoRows.
func (w *MBTilesWriter) ReadTile(ctx context.Context, t Tile) ([]byte, error) {
	var data []byte
	err := w.db.QueryRowContext(ctx,
		"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		t.Z, t.X, t.Y).Scan(&data)
	return data, err
}

// Close writes the metadata table and closes the database.
func (w *MBTilesWriter) Close() error {
	w.avail.apply(&w.layer)
	layerJSON, err := json.Marshal(w.layer)
	if err != nil {
		w.db.Close()
		return fmt.Errorf("failed to encode layer metadata: %w", err)
	}
	b := w.layer.Bounds
	meta := map[string]string{
		"name":    w.layer.Name,
		"format":  w.layer.Format,
		"version": w.layer.Version,
		"scheme":  w.layer.Scheme,
		"minzoom": strconv.Itoa(w.layer.MinZoom),
		"maxzoom": strconv.Itoa(w.layer.MaxZoom),
		"bounds":  fmt.Sprintf("%g,%g,%g,%g", b[0], b[1], b[2], b[3]),
		"json":    string(layerJSON),
	}
	for k, v := range meta {
		if _, err := w.db.Exec("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)", k, v); err != nil {
			w.db.Close()
			return fmt.Errorf("failed to write metadata %s: %w", k, err)
		}
	}
	return w.db.Close()
}
