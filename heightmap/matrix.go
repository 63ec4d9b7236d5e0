// Package heightmap builds a pyramid of Cesium heightmap-1.0 terrain tiles
// from elevation samples.
package heightmap

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Tile addresses one tile of the pyramid. Y follows the TMS convention: row
// 0 is the southernmost row.
type Tile struct {
	Z, X, Y int
}

func (t Tile) String() string { return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y) }

// Children returns the four tiles covering t at the next zoom level, in
// child mask bit order: south west, south east, north west, north east.
func (t Tile) Children() [4]Tile {
	z, x, y := t.Z+1, t.X*2, t.Y*2
	return [4]Tile{{z, x, y}, {z, x + 1, y}, {z, x, y + 1}, {z, x + 1, y + 1}}
}

// Default tile matrix parameters of the heightmap-1.0 format.
const (
	DefaultRootTilesAcross = 2
	DefaultGridSize        = 65
)

// TileMatrix lays the pyramid over Extent. Zoom 0 has RootTilesAcross tiles
// side by side and every level doubles both dimensions. Each tile holds a
// GridSize x GridSize grid of heights whose outer rows and columns are shared
// with the neighbouring tiles.
type TileMatrix struct {
	Extent          orb.Bound
	RootTilesAcross int
	GridSize        int
}

// NewTileMatrix returns the default two root tiles matrix over extent.
func NewTileMatrix(extent orb.Bound) TileMatrix {
	return TileMatrix{Extent: extent, RootTilesAcross: DefaultRootTilesAcross, GridSize: DefaultGridSize}
}

// Validate checks the matrix can be tiled.
func (m TileMatrix) Validate() error {
	if m.Extent.Max[0] <= m.Extent.Min[0] || m.Extent.Max[1] <= m.Extent.Min[1] {
		return fmt.Errorf("invalid tile matrix extent %v", m.Extent)
	}
	if m.RootTilesAcross < 1 {
		return fmt.Errorf("invalid root tiles across %d", m.RootTilesAcross)
	}
	if m.GridSize < 2 {
		return fmt.Errorf("invalid grid size %d", m.GridSize)
	}
	return nil
}

// Roots returns the tiles of zoom level 0.
func (m TileMatrix) Roots() []Tile {
	roots := make([]Tile, m.RootTilesAcross)
	for x := range roots {
		roots[x] = Tile{Z: 0, X: x, Y: 0}
	}
	return roots
}

// TilesAcross returns the number of tile columns at zoom z.
func (m TileMatrix) TilesAcross(z int) int { return m.RootTilesAcross << z }

// TilesDown returns the number of tile rows at zoom z.
func (m TileMatrix) TilesDown(z int) int { return 1 << z }

// Contains reports whether t exists in the matrix.
func (m TileMatrix) Contains(t Tile) bool {
	return t.Z >= 0 && t.X >= 0 && t.Y >= 0 && t.X < m.TilesAcross(t.Z) && t.Y < m.TilesDown(t.Z)
}

// Bound returns the extent covered by tile (z, x, y).
func (m TileMatrix) Bound(z, x, y int) orb.Bound {
	w := (m.Extent.Max[0] - m.Extent.Min[0]) / float64(m.TilesAcross(z))
	h := (m.Extent.Max[1] - m.Extent.Min[1]) / float64(m.TilesDown(z))
	minX := m.Extent.Min[0] + float64(x)*w
	minY := m.Extent.Min[1] + float64(y)*h
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{minX + w, minY + h}}
}

// TileBound is Bound for t.
func (m TileMatrix) TileBound(t Tile) orb.Bound { return m.Bound(t.Z, t.X, t.Y) }

// GridPoint returns the position of height (col, row) of tile bound b. Row 0
// is the northern edge and column 0 the western edge.
func (m TileMatrix) GridPoint(b orb.Bound, col, row int) orb.Point {
	step := float64(m.GridSize - 1)
	e := b.Min[0] + float64(col)*(b.Max[0]-b.Min[0])/step
	n := b.Max[1] - float64(row)*(b.Max[1]-b.Min[1])/step
	return orb.Point{e, n}
}

// SubtreeSize returns how many tiles a tile at zoom z has in its subtree down
// to maxZoom, itself included.
func SubtreeSize(z, maxZoom int) int64 {
	if z > maxZoom {
		return 0
	}
	var n, level int64 = 0, 1
	for i := z; i <= maxZoom; i++ {
		n += level
		level *= 4
	}
	return n
}
