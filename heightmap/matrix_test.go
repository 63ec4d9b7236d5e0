package heightmap

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testExtent = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2000, 1000}}

func TestTileMatrixBound(t *testing.T) {
	m := NewTileMatrix(testExtent)
	require.NoError(t, m.Validate())

	testCases := []struct {
		name    string
		z, x, y int
		want    orb.Bound
	}{
		{"west root", 0, 0, 0, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1000, 1000}}},
		{"east root", 0, 1, 0, orb.Bound{Min: orb.Point{1000, 0}, Max: orb.Point{2000, 1000}}},
		{"zoom 1 north east", 1, 3, 1, orb.Bound{Min: orb.Point{1500, 500}, Max: orb.Point{2000, 1000}}},
		{"zoom 2 south west", 2, 0, 0, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{250, 250}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.Bound(tc.z, tc.x, tc.y))
		})
	}

	assert.Equal(t, 8, m.TilesAcross(2))
	assert.Equal(t, 4, m.TilesDown(2))
	assert.True(t, m.Contains(Tile{2, 7, 3}))
	assert.False(t, m.Contains(Tile{2, 8, 0}))
	assert.False(t, m.Contains(Tile{0, 0, 1}))
	assert.Equal(t, []Tile{{0, 0, 0}, {0, 1, 0}}, m.Roots())
}

func TestTileMatrixValidate(t *testing.T) {
	assert.Error(t, TileMatrix{Extent: orb.Bound{}, RootTilesAcross: 2, GridSize: 65}.Validate())
	assert.Error(t, TileMatrix{Extent: testExtent, RootTilesAcross: 0, GridSize: 65}.Validate())
	assert.Error(t, TileMatrix{Extent: testExtent, RootTilesAcross: 2, GridSize: 1}.Validate())
}

func TestGridPoint(t *testing.T) {
	m := NewTileMatrix(testExtent)
	b := m.Bound(0, 1, 0)

	assert.Equal(t, orb.Point{1000, 1000}, m.GridPoint(b, 0, 0))
	assert.Equal(t, orb.Point{2000, 0}, m.GridPoint(b, 64, 64))
	assert.Equal(t, orb.Point{1500, 500}, m.GridPoint(b, 32, 32))
}

func TestChildren(t *testing.T) {
	c := Tile{1, 3, 1}.Children()
	assert.Equal(t, [4]Tile{{2, 6, 2}, {2, 7, 2}, {2, 6, 3}, {2, 7, 3}}, c)

	// children cover their parent
	m := NewTileMatrix(testExtent)
	parent := m.Bound(1, 3, 1)
	assert.Equal(t, parent.Min, m.TileBound(c[0]).Min)
	assert.Equal(t, parent.Max, m.TileBound(c[3]).Max)
}

func TestSubtreeSize(t *testing.T) {
	assert.Equal(t, int64(1), SubtreeSize(3, 3))
	assert.Equal(t, int64(21), SubtreeSize(0, 2))
	assert.Equal(t, int64(0), SubtreeSize(4, 3))
}
