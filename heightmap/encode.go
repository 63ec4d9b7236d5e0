package heightmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
)

// Child mask bits of a heightmap-1.0 tile.
const (
	ChildSouthWest byte = 1 << iota
	ChildSouthEast
	ChildNorthWest
	ChildNorthEast

	AllChildren = ChildSouthWest | ChildSouthEast | ChildNorthWest | ChildNorthEast
)

const (
	heightOffset = 1000.0
	heightScale  = 5.0
)

// ErrInvalidTile is returned when decoding a malformed heightmap payload.
var ErrInvalidTile = errors.New("invalid heightmap tile")

// Encode serialises a square grid of heights, row 0 north, as a gzip
// compressed heightmap-1.0 tile. Heights are stored as (h+1000)*5 in a
// uint16, so the representable range is -1000 to 12107 metres. NaN heights
// are written as 0.
func Encode(heights []float32, childMask byte) ([]byte, error) {
	size := int(math.Sqrt(float64(len(heights))))
	if size*size != len(heights) || size < 2 {
		return nil, fmt.Errorf("%w: %d heights is not a square grid", ErrInvalidTile, len(heights))
	}

	raw := make([]byte, 2*len(heights)+2)
	for i, h := range heights {
		binary.LittleEndian.PutUint16(raw[2*i:], encodeHeight(h))
	}
	raw[len(raw)-2] = childMask
	// water mask: the whole tile is land
	raw[len(raw)-1] = 0

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress tile: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress tile: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeHeight(h float32) uint16 {
	if math.IsNaN(float64(h)) {
		h = 0
	}
	v := math.Floor((float64(h)+heightOffset)*heightScale + 0.5)
	return uint16(max(0, min(v, math.MaxUint16)))
}

// Decode reverses Encode for a grid of gridSize x gridSize heights.
func Decode(tile []byte, gridSize int) (heights []float32, childMask byte, err error) {
	zr, err := gzip.NewReader(bytes.NewReader(tile))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidTile, err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidTile, err)
	}
	n := gridSize * gridSize
	if len(raw) < 2*n+2 {
		return nil, 0, fmt.Errorf("%w: %d bytes for a %dx%d grid", ErrInvalidTile, len(raw), gridSize, gridSize)
	}
	heights = make([]float32, n)
	for i := range heights {
		v := binary.LittleEndian.Uint16(raw[2*i:])
		heights[i] = float32(float64(v)/heightScale - heightOffset)
	}
	return heights, raw[2*n], nil
}
