package geotiff

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpackBits(t *testing.T) {
	// PackBits sample from TIFF 6.0, section 9.
	packed := []byte{0xFE, 0xAA, 0x02, 0x80, 0x00, 0x2A, 0xFD, 0xAA, 0x03, 0x80, 0x00, 0x2A, 0x22, 0xF7, 0xAA}
	want := []byte{
		0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A, 0xAA, 0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A, 0x22,
		0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA,
	}
	got, err := unpackBits(packed)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = unpackBits([]byte{0x05, 0x01})
	assert.Error(t, err)
}

func TestUndoHorizontalPrediction(t *testing.T) {
	// Two rows of three uint16 samples, differenced per row.
	diffs := []uint16{10, 5, 0xFFFF, 7, 1, 1}
	data := make([]byte, len(diffs)*2)
	for i, v := range diffs {
		binary.LittleEndian.PutUint16(data[i*2:], v)
	}

	undoHorizontalPrediction(data, 3, 2, binary.LittleEndian)

	want := []uint16{10, 15, 14, 7, 8, 9}
	for i, w := range want {
		assert.Equal(t, w, binary.LittleEndian.Uint16(data[i*2:]), "sample %d", i)
	}
}

func TestDecodeIntegerSamples(t *testing.T) {
	dir := &Directory{
		TileWidth: 2, TileHeight: 1,
		ByteOrder:     binary.BigEndian,
		Compression:   Uncompressed,
		Predictor:     PredictorHorizontal,
		BitsPerSample: 16,
		SampleFormat:  SampleFormatInt,
	}
	dec, err := newTileDecoder(dir)
	require.NoError(t, err)

	stored := []byte{0xFF, 0xF6, 0x00, 0x14} // -10, +20
	got, err := dec.decode(0, stored)
	require.NoError(t, err)
	assert.Equal(t, []float32{-10, 10}, got)
	assert.Equal(t, []byte{0xFF, 0xF6, 0x00, 0x14}, stored, "input must not be modified")
}

func TestDecodeFloat64Samples(t *testing.T) {
	dir := &Directory{
		TileWidth: 2, TileHeight: 1,
		ByteOrder:     binary.LittleEndian,
		Compression:   Uncompressed,
		Predictor:     PredictorNone,
		BitsPerSample: 64,
		SampleFormat:  SampleFormatFloat,
	}
	dec, err := newTileDecoder(dir)
	require.NoError(t, err)

	stored := make([]byte, 16)
	binary.LittleEndian.PutUint64(stored, math.Float64bits(1234.5))
	binary.LittleEndian.PutUint64(stored[8:], math.Float64bits(-0.25))
	got, err := dec.decode(0, stored)
	require.NoError(t, err)
	assert.Equal(t, []float32{1234.5, -0.25}, got)
}

func TestDecodeSparseTile(t *testing.T) {
	dir := &Directory{
		TileWidth: 2, TileHeight: 2,
		ByteOrder:     binary.LittleEndian,
		Compression:   DEFLATE,
		Predictor:     PredictorNone,
		BitsPerSample: 32,
		SampleFormat:  SampleFormatFloat,
		NoData:        -9999,
		HasNoData:     true,
	}
	dec, err := newTileDecoder(dir)
	require.NoError(t, err)

	got, err := dec.decode(0, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{-9999, -9999, -9999, -9999}, got)
}

func TestDecodeShortTile(t *testing.T) {
	dir := &Directory{
		TileWidth: 2, TileHeight: 2,
		ByteOrder:     binary.LittleEndian,
		Compression:   Uncompressed,
		Predictor:     PredictorNone,
		BitsPerSample: 32,
		SampleFormat:  SampleFormatFloat,
	}
	dec, err := newTileDecoder(dir)
	require.NoError(t, err)

	_, err = dec.decode(7, make([]byte, 12))
	assert.ErrorContains(t, err, "tile 7")
}

func TestUnsupportedLayouts(t *testing.T) {
	base := Directory{
		ByteOrder:     binary.LittleEndian,
		Compression:   Uncompressed,
		Predictor:     PredictorNone,
		BitsPerSample: 32,
		SampleFormat:  SampleFormatFloat,
	}
	testCases := []struct {
		name   string
		modify func(*Directory)
	}{
		{"jpeg", func(d *Directory) { d.Compression = 7 }},
		{"half float", func(d *Directory) { d.BitsPerSample = 16 }},
		{"complex samples", func(d *Directory) { d.SampleFormat = 6 }},
		{"horizontal predictor on floats", func(d *Directory) { d.Predictor = PredictorHorizontal }},
		{"floating point predictor on ints", func(d *Directory) {
			d.SampleFormat = SampleFormatInt
			d.Predictor = PredictorFloatingPoint
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := base
			tc.modify(&d)
			_, err := newTileDecoder(&d)
			assert.ErrorIs(t, err, ErrUnsupported)
		})
	}
}
