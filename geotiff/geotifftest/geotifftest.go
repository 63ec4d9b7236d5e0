// Package geotifftest builds small tiled GeoTIFF rasters in memory for
// tests of code that reads them.
package geotifftest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Tags written by Build.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagSamplesPerPixel     = 277
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGDALNoData          = 42113
)

const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

// Compression and predictor codes understood by Build.
const (
	CompressionNone    uint16 = 1
	CompressionDeflate uint16 = 8
	CompressionZSTD    uint16 = 50000

	PredictorNone          uint16 = 1
	PredictorFloatingPoint uint16 = 3
)

// Raster describes a single band float32 tiled raster.
type Raster struct {
	Width, Height         int
	TileWidth, TileHeight int

	// NumTiles limits how many tiles are stored, in row-major order. Zero
	// stores the whole tile grid.
	NumTiles int

	// Value returns the sample of pixel (x, y). Padding outside the image
	// is written as 0.
	Value func(x, y int) float32

	Compression uint16
	Predictor   uint16
	BigEndian   bool

	// Transform is written as ModelTransformation when set. Otherwise
	// PixelScale and Tiepoint are written when set.
	Transform  []float64
	PixelScale []float64
	Tiepoint   []float64

	NoData string

	// Omit drops tags by number, to build malformed files.
	Omit []uint16
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Build encodes r as a little or big endian classic TIFF.
func Build(r Raster) ([]byte, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if r.BigEndian {
		order = binary.BigEndian
	}
	if r.Compression == 0 {
		r.Compression = CompressionNone
	}
	if r.Predictor == 0 {
		r.Predictor = PredictorNone
	}

	across := (r.Width + r.TileWidth - 1) / r.TileWidth
	down := (r.Height + r.TileHeight - 1) / r.TileHeight
	numTiles := r.NumTiles
	if numTiles == 0 {
		numTiles = across * down
	}

	var buf bytes.Buffer
	buf.Write(make([]byte, 8))

	offsets := make([]uint32, numTiles)
	counts := make([]uint32, numTiles)
	for t := 0; t < numTiles; t++ {
		stored, err := encodeTile(r, order, t%across, t/across)
		if err != nil {
			return nil, fmt.Errorf("tile %d: %w", t, err)
		}
		offsets[t] = uint32(buf.Len())
		counts[t] = uint32(len(stored))
		buf.Write(stored)
	}

	entries := []entry{
		long(order, tagImageWidth, uint32(r.Width)),
		long(order, tagImageLength, uint32(r.Height)),
		short(order, tagBitsPerSample, 32),
		short(order, tagCompression, r.Compression),
		short(order, tagSamplesPerPixel, 1),
		short(order, tagPredictor, r.Predictor),
		long(order, tagTileWidth, uint32(r.TileWidth)),
		long(order, tagTileLength, uint32(r.TileHeight)),
		long(order, tagTileOffsets, offsets...),
		long(order, tagTileByteCounts, counts...),
		short(order, tagSampleFormat, 3),
	}
	switch {
	case r.Transform != nil:
		entries = append(entries, double(order, tagModelTransformation, r.Transform...))
	case r.PixelScale != nil || r.Tiepoint != nil:
		if r.PixelScale != nil {
			entries = append(entries, double(order, tagModelPixelScale, r.PixelScale...))
		}
		if r.Tiepoint != nil {
			entries = append(entries, double(order, tagModelTiepoint, r.Tiepoint...))
		}
	}
	if r.NoData != "" {
		data := append([]byte(r.NoData), 0)
		entries = append(entries, entry{tag: tagGDALNoData, typ: typeASCII, count: uint32(len(data)), data: data})
	}

	omit := make(map[uint16]bool, len(r.Omit))
	for _, tag := range r.Omit {
		omit[tag] = true
	}
	kept := entries[:0]
	for _, e := range entries {
		if !omit[e.tag] {
			kept = append(kept, e)
		}
	}
	entries = kept
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Out of line values, word aligned.
	valueOffsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) <= 4 {
			continue
		}
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
		valueOffsets[i] = uint32(buf.Len())
		buf.Write(e.data)
	}
	if buf.Len()%2 == 1 {
		buf.WriteByte(0)
	}

	ifdOffset := uint32(buf.Len())
	scratch := make([]byte, 12)
	order.PutUint16(scratch, uint16(len(entries)))
	buf.Write(scratch[:2])
	for i, e := range entries {
		clear(scratch)
		order.PutUint16(scratch[0:], e.tag)
		order.PutUint16(scratch[2:], e.typ)
		order.PutUint32(scratch[4:], e.count)
		if len(e.data) <= 4 {
			copy(scratch[8:], e.data)
		} else {
			order.PutUint32(scratch[8:], valueOffsets[i])
		}
		buf.Write(scratch)
	}
	buf.Write(make([]byte, 4)) // no next IFD

	out := buf.Bytes()
	if r.BigEndian {
		copy(out[0:], "MM")
	} else {
		copy(out[0:], "II")
	}
	order.PutUint16(out[2:], 42)
	order.PutUint32(out[4:], ifdOffset)
	return out, nil
}

func encodeTile(r Raster, order binary.ByteOrder, col, row int) ([]byte, error) {
	tw, th := r.TileWidth, r.TileHeight
	raw := make([]byte, tw*th*4)
	for ty := 0; ty < th; ty++ {
		for tx := 0; tx < tw; tx++ {
			x, y := col*tw+tx, row*th+ty
			var v float32
			if x < r.Width && y < r.Height && r.Value != nil {
				v = r.Value(x, y)
			}
			i := (ty*tw + tx) * 4
			if r.Predictor == PredictorFloatingPoint {
				binary.BigEndian.PutUint32(raw[i:], math.Float32bits(v))
			} else {
				order.PutUint32(raw[i:], math.Float32bits(v))
			}
		}
	}

	if r.Predictor == PredictorFloatingPoint {
		rowLen := tw * 4
		for ty := 0; ty < th; ty++ {
			src := raw[ty*rowLen : (ty+1)*rowLen]
			planes := make([]byte, rowLen)
			for x := 0; x < tw; x++ {
				for b := 0; b < 4; b++ {
					planes[b*tw+x] = src[x*4+b]
				}
			}
			for i := rowLen - 1; i > 0; i-- {
				planes[i] -= planes[i-1]
			}
			copy(src, planes)
		}
	}

	switch r.Compression {
	case CompressionNone:
		return raw, nil
	case CompressionDeflate:
		var b bytes.Buffer
		w := zlib.NewWriter(&b)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	case CompressionZSTD:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	}
	return nil, fmt.Errorf("unsupported compression %d", r.Compression)
}

func short(order binary.ByteOrder, tag uint16, v uint16) entry {
	data := make([]byte, 2)
	order.PutUint16(data, v)
	return entry{tag: tag, typ: typeShort, count: 1, data: data}
}

func long(order binary.ByteOrder, tag uint16, vs ...uint32) entry {
	data := make([]byte, 4*len(vs))
	for i, v := range vs {
		order.PutUint32(data[i*4:], v)
	}
	return entry{tag: tag, typ: typeLong, count: uint32(len(vs)), data: data}
}

func double(order binary.ByteOrder, tag uint16, vs ...float64) entry {
	data := make([]byte, 8*len(vs))
	for i, v := range vs {
		order.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return entry{tag: tag, typ: typeDouble, count: uint32(len(vs)), data: data}
}

// Transform returns ModelTransformation slots for a north-up raster whose
// pixel (0, 0) is at (originE, originN).
func Transform(originE, originN, pixelSize float64) []float64 {
	return []float64{
		pixelSize, 0, 0, originE,
		0, -pixelSize, 0, originN,
		0, 0, 0, 0,
		0, 0, 0, 1,
	}
}
