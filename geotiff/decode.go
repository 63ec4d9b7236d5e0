package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/tiff/lzw"
)

// tileDecoder turns the stored bytes of one tile into float32 samples
// according to the directory's codec parameters. It is safe for concurrent
// use.
type tileDecoder struct {
	dir  *Directory
	zstd *zstd.Decoder
}

func newTileDecoder(dir *Directory) (*tileDecoder, error) {
	switch dir.SampleFormat {
	case SampleFormatFloat:
		if dir.BitsPerSample != 32 && dir.BitsPerSample != 64 {
			return nil, fmt.Errorf("%w: float samples of %d bits", ErrUnsupported, dir.BitsPerSample)
		}
	case SampleFormatInt, SampleFormatUint:
		if dir.BitsPerSample != 8 && dir.BitsPerSample != 16 && dir.BitsPerSample != 32 {
			return nil, fmt.Errorf("%w: integer samples of %d bits", ErrUnsupported, dir.BitsPerSample)
		}
	default:
		return nil, fmt.Errorf("%w: sample format %d", ErrUnsupported, dir.SampleFormat)
	}

	switch dir.Predictor {
	case PredictorNone:
	case PredictorHorizontal:
		if dir.SampleFormat == SampleFormatFloat {
			return nil, fmt.Errorf("%w: horizontal predictor on float samples", ErrUnsupported)
		}
	case PredictorFloatingPoint:
		if dir.SampleFormat != SampleFormatFloat {
			return nil, fmt.Errorf("%w: floating point predictor on integer samples", ErrUnsupported)
		}
	default:
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupported, dir.Predictor)
	}

	td := &tileDecoder{dir: dir}
	switch dir.Compression {
	case Uncompressed, LZW, DEFLATE, DeflateOld, PackBits:
	case ZSTD:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		td.zstd = dec
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, dir.Compression)
	}
	return td, nil
}

func (td *tileDecoder) close() {
	if td.zstd != nil {
		td.zstd.Close()
	}
}

// decode returns the TileWidth*TileHeight samples of tile index. A tile with
// no stored bytes is sparse and reads as the nodata value (or zero).
func (td *tileDecoder) decode(index int, stored []byte) ([]float32, error) {
	d := td.dir
	n := d.TileWidth * d.TileHeight
	out := make([]float32, n)

	if len(stored) == 0 {
		if d.HasNoData {
			for i := range out {
				out[i] = d.NoData
			}
		}
		return out, nil
	}

	raw, err := td.decompress(stored)
	if err != nil {
		return nil, fmt.Errorf("tile %d: %w", index, err)
	}

	bps := d.BytesPerSample()
	want := n * bps
	if len(raw) < want {
		return nil, fmt.Errorf("tile %d: decoded %d bytes, want %d", index, len(raw), want)
	}
	raw = raw[:want]

	order := d.ByteOrder
	switch d.Predictor {
	case PredictorHorizontal:
		undoHorizontalPrediction(raw, d.TileWidth, bps, order)
	case PredictorFloatingPoint:
		raw = undoFloatingPointPrediction(raw, d.TileWidth, bps)
		order = binary.BigEndian
	}

	convertSamples(out, raw, d.SampleFormat, bps, order)
	return out, nil
}

func (td *tileDecoder) decompress(stored []byte) ([]byte, error) {
	switch td.dir.Compression {
	case Uncompressed:
		if td.dir.Predictor != PredictorNone {
			// predictors are undone in place; stored may alias the caller's buffer
			return bytes.Clone(stored), nil
		}
		return stored, nil
	case DEFLATE, DeflateOld:
		z, err := zlib.NewReader(bytes.NewReader(stored))
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader: %w", err)
		}
		defer z.Close()
		b, err := io.ReadAll(z)
		if err != nil {
			return nil, fmt.Errorf("failed to inflate tile data: %w", err)
		}
		return b, nil
	case LZW:
		lr := lzw.NewReader(bytes.NewReader(stored), lzw.MSB, 8)
		defer lr.Close()
		b, err := io.ReadAll(lr)
		if err != nil {
			return nil, fmt.Errorf("failed to decode lzw tile data: %w", err)
		}
		return b, nil
	case ZSTD:
		b, err := td.zstd.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode zstd tile data: %w", err)
		}
		return b, nil
	case PackBits:
		return unpackBits(stored)
	}
	return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, td.dir.Compression)
}

// unpackBits decodes the Macintosh PackBits run-length scheme.
func unpackBits(src []byte) ([]byte, error) {
	dst := make([]byte, 0, len(src)*2)
	for i := 0; i < len(src); {
		c := int8(src[i])
		i++
		switch {
		case c >= 0:
			n := int(c) + 1
			if i+n > len(src) {
				return nil, errors.New("packbits: literal run past end of data")
			}
			dst = append(dst, src[i:i+n]...)
			i += n
		case c != -128:
			if i >= len(src) {
				return nil, errors.New("packbits: repeat run past end of data")
			}
			for n := 1 - int(c); n > 0; n-- {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	return dst, nil
}

// undoHorizontalPrediction reverses horizontal differencing in place, one
// tile row at a time, wrapping at the sample width.
func undoHorizontalPrediction(data []byte, tileWidth, bps int, order binary.ByteOrder) {
	rowLen := tileWidth * bps
	for rowStart := 0; rowStart+rowLen <= len(data); rowStart += rowLen {
		row := data[rowStart : rowStart+rowLen]
		switch bps {
		case 1:
			for x := 1; x < tileWidth; x++ {
				row[x] += row[x-1]
			}
		case 2:
			for x := 1; x < tileWidth; x++ {
				prev := order.Uint16(row[(x-1)*2:])
				order.PutUint16(row[x*2:], order.Uint16(row[x*2:])+prev)
			}
		case 4:
			for x := 1; x < tileWidth; x++ {
				prev := order.Uint32(row[(x-1)*4:])
				order.PutUint32(row[x*4:], order.Uint32(row[x*4:])+prev)
			}
		}
	}
}

// undoFloatingPointPrediction reverses the Adobe floating point predictor:
// bytes are accumulated across the row, then de-interleaved from
// byte-plane order back into big-endian samples.
func undoFloatingPointPrediction(data []byte, tileWidth, bps int) []byte {
	out := make([]byte, len(data))
	rowLen := tileWidth * bps
	for rowStart := 0; rowStart+rowLen <= len(data); rowStart += rowLen {
		row := data[rowStart : rowStart+rowLen]
		for i := 1; i < rowLen; i++ {
			row[i] += row[i-1]
		}
		dst := out[rowStart : rowStart+rowLen]
		for x := 0; x < tileWidth; x++ {
			for b := 0; b < bps; b++ {
				dst[x*bps+b] = row[b*tileWidth+x]
			}
		}
	}
	return out
}

func convertSamples(dst []float32, raw []byte, format uint16, bps int, order binary.ByteOrder) {
	for i := range dst {
		s := raw[i*bps : (i+1)*bps]
		switch format {
		case SampleFormatFloat:
			if bps == 4 {
				dst[i] = math.Float32frombits(order.Uint32(s))
			} else {
				dst[i] = float32(math.Float64frombits(order.Uint64(s)))
			}
		case SampleFormatInt:
			switch bps {
			case 1:
				dst[i] = float32(int8(s[0]))
			case 2:
				dst[i] = float32(int16(order.Uint16(s)))
			case 4:
				dst[i] = float32(int32(order.Uint32(s)))
			}
		case SampleFormatUint:
			switch bps {
			case 1:
				dst[i] = float32(s[0])
			case 2:
				dst[i] = float32(order.Uint16(s))
			case 4:
				dst[i] = float32(order.Uint32(s))
			}
		}
	}
}
