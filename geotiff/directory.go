package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMalformedContainer is returned when the raster header or its first
	// image directory lacks a structural field needed to sample it.
	ErrMalformedContainer = errors.New("malformed raster container")

	// ErrTileIndexOutOfRange is returned by a tile store asked for a tile it
	// never populated.
	ErrTileIndexOutOfRange = errors.New("tile index out of range")

	// ErrUnsupported is returned for valid TIFF layouts the decoder does not
	// handle (multi-band, unknown codec, odd bit depths).
	ErrUnsupported = errors.New("unsupported raster layout")
)

// head represents the TIFF file header information
type head struct {
	byteOrder binary.ByteOrder // Byte order (little endian or big endian)
	isBigTIFF bool             // Whether this is a BigTIFF file format
	ifdOffset uint64           // Offset to the first Image File Directory (IFD)
}

// iFDEntry represents a single entry in an Image File Directory (IFD)
type iFDEntry struct {
	Tag         Tag       // TIFF tag identifier
	FType       fieldType // Data type of the field
	Count       uint64    // Number of values of the specified type
	ValueOffset uint64    // Offset to the value data, or the value itself if it fits inline
	ValueBytes  []byte    // Inline value data for small values
}

// tagData holds the parsed data for a TIFF tag in various typed formats
type tagData struct {
	fType      fieldType
	length     uint32
	byteData   []uint8
	asciiData  string
	shortData  []uint16
	longData   []uint32
	floatData  []float32
	doubleData []float64
	uint64Data []uint64
}

type Tags map[Tag]tagData

type Tag uint16

// Directory is the parsed description of the first image of a tiled raster:
// its geometry, tiling, tile locations, codec and georeferencing.
// It is never modified once returned by ReadDirectory.
type Directory struct {
	Width      int
	Height     int
	TileWidth  int
	TileHeight int

	// TilesAcross and TilesDown are ceil(Width/TileWidth) and
	// ceil(Height/TileHeight).
	TilesAcross int
	TilesDown   int

	// TileOffsets and TileByteCounts are in storage order, row-major across
	// then down.
	TileOffsets    []uint64
	TileByteCounts []uint64

	// Transform holds the ModelTransformation slots. Slot 0 is the x scale,
	// 3 the x origin, 5 the y scale and 7 the y origin.
	Transform [16]float64

	ByteOrder     binary.ByteOrder
	BigTIFF       bool
	Compression   uint16
	Predictor     uint16
	BitsPerSample uint16
	SampleFormat  uint16

	// NoData is the GDAL_NODATA value, valid when HasNoData is set.
	NoData    float32
	HasNoData bool
}

// TileLocation is a pixel resolved to its tile and the offset inside it.
type TileLocation struct {
	TileCol   int
	TileRow   int
	OffX      int
	OffY      int
	TileIndex int
	Offset    int
}

// NumTiles returns the number of tiles stored in the container.
func (d *Directory) NumTiles() int { return len(d.TileOffsets) }

// BytesPerSample is the decoded size of one sample.
func (d *Directory) BytesPerSample() int { return int(d.BitsPerSample) / 8 }

// Locate maps the pixel (x, y) to its tile. It does not check that the pixel
// is inside the image.
func (d *Directory) Locate(x, y int) TileLocation {
	loc := TileLocation{
		TileCol: x / d.TileWidth,
		TileRow: y / d.TileHeight,
		OffX:    x % d.TileWidth,
		OffY:    y % d.TileHeight,
	}
	loc.TileIndex = loc.TileRow*d.TilesAcross + loc.TileCol
	loc.Offset = loc.OffY*d.TileWidth + loc.OffX
	return loc
}

// LogValue implements slog.LogValuer.
func (d *Directory) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("width", d.Width),
		slog.Int("height", d.Height),
		slog.Int("tile_width", d.TileWidth),
		slog.Int("tile_height", d.TileHeight),
		slog.Int("tiles_across", d.TilesAcross),
		slog.Int("tiles_down", d.TilesDown),
		slog.Int("num_tiles", d.NumTiles()),
		slog.Any("compression", d.Compression),
	)
}

// fieldTypeLen is the length of every field type in bytes
var fieldTypeLen = [...]uint32{
	zeroByte, oneByte, oneByte, twoByte, // 0-3
	fourByte, eightByte, oneByte, oneByte, // 4-7
	twoByte, fourByte, eightByte, fourByte, // 8-11
	eightByte, // 12 (DOUBLE)
	0, 0, 0,   // 13-15 (Reserved)
	eightByte, eightByte, eightByte, // 16-18 (LONG8, SLONG8, IFD8)
}

var fieldTypeToLabel = map[fieldType]string{
	BYTE:      "BYTE",
	ASCII:     "ASCII",
	SHORT:     "SHORT",
	LONG:      "LONG",
	RATIONAL:  "RATIONAL",
	SBYTE:     "SBYTE",
	UNDEFINED: "UNDEFINED",
	SSHORT:    "SSHORT",
	SLONG:     "SLONG",
	SRATIONAL: "SRATIONAL",
	FLOAT:     "FLOAT",
	DOUBLE:    "DOUBLE",
	LONG8:     "LONG8",
	SLONG8:    "SLONG8",
	IFD8:      "IFD8",
}

func (f fieldType) String() string {
	v, ok := fieldTypeToLabel[f]
	if !ok {
		return fmt.Sprintf("unrecognized field type %d", f)
	}
	return v
}

// bytes returns the number of bytes in each data type, 0 if unrecognized.
func (f fieldType) bytes() uint32 {
	if f == 0 || int(f) >= len(fieldTypeLen) {
		return fieldTypeLen[0]
	}
	return fieldTypeLen[int(f)]
}

func (t Tag) String() string {
	v, ok := tagToLabel[t]
	if !ok {
		return strconv.Itoa(int(t))
	}
	return v
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedContainer, fmt.Sprintf(format, args...))
}

// ParseDirectory parses the first image directory of an in-memory raster.
func ParseDirectory(raw []byte) (*Directory, error) {
	return ReadDirectory(bytes.NewReader(raw))
}

// ReadDirectory parses the first image directory of a tiled raster. The
// reader must also implement io.ReaderAt when tag values live outside the
// directory block, which is the case for every real tile offset table.
func ReadDirectory(r io.ReadSeeker) (*Directory, error) {
	tags, h, err := readTags(r)
	if err != nil {
		return nil, err
	}

	d := &Directory{
		ByteOrder: h.byteOrder,
		BigTIFF:   h.isBigTIFF,
	}

	required := []struct {
		tag Tag
		dst *int
	}{
		{ImageWidth, &d.Width},
		{ImageLength, &d.Height},
		{TileWidth, &d.TileWidth},
		{TileLength, &d.TileHeight},
	}
	for _, f := range required {
		v, ok := tags.getUint(f.tag)
		if !ok || v == 0 {
			return nil, malformed("missing or invalid tag: %s", f.tag)
		}
		*f.dst = int(v)
	}

	d.TilesAcross = (d.Width + d.TileWidth - 1) / d.TileWidth
	d.TilesDown = (d.Height + d.TileHeight - 1) / d.TileHeight

	var ok bool
	if d.TileOffsets, ok = tags.get64bitSlice(TileOffsets); !ok || len(d.TileOffsets) == 0 {
		return nil, malformed("missing or invalid tag: %s", TileOffsets)
	}
	if d.TileByteCounts, ok = tags.get64bitSlice(TileByteCounts); !ok {
		return nil, malformed("missing or invalid tag: %s", TileByteCounts)
	}
	if len(d.TileByteCounts) != len(d.TileOffsets) {
		return nil, malformed("%d tile offsets but %d byte counts", len(d.TileOffsets), len(d.TileByteCounts))
	}
	if len(d.TileOffsets) > d.TilesAcross*d.TilesDown {
		return nil, malformed("%d tiles stored for a %dx%d tile grid", len(d.TileOffsets), d.TilesAcross, d.TilesDown)
	}

	if d.Transform, err = tags.transform(); err != nil {
		return nil, err
	}

	d.BitsPerSample = uint16(tags.getUintDefault(BitsPerSample, 32))
	d.SampleFormat = uint16(tags.getUintDefault(SampleFormat, uint64(SampleFormatFloat)))
	d.Compression = uint16(tags.getUintDefault(Compression, uint64(Uncompressed)))
	d.Predictor = uint16(tags.getUintDefault(Predictor, uint64(PredictorNone)))

	if spp := tags.getUintDefault(SamplesPerPixel, 1); spp != 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel", ErrUnsupported, spp)
	}
	if pc := tags.getUintDefault(PlanarConfiguration, uint64(planarContig)); pc != uint64(planarContig) && pc != 2 {
		return nil, malformed("invalid planar configuration %d", pc)
	}

	if nd, ok := tags[GDALNoData]; ok && nd.fType == ASCII {
		if v, err := strconv.ParseFloat(strings.TrimSpace(nd.asciiData), 32); err == nil {
			d.NoData = float32(v)
			d.HasNoData = true
		}
	}

	return d, nil
}

// transform returns the ModelTransformation slots, synthesising them from
// ModelPixelScale and ModelTiepoint when the file only carries those.
func (tags Tags) transform() ([16]float64, error) {
	var t [16]float64
	if mt, ok := tags[ModelTransformation]; ok {
		v, ok := mt.doubleDataValue()
		if !ok || len(v) < 16 {
			return t, malformed("invalid tag: %s", ModelTransformation)
		}
		copy(t[:], v)
	} else {
		scale, okScale := tags[ModelPixelScale].doubleDataValue()
		tie, okTie := tags[ModelTiepoint].doubleDataValue()
		if !okScale || !okTie || len(scale) < 2 || len(tie) < 6 {
			return t, malformed("missing georeferencing: need %s or %s and %s",
				ModelTransformation, ModelPixelScale, ModelTiepoint)
		}
		sx, sy := scale[0], math.Abs(scale[1])
		t[0] = sx
		t[3] = tie[3] - tie[0]*sx
		t[5] = -sy
		t[7] = tie[4] + tie[1]*sy
		if len(scale) > 2 {
			t[10] = scale[2]
		}
		t[15] = 1
	}
	if t[0] == 0 || t[5] == 0 {
		return t, malformed("zero pixel scale in transform")
	}
	return t, nil
}

// readHeader parses the TIFF file header to determine byte order, file format, and IFD location
func readHeader(r io.Reader) (head, error) {
	var h head

	var byteOrderBytes uint16
	if err := binary.Read(r, binary.BigEndian, &byteOrderBytes); err != nil {
		return h, malformed("reading byte order: %v", err)
	}

	switch byteOrderBytes {
	case littleEndian:
		h.byteOrder = binary.LittleEndian
	case bigEndian:
		h.byteOrder = binary.BigEndian
	default:
		return h, malformed("invalid byte order 0x%04x", byteOrderBytes)
	}

	var identifier uint16
	if err := binary.Read(r, h.byteOrder, &identifier); err != nil {
		return h, malformed("reading identifier: %v", err)
	}

	switch identifier {
	case tiffIdentifier:
		var offset32 uint32
		if err := binary.Read(r, h.byteOrder, &offset32); err != nil {
			return h, malformed("reading IFD offset: %v", err)
		}
		h.ifdOffset = uint64(offset32)
	case bigTiffIdentifier:
		h.isBigTIFF = true

		var bytesize, reserved uint16
		if err := binary.Read(r, h.byteOrder, &bytesize); err != nil {
			return h, malformed("reading BigTIFF bytesize: %v", err)
		}
		if bytesize != bigTiffBytesize {
			return h, malformed("invalid BigTIFF bytesize %d", bytesize)
		}
		if err := binary.Read(r, h.byteOrder, &reserved); err != nil {
			return h, malformed("reading BigTIFF header: %v", err)
		}
		if err := binary.Read(r, h.byteOrder, &h.ifdOffset); err != nil {
			return h, malformed("reading IFD offset: %v", err)
		}
	default:
		return h, malformed("invalid tiff identifier: %d", identifier)
	}
	return h, nil
}

func readTags(r io.ReadSeeker) (Tags, head, error) {
	tags := make(Tags)
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, head{}, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, head{}, err
	}
	h, err := readHeader(r)
	if err != nil {
		return nil, h, err
	}

	// Only the first IFD is read: it holds the full resolution image, the
	// following ones are overviews or masks.
	if h.ifdOffset == 0 {
		return nil, h, malformed("file contains no IFDs")
	}
	if _, err := r.Seek(int64(h.ifdOffset), io.SeekStart); err != nil {
		return nil, h, err
	}

	var numEntries uint64
	if h.isBigTIFF {
		if err := binary.Read(r, h.byteOrder, &numEntries); err != nil {
			return nil, h, malformed("reading IFD entry count: %v", err)
		}
	} else {
		var numEntries16 uint16
		if err := binary.Read(r, h.byteOrder, &numEntries16); err != nil {
			return nil, h, malformed("reading IFD entry count: %v", err)
		}
		numEntries = uint64(numEntries16)
	}

	entryLen := 12
	inlineDataSize := uint64(4)
	if h.isBigTIFF {
		entryLen = 20
		inlineDataSize = 8
	}
	if numEntries > math.MaxUint16 {
		return nil, h, malformed("implausible IFD entry count %d", numEntries)
	}
	ifdBlock := make([]byte, entryLen*int(numEntries))
	if _, err := io.ReadFull(r, ifdBlock); err != nil {
		return nil, h, malformed("failed to read IFD block: %v", err)
	}

	for i := 0; i < int(numEntries); i++ {
		raw := ifdBlock[i*entryLen : (i+1)*entryLen]
		entry := iFDEntry{
			Tag:   Tag(h.byteOrder.Uint16(raw[0:2])),
			FType: fieldType(h.byteOrder.Uint16(raw[2:4])),
		}
		if entry.FType.bytes() == 0 {
			continue
		}

		offsetBytes := make([]byte, 8)
		if h.isBigTIFF {
			entry.Count = h.byteOrder.Uint64(raw[4:12])
			copy(offsetBytes, raw[12:20])
			entry.ValueOffset = h.byteOrder.Uint64(offsetBytes)
		} else {
			entry.Count = uint64(h.byteOrder.Uint32(raw[4:8]))
			copy(offsetBytes, raw[8:12])
			entry.ValueOffset = uint64(h.byteOrder.Uint32(offsetBytes))
		}

		// Counts are bounded by the source size before anything is allocated.
		n := uint64(entry.FType.bytes())
		if entry.Count > math.MaxUint64/n {
			return nil, h, malformed("tag %s: count %d overflows", entry.Tag, entry.Count)
		}
		totalBytes := n * entry.Count
		if totalBytes <= inlineDataSize {
			entry.ValueBytes = offsetBytes[:totalBytes]
		} else if entry.ValueOffset > uint64(size) || totalBytes > uint64(size)-entry.ValueOffset {
			return nil, h, malformed("tag %s: %d bytes at offset %d past the end of a %d byte source",
				entry.Tag, totalBytes, entry.ValueOffset, size)
		}

		tagvalue, err := entry.value(r, h.byteOrder)
		if err != nil {
			return nil, h, fmt.Errorf("%w: tag %s: %v", ErrMalformedContainer, entry.Tag, err)
		}
		if tagvalue != nil {
			tags[entry.Tag] = *tagvalue
		}
	}

	return tags, h, nil
}

// value decodes the entry's payload. Types the directory never needs
// (rationals, signed integers) are skipped and yield a nil tagData.
func (ifd *iFDEntry) value(r io.ReadSeeker, byteOrder binary.ByteOrder) (*tagData, error) {
	t := tagData{fType: ifd.FType, length: uint32(ifd.Count)}
	var reader io.Reader
	if ifd.ValueBytes != nil {
		reader = bytes.NewReader(ifd.ValueBytes)
	} else {
		readerAt, ok := r.(io.ReaderAt)
		if !ok {
			return nil, errors.New("reader does not implement io.ReaderAt")
		}
		reader = io.NewSectionReader(readerAt, int64(ifd.ValueOffset), int64(ifd.FType.bytes())*int64(ifd.Count))
	}
	switch ifd.FType {
	case BYTE, UNDEFINED:
		t.byteData = make([]uint8, ifd.Count)
		if _, err := io.ReadFull(reader, t.byteData); err != nil {
			return nil, err
		}
	case ASCII:
		p := make([]uint8, ifd.Count)
		if _, err := io.ReadFull(reader, p); err != nil {
			return nil, err
		}
		t.asciiData = string(bytes.Trim(p, "\x00"))
	case SHORT:
		t.shortData = make([]uint16, ifd.Count)
		if err := binary.Read(reader, byteOrder, t.shortData); err != nil {
			return nil, err
		}
	case LONG:
		t.longData = make([]uint32, ifd.Count)
		if err := binary.Read(reader, byteOrder, t.longData); err != nil {
			return nil, err
		}
	case FLOAT:
		t.floatData = make([]float32, ifd.Count)
		if err := binary.Read(reader, byteOrder, t.floatData); err != nil {
			return nil, err
		}
	case DOUBLE:
		t.doubleData = make([]float64, ifd.Count)
		if err := binary.Read(reader, byteOrder, t.doubleData); err != nil {
			return nil, err
		}
	case LONG8, IFD8:
		t.uint64Data = make([]uint64, ifd.Count)
		if err := binary.Read(reader, byteOrder, t.uint64Data); err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}
	return &t, nil
}

func (tags Tags) getUint(tag Tag) (uint64, bool) {
	t, ok := tags[tag]
	if !ok {
		return 0, false
	}
	switch {
	case t.fType == SHORT && len(t.shortData) > 0:
		return uint64(t.shortData[0]), true
	case t.fType == LONG && len(t.longData) > 0:
		return uint64(t.longData[0]), true
	case (t.fType == LONG8 || t.fType == IFD8) && len(t.uint64Data) > 0:
		return t.uint64Data[0], true
	}
	return 0, false
}

func (tags Tags) getUintDefault(tag Tag, def uint64) uint64 {
	if v, ok := tags.getUint(tag); ok {
		return v
	}
	return def
}

func (tags Tags) get64bitSlice(tag Tag) ([]uint64, bool) {
	t, ok := tags[tag]
	if !ok {
		return nil, false
	}
	switch t.fType {
	case LONG8, IFD8:
		return t.uint64Data, true
	case LONG:
		res := make([]uint64, len(t.longData))
		for i, v := range t.longData {
			res[i] = uint64(v)
		}
		return res, true
	case SHORT:
		res := make([]uint64, len(t.shortData))
		for i, v := range t.shortData {
			res[i] = uint64(v)
		}
		return res, true
	}
	return nil, false
}

func (td tagData) doubleDataValue() ([]float64, bool) {
	if td.fType == DOUBLE {
		return td.doubleData, true
	}
	return nil, false
}
