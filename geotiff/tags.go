package geotiff

// TIFF header magic.
const (
	littleEndian      uint16 = 0x4949 // "II"
	bigEndian         uint16 = 0x4D4D // "MM"
	tiffIdentifier    uint16 = 42
	bigTiffIdentifier uint16 = 43
	bigTiffBytesize   uint16 = 8
)

// Field type byte lengths.
const (
	zeroByte  uint32 = 0
	oneByte   uint32 = 1
	twoByte   uint32 = 2
	fourByte  uint32 = 4
	eightByte uint32 = 8
)

type fieldType uint16

// Field types (TIFF 6.0 p. 15-16, BigTIFF extensions 16-18).
const (
	BYTE      fieldType = 1
	ASCII     fieldType = 2
	SHORT     fieldType = 3
	LONG      fieldType = 4
	RATIONAL  fieldType = 5
	SBYTE     fieldType = 6
	UNDEFINED fieldType = 7
	SSHORT    fieldType = 8
	SLONG     fieldType = 9
	SRATIONAL fieldType = 10
	FLOAT     fieldType = 11
	DOUBLE    fieldType = 12
	LONG8     fieldType = 16
	SLONG8    fieldType = 17
	IFD8      fieldType = 18
)

// Baseline, extension and GeoTIFF tags read by the directory reader.
const (
	ImageWidth          Tag = 256
	ImageLength         Tag = 257
	BitsPerSample       Tag = 258
	Compression         Tag = 259
	SamplesPerPixel     Tag = 277
	PlanarConfiguration Tag = 284
	Predictor           Tag = 317
	TileWidth           Tag = 322
	TileLength          Tag = 323
	TileOffsets         Tag = 324
	TileByteCounts      Tag = 325
	SampleFormat        Tag = 339
	ModelPixelScale     Tag = 33550
	ModelTiepoint       Tag = 33922
	ModelTransformation Tag = 34264
	GeoKeyDirectory     Tag = 34735
	GDALNoData          Tag = 42113
)

var tagToLabel = map[Tag]string{
	ImageWidth:          "ImageWidth",
	ImageLength:         "ImageLength",
	BitsPerSample:       "BitsPerSample",
	Compression:         "Compression",
	SamplesPerPixel:     "SamplesPerPixel",
	PlanarConfiguration: "PlanarConfiguration",
	Predictor:           "Predictor",
	TileWidth:           "TileWidth",
	TileLength:          "TileLength",
	TileOffsets:         "TileOffsets",
	TileByteCounts:      "TileByteCounts",
	SampleFormat:        "SampleFormat",
	ModelPixelScale:     "ModelPixelScale",
	ModelTiepoint:       "ModelTiepoint",
	ModelTransformation: "ModelTransformation",
	GeoKeyDirectory:     "GeoKeyDirectory",
	GDALNoData:          "GDAL_NODATA",
}

// Compression schemes.
const (
	Uncompressed uint16 = 1
	LZW          uint16 = 5
	DEFLATE      uint16 = 8
	PackBits     uint16 = 32773
	DeflateOld   uint16 = 32946
	ZSTD         uint16 = 50000
)

// Predictor schemes.
const (
	PredictorNone          uint16 = 1
	PredictorHorizontal    uint16 = 2
	PredictorFloatingPoint uint16 = 3
)

// SampleFormat values.
const (
	SampleFormatUint  uint16 = 1
	SampleFormatInt   uint16 = 2
	SampleFormatFloat uint16 = 3
)

const planarContig uint16 = 1
