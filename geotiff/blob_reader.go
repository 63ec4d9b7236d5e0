package geotiff

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// BlobReader reads a raster stored in a cloud bucket (S3, GCS, Azure, local
// directory) through gocloud.dev/blob.
type BlobReader struct {
	rangeReader
	ctx    context.Context
	bucket *blob.Bucket
	key    string
}

// NewBlobReader creates a new reader for a blob in a bucket.
func NewBlobReader(ctx context.Context, bucket *blob.Bucket, key string) (*BlobReader, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes for key %s: %w", key, err)
	}

	r := &BlobReader{ctx: ctx, bucket: bucket, key: key}
	r.size = attrs.Size
	r.readRange = r.get
	return r, nil
}

func (r *BlobReader) get(p []byte, off int64) (int, error) {
	reader, err := r.bucket.NewRangeReader(r.ctx, r.key, off, int64(len(p)), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create range reader: %w", err)
	}
	defer reader.Close()
	return io.ReadFull(reader, p)
}
