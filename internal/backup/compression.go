package backup

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType identifies the codec of a backup artifact
type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// DetectCompression picks a codec from the file extension, falling back to
// the leading magic bytes.
func DetectCompression(location string, head []byte) CompressionType {
	lower := strings.ToLower(location)
	switch {
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".gzip"):
		return CompressionTypeGzip
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		return CompressionTypeZstd
	case strings.HasSuffix(lower, ".lz4"):
		return CompressionTypeLZ4
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return CompressionTypeGzip
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionTypeZstd
	case bytes.HasPrefix(head, lz4Magic):
		return CompressionTypeLZ4
	}
	return CompressionTypeNone
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// NewDecompressingReader wraps r so that reads yield decompressed bytes
func NewDecompressingReader(r io.Reader, compression CompressionType) (io.ReadCloser, error) {
	switch compression {
	case CompressionTypeGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, NewStorageError("failed to open gzip stream", err)
		}
		return gz, nil
	case CompressionTypeZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, NewStorageError("failed to open zstd stream", err)
		}
		return zstdReadCloser{dec}, nil
	case CompressionTypeLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionTypeNone:
		return io.NopCloser(r), nil
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported compression: %s", compression), nil)
	}
}

// ReadSample returns up to limit decompressed bytes from the start of the artifact
func ReadSample(ctx context.Context, store ArtifactStore, location string, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, nil
	}

	raw, err := store.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	buffered := bufio.NewReader(raw)
	head, _ := buffered.Peek(4)

	reader, err := NewDecompressingReader(buffered, DetectCompression(location, head))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	sample, err := io.ReadAll(io.LimitReader(reader, limit))
	if err != nil && len(sample) == 0 {
		return nil, NewStorageError("failed to read artifact sample", err)
	}
	return sample, nil
}
