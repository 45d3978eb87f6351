package util

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// nopWriteCloser adds a no-op Close to an io.Writer.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Compress wraps w so that writes are compressed with c. Closing the
// returned writer flushes the compressor but does not close w.
func Compress(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("util: %s output compression is not supported", c)
	}
}
