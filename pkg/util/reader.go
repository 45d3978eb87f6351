// Package util provides utility functions for file operations.
package util

import (
	"compress/bzip2"
	"compress/gzip"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Compression identifies a transparent input compression.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBzip2
	CompressionZstd
)

// String returns the compression name.
func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionBzip2:
		return "bzip2"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// DetectCompression returns the compression implied by the path suffix.
func DetectCompression(path string) Compression {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".gzip"):
		return CompressionGzip
	case strings.HasSuffix(lower, ".bz2"), strings.HasSuffix(lower, ".bzip2"):
		return CompressionBzip2
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// Decompress wraps r according to c. The returned cleanup releases the
// decoder only; closing r stays with the caller.
func Decompress(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case CompressionBzip2:
		return bzip2.NewReader(r), func() {}, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	default:
		return r, func() {}, nil
	}
}

// StripCompression removes a compression extension from a path.
func StripCompression(path string) string {
	if DetectCompression(path) == CompressionNone {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// BaseName returns the file name without directories, compression or
// format extension, e.g. "runs/pp_ring_eth_4.trace.gz" -> "pp_ring_eth_4".
func BaseName(path string) string {
	base := filepath.Base(StripCompression(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// BaseFormat extracts the format extension after stripping compression.
// e.g., "file.csv.gz" -> ".csv", "file.parquet" -> ".parquet"
func BaseFormat(path string) string {
	return strings.ToLower(filepath.Ext(StripCompression(path)))
}
