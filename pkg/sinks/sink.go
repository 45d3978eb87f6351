// Package sinks writes a finished communication table to its outputs.
//
// A sink is chosen by the output path's format extension after any
// compression suffix is stripped:
//
//	.csv             comma-separated text (.csv.gz and .csv.zst allowed)
//	.parquet         Apache Parquet via Arrow
//	.xlsx            Excel workbook
//	.duckdb          DuckDB database file
//	.db, .sqlite     SQLite database file
//
// The table is immutable by the time it reaches a sink, so sinks for one
// run may write concurrently.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/logflow/commtrace/internal/model"
	"github.com/logflow/commtrace/pkg/util"
)

var (
	// ErrUnsupportedFormat is returned by Open for an unknown extension.
	ErrUnsupportedFormat = errors.New("sinks: unsupported output format")
)

// Table is one run's output.
type Table struct {
	// RunID identifies the extraction run. Database sinks store it.
	RunID string

	// Trace is the input location the rows came from.
	Trace string

	Rows []model.Communication
}

// Options configures sinks.
type Options struct {
	// WithDuration appends the derived duration column.
	WithDuration bool

	// Compression is the parquet codec: snappy, gzip, zstd, lz4 or none.
	Compression string
}

// Sink writes a table to one output.
type Sink interface {
	// Path returns the output location.
	Path() string

	// Write writes the whole table and closes the output.
	Write(ctx context.Context, t Table) error
}

type factory func(path string, opts Options) Sink

var registry = map[string]factory{
	".csv":     newCSVSink,
	".parquet": newParquetSink,
	".xlsx":    newXLSXSink,
	".duckdb":  newDuckDBSink,
	".db":      newSQLiteSink,
	".sqlite":  newSQLiteSink,
}

// Open returns the sink for path.
func Open(path string, opts Options) (Sink, error) {
	ext := util.BaseFormat(path)
	f, ok := registry[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
	if ext != ".csv" && util.DetectCompression(path) != util.CompressionNone {
		return nil, fmt.Errorf("%w: %q (only csv output may be compressed)", ErrUnsupportedFormat, path)
	}
	return f(path, opts), nil
}

// Formats returns the supported format extensions, sorted.
func Formats() []string {
	out := make([]string, 0, len(registry))
	for ext := range registry {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// FormatExt normalizes a format name such as "csv" or ".CSV" to an
// extension Open understands.
func FormatExt(format string) (string, error) {
	ext := util.BaseFormat("x." + trimDot(format))
	if _, ok := registry[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return ext, nil
}

func trimDot(s string) string {
	if len(s) > 0 && s[0] == '.' {
		return s[1:]
	}
	return s
}

// OutputPath builds "<dir>/<base><suffix><ext>" for batch outputs.
func OutputPath(dir, trace, suffix, ext string) string {
	return filepath.Join(dir, util.BaseName(trace)+suffix+ext)
}
