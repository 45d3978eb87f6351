package sinks

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/logflow/commtrace/internal/model"
	cterrors "github.com/logflow/commtrace/pkg/errors"
)

// rowGroupSize bounds the rows per Arrow record batch.
const rowGroupSize = 64 * 1024

// parquetSink writes the table with the same column names as the CSV
// header. Times are stored as DOUBLE.
type parquetSink struct {
	path string
	opts Options
}

func newParquetSink(path string, opts Options) Sink {
	return &parquetSink{path: path, opts: opts}
}

func (s *parquetSink) Path() string { return s.path }

// communicationSchema returns the Arrow schema for the table.
func communicationSchema(withDuration bool) *arrow.Schema {
	fields := []arrow.Field{
		{Name: model.ColumnOrigin, Type: arrow.BinaryTypes.String},
		{Name: model.ColumnDestination, Type: arrow.BinaryTypes.String},
		{Name: model.ColumnOriginActivity, Type: arrow.BinaryTypes.String},
		{Name: model.ColumnDestinationActivity, Type: arrow.BinaryTypes.String},
		{Name: model.ColumnStartTime, Type: arrow.PrimitiveTypes.Float64},
		{Name: model.ColumnEndTime, Type: arrow.PrimitiveTypes.Float64},
	}
	if withDuration {
		fields = append(fields, arrow.Field{Name: model.ColumnDuration, Type: arrow.PrimitiveTypes.Float64})
	}
	return arrow.NewSchema(fields, nil)
}

// parquetCodec maps a compression name to a parquet codec.
func parquetCodec(name string) (compress.Compression, error) {
	switch name {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "lz4":
		return compress.Codecs.Lz4, nil
	case "none":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("sinks: unknown parquet compression %q", name)
	}
}

func (s *parquetSink) Write(ctx context.Context, t Table) error {
	codec, err := parquetCodec(s.opts.Compression)
	if err != nil {
		return cterrors.WriteFailed(s.path, err)
	}

	f, err := os.Create(s.path)
	if err != nil {
		return cterrors.OpenFailed(s.path, err)
	}

	if err := s.write(ctx, f, codec, t.Rows); err != nil {
		f.Close()
		os.Remove(s.path)
		return err
	}
	// pqarrow closes the sink on FileWriter.Close; a second close is harmless.
	f.Close()
	return nil
}

func (s *parquetSink) write(ctx context.Context, f *os.File, codec compress.Compression, rows []model.Communication) error {
	schema := communicationSchema(s.opts.WithDuration)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	fw, err := pqarrow.NewFileWriter(schema, f, writerProps, arrowProps)
	if err != nil {
		return cterrors.WriteFailed(s.path, fmt.Errorf("failed to create parquet writer: %w", err))
	}

	alloc := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(alloc, schema)
	defer builder.Release()

	for start := 0; start < len(rows); start += rowGroupSize {
		if err := ctx.Err(); err != nil {
			fw.Close()
			return cterrors.Canceled("write parquet", err)
		}

		end := start + rowGroupSize
		if end > len(rows) {
			end = len(rows)
		}
		s.appendRows(builder, rows[start:end])

		rec := builder.NewRecord()
		err := fw.Write(rec)
		rec.Release()
		if err != nil {
			fw.Close()
			return cterrors.WriteFailed(s.path, fmt.Errorf("failed to write record batch: %w", err))
		}
	}

	if err := fw.Close(); err != nil {
		return cterrors.WriteFailed(s.path, fmt.Errorf("failed to close parquet writer: %w", err))
	}
	return nil
}

func (s *parquetSink) appendRows(b *array.RecordBuilder, rows []model.Communication) {
	origin := b.Field(0).(*array.StringBuilder)
	dest := b.Field(1).(*array.StringBuilder)
	originAct := b.Field(2).(*array.StringBuilder)
	destAct := b.Field(3).(*array.StringBuilder)
	startT := b.Field(4).(*array.Float64Builder)
	endT := b.Field(5).(*array.Float64Builder)

	for _, r := range rows {
		origin.Append(r.Origin)
		dest.Append(r.Destination)
		originAct.Append(r.OriginActivity)
		destAct.Append(r.DestinationActivity)
		startT.Append(r.StartTime)
		endT.Append(r.EndTime)
	}

	if s.opts.WithDuration {
		dur := b.Field(6).(*array.Float64Builder)
		for _, r := range rows {
			dur.Append(r.Duration())
		}
	}
}
