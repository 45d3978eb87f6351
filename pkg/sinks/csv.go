package sinks

import (
	"context"
	"encoding/csv"
	"os"

	"github.com/logflow/commtrace/internal/model"
	cterrors "github.com/logflow/commtrace/pkg/errors"
	"github.com/logflow/commtrace/pkg/util"
)

// csvSink writes the header and one line per row. Output is a pure
// function of the rows, so identical tables give identical bytes.
type csvSink struct {
	path string
	opts Options
}

func newCSVSink(path string, opts Options) Sink {
	return &csvSink{path: path, opts: opts}
}

func (s *csvSink) Path() string { return s.path }

func (s *csvSink) Write(ctx context.Context, t Table) error {
	f, err := os.Create(s.path)
	if err != nil {
		return cterrors.OpenFailed(s.path, err)
	}

	if err := s.write(ctx, f, t.Rows); err != nil {
		f.Close()
		os.Remove(s.path)
		return err
	}
	if err := f.Close(); err != nil {
		return cterrors.WriteFailed(s.path, err)
	}
	return nil
}

func (s *csvSink) write(ctx context.Context, f *os.File, rows []model.Communication) error {
	out, err := util.Compress(f, util.DetectCompression(s.path))
	if err != nil {
		return cterrors.WriteFailed(s.path, err)
	}

	w := csv.NewWriter(out)
	if err := w.Write(model.Columns(s.opts.WithDuration)); err != nil {
		return cterrors.WriteFailed(s.path, err)
	}
	for i, row := range rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return cterrors.Canceled("write csv", err)
			}
		}
		if err := w.Write(row.Strings(s.opts.WithDuration)); err != nil {
			return cterrors.WriteFailed(s.path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return cterrors.WriteFailed(s.path, err)
	}
	if err := out.Close(); err != nil {
		return cterrors.WriteFailed(s.path, err)
	}
	return nil
}
