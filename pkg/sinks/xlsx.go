package sinks

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/logflow/commtrace/internal/model"
	cterrors "github.com/logflow/commtrace/pkg/errors"
)

// SheetName is the worksheet holding the table.
const SheetName = "Comunicacoes"

// xlsxSink writes a single worksheet. Times are numeric cells.
type xlsxSink struct {
	path string
	opts Options
}

func newXLSXSink(path string, opts Options) Sink {
	return &xlsxSink{path: path, opts: opts}
}

func (s *xlsxSink) Path() string { return s.path }

func (s *xlsxSink) Write(ctx context.Context, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return cterrors.WriteFailed(s.path, err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return cterrors.WriteFailed(s.path, err)
	}

	cols := model.Columns(s.opts.WithDuration)
	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return cterrors.WriteFailed(s.path, err)
	}

	for i, r := range t.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return cterrors.Canceled("write xlsx", err)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return cterrors.WriteFailed(s.path, err)
		}
		row := []interface{}{r.Origin, r.Destination, r.OriginActivity, r.DestinationActivity, r.StartTime, r.EndTime}
		if s.opts.WithDuration {
			row = append(row, r.Duration())
		}
		if err := sw.SetRow(cell, row); err != nil {
			return cterrors.WriteFailed(s.path, fmt.Errorf("row %d: %w", i+1, err))
		}
	}

	if err := sw.Flush(); err != nil {
		return cterrors.WriteFailed(s.path, err)
	}
	if err := f.SaveAs(s.path); err != nil {
		return cterrors.WriteFailed(s.path, err)
	}
	return nil
}
