package sinks

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/logflow/commtrace/internal/model"
	cterrors "github.com/logflow/commtrace/pkg/errors"
)

func sampleTable() Table {
	return Table{
		RunID: "run-1",
		Trace: "gt.trace",
		Rows: []model.Communication{
			{Origin: "R1", Destination: "R2", OriginActivity: "Send", DestinationActivity: "Recv", StartTime: 10, EndTime: 10.5},
			{Origin: "R2", Destination: "R1", OriginActivity: "Unknown", DestinationActivity: "Wait, then recv", StartTime: 11.25, EndTime: 12},
		},
	}
}

const wantCSV = "Rank Origem,Rank Destino,Ação da Origem,Estado do Destino,Tempo Inicial,Tempo Final\n" +
	"R1,R2,Send,Recv,10.0,10.5\n" +
	"R2,R1,Unknown,\"Wait, then recv\",11.25,12.0\n"

func writeSink(t *testing.T, path string, opts Options, table Table) {
	t.Helper()
	s, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	if err := s.Write(context.Background(), table); err != nil {
		t.Fatalf("Write(%s): %v", path, err)
	}
}

func TestCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	writeSink(t, path, Options{}, sampleTable())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != wantCSV {
		t.Errorf("csv =\n%s\nwant\n%s", data, wantCSV)
	}
}

func TestCSVSink_Deterministic(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	writeSink(t, a, Options{WithDuration: true}, sampleTable())
	writeSink(t, b, Options{WithDuration: true}, sampleTable())

	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	if !bytes.Equal(da, db) {
		t.Error("identical tables produced different bytes")
	}
	if !bytes.Contains(da, []byte(",Duracao\n")) || !bytes.Contains(da, []byte(",0.5\n")) {
		t.Errorf("duration column missing:\n%s", da)
	}
}

func TestCSVSink_EmptyTableWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	writeSink(t, path, Options{}, Table{Trace: "empty.trace"})

	data, _ := os.ReadFile(path)
	want := "Rank Origem,Rank Destino,Ação da Origem,Estado do Destino,Tempo Inicial,Tempo Final\n"
	if string(data) != want {
		t.Errorf("csv = %q, want header only", data)
	}
}

func TestCSVSink_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv.gz")
	writeSink(t, path, Options{}, sampleTable())

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	data, _ := io.ReadAll(gz)
	if string(data) != wantCSV {
		t.Errorf("decompressed csv = %q", data)
	}
}

func TestCSVSink_Canceled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, _ := Open(path, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Write(ctx, sampleTable())
	if !cterrors.IsCode(err, cterrors.CodeCanceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("partial output should be removed")
	}
}

func TestCSVSink_BadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.csv")
	s, _ := Open(path, Options{})
	err := s.Write(context.Background(), sampleTable())
	if !cterrors.IsCode(err, cterrors.CodeFileNotFound) {
		t.Errorf("err = %v, want file not found", err)
	}
}

func TestParquetSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	writeSink(t, path, Options{Compression: "zstd", WithDuration: true}, sampleTable())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Errorf("not a parquet file (%d bytes)", len(data))
	}
}

func TestParquetSink_UnknownCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	s, _ := Open(path, Options{Compression: "brotli9000"})
	if err := s.Write(context.Background(), sampleTable()); !cterrors.IsCode(err, cterrors.CodeWriteFailed) {
		t.Errorf("err = %v, want write failed", err)
	}
}

func TestCommunicationSchema(t *testing.T) {
	if n := len(communicationSchema(false).Fields()); n != 6 {
		t.Errorf("fields = %d, want 6", n)
	}
	s := communicationSchema(true)
	if s.Field(6).Name != model.ColumnDuration {
		t.Errorf("field 6 = %q, want %q", s.Field(6).Name, model.ColumnDuration)
	}
	if s.Field(2).Name != "Ação da Origem" {
		t.Errorf("field 2 = %q", s.Field(2).Name)
	}
}

func TestXLSXSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	writeSink(t, path, Options{}, sampleTable())

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0] != model.ColumnOrigin || rows[0][5] != model.ColumnEndTime {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "R1" || rows[2][3] != "Wait, then recv" {
		t.Errorf("rows = %v", rows[1:])
	}
}

func readSQL(t *testing.T, driver, dsn string) []model.Communication {
	t.Helper()
	db, err := sql.Open(driver, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT origin, destination, origin_activity, destination_activity, start_time, end_time FROM " + TableName + " ORDER BY trace, seq")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var out []model.Communication
	for rows.Next() {
		var c model.Communication
		if err := rows.Scan(&c.Origin, &c.Destination, &c.OriginActivity, &c.DestinationActivity, &c.StartTime, &c.EndTime); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestSQLiteSink_ReplacesSameTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.sqlite")
	table := sampleTable()

	writeSink(t, path, Options{}, table)
	writeSink(t, path, Options{}, table)

	got := readSQL(t, "sqlite", path)
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2 after rewrite of the same trace", len(got))
	}
	if got[0] != table.Rows[0] || got[1] != table.Rows[1] {
		t.Errorf("rows = %+v", got)
	}

	other := sampleTable()
	other.Trace = "other.trace"
	other.Rows = other.Rows[:1]
	writeSink(t, path, Options{}, other)

	if got := readSQL(t, "sqlite", path); len(got) != 3 {
		t.Errorf("rows = %d, want 3 across two traces", len(got))
	}
}

func TestDuckDBSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.duckdb")
	writeSink(t, path, Options{WithDuration: true}, sampleTable())

	got := readSQL(t, "duckdb", path)
	if len(got) != 2 || got[1].DestinationActivity != "Wait, then recv" {
		t.Errorf("rows = %+v", got)
	}
}

func TestSQLiteSink_BadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.sqlite")
	s, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}

	err = s.Write(context.Background(), sampleTable())
	var ctErr *cterrors.Error
	if !errors.As(err, &ctErr) || ctErr.Code != cterrors.CodeWriteFailed {
		t.Fatalf("err = %v, want %s", err, cterrors.CodeWriteFailed)
	}
	if ctErr.Context["output"] != path {
		t.Errorf("output context = %v, want %s", ctErr.Context["output"], path)
	}
	if ctErr.Cause == nil {
		t.Error("driver error should be kept as the cause")
	}
}

func TestOpen_Unsupported(t *testing.T) {
	for _, path := range []string{"out.txt", "out", "out.parquet.gz", "out.xlsx.zst"} {
		if _, err := Open(path, Options{}); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Open(%q) err = %v, want ErrUnsupportedFormat", path, err)
		}
	}
}

func TestFormatExt(t *testing.T) {
	tests := map[string]string{
		"csv":     ".csv",
		".CSV":    ".csv",
		"parquet": ".parquet",
		"sqlite":  ".sqlite",
		"duckdb":  ".duckdb",
	}
	for in, want := range tests {
		got, err := FormatExt(in)
		if err != nil || got != want {
			t.Errorf("FormatExt(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := FormatExt("json"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("FormatExt(json) err = %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	got := OutputPath("out", "runs/pp_ring_eth_4.trace.gz", "_completo", ".csv")
	want := filepath.Join("out", "pp_ring_eth_4_completo.csv")
	if got != want {
		t.Errorf("OutputPath = %q, want %q", got, want)
	}
}

func TestFormats(t *testing.T) {
	got := Formats()
	want := []string{".csv", ".db", ".duckdb", ".parquet", ".sqlite", ".xlsx"}
	if len(got) != len(want) {
		t.Fatalf("Formats() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Formats()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
