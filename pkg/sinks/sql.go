package sinks

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"

	"github.com/logflow/commtrace/internal/model"
	cterrors "github.com/logflow/commtrace/pkg/errors"
)

// TableName is the SQL table written by the database sinks.
const TableName = "communications"

// dialect holds what differs between the embedded databases.
type dialect struct {
	driver  string
	dsn     func(path string) string
	text    string
	real    string
	integer string
}

var (
	duckdbDialect = dialect{
		driver:  "duckdb",
		dsn:     func(path string) string { return path },
		text:    "VARCHAR",
		real:    "DOUBLE",
		integer: "BIGINT",
	}
	sqliteDialect = dialect{
		driver: "sqlite",
		dsn: func(path string) string {
			return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
		},
		text:    "TEXT",
		real:    "REAL",
		integer: "INTEGER",
	}
)

// sqlSink stores rows in a database file. Rows of one trace replace any
// earlier run of the same trace; other traces in the file are kept, so
// one database can collect a whole batch.
type sqlSink struct {
	path    string
	opts    Options
	dialect dialect
}

func newDuckDBSink(path string, opts Options) Sink {
	return &sqlSink{path: path, opts: opts, dialect: duckdbDialect}
}

func newSQLiteSink(path string, opts Options) Sink {
	return &sqlSink{path: path, opts: opts, dialect: sqliteDialect}
}

func (s *sqlSink) Path() string { return s.path }

func (s *sqlSink) createTable() string {
	d := s.dialect
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id %s NOT NULL,
		trace %s NOT NULL,
		seq %s NOT NULL,
		origin %s NOT NULL,
		destination %s NOT NULL,
		origin_activity %s NOT NULL,
		destination_activity %s NOT NULL,
		start_time %s NOT NULL,
		end_time %s NOT NULL,
		duration %s
	)`, TableName, d.text, d.text, d.integer, d.text, d.text, d.text, d.text, d.real, d.real, d.real)
}

func (s *sqlSink) Write(ctx context.Context, t Table) error {
	db, err := sql.Open(s.dialect.driver, s.dialect.dsn(s.path))
	if err != nil {
		return cterrors.Wrapf(err, cterrors.CodeWriteFailed, "failed to open %s", s.dialect.driver).WithContext("output", s.path)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, s.createTable()); err != nil {
		return cterrors.Wrapf(err, cterrors.CodeWriteFailed, "failed to create table").WithContext("output", s.path)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cterrors.Wrapf(err, cterrors.CodeWriteFailed, "failed to begin transaction").WithContext("output", s.path)
	}

	if err := s.insert(ctx, tx, t); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return cterrors.Wrapf(err, cterrors.CodeWriteFailed, "failed to commit transaction").WithContext("output", s.path)
	}
	return nil
}

func (s *sqlSink) insert(ctx context.Context, tx *sql.Tx, t Table) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+TableName+" WHERE trace = ?", t.Trace); err != nil {
		return cterrors.Wrapf(err, cterrors.CodeWriteFailed, "failed to clear previous run").WithContext("output", s.path)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+TableName+`
		(run_id, trace, seq, origin, destination, origin_activity, destination_activity, start_time, end_time, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return cterrors.Wrapf(err, cterrors.CodeWriteFailed, "failed to prepare insert").WithContext("output", s.path)
	}
	defer stmt.Close()

	for i, r := range t.Rows {
		if _, err := stmt.ExecContext(ctx,
			t.RunID, t.Trace, i,
			r.Origin, r.Destination, r.OriginActivity, r.DestinationActivity,
			r.StartTime, r.EndTime, s.duration(r),
		); err != nil {
			return cterrors.Wrapf(err, cterrors.CodeWriteFailed, "failed to insert row %d", i+1).WithContext("output", s.path)
		}
	}
	return nil
}

func (s *sqlSink) duration(r model.Communication) interface{} {
	if !s.opts.WithDuration {
		return nil
	}
	return r.Duration()
}
