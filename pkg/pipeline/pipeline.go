// Package pipeline runs one extraction end to end: open the trace,
// consult the result cache, correlate, and fan the finished table out to
// every requested sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/commtrace/pkg/cache"
	"github.com/logflow/commtrace/pkg/correlate"
	cterrors "github.com/logflow/commtrace/pkg/errors"
	"github.com/logflow/commtrace/pkg/parser"
	"github.com/logflow/commtrace/pkg/sinks"
	"github.com/logflow/commtrace/pkg/storage/s3"
	"github.com/logflow/commtrace/pkg/telemetry"
	"github.com/logflow/commtrace/pkg/tui"
	"github.com/logflow/commtrace/pkg/util"
)

// DefaultOutput is written when a job names no output.
const DefaultOutput = "communication_analysis_completo.csv"

// ObjectStore is the subset of the S3 client the pipeline uses.
type ObjectStore interface {
	Open(ctx context.Context, u s3.URI) (io.ReadCloser, int64, error)
	Stat(ctx context.Context, u s3.URI) (int64, string, error)
	Upload(ctx context.Context, u s3.URI, body io.ReadSeeker, metadata map[string]string) error
}

// Config holds runner dependencies.
type Config struct {
	Parser parser.Config
	Sinks  sinks.Options

	// Cache defaults to cache.Nop.
	Cache cache.Backend

	// Store serves s3:// inputs and outputs. Nil rejects them.
	Store ObjectStore

	// Progress draws a byte progress bar on stderr while reading.
	Progress bool

	Logger *slog.Logger
}

// Job is one trace and its outputs.
type Job struct {
	Input   string
	Outputs []string
}

// Report describes a finished job.
type Report struct {
	RunID    string
	Trace    string
	Digest   string
	Outputs  []string
	Result   *correlate.Result
	Cached   bool
	Duration time.Duration
}

// Runner executes jobs. It is safe for sequential reuse.
type Runner struct {
	cfg Config
	log *slog.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.Cache == nil {
		cfg.Cache = cache.Nop{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cfg: cfg, log: log}
}

// Run extracts job.Input and writes every output. With no outputs the
// table goes to DefaultOutput.
func (r *Runner) Run(ctx context.Context, job Job) (*Report, error) {
	outputs := job.Outputs
	if len(outputs) == 0 {
		outputs = []string{DefaultOutput}
	}

	// Validate outputs before reading anything.
	targets := make([]target, 0, len(outputs))
	for _, out := range outputs {
		t, err := r.target(out)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}

	rep, err := r.Extract(ctx, job.Input)
	if err != nil {
		return nil, err
	}

	if err := r.write(ctx, rep, targets); err != nil {
		return nil, err
	}
	rep.Outputs = outputs
	return rep, nil
}

// Extract reads and correlates one trace, consulting the cache, without
// writing outputs.
func (r *Runner) Extract(ctx context.Context, input string) (rep *Report, err error) {
	start := time.Now()
	rep = &Report{RunID: uuid.NewString(), Trace: input}

	ctx, span := telemetry.Start(ctx, "extract",
		attribute.String("commtrace.trace", input),
		attribute.String("commtrace.run_id", rep.RunID),
	)
	defer func() { telemetry.End(span, err) }()

	src, err := r.open(ctx, input)
	if err != nil {
		return nil, err
	}
	defer src.close()

	rep.Digest = src.digest
	if rep.Digest != "" {
		if res, ok := r.lookup(ctx, rep.Digest); ok {
			rep.Result = res
			rep.Cached = true
			rep.Duration = time.Since(start)
			span.SetAttributes(attribute.Bool("commtrace.cached", true))
			r.log.Debug("cache hit", "trace", input, "digest", rep.Digest, "backend", r.cfg.Cache.Name())
			return rep, nil
		}
	}

	reader, err := src.reader(ctx, r.cfg.Progress)
	if err != nil {
		return nil, cterrors.OpenFailed(input, err)
	}

	res, err := correlate.Extract(ctx, reader,
		correlate.WithParserConfig(r.cfg.Parser),
		correlate.WithObserver(r.observe(input)),
	)
	if err != nil {
		var ctErr *cterrors.Error
		if errors.As(err, &ctErr) {
			ctErr.WithContext("path", input)
		}
		return nil, err
	}

	rep.Result = res
	rep.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("commtrace.lines", res.Stats.Lines),
		attribute.Int("commtrace.communications", res.Stats.Communications),
	)

	if rep.Digest != "" {
		r.store(ctx, rep)
	}
	return rep, nil
}

func (r *Runner) observe(input string) correlate.Observer {
	if !r.log.Enabled(context.Background(), slog.LevelDebug) {
		return nil
	}
	return func(rec parser.Record, o correlate.Outcome) {
		switch o {
		case correlate.OutcomeMalformed:
			r.log.Debug("skipped malformed line", "trace", input, "error", parser.AsError(rec))
		case correlate.OutcomeUnmatchedEnd:
			r.log.Debug("end without start", "trace", input, "line", rec.Line, "key", rec.Key)
		case correlate.OutcomeOverwritten:
			r.log.Debug("start overwrote pending link", "trace", input, "line", rec.Line, "key", rec.Key)
		}
	}
}

func (r *Runner) lookup(ctx context.Context, digest string) (*correlate.Result, bool) {
	entry, err := r.cfg.Cache.Get(ctx, digest)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			r.log.Warn("cache read failed", "error", cterrors.Wrap(err, cterrors.CodeCacheFailed, "cache get"))
		}
		return nil, false
	}
	res, err := entry.Result()
	if err != nil {
		r.log.Warn("cache entry unreadable", "digest", digest, "error", err)
		return nil, false
	}
	return res, true
}

func (r *Runner) store(ctx context.Context, rep *Report) {
	entry, err := cache.NewEntry(rep.Digest, rep.RunID, rep.Trace, rep.Result)
	if err == nil {
		err = r.cfg.Cache.Put(ctx, entry)
	}
	if err != nil {
		r.log.Warn("cache write failed", "error", cterrors.Wrap(err, cterrors.CodeCacheFailed, "cache put"))
	}
}

// source is an opened trace. Remote bodies are fetched on first read so
// a cache hit costs only a HEAD request.
type source struct {
	name   string
	raw    io.Reader
	fetch  func(context.Context) (io.ReadCloser, int64, error)
	comp   util.Compression
	size   int64
	digest string

	closers []func()
}

// reader returns the decompressed trace. With progress set, the bar
// tracks raw bytes so it matches the stored size.
func (s *source) reader(ctx context.Context, progress bool) (io.Reader, error) {
	if s.fetch != nil {
		body, size, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.raw = body
		s.size = size
		s.closers = append(s.closers, func() { body.Close() })
	}

	raw := s.raw
	if progress {
		var finish func()
		raw, finish = tui.ProgressReader(raw, s.size, s.name)
		s.closers = append(s.closers, finish)
	}

	r, cleanup, err := util.Decompress(raw, s.comp)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, cleanup)
	return r, nil
}

// close releases resources in reverse order of acquisition.
func (s *source) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (r *Runner) open(ctx context.Context, input string) (*source, error) {
	caching := r.cfg.Cache.Name() != "none"

	if s3.IsURI(input) {
		return r.openObject(ctx, input, caching)
	}

	if input == "-" {
		return &source{name: "stdin", raw: os.Stdin, size: -1}, nil
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, cterrors.OpenFailed(input, err)
	}
	src := &source{
		name:    filepath.Base(input),
		raw:     f,
		comp:    util.DetectCompression(input),
		size:    -1,
		closers: []func(){func() { f.Close() }},
	}
	if st, err := f.Stat(); err == nil {
		src.size = st.Size()
	}

	if caching {
		digest, err := cache.Digest(f)
		if err == nil {
			_, err = f.Seek(0, io.SeekStart)
		}
		if err != nil {
			src.close()
			return nil, cterrors.ReadFailed(err).WithContext("path", input)
		}
		src.digest = digest
	}
	return src, nil
}

func (r *Runner) openObject(ctx context.Context, input string, caching bool) (*source, error) {
	if r.cfg.Store == nil {
		return nil, cterrors.New(cterrors.CodeConfig, "s3 input requires an object store").WithContext("path", input)
	}
	u, err := s3.ParseURI(input)
	if err != nil {
		return nil, cterrors.Wrap(err, cterrors.CodeInvalidFormat, "bad input")
	}

	src := &source{
		name: u.Base(),
		comp: util.DetectCompression(u.Key),
		size: -1,
		fetch: func(ctx context.Context) (io.ReadCloser, int64, error) {
			return r.cfg.Store.Open(ctx, u)
		},
	}

	if caching {
		_, etag, err := r.cfg.Store.Stat(ctx, u)
		if err != nil {
			return nil, cterrors.OpenFailed(input, err)
		}
		src.digest = cache.DigestObject(u.String(), etag)
	}
	return src, nil
}

// target is a validated output: a local sink, or a local staging sink
// uploaded to uri afterwards.
type target struct {
	location string
	uri      *s3.URI
}

func (r *Runner) target(out string) (target, error) {
	if _, err := sinks.Open(out, r.cfg.Sinks); err != nil {
		return target{}, err
	}
	if !s3.IsURI(out) {
		return target{location: out}, nil
	}
	if r.cfg.Store == nil {
		return target{}, cterrors.New(cterrors.CodeConfig, "s3 output requires an object store").WithContext("output", out)
	}
	u, err := s3.ParseURI(out)
	if err != nil {
		return target{}, cterrors.Wrap(err, cterrors.CodeInvalidFormat, "bad output")
	}
	return target{location: out, uri: &u}, nil
}

// write fans the table out to all targets concurrently. The table is
// never modified after extraction, so sinks share it.
func (r *Runner) write(ctx context.Context, rep *Report, targets []target) error {
	table := sinks.Table{
		RunID: rep.RunID,
		Trace: rep.Trace,
		Rows:  rep.Result.Communications,
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			return r.writeOne(ctx, t, table)
		})
	}
	return g.Wait()
}

func (r *Runner) writeOne(ctx context.Context, t target, table sinks.Table) (err error) {
	ctx, span := telemetry.Start(ctx, "write", attribute.String("commtrace.output", t.location))
	defer func() { telemetry.End(span, err) }()

	if t.uri == nil {
		sink, err := sinks.Open(t.location, r.cfg.Sinks)
		if err != nil {
			return err
		}
		if err := sink.Write(ctx, table); err != nil {
			return err
		}
		r.log.Debug("wrote output", "output", t.location, "rows", len(table.Rows))
		return nil
	}

	dir, err := os.MkdirTemp("", "commtrace-*")
	if err != nil {
		return cterrors.WriteFailed(t.location, err)
	}
	defer os.RemoveAll(dir)

	staged := filepath.Join(dir, t.uri.Base())
	sink, err := sinks.Open(staged, r.cfg.Sinks)
	if err != nil {
		return err
	}
	if err := sink.Write(ctx, table); err != nil {
		return err
	}

	f, err := os.Open(staged)
	if err != nil {
		return cterrors.WriteFailed(t.location, err)
	}
	defer f.Close()

	meta := map[string]string{"run-id": table.RunID, "trace": table.Trace}
	if err := r.cfg.Store.Upload(ctx, *t.uri, f, meta); err != nil {
		return cterrors.Wrap(err, cterrors.CodeUploadFailed, "upload failed").WithContext("output", t.location)
	}
	r.log.Debug("uploaded output", "output", t.location, "rows", len(table.Rows))
	return nil
}

// String renders a one-line description for logs.
func (rep *Report) String() string {
	return fmt.Sprintf("%s: %d communications (run %s)", rep.Trace, len(rep.Result.Communications), rep.RunID)
}
