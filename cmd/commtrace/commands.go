package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/commtrace/pkg/cache"
	"github.com/logflow/commtrace/pkg/config"
	"github.com/logflow/commtrace/pkg/correlate"
	cterrors "github.com/logflow/commtrace/pkg/errors"
	"github.com/logflow/commtrace/pkg/parser"
	"github.com/logflow/commtrace/pkg/pipeline"
	"github.com/logflow/commtrace/pkg/sinks"
	"github.com/logflow/commtrace/pkg/storage/s3"
	"github.com/logflow/commtrace/pkg/telemetry"
	"github.com/logflow/commtrace/pkg/tui"
	"github.com/logflow/commtrace/pkg/watch"
)

// newRunner wires the runner from configuration. locations are every
// input and output of the command; an S3 client is only built when one
// of them needs it. The returned cleanup flushes telemetry and closes
// the cache.
func newRunner(ctx context.Context, c *config.Config, locations []string) (*pipeline.Runner, func(), error) {
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		Endpoint:       c.Telemetry.Endpoint,
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Insecure:       c.Telemetry.Insecure,
		SamplingRatio:  c.Telemetry.SamplingRatio,
	})
	if err != nil {
		return nil, nil, cterrors.Wrap(err, cterrors.CodeConfig, "telemetry setup failed")
	}

	backend, err := cache.Open(ctx, cacheOptions(c))
	if err != nil {
		shutdown(context.Background())
		return nil, nil, cterrors.Wrap(err, cterrors.CodeConfig, "cache setup failed").
			WithContext("backend", c.Cache.Backend)
	}

	cleanup := func() {
		if err := backend.Close(); err != nil {
			slog.Warn("cache close failed", "error", err)
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}

	rcfg := pipeline.Config{
		Parser: parser.Config{BufferSize: c.Parser.BufferSize},
		Sinks: sinks.Options{
			WithDuration: c.Output.WithDuration,
			Compression:  c.Output.Compression,
		},
		Cache:    backend,
		Progress: !noProgress,
		Logger:   slog.Default(),
	}

	if needsS3(locations) {
		client, err := s3.NewClient(ctx, s3Config(c))
		if err != nil {
			cleanup()
			return nil, nil, cterrors.Wrap(err, cterrors.CodeConfig, "s3 client setup failed")
		}
		rcfg.Store = client
	}

	return pipeline.New(rcfg), cleanup, nil
}

func cacheOptions(c *config.Config) cache.Options {
	redisCfg := cache.DefaultRedisConfig(c.Cache.Redis.Address)
	redisCfg.Password = c.Cache.Redis.Password
	redisCfg.Database = c.Cache.Redis.Database
	if c.Cache.Redis.Prefix != "" {
		redisCfg.Prefix = c.Cache.Redis.Prefix
	}
	redisCfg.TTL = c.Cache.TTL

	return cache.Options{
		Backend: c.Cache.Backend,
		Dir:     c.Cache.Dir,
		TTL:     c.Cache.TTL,
		Redis:   redisCfg,
	}
}

func s3Config(c *config.Config) s3.Config {
	sc := s3.DefaultConfig(c.S3.Region)
	sc.Endpoint = c.S3.Endpoint
	sc.UsePathStyle = c.S3.UsePathStyle
	sc.AccessKeyID = c.S3.AccessKeyID
	sc.SecretAccessKey = c.S3.SecretAccessKey
	return sc
}

func needsS3(locations []string) bool {
	for _, l := range locations {
		if s3.IsURI(l) {
			return true
		}
	}
	return false
}

// resolveInput picks the trace from --input or the positional argument.
func resolveInput(args []string) (string, error) {
	switch {
	case inputFile != "" && len(args) > 0 && args[0] != inputFile:
		return "", cterrors.New(cterrors.CodeConfig, "trace given both as argument and --input")
	case inputFile != "":
		return inputFile, nil
	case len(args) > 0:
		return args[0], nil
	default:
		return "", cterrors.New(cterrors.CodeConfig, "no trace given (pass it as an argument or with --input)")
	}
}

func printReport(w io.Writer, rep *pipeline.Report) {
	tui.PrintSummary(w, tui.Summary{
		Trace:          rep.Trace,
		Outputs:        rep.Outputs,
		Communications: len(rep.Result.Communications),
		Stats:          rep.Result.Stats,
		Duration:       rep.Duration,
		Cached:         rep.Cached,
	})
	if cfg.Output.PreviewRows > 0 {
		tui.PrintPreview(w, rep.Result.Communications, cfg.Output.PreviewRows, cfg.Output.WithDuration)
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	input, err := resolveInput(args)
	if err != nil {
		return err
	}
	outputs := outputFiles
	if len(outputs) == 0 {
		outputs = []string{pipeline.DefaultOutput}
	}

	runner, cleanup, err := newRunner(ctx, cfg, append([]string{input}, outputs...))
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := runner.Run(ctx, pipeline.Job{Input: input, Outputs: outputs})
	if err != nil {
		return err
	}

	slog.Debug("extraction finished", "summary", rep.String())
	printReport(cmd.OutOrStdout(), rep)
	return nil
}

func newBatch(inputs []string) pipeline.Batch {
	return pipeline.Batch{
		Inputs:  inputs,
		Dir:     cfg.Output.Dir,
		Suffix:  cfg.Output.Suffix,
		Formats: cfg.Output.Formats,
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b := newBatch(args)

	runner, cleanup, err := newRunner(ctx, cfg, append([]string{b.Dir}, args...))
	if err != nil {
		return err
	}
	defer cleanup()

	w := cmd.OutOrStdout()
	reports, err := runner.RunBatch(ctx, b, func(rep *pipeline.Report) {
		printReport(w, rep)
	})

	fmt.Fprintf(w, "\n%d of %d traces extracted\n", len(reports), len(args))
	return err
}

// inspectReport is the JSON form of inspect output.
type inspectReport struct {
	Trace          string          `json:"trace"`
	RunID          string          `json:"run_id"`
	Digest         string          `json:"digest,omitempty"`
	Cached         bool            `json:"cached"`
	Stats          correlate.Stats `json:"stats"`
	MalformedLines []uint32        `json:"malformed_lines"`
	Elapsed        time.Duration   `json:"elapsed_ns"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	input := args[0]

	runner, cleanup, err := newRunner(ctx, cfg, args)
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := runner.Extract(ctx, input)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if !jsonOutput {
		tui.PrintStats(w, input, rep.Result.Stats)
		return nil
	}

	lines := rep.Result.Stats.Malformed()
	if lines == nil {
		lines = []uint32{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(inspectReport{
		Trace:          input,
		RunID:          rep.RunID,
		Digest:         rep.Digest,
		Cached:         rep.Cached,
		Stats:          rep.Result.Stats,
		MalformedLines: lines,
		Elapsed:        rep.Duration,
	})
}

// watchOutputs returns the output locations for a watched trace:
// explicit --output paths for a single trace, batch naming otherwise.
func watchOutputs(traces []string) (func(string) ([]string, error), error) {
	if len(outputFiles) > 0 {
		if len(traces) != 1 {
			return nil, cterrors.New(cterrors.CodeConfig, "--output needs exactly one watched trace")
		}
		return func(string) ([]string, error) { return outputFiles, nil }, nil
	}
	return newBatch(traces).Outputs, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	outputsFor, err := watchOutputs(args)
	if err != nil {
		return err
	}
	locations := append([]string{cfg.Output.Dir}, outputFiles...)
	for _, a := range args {
		if s3.IsURI(a) {
			return cterrors.New(cterrors.CodeConfig, "only local traces can be watched").WithContext("trace", a)
		}
	}

	runner, cleanup, err := newRunner(ctx, cfg, locations)
	if err != nil {
		return err
	}
	defer cleanup()

	w := cmd.OutOrStdout()
	extract := func(ctx context.Context, path string) error {
		outputs, err := outputsFor(path)
		if err != nil {
			return err
		}
		rep, err := runner.Run(ctx, pipeline.Job{Input: path, Outputs: outputs})
		if err != nil {
			return err
		}
		printReport(w, rep)
		return nil
	}

	watcher, err := watch.NewWatcher(debounce)
	if err != nil {
		return err
	}
	defer watcher.Close()

	watcher.OnChange = extract
	watcher.OnError = func(path string, err error) {
		slog.Error("watch", "trace", path, "error", err)
	}

	for _, trace := range args {
		if err := extract(ctx, trace); err != nil {
			slog.Error("initial extraction failed", "trace", trace, "error", err)
		}
		if err := watcher.Watch(trace); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\nWatching %d trace(s), Ctrl+C to stop\n", len(watcher.Paths()))
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// projectConfig is the config file read from the working directory.
const projectConfig = ".commtrace.yaml"

func runConfigSave(cmd *cobra.Command, args []string) error {
	path := projectConfig
	if len(args) > 0 {
		path = args[0]
	}
	if err := cfgManager.Save(path); err != nil {
		return cterrors.WriteFailed(path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved to: %s\n", path)
	return nil
}
