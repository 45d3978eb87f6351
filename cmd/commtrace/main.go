// commtrace - Communication extractor for SimGrid/SMPI Paje traces.
// Correlates start/end link records into a table of point-to-point
// messages with the activity of each endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/commtrace/pkg/config"
	"github.com/logflow/commtrace/pkg/pipeline"
	"github.com/logflow/commtrace/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	verbose    bool
	configFile string

	inputFile    string
	outputFiles  []string
	withDuration bool
	compression  string
	cacheBackend string
	bufferSize   int
	previewRows  int
	noProgress   bool

	// Batch flags
	outputDir string
	suffix    string
	formats   []string

	// Inspect flags
	jsonOutput bool

	// Watch flags
	debounce time.Duration
)

// cfg is the loaded configuration, available after PersistentPreRunE.
var (
	cfgManager *config.Manager
	cfg        *config.Config
)

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		tui.PrintError(os.Stderr, err, verbose)
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT/SIGTERM so partial outputs are cleaned
// up before exit.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

var rootCmd = &cobra.Command{
	Use:   "commtrace",
	Short: "commtrace - Extract point-to-point communications from Paje traces",
	Long: `commtrace reads SimGrid/SMPI Paje traces and reconstructs every
point-to-point communication: origin and destination rank, the activity
each endpoint was in, and the start and end times.

Inputs may be plain, .gz, .bz2 or .zst files, "-" for stdin, or s3:// URIs.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var extractCmd = &cobra.Command{
	Use:   "extract [trace]",
	Short: "Extract the communication table from one trace",
	Long: `Extract the communication table from one trace and write it to every
output. The format follows the output extension: .csv (optionally .csv.gz
or .csv.zst), .parquet, .xlsx, .duckdb, .db/.sqlite.

Examples:
  commtrace extract gt.trace
  commtrace extract -i gt.trace.gz -o gt.csv -o gt.parquet
  commtrace extract s3://traces/gt.trace -o s3://results/gt_completo.csv
  cat gt.trace | commtrace extract - -o gt.csv`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

var batchCmd = &cobra.Command{
	Use:   "batch trace...",
	Short: "Extract many traces, one output set per trace",
	Long: `Extract many traces one after another. Each trace is written to
<output-dir>/<name><suffix>.<format> for every requested format.

Examples:
  commtrace batch runs/*.trace --output-dir results
  commtrace batch runs/*.trace.gz --format csv --format sqlite`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect trace",
	Short: "Print record and outcome counts for a trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var watchCmd = &cobra.Command{
	Use:   "watch trace...",
	Short: "Re-extract traces whenever they change",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration (files, env and flags merged)",
	Long: `Write the effective configuration as YAML. Without a path it goes to
./.commtrace.yaml, the project config read on every run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigSave,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "commtrace %s (%s)\n", version, commit)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (overrides discovered files)")
	rootCmd.PersistentFlags().StringVar(&cacheBackend, "cache", "", "Result cache backend (none, file, redis)")
	rootCmd.PersistentFlags().IntVar(&bufferSize, "buffer-size", 0, "Read buffer size in bytes")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")

	// Output flags shared by extract, batch and watch
	for _, c := range []*cobra.Command{extractCmd, batchCmd, watchCmd} {
		c.Flags().BoolVar(&withDuration, "with-duration", false, "Append the Duracao column (end - start)")
		c.Flags().StringVar(&compression, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4)")
		c.Flags().IntVar(&previewRows, "preview", -1, "Rows to preview after extraction (0 disables)")
	}

	// Extract command flags
	extractCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input trace (or pass it as an argument)")
	extractCmd.Flags().StringArrayVarP(&outputFiles, "output", "o", nil, "Output path, repeatable (default "+pipeline.DefaultOutput+")")

	// Batch and watch flags
	for _, c := range []*cobra.Command{batchCmd, watchCmd} {
		c.Flags().StringVar(&outputDir, "output-dir", "", "Output directory or s3://bucket/prefix")
		c.Flags().StringVar(&suffix, "suffix", "", "Suffix appended to each trace name")
		c.Flags().StringArrayVarP(&formats, "format", "f", nil, "Output format, repeatable (csv, parquet, xlsx, duckdb, sqlite)")
	}

	// Inspect flags
	inspectCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print stats as JSON")

	// Watch flags
	watchCmd.Flags().StringArrayVarP(&outputFiles, "output", "o", nil, "Output path for a single watched trace")
	watchCmd.Flags().DurationVar(&debounce, "debounce", 0, "Quiet period before re-extracting")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(watchCmd)
	configCmd.AddCommand(configSaveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup configures logging and loads the layered configuration.
func setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	m := config.NewManager()
	if err := m.Load(configFile); err != nil {
		return err
	}
	cfgManager = m
	cfg = m.Get()
	applyFlags(cmd, cfg)

	slog.Debug("configuration loaded", "paths", m.GetPaths(), "cache", cfg.Cache.Backend, "formats", cfg.Output.Formats)
	return nil
}

// applyFlags overrides config values with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("cache") {
		c.Cache.Backend = cacheBackend
	}
	if changed("buffer-size") {
		c.Parser.BufferSize = bufferSize
	}
	if changed("with-duration") {
		c.Output.WithDuration = withDuration
	}
	if changed("compression") {
		c.Output.Compression = compression
	}
	if changed("preview") {
		c.Output.PreviewRows = previewRows
	}
	if changed("output-dir") {
		c.Output.Dir = outputDir
	}
	if changed("suffix") {
		c.Output.Suffix = suffix
	}
	if changed("format") {
		c.Output.Formats = formats
	}
}
