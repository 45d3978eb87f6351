package pipeline

import (
	"context"
	"strings"

	cterrors "github.com/logflow/commtrace/pkg/errors"
	"github.com/logflow/commtrace/pkg/sinks"
	"github.com/logflow/commtrace/pkg/storage/s3"
	"github.com/logflow/commtrace/pkg/util"
)

// DefaultSuffix is appended to the trace base name in batch outputs.
const DefaultSuffix = "_completo"

// Batch describes many traces written side by side.
type Batch struct {
	Inputs []string

	// Dir is a local directory or an s3://bucket/prefix.
	Dir string

	Suffix  string
	Formats []string
}

// Outputs returns the output locations for one trace.
func (b Batch) Outputs(input string) ([]string, error) {
	suffix := b.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	formats := b.Formats
	if len(formats) == 0 {
		formats = []string{"csv"}
	}
	dir := b.Dir
	if dir == "" {
		dir = "."
	}

	out := make([]string, 0, len(formats))
	for _, f := range formats {
		ext, err := sinks.FormatExt(f)
		if err != nil {
			return nil, err
		}
		if s3.IsURI(dir) {
			out = append(out, strings.TrimSuffix(dir, "/")+"/"+util.BaseName(input)+suffix+ext)
		} else {
			out = append(out, sinks.OutputPath(dir, input, suffix, ext))
		}
	}
	return out, nil
}

// RunBatch processes traces one after another. Each trace gets its own
// independent state. A failing trace is reported and the rest still run;
// cancellation stops the batch. done, if set, is called after each
// successful trace.
func (r *Runner) RunBatch(ctx context.Context, b Batch, done func(*Report)) ([]*Report, error) {
	var (
		reports []*Report
		errs    cterrors.MultiError
	)

	for _, input := range b.Inputs {
		if err := ctx.Err(); err != nil {
			errs.Add(cterrors.Canceled("batch", err))
			break
		}

		outputs, err := b.Outputs(input)
		if err != nil {
			return nil, err
		}

		rep, err := r.Run(ctx, Job{Input: input, Outputs: outputs})
		if err != nil {
			r.log.Error("trace failed", "trace", input, "error", err)
			errs.Add(err)
			continue
		}
		reports = append(reports, rep)
		if done != nil {
			done(rep)
		}
	}

	return reports, errs.ErrorOrNil()
}
