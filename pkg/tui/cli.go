// Package tui prints run summaries, table previews and progress.
// Simple, streaming output: no full-screen UI.
package tui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/commtrace/internal/model"
	"github.com/logflow/commtrace/pkg/correlate"
	cterrors "github.com/logflow/commtrace/pkg/errors"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// NoCommunications is printed when a trace yields an empty table.
const NoCommunications = "no complete communication found"

// Summary describes one finished extraction.
type Summary struct {
	Trace          string
	Outputs        []string
	Communications int
	Stats          correlate.Stats
	Duration       time.Duration
	Cached         bool
}

// PrintSummary prints the result of one run.
func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w)
	if s.Communications == 0 {
		fmt.Fprintln(w, accentStyle.Render("  ✗ "+strings.ToUpper(NoCommunications)))
	} else {
		fmt.Fprintln(w, successStyle.Render("  ✓ EXTRACTION COMPLETE"))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Trace:"), titleStyle.Render(s.Trace))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Communications:"), titleStyle.Render(fmt.Sprintf("%d", s.Communications)))

	if n := s.Stats.Count(correlate.OutcomeUnmatchedEnd); n > 0 {
		fmt.Fprintf(w, "  %s %d\n", mutedStyle.Render("Unmatched ends:"), n)
	}
	if n := s.Stats.Count(correlate.OutcomeOverwritten); n > 0 {
		fmt.Fprintf(w, "  %s %d\n", mutedStyle.Render("Overwritten starts:"), n)
	}
	if s.Stats.PendingAtEOF > 0 {
		fmt.Fprintf(w, "  %s %d\n", mutedStyle.Render("Pending at EOF:"), s.Stats.PendingAtEOF)
	}
	if n := s.Stats.Count(correlate.OutcomeMalformed); n > 0 {
		fmt.Fprintf(w, "  %s %d\n", accentStyle.Render("Malformed lines:"), n)
	}

	for _, out := range s.Outputs {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Saved to:"), out)
	}

	if s.Cached {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Time:"), mutedStyle.Render("cached result"))
	} else if s.Duration > 0 {
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(s.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s lines, %s)", formatNumber(int64(s.Stats.Lines)), formatBytes(s.Stats.BytesRead))))
	}
	fmt.Fprintln(w)
}

// PrintPreview prints the first n rows as a table. An empty table prints
// the NoCommunications message instead.
func PrintPreview(w io.Writer, rows []model.Communication, n int, withDuration bool) {
	if len(rows) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  "+NoCommunications+"."))
		return
	}
	if n <= 0 || n > len(rows) {
		n = len(rows)
	}

	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  First %d communications:", n)))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(model.Columns(withDuration)...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range rows[:n] {
		t.Row(r.Strings(withDuration)...)
	}
	fmt.Fprintln(w, t.Render())
}

// PrintStats prints the per-kind and per-outcome counters of a run.
func PrintStats(w io.Writer, trace string, st correlate.Stats) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", titleStyle.Render("TRACE"), trace)
	fmt.Fprintf(w, "  %s %s lines, %s\n", mutedStyle.Render("Read:"), formatNumber(int64(st.Lines)), formatBytes(st.BytesRead))
	fmt.Fprintf(w, "  %s %d entities, %d state definitions\n", mutedStyle.Render("States:"), st.Entities, st.StateDefinitions)

	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("  ▸ RECORDS"))
	printCounts(w, st.Records)

	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("  ▸ OUTCOMES"))
	printCounts(w, st.Outcomes)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %d\n", mutedStyle.Render("communications:"), st.Communications)
	fmt.Fprintf(w, "  %s %d\n", mutedStyle.Render("pending at EOF:"), st.PendingAtEOF)

	if lines := st.Malformed(); len(lines) > 0 {
		fmt.Fprintf(w, "  %s %s\n", accentStyle.Render("malformed lines:"), formatLines(lines, 20))
	}
	fmt.Fprintln(w)
}

func printCounts(w io.Writer, counts map[string]int) {
	if len(counts) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("    none"))
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "    %-16s %d\n", k, counts[k])
	}
}

// formatLines lists up to max line numbers, then an elided count.
func formatLines(lines []uint32, max int) string {
	var sb strings.Builder
	for i, l := range lines {
		if i == max {
			fmt.Fprintf(&sb, " … (+%d more)", len(lines)-max)
			break
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", l)
	}
	return sb.String()
}

// PrintError prints a failure line. With verbose set, coded errors also
// print where they were raised.
func PrintError(w io.Writer, err error, verbose bool) {
	fmt.Fprintln(w, accentStyle.Render("  ✗ ")+err.Error())

	var ctErr *cterrors.Error
	if verbose && errors.As(err, &ctErr) {
		fmt.Fprint(w, mutedStyle.Render(ctErr.FormatStack()))
		fmt.Fprintln(w)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// ShowProgress creates a byte progress bar on stderr. A negative total
// draws a spinner for inputs of unknown size.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// ProgressReader wraps r so reads advance a progress bar on stderr. The
// returned finish func clears the bar.
func ProgressReader(r io.Reader, total int64, description string) (io.Reader, func()) {
	bar := ShowProgress(total, description)
	pr := progressbar.NewReader(r, bar)
	return &pr, func() { bar.Finish() }
}
