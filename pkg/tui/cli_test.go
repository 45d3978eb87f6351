package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/logflow/commtrace/internal/model"
	"github.com/logflow/commtrace/pkg/correlate"
	cterrors "github.com/logflow/commtrace/pkg/errors"
)

func rows(n int) []model.Communication {
	out := make([]model.Communication, n)
	for i := range out {
		out[i] = model.Communication{
			Origin:              "R1",
			Destination:         "R2",
			OriginActivity:      "Send",
			DestinationActivity: "Recv",
			StartTime:           float64(i),
			EndTime:             float64(i) + 0.5,
		}
	}
	return out
}

func TestPrintPreview_Limit(t *testing.T) {
	var buf bytes.Buffer
	PrintPreview(&buf, rows(20), 15, false)
	out := buf.String()

	if !strings.Contains(out, "First 15 communications") {
		t.Errorf("missing preview title:\n%s", out)
	}
	if !strings.Contains(out, "Rank Origem") || !strings.Contains(out, "Tempo Final") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "14.5") {
		t.Errorf("row 15 missing:\n%s", out)
	}
	if strings.Contains(out, "15.5") {
		t.Errorf("row 16 should not be shown:\n%s", out)
	}
}

func TestPrintPreview_FewerRowsThanLimit(t *testing.T) {
	var buf bytes.Buffer
	PrintPreview(&buf, rows(2), 15, true)
	out := buf.String()

	if !strings.Contains(out, "First 2 communications") {
		t.Errorf("title:\n%s", out)
	}
	if !strings.Contains(out, "Duracao") {
		t.Errorf("duration header missing:\n%s", out)
	}
}

func TestPrintPreview_Empty(t *testing.T) {
	var buf bytes.Buffer
	PrintPreview(&buf, nil, 15, false)
	if !strings.Contains(buf.String(), NoCommunications) {
		t.Errorf("output = %q, want %q", buf.String(), NoCommunications)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, Summary{
		Trace:          "gt.trace",
		Outputs:        []string{"communication_analysis_completo.csv"},
		Communications: 3,
		Stats: correlate.Stats{
			Lines:        40,
			Outcomes:     map[string]int{"unmatched_end": 2},
			PendingAtEOF: 1,
		},
		Duration: 1500 * time.Millisecond,
	})
	out := buf.String()

	for _, want := range []string{"EXTRACTION COMPLETE", "gt.trace", "3", "Unmatched ends:", "Pending at EOF:", "communication_analysis_completo.csv", "1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Malformed") {
		t.Errorf("no malformed lines expected:\n%s", out)
	}
}

func TestPrintSummary_Empty(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, Summary{Trace: "x.trace", Cached: true})
	out := buf.String()
	if !strings.Contains(out, strings.ToUpper(NoCommunications)) {
		t.Errorf("missing empty message:\n%s", out)
	}
	if !strings.Contains(out, "cached result") {
		t.Errorf("missing cached marker:\n%s", out)
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	PrintStats(&buf, "gt.trace", correlate.Stats{
		Lines:          10,
		Records:        map[string]int{"start_link": 2, "end_link": 2},
		Outcomes:       map[string]int{"emitted": 2},
		Communications: 2,
		MalformedLines: roaring.BitmapOf(4, 8),
	})
	out := buf.String()

	if strings.Index(out, "end_link") > strings.Index(out, "start_link") {
		t.Errorf("counts should be sorted:\n%s", out)
	}
	if !strings.Contains(out, "4, 8") {
		t.Errorf("malformed lines missing:\n%s", out)
	}
}

func TestFormatLines(t *testing.T) {
	if got := formatLines([]uint32{1, 2, 3}, 2); got != "1, 2 … (+1 more)" {
		t.Errorf("formatLines = %q", got)
	}
	if got := formatLines([]uint32{7}, 20); got != "7" {
		t.Errorf("formatLines = %q", got)
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{formatBytes(512), "512 B"},
		{formatBytes(2048), "2.0 KB"},
		{formatBytes(5 * 1024 * 1024), "5.0 MB"},
		{formatNumber(999), "999"},
		{formatNumber(1500), "1.5K"},
		{formatNumber(2500000), "2.5M"},
		{formatDuration(250 * time.Millisecond), "250ms"},
		{formatDuration(90 * time.Second), "1m30s"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPrintError(t *testing.T) {
	err := cterrors.New(cterrors.CodeConfig, "no trace given")

	var buf bytes.Buffer
	PrintError(&buf, err, false)
	if !strings.Contains(buf.String(), "[E402] no trace given") {
		t.Errorf("output = %q", buf.String())
	}
	if strings.Contains(buf.String(), "cli_test.go") {
		t.Error("stack should only be printed when verbose")
	}

	buf.Reset()
	PrintError(&buf, err, true)
	if !strings.Contains(buf.String(), "TestPrintError") || !strings.Contains(buf.String(), "cli_test.go:") {
		t.Errorf("verbose output should include the stack:\n%s", buf.String())
	}
}
