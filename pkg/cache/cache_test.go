package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/logflow/commtrace/internal/model"
	"github.com/logflow/commtrace/pkg/correlate"
)

func sampleResult() *correlate.Result {
	return &correlate.Result{
		Communications: []model.Communication{
			{Origin: "R1", Destination: "R2", OriginActivity: "Send", DestinationActivity: "Recv", StartTime: 10, EndTime: 10.5},
		},
		Stats: correlate.Stats{
			Lines:          12,
			Communications: 1,
			Outcomes:       map[string]int{"emitted": 1, "malformed": 2},
			MalformedLines: roaring.BitmapOf(3, 9),
		},
	}
}

func TestFileBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "cache"), 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Get(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty cache err = %v, want ErrNotFound", err)
	}

	entry, err := NewEntry("abc", "run-1", "gt.trace", sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := b.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RunID != "run-1" || got.Trace != "gt.trace" {
		t.Errorf("entry = %+v", got)
	}

	res, err := got.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(res.Communications) != 1 || res.Communications[0] != sampleResult().Communications[0] {
		t.Errorf("communications = %+v", res.Communications)
	}
	if res.Stats.Count(correlate.OutcomeMalformed) != 2 {
		t.Errorf("malformed outcome = %d, want 2", res.Stats.Count(correlate.OutcomeMalformed))
	}
	lines := res.Stats.Malformed()
	if len(lines) != 2 || lines[0] != 3 || lines[1] != 9 {
		t.Errorf("malformed lines = %v, want [3 9]", lines)
	}
}

func TestFileBackend_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	b, _ := NewFileBackend(dir, 0)
	entry, _ := NewEntry("d1", "run", "t", sampleResult())
	if err := b.Put(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	names, _ := os.ReadDir(dir)
	for _, n := range names {
		if strings.HasSuffix(n.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", n.Name())
		}
	}
}

func TestFileBackend_TTL(t *testing.T) {
	ctx := context.Background()
	b, _ := NewFileBackend(t.TempDir(), time.Hour)

	entry, _ := NewEntry("old", "run", "t", sampleResult())
	if err := b.Put(ctx, entry); err != nil {
		t.Fatal(err)
	}

	b.now = func() time.Time { return entry.CreatedAt.Add(30 * time.Minute) }
	if _, err := b.Get(ctx, "old"); err != nil {
		t.Fatalf("fresh entry: %v", err)
	}

	b.now = func() time.Time { return entry.CreatedAt.Add(2 * time.Hour) }
	if _, err := b.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry err = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(b.path("old")); !os.IsNotExist(err) {
		t.Error("expired entry should be removed")
	}
}

func TestFileBackend_Corrupt(t *testing.T) {
	b, _ := NewFileBackend(t.TempDir(), 0)
	os.WriteFile(b.path("bad"), []byte("{not json"), 0644)

	_, err := b.Get(context.Background(), "bad")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want decode error", err)
	}
}

func TestEntry_EmptyMalformed(t *testing.T) {
	res := sampleResult()
	res.Stats.MalformedLines = roaring.New()

	e, err := NewEntry("d", "r", "t", res)
	if err != nil {
		t.Fatal(err)
	}
	if e.Malformed != nil {
		t.Errorf("Malformed = %v, want nil for empty bitmap", e.Malformed)
	}
	back, err := e.Result()
	if err != nil {
		t.Fatal(err)
	}
	if back.Stats.MalformedLines == nil || !back.Stats.MalformedLines.IsEmpty() {
		t.Error("restored bitmap should be empty and non-nil")
	}
}

func TestDigest(t *testing.T) {
	a, err := Digest(strings.NewReader("15 1.0 0 0 0 R1 K1\n"))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Digest(strings.NewReader("15 1.0 0 0 0 R1 K1\n"))
	c, _ := Digest(strings.NewReader("15 2.0 0 0 0 R1 K1\n"))

	if a != b {
		t.Error("same content should give same digest")
	}
	if a == c {
		t.Error("different content should give different digests")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64", len(a))
	}
}

func TestDigestObject(t *testing.T) {
	a := DigestObject("s3://b/gt.trace", `"etag1"`)
	if a != DigestObject("s3://b/gt.trace", `"etag1"`) {
		t.Error("digest should be stable")
	}
	if a == DigestObject("s3://b/gt.trace", `"etag2"`) {
		t.Error("etag change should change digest")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Options{})
	if err != nil || b.Name() != "none" {
		t.Errorf("Open(none) = %v, %v", b, err)
	}
	if _, err := b.Get(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Nop.Get err = %v", err)
	}

	fb, err := Open(ctx, Options{Backend: "file", Dir: t.TempDir()})
	if err != nil || fb.Name() != "file" {
		t.Errorf("Open(file) = %v, %v", fb, err)
	}

	if _, err := Open(ctx, Options{Backend: "memcached"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
