package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_MissingFile(t *testing.T) {
	w, err := NewWatcher(0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch(filepath.Join(t.TempDir(), "missing.trace")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestNewWatcher_DefaultDebounce(t *testing.T) {
	w, err := NewWatcher(-1)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if w.debounce != DefaultDebounce {
		t.Errorf("debounce = %v, want %v", w.debounce, DefaultDebounce)
	}
}

func TestWatch_ReportsChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gt.trace")
	if err := os.WriteFile(path, []byte("12 0 0 R1 S1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(20 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	if got := w.Paths(); len(got) != 1 {
		t.Fatalf("Paths() = %v", got)
	}

	changed := make(chan string, 4)
	w.OnChange = func(ctx context.Context, p string) error {
		changed <- p
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Unrelated file in the same directory is ignored.
	os.WriteFile(filepath.Join(dir, "other.trace"), []byte("x"), 0644)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("15 1.0 0 0 0 R1 K1\n")
	f.Close()

	select {
	case p := <-changed:
		want, _ := filepath.Abs(path)
		if p != want {
			t.Errorf("changed path = %q, want %q", p, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
