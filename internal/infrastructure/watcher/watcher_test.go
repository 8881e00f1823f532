package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func collectStable(t *testing.T, dir string) (*Watcher, func() []string) {
	t.Helper()

	var mu sync.Mutex
	var got []string
	w := New(Config{
		Directory:       dir,
		FilePrefix:      "SCAN-",
		StabilityWindow: 100 * time.Millisecond,
		PollInterval:    20 * time.Millisecond,
	}, func(path string) bool {
		mu.Lock()
		got = append(got, path)
		mu.Unlock()
		return true
	}, nil)

	return w, func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(got))
		copy(out, got)
		return out
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestStartFailsFastOnMissingDirectory(t *testing.T) {
	w := New(Config{Directory: filepath.Join(t.TempDir(), "gone")}, func(string) bool { return true }, nil)
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected startup error for missing directory")
	}
}

func TestStableFileDeliveredOnce(t *testing.T) {
	dir := t.TempDir()
	w, stable := collectStable(t, dir)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "SCAN-input.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 content"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return len(stable()) == 1 }) {
		t.Fatalf("expected 1 delivery, got %d", len(stable()))
	}
	if stable()[0] != path {
		t.Fatalf("delivered %q, want %q", stable()[0], path)
	}

	// Duplicate notifications for the same episode must not re-deliver.
	time.Sleep(300 * time.Millisecond)
	if n := len(stable()); n != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", n)
	}
}

func TestNonMatchingFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	w, stable := collectStable(t, dir)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.pdf"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SCAN-notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(400 * time.Millisecond)
	if n := len(stable()); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
}

func TestGrowingFileHeldUntilStable(t *testing.T) {
	dir := t.TempDir()
	w, stable := collectStable(t, dir)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "SCAN-big.pdf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	// Keep writing for a while; no delivery may happen during that.
	for i := 0; i < 5; i++ {
		if _, err := f.WriteString("chunk of page data\n"); err != nil {
			t.Fatal(err)
		}
		time.Sleep(40 * time.Millisecond)
		if n := len(stable()); n != 0 {
			t.Fatalf("delivered while still being written (iteration %d)", i)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return len(stable()) == 1 }) {
		t.Fatalf("expected delivery after writes stopped, got %d", len(stable()))
	}
}

func TestRefusedHandoffRetries(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	accepted := 0
	refusals := 0
	w := New(Config{
		Directory:       dir,
		FilePrefix:      "SCAN-",
		StabilityWindow: 50 * time.Millisecond,
		PollInterval:    20 * time.Millisecond,
	}, func(path string) bool {
		mu.Lock()
		defer mu.Unlock()
		if refusals < 2 {
			refusals++
			return false
		}
		accepted++
		return true
	}, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "SCAN-x.pdf"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return accepted == 1
	})
	if !ok {
		t.Fatal("refused handoff was never retried to acceptance")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, _ := collectStable(t, dir)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
