package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Config struct {
	Directory       string
	FilePrefix      string
	Extension       string
	StabilityWindow time.Duration
	PollInterval    time.Duration
	AccessRetry     time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.FilePrefix == "" {
		out.FilePrefix = "SCAN-"
	}
	if out.Extension == "" {
		out.Extension = ".pdf"
	}
	if out.StabilityWindow <= 0 {
		out.StabilityWindow = 2 * time.Second
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 500 * time.Millisecond
	}
	if out.AccessRetry <= 0 {
		out.AccessRetry = 30 * time.Second
	}
	return out
}

// OnStableFile receives a file that matched the filter and stopped changing.
// Returning false tells the watcher the handoff was not accepted (queue full)
// and the file stays pending for a later poll.
type OnStableFile func(path string) bool

// Watcher observes one directory through fsnotify, filters entries by prefix
// and extension, and hands stable files off at most once per
// appears-then-stabilizes episode. Directory loss while running pauses
// delivery and is re-probed on a fixed interval instead of failing the
// process.
type Watcher struct {
	cfg      Config
	detector *Detector
	onStable OnStableFile
	logger   *slog.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	pending  map[string]struct{}
	handled  map[string]struct{}
	degraded bool
	stopped  bool

	done chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, onStable OnStableFile, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Watcher{
		cfg:      cfg,
		detector: NewDetector(cfg.StabilityWindow),
		onStable: onStable,
		logger:   logger,
		pending:  make(map[string]struct{}),
		handled:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins monitoring. It fails fast when the directory does not exist
// or is not accessible; it never retries startup internally.
func (w *Watcher) Start(ctx context.Context) error {
	info, err := os.Stat(w.cfg.Directory)
	if err != nil {
		return fmt.Errorf("watch directory inaccessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch path is not a directory: %s", w.cfg.Directory)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.cfg.Directory); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("subscribe to %s: %w", w.cfg.Directory, err)
	}
	w.fsw = fsw

	// Files already sitting in the directory at startup are picked up too;
	// notification APIs only report changes after subscription.
	w.scanExisting()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("watcher_started",
		"directory", w.cfg.Directory,
		"prefix", w.cfg.FilePrefix,
	)
	return nil
}

// Stop unsubscribes and releases the OS watch handle. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.logger.Info("watcher_stopped", "directory", w.cfg.Directory)
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	access := time.NewTicker(w.cfg.AccessRetry)
	defer access.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Delivery errors are a recovery signal, never fatal.
			w.logger.Warn("watch_notification_error", "error", err)
			w.checkAccessible()

		case <-poll.C:
			if !w.isDegraded() {
				w.sweepPending()
			}

		case <-access.C:
			w.checkAccessible()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		// The episode ended; a future create starts a new one.
		w.mu.Lock()
		delete(w.pending, path)
		delete(w.handled, path)
		w.mu.Unlock()
		w.detector.Forget(path)
		return
	}

	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}
	if !w.matches(path) {
		return
	}

	w.mu.Lock()
	_, already := w.handled[path]
	if !already {
		w.pending[path] = struct{}{}
	}
	w.mu.Unlock()
}

func (w *Watcher) sweepPending() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
			w.detector.Forget(path)
			continue
		}
		if !w.detector.Check(path) {
			continue
		}
		if !w.onStable(path) {
			// Handoff refused; keep the file pending and try again on the
			// next sweep.
			continue
		}

		w.mu.Lock()
		delete(w.pending, path)
		w.handled[path] = struct{}{}
		w.mu.Unlock()
		w.detector.Forget(path)
	}
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.cfg.Directory)
	if err != nil {
		w.logger.Warn("initial_scan_failed", "error", err)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.Directory, entry.Name())
		if w.matches(path) {
			w.pending[path] = struct{}{}
		}
	}
}

func (w *Watcher) matches(path string) bool {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, w.cfg.FilePrefix) {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), w.cfg.Extension)
}

func (w *Watcher) isDegraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded
}

// checkAccessible probes the watch directory and flips delivery on or off.
// A directory that went away (network share disconnect) pauses the watcher;
// once it returns, the subscription is re-established and pending files are
// rediscovered.
func (w *Watcher) checkAccessible() {
	_, err := os.Stat(w.cfg.Directory)

	w.mu.Lock()
	wasDegraded := w.degraded
	w.degraded = err != nil
	w.mu.Unlock()

	switch {
	case err != nil && !wasDegraded:
		w.logger.Error("watch_directory_inaccessible",
			"directory", w.cfg.Directory,
			"error", err,
			"retry_interval", w.cfg.AccessRetry.String(),
		)
	case err == nil && wasDegraded:
		if addErr := w.fsw.Add(w.cfg.Directory); addErr != nil && !errors.Is(addErr, os.ErrExist) {
			w.logger.Warn("watch_resubscribe_failed", "error", addErr)
			w.mu.Lock()
			w.degraded = true
			w.mu.Unlock()
			return
		}
		w.logger.Info("watch_directory_recovered", "directory", w.cfg.Directory)
		w.scanExisting()
	}
}
