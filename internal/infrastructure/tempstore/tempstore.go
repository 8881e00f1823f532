// Package tempstore manages the scratch files written during page
// extraction. Deletes are verified, and stale files left behind by crashed
// runs are swept on a schedule.
package tempstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const filePattern = "scanwatch-*"

type Provider struct {
	dir    string
	logger *slog.Logger
}

// New creates the scratch directory if needed. An empty dir defaults to a
// dedicated subdirectory of the system temp location.
func New(dir string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "scanwatcher")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp directory %s: %w", dir, err)
	}
	return &Provider{dir: dir, logger: logger}, nil
}

func (p *Provider) Dir() string { return p.dir }

// NewFile creates an empty scratch file and returns its path. The caller
// owns the file and removes it through Remove.
func (p *Provider) NewFile(suffix string) (string, error) {
	f, err := os.CreateTemp(p.dir, filePattern+suffix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}

// Remove deletes path and confirms it is gone. A file that still exists
// after a successful remove call indicates a filesystem problem worth
// surfacing rather than ignoring.
func (p *Provider) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove temp file %s: %w", path, err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("temp file %s still present after remove", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("verify temp file removal %s: %w", path, err)
	}
	return nil
}

// RemoveOlderThan sweeps scratch files whose modification time is older than
// age. Files not created by this provider's pattern are left alone.
func (p *Provider) RemoveOlderThan(age time.Duration) error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("read temp directory %s: %w", p.dir, err)
	}

	cutoff := time.Now().Add(-age)
	removed := 0
	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), strings.TrimSuffix(filePattern, "*")) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("sweep temp file %s: %w", path, err)
			}
			continue
		}
		removed++
	}

	if removed > 0 {
		p.logger.Info("stale_temp_files_removed", "count", removed, "dir", p.dir)
	}
	return firstErr
}
