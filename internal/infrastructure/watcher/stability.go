package watcher

import (
	"os"
	"sync"
	"time"
)

type sample struct {
	size      int64
	changedAt time.Time
}

// Detector decides whether a file has finished being written: its size must
// be unchanged between two samples at least the quiescence window apart.
// Each Check performs a single stat and never sleeps, so callers can poll it
// from an event loop without losing responsiveness.
type Detector struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	samples map[string]sample
}

func NewDetector(window time.Duration) *Detector {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &Detector{
		window:  window,
		now:     time.Now,
		samples: make(map[string]sample),
	}
}

// Check samples the file size and reports whether the file is stable. A file
// that disappeared between samples is unstable and its state is forgotten, so
// a later reappearance starts a fresh episode.
func (d *Detector) Check(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		d.Forget(path)
		return false
	}
	size := info.Size()
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, seen := d.samples[path]
	if !seen || prev.size != size {
		d.samples[path] = sample{size: size, changedAt: now}
		return false
	}
	return now.Sub(prev.changedAt) >= d.window
}

// Forget drops tracked state for path.
func (d *Detector) Forget(path string) {
	d.mu.Lock()
	delete(d.samples, path)
	d.mu.Unlock()
}
