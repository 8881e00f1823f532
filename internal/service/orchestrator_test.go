package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/scanwatcher/internal/config"
	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

type stubWatcher struct {
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (w *stubWatcher) Start(context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.started.Store(true)
	return nil
}

func (w *stubWatcher) Stop() { w.stopped.Store(true) }

type stubProcessor struct {
	drainDelay time.Duration
	finished   atomic.Bool
}

func (p *stubProcessor) Run(ctx context.Context) {
	<-ctx.Done()
	if p.drainDelay > 0 {
		time.Sleep(p.drainDelay)
	}
	p.finished.Store(true)
}

func (p *stubProcessor) QueueDepth() int { return 0 }

type stubBreaker struct {
	snapshot domain.CircuitSnapshot
}

func (b *stubBreaker) BreakerSnapshot() domain.CircuitSnapshot { return b.snapshot }

type stubAudit struct {
	records []domain.AuditRecord
}

func (a *stubAudit) Escalate(_ context.Context, record domain.AuditRecord) {
	a.records = append(a.records, record)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Watch.Directory = t.TempDir()
	cfg.Classifier.APIKey = "sk-test"
	cfg.Service.ShutdownTimeout = config.Duration(5 * time.Second)
	cfg.Health.Interval = config.Duration(time.Hour)
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg config.Config, watcher *stubWatcher, processor *stubProcessor, audit *stubAudit) *Orchestrator {
	t.Helper()
	return NewOrchestrator(cfg, Components{
		Watcher:   watcher,
		Processor: processor,
		Breaker:   &stubBreaker{snapshot: domain.CircuitSnapshot{State: "closed"}},
		Audit:     audit,
		Stats:     NewRollingStats(),
	}, nil)
}

func TestLifecycleStartStop(t *testing.T) {
	watcher := &stubWatcher{}
	processor := &stubProcessor{}
	o := newTestOrchestrator(t, testConfig(t), watcher, processor, &stubAudit{})

	if o.State() != StateStopped {
		t.Fatalf("initial state = %s", o.State())
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if o.State() != StateRunning {
		t.Fatalf("state after start = %s", o.State())
	}
	if !watcher.started.Load() {
		t.Error("watcher not started")
	}

	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if o.State() != StateStopped {
		t.Fatalf("state after stop = %s", o.State())
	}
	if !watcher.stopped.Load() {
		t.Error("watcher not stopped")
	}
	if !processor.finished.Load() {
		t.Error("processor did not drain")
	}
}

func TestStartTwiceFails(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t), &stubWatcher{}, &stubProcessor{}, &stubAudit{})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(context.Background())

	if err := o.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestStopWhenNotRunningFails(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t), &stubWatcher{}, &stubProcessor{}, &stubAudit{})
	if err := o.Stop(context.Background()); err == nil {
		t.Fatal("Stop succeeded from stopped state")
	}
}

func TestWatcherStartFailureAbortsStartup(t *testing.T) {
	watcher := &stubWatcher{startErr: errors.New("watch directory does not exist")}
	o := newTestOrchestrator(t, testConfig(t), watcher, &stubProcessor{}, &stubAudit{})

	if err := o.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with broken watcher")
	}
	if o.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", o.State())
	}
}

func TestStopWaitsForInFlightWork(t *testing.T) {
	processor := &stubProcessor{drainDelay: 100 * time.Millisecond}
	o := newTestOrchestrator(t, testConfig(t), &stubWatcher{}, processor, &stubAudit{})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !processor.finished.Load() {
		t.Error("Stop returned before in-flight work finished")
	}
}

func TestStopDeadlineExceeded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Service.ShutdownTimeout = config.Duration(30 * time.Millisecond)
	processor := &stubProcessor{drainDelay: 500 * time.Millisecond}
	o := newTestOrchestrator(t, cfg, &stubWatcher{}, processor, &stubAudit{})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Stop(context.Background()); err == nil {
		t.Fatal("Stop did not report exceeded deadline")
	}
}

func TestHealthCheckEscalatesAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig(t)
	audit := &stubAudit{}
	o := newTestOrchestrator(t, cfg, &stubWatcher{}, &stubProcessor{}, audit)

	// Healthy first: the directory exists.
	o.runHealthCheck(context.Background())
	if status := o.LastHealth(); !status.Healthy || status.ConsecutiveFailures != 0 {
		t.Fatalf("healthy cycle = %+v", status)
	}

	if err := os.RemoveAll(cfg.Watch.Directory); err != nil {
		t.Fatalf("remove watch dir: %v", err)
	}

	for i := 1; i <= cfg.Health.FailureThreshold; i++ {
		o.runHealthCheck(context.Background())
		if got := o.LastHealth().ConsecutiveFailures; got != i {
			t.Fatalf("consecutive failures = %d, want %d", got, i)
		}
	}

	if len(audit.records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(audit.records))
	}
	if audit.records[0].Severity != "critical" || audit.records[0].Component != "health" {
		t.Errorf("audit record = %+v", audit.records[0])
	}

	// One more failing cycle must not re-escalate.
	o.runHealthCheck(context.Background())
	if len(audit.records) != 1 {
		t.Errorf("audit records after extra cycle = %d", len(audit.records))
	}

	// Recovery resets the counter.
	if err := os.MkdirAll(cfg.Watch.Directory, 0o755); err != nil {
		t.Fatalf("recreate watch dir: %v", err)
	}
	o.runHealthCheck(context.Background())
	if status := o.LastHealth(); !status.Healthy || status.ConsecutiveFailures != 0 {
		t.Errorf("recovered cycle = %+v", status)
	}
}

func TestHealthThresholdLogsCriticalRecord(t *testing.T) {
	cfg := testConfig(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	o := NewOrchestrator(cfg, Components{
		Watcher:   &stubWatcher{},
		Processor: &stubProcessor{},
		Breaker:   &stubBreaker{snapshot: domain.CircuitSnapshot{State: "closed"}},
		Audit:     &stubAudit{},
		Stats:     NewRollingStats(),
	}, logger)

	if err := os.RemoveAll(cfg.Watch.Directory); err != nil {
		t.Fatalf("remove watch dir: %v", err)
	}
	for i := 0; i < cfg.Health.FailureThreshold; i++ {
		o.runHealthCheck(context.Background())
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	if !strings.Contains(last, "health_degraded_critical") {
		t.Fatalf("threshold cycle logged %s, want health_degraded_critical", last)
	}
	if !strings.Contains(last, `"level":"ERROR"`) {
		t.Errorf("threshold record not at error level: %s", last)
	}
}

func TestSignalFatalKeepsFirstError(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t), &stubWatcher{}, &stubProcessor{}, &stubAudit{})

	first := errors.New("out of memory")
	o.SignalFatal(first)
	o.SignalFatal(errors.New("second"))

	select {
	case err := <-o.Fatal():
		if !errors.Is(err, first) {
			t.Errorf("fatal error = %v, want %v", err, first)
		}
	default:
		t.Fatal("no fatal error available")
	}
}

func TestRollingStatsWindow(t *testing.T) {
	stats := NewRollingStats()

	for i := 0; i < 150; i++ {
		stats.Observe(domain.ProcessingOutcome{
			Success:  i%2 == 0,
			Duration: time.Duration(i) * time.Millisecond,
		})
	}

	snap := stats.Snapshot()
	if snap.TotalProcessed != 150 {
		t.Errorf("total = %d", snap.TotalProcessed)
	}
	if snap.WindowSize != statsWindow {
		t.Errorf("window = %d", snap.WindowSize)
	}
	if snap.ErrorRate != 0.5 {
		t.Errorf("error rate = %v", snap.ErrorRate)
	}
	if snap.MaxDuration != 149*time.Millisecond {
		t.Errorf("max duration = %v", snap.MaxDuration)
	}
}

func TestRollingStatsEmpty(t *testing.T) {
	snap := NewRollingStats().Snapshot()
	if snap.WindowSize != 0 || snap.ErrorRate != 0 || snap.AvgDuration != 0 {
		t.Errorf("empty snapshot = %+v", snap)
	}
}
