// Package service ties the watcher, processing coordinator and health loop
// into one lifecycle with ordered startup and deadline-bound shutdown.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/scanwatcher/internal/config"
	"github.com/kirillkom/scanwatcher/internal/core/domain"
	"github.com/kirillkom/scanwatcher/internal/core/ports"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// FileWatcher is the directory-watching component's lifecycle surface.
type FileWatcher interface {
	Start(ctx context.Context) error
	Stop()
}

// Processor is the coordinator's surface the orchestrator drives.
type Processor interface {
	Run(ctx context.Context)
	QueueDepth() int
}

// BreakerReader exposes the classification circuit state for health checks.
type BreakerReader interface {
	BreakerSnapshot() domain.CircuitSnapshot
}

// HealthObserver receives health-loop gauge updates.
type HealthObserver interface {
	SetHealthFailures(count int)
}

type Components struct {
	Watcher        FileWatcher
	Processor      Processor
	Breaker        BreakerReader
	Temp           ports.TempStorage
	Audit          ports.AuditSink
	Stats          *RollingStats
	MetricsHandler http.Handler
	Observer       HealthObserver
}

// Orchestrator owns service lifecycle: Stopped -> Starting -> Running ->
// Stopping -> Stopped. Components start in dependency order and stop in
// reverse; the item in flight during shutdown is given until the shutdown
// deadline to finish.
type Orchestrator struct {
	cfg        config.Config
	components Components
	logger     *slog.Logger

	state     atomic.Int32
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	server    *http.Server
	fatal     chan error

	healthMu   sync.Mutex
	lastHealth domain.HealthStatus
	failures   int
}

func NewOrchestrator(cfg config.Config, components Components, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if components.Stats == nil {
		components.Stats = NewRollingStats()
	}
	return &Orchestrator{
		cfg:        cfg,
		components: components,
		logger:     logger,
		fatal:      make(chan error, 1),
	}
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Fatal reports unrecoverable failures; the caller is expected to initiate
// shutdown when it fires.
func (o *Orchestrator) Fatal() <-chan error { return o.fatal }

// SignalFatal records an unrecoverable failure. Safe to call from any
// goroutine; only the first signal is kept.
func (o *Orchestrator) SignalFatal(err error) {
	select {
	case o.fatal <- err:
	default:
	}
}

func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("cannot start from state %s", o.State())
	}
	o.logger.Info("service_starting", "watch_dir", o.cfg.Watch.Directory)

	if o.components.MetricsHandler != nil {
		if err := o.startMetricsServer(); err != nil {
			o.state.Store(int32(StateStopped))
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancelRun = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.components.Processor.Run(runCtx)
	}()

	// The watcher goes last: nothing may be detected before the pipeline
	// behind it is accepting work.
	if err := o.components.Watcher.Start(runCtx); err != nil {
		cancel()
		o.shutdownMetricsServer(context.Background())
		o.wg.Wait()
		o.state.Store(int32(StateStopped))
		return fmt.Errorf("start watcher: %w", err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.healthLoop(runCtx)
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.tempSweepLoop(runCtx)
	}()

	o.state.Store(int32(StateRunning))
	o.logger.Info("service_started")
	return nil
}

// Stop shuts the service down: no new detections, the in-flight item runs to
// completion, everything else winds down within the shutdown deadline.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("cannot stop from state %s", o.State())
	}
	o.logger.Info("service_stopping")

	deadline := o.cfg.Service.ShutdownTimeout.Std()
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	o.components.Watcher.Stop()
	o.cancelRun()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		stopErr = errors.New("shutdown deadline exceeded with work in flight")
		o.logger.Error("shutdown_deadline_exceeded")
	}

	o.shutdownMetricsServer(ctx)
	o.state.Store(int32(StateStopped))
	o.logger.Info("service_stopped")
	return stopErr
}

func (o *Orchestrator) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.components.MetricsHandler)
	mux.HandleFunc("/healthz", o.handleHealthz)

	listener, err := net.Listen("tcp", ":"+o.cfg.Service.MetricsPort)
	if err != nil {
		return fmt.Errorf("listen on metrics port %s: %w", o.cfg.Service.MetricsPort, err)
	}
	o.server = &http.Server{Handler: mux}

	go func() {
		if err := o.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("metrics_server_failed", "error", err)
		}
	}()
	o.logger.Info("metrics_server_listening", "port", o.cfg.Service.MetricsPort)
	return nil
}

func (o *Orchestrator) shutdownMetricsServer(ctx context.Context) {
	if o.server == nil {
		return
	}
	if err := o.server.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics_server_shutdown_failed", "error", err)
	}
}

func (o *Orchestrator) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	o.healthMu.Lock()
	healthy := o.lastHealth.Healthy || o.lastHealth.CheckedAt.IsZero()
	o.healthMu.Unlock()

	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "unhealthy")
		return
	}
	fmt.Fprintln(w, "ok")
}

func (o *Orchestrator) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Health.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runHealthCheck(ctx)
		}
	}
}

// runHealthCheck performs one cycle and escalates once the consecutive
// failure threshold is reached. A single recovered cycle resets the count.
func (o *Orchestrator) runHealthCheck(ctx context.Context) {
	status := o.collectHealth()

	o.healthMu.Lock()
	if status.Healthy {
		o.failures = 0
	} else {
		o.failures++
	}
	status.ConsecutiveFailures = o.failures
	o.lastHealth = status
	failures := o.failures
	o.healthMu.Unlock()

	if o.components.Observer != nil {
		o.components.Observer.SetHealthFailures(failures)
	}

	if status.Healthy {
		o.logger.Debug("health_check_passed", "details", status.Details)
		return
	}

	if failures < o.cfg.Health.FailureThreshold {
		o.logger.Warn("health_check_failed",
			"consecutive_failures", failures,
			"details", status.Details,
		)
		return
	}

	o.logger.Error("health_degraded_critical",
		"consecutive_failures", failures,
		"details", status.Details,
	)

	if failures == o.cfg.Health.FailureThreshold && o.components.Audit != nil {
		o.components.Audit.Escalate(ctx, domain.AuditRecord{
			Severity:  domain.SeverityCritical.String(),
			Component: "health",
			Message:   fmt.Sprintf("%d consecutive health-check failures", failures),
			Context: map[string]string{
				"watch_dir": o.cfg.Watch.Directory,
			},
			Timestamp: time.Now().UTC(),
		})
	}
}

func (o *Orchestrator) collectHealth() domain.HealthStatus {
	status := domain.HealthStatus{
		CheckedAt:   time.Now().UTC(),
		ConfigValid: o.cfg.Validate() == nil,
		Details:     map[string]any{},
	}

	info, err := os.Stat(o.cfg.Watch.Directory)
	status.WatchDirAccessible = err == nil && info.IsDir()
	if err != nil {
		status.Details["watch_dir_error"] = err.Error()
	}

	status.Healthy = status.WatchDirAccessible && status.ConfigValid

	if o.components.Processor != nil {
		status.Details["queue_depth"] = o.components.Processor.QueueDepth()
	}
	if o.components.Breaker != nil {
		snapshot := o.components.Breaker.BreakerSnapshot()
		status.Details["breaker_state"] = snapshot.State
		status.Details["breaker_failures"] = snapshot.Failures
	}
	if o.components.Stats != nil {
		snap := o.components.Stats.Snapshot()
		status.Details["processed_total"] = snap.TotalProcessed
		status.Details["window_error_rate"] = snap.ErrorRate
		status.Details["window_avg_ms"] = snap.AvgDuration.Milliseconds()
	}
	return status
}

// LastHealth returns the most recent health-check result.
func (o *Orchestrator) LastHealth() domain.HealthStatus {
	o.healthMu.Lock()
	defer o.healthMu.Unlock()
	return o.lastHealth
}

func (o *Orchestrator) tempSweepLoop(ctx context.Context) {
	if o.components.Temp == nil || o.cfg.Pipeline.TempMaxAge <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.components.Temp.RemoveOlderThan(o.cfg.Pipeline.TempMaxAge.Std()); err != nil {
				o.logger.Warn("temp_sweep_failed", "error", err)
			}
		}
	}
}
