package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
	"github.com/kirillkom/scanwatcher/internal/core/ports"
)

// Retrier runs an operation with transient-only retry. Guarded execution
// additionally routes every attempt through the circuit breaker protecting
// the classification service.
type Retrier interface {
	Execute(ctx context.Context, operation string, fn func(context.Context) error) error
	ExecuteGuarded(ctx context.Context, operation string, fn func(context.Context) error) error
	BreakerSnapshot() domain.CircuitSnapshot
}

// PipelineObserver receives pipeline lifecycle events for metrics.
type PipelineObserver interface {
	StartDocument(service string, waited time.Duration)
	FinishDocument(service, status string, duration time.Duration)
	SetQueueDepth(depth int)
	SetBreakerState(state string)
	RecordEscalation(service, severity string)
}

type CoordinatorConfig struct {
	Service       string
	MaxPages      int
	QueueCapacity int
	// ItemTimeout bounds one item end to end, including all retries.
	ItemTimeout   time.Duration
	ErrorPrefix   string
	UnknownPrefix string
}

// terminalGrace bounds the bookkeeping that must still land after the item
// context has died: the failure-marker rename, the journal row and the audit
// escalation.
const terminalGrace = 30 * time.Second

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	out := c
	if out.Service == "" {
		out.Service = "scanwatcherd"
	}
	if out.MaxPages <= 0 {
		out.MaxPages = 3
	}
	if out.QueueCapacity <= 0 {
		out.QueueCapacity = 100
	}
	if out.ItemTimeout <= 0 {
		out.ItemTimeout = 10 * time.Minute
	}
	if out.ErrorPrefix == "" {
		out.ErrorPrefix = "ERROR_"
	}
	if out.UnknownPrefix == "" {
		out.UnknownPrefix = "UNKNOWN_"
	}
	return out
}

// Deps are the collaborators the coordinator drives. Severity maps a failed
// operation's error to the action taken for the item; OnOutcome and OnFatal
// are optional hooks for the service layer.
type Deps struct {
	Extractor  ports.PageExtractor
	Classifier ports.DocumentClassifier
	Placer     ports.FilePlacer
	Temp       ports.TempStorage
	Journal    ports.OutcomeJournal
	Audit      ports.AuditSink
	Retrier    Retrier
	Observer   PipelineObserver
	Severity   func(error) domain.Severity
	Logger     *slog.Logger
	OnOutcome  func(domain.ProcessingOutcome)
	OnFatal    func(error)
}

// Coordinator owns the work queue and processes items strictly one at a
// time, in arrival order. Every item that enters the queue produces exactly
// one ProcessingOutcome.
type Coordinator struct {
	cfg      CoordinatorConfig
	deps     Deps
	queue    chan *domain.WorkItem
	logger   *slog.Logger
	observer PipelineObserver
}

func NewCoordinator(cfg CoordinatorConfig, deps Deps) *Coordinator {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Severity == nil {
		deps.Severity = func(error) domain.Severity { return domain.SeverityPermanent }
	}
	return &Coordinator{
		cfg:      cfg,
		deps:     deps,
		queue:    make(chan *domain.WorkItem, cfg.QueueCapacity),
		logger:   deps.Logger,
		observer: deps.Observer,
	}
}

// Enqueue accepts a stable file for processing. It never blocks: when the
// queue is full the handoff is refused and the watcher re-offers the file on
// a later sweep.
func (c *Coordinator) Enqueue(sourcePath string) bool {
	item := domain.NewWorkItem(sourcePath)
	select {
	case c.queue <- item:
		c.observer.SetQueueDepth(len(c.queue))
		c.logger.Info("file_enqueued",
			"path", sourcePath,
			"correlation_id", item.CorrelationID,
			"queue_depth", len(c.queue),
		)
		return true
	default:
		c.logger.Warn("queue_full", "path", sourcePath)
		return false
	}
}

func (c *Coordinator) QueueDepth() int { return len(c.queue) }

// Run processes queued items until ctx is cancelled. The item being
// processed when cancellation arrives runs to completion on its own
// detached context; queued items simply stay behind for the next start,
// where the watcher's startup scan rediscovers them.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-c.queue:
			c.observer.SetQueueDepth(len(c.queue))
			c.process(item)
		}
	}
}

func (c *Coordinator) process(item *domain.WorkItem) {
	start := time.Now()
	c.observer.StartDocument(c.cfg.Service, start.Sub(item.DetectedAt))

	logger := c.logger.With("correlation_id", item.CorrelationID, "path", item.SourcePath)

	// Detached from the run context so shutdown lets the item finish.
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ItemTimeout)
	defer cancel()

	outcome := c.runStages(ctx, item, logger)
	outcome.SourcePath = item.SourcePath
	outcome.CorrelationID = item.CorrelationID
	outcome.Duration = time.Since(start)
	outcome.FinishedAt = time.Now().UTC()

	c.finish(item, outcome, logger)
}

// runStages drives the item through extract, classify and place. The
// returned outcome has Success, NewPath, DocumentType and Error populated;
// identity fields are filled by the caller.
func (c *Coordinator) runStages(ctx context.Context, item *domain.WorkItem, logger *slog.Logger) domain.ProcessingOutcome {
	var pages []domain.ExtractedPage
	defer func() { c.cleanupPages(pages, logger) }()

	item.State = domain.StateExtracting
	err := c.deps.Retrier.Execute(ctx, "extract_pages", func(ctx context.Context) error {
		var extractErr error
		pages, extractErr = c.deps.Extractor.ExtractPages(ctx, item.SourcePath, c.cfg.MaxPages)
		return extractErr
	})
	if err != nil {
		return c.failItem(item, stageExtract, err, logger)
	}

	item.State = domain.StateClassifying
	var cls domain.Classification
	err = c.deps.Retrier.ExecuteGuarded(ctx, "classify_document", func(ctx context.Context) error {
		var classifyErr error
		cls, classifyErr = c.deps.Classifier.Classify(ctx, pages)
		return classifyErr
	})
	c.observer.SetBreakerState(c.deps.Retrier.BreakerSnapshot().State)
	if err != nil {
		return c.failItem(item, stageClassify, err, logger)
	}

	item.State = domain.StatePlacing
	var newPath string
	err = c.deps.Retrier.Execute(ctx, "place_file", func(ctx context.Context) error {
		var placeErr error
		newPath, placeErr = c.deps.Placer.Place(ctx, item.SourcePath, cls)
		return placeErr
	})
	if err != nil {
		return c.failItem(item, stagePlace, err, logger)
	}

	item.State = domain.StateSucceeded
	return domain.ProcessingOutcome{
		Success:      true,
		NewPath:      newPath,
		DocumentType: cls.Category.Label(),
	}
}

type stage int

const (
	stageExtract stage = iota
	stageClassify
	stagePlace
)

func (s stage) String() string {
	switch s {
	case stageExtract:
		return "extract"
	case stageClassify:
		return "classify"
	default:
		return "place"
	}
}

// failItem resolves a stage failure into a terminal outcome: permanent
// failures mark the file with a prefix so it is never picked up again,
// critical and fatal ones leave it untouched for a later run and escalate.
// Side effects run on their own deadline: the item context is often already
// expired here, and a timed-out item still needs its marker.
func (c *Coordinator) failItem(item *domain.WorkItem, failedStage stage, cause error, logger *slog.Logger) domain.ProcessingOutcome {
	severity := c.deps.Severity(cause)
	ctx, cancel := context.WithTimeout(context.Background(), terminalGrace)
	defer cancel()
	logger.Error("stage_failed",
		"stage", failedStage.String(),
		"severity", severity.String(),
		"error", cause,
	)

	outcome := domain.ProcessingOutcome{Error: cause.Error()}

	switch severity {
	case domain.SeverityCritical:
		item.State = domain.StateAbandoned
		c.escalate(ctx, severity, failedStage, item, cause)
		return outcome

	case domain.SeverityFatal:
		item.State = domain.StateAbandoned
		c.escalate(ctx, severity, failedStage, item, cause)
		if c.deps.OnFatal != nil {
			c.deps.OnFatal(cause)
		}
		return outcome
	}

	// Transient failures only reach here with retries exhausted; from the
	// item's point of view that is as final as a permanent failure.
	item.State = domain.StateSkipped

	if errors.Is(cause, domain.ErrDocumentInvalid) {
		// Pre-flight rejection: the file never entered processing proper,
		// leave it under its original name for manual inspection.
		return outcome
	}

	prefix := c.cfg.ErrorPrefix
	if failedStage == stageClassify {
		prefix = c.cfg.UnknownPrefix
	}
	marked, renameErr := c.deps.Placer.PlacePrefixed(ctx, item.SourcePath, prefix)
	if renameErr != nil {
		logger.Error("failure_rename_failed", "prefix", prefix, "error", renameErr)
		return outcome
	}
	outcome.NewPath = marked
	return outcome
}

func (c *Coordinator) escalate(ctx context.Context, severity domain.Severity, failedStage stage, item *domain.WorkItem, cause error) {
	c.observer.RecordEscalation(c.cfg.Service, severity.String())
	if c.deps.Audit == nil {
		return
	}
	c.deps.Audit.Escalate(ctx, domain.AuditRecord{
		Severity:  severity.String(),
		Component: "pipeline",
		Message:   fmt.Sprintf("%s stage failed: %v", failedStage, cause),
		Context: map[string]string{
			"path":           item.SourcePath,
			"correlation_id": item.CorrelationID,
		},
		Timestamp: time.Now().UTC(),
	})
}

func (c *Coordinator) finish(item *domain.WorkItem, outcome domain.ProcessingOutcome, logger *slog.Logger) {
	status := terminalStatus(item.State, outcome)
	c.observer.FinishDocument(c.cfg.Service, status, outcome.Duration)

	if c.deps.Journal != nil {
		// Not the item context: timed-out items are journaled like any other.
		ctx, cancel := context.WithTimeout(context.Background(), terminalGrace)
		if err := c.deps.Journal.Record(ctx, outcome); err != nil {
			logger.Error("journal_record_failed", "error", err)
		}
		cancel()
	}
	if c.deps.OnOutcome != nil {
		c.deps.OnOutcome(outcome)
	}

	if outcome.Success {
		logger.Info("file_processed",
			"new_path", outcome.NewPath,
			"document_type", outcome.DocumentType,
			"duration_ms", outcome.Duration.Milliseconds(),
		)
		return
	}
	logger.Warn("file_not_processed",
		"status", status,
		"new_path", outcome.NewPath,
		"duration_ms", outcome.Duration.Milliseconds(),
	)
}

func terminalStatus(state domain.ItemState, outcome domain.ProcessingOutcome) string {
	switch {
	case outcome.Success:
		return "success"
	case state == domain.StateAbandoned:
		return "abandoned"
	case outcome.NewPath != "":
		return "marked"
	default:
		return "skipped"
	}
}

// cleanupPages removes scratch files with verification; a page that cannot
// be removed is logged and left for the stale sweep.
func (c *Coordinator) cleanupPages(pages []domain.ExtractedPage, logger *slog.Logger) {
	if c.deps.Temp == nil {
		return
	}
	for _, page := range pages {
		if page.TempPath == "" {
			continue
		}
		if err := c.deps.Temp.Remove(page.TempPath); err != nil {
			logger.Warn("temp_cleanup_failed", "path", page.TempPath, "error", err)
		}
	}
}

type nopObserver struct{}

func (nopObserver) StartDocument(string, time.Duration)          {}
func (nopObserver) FinishDocument(string, string, time.Duration) {}
func (nopObserver) SetQueueDepth(int)                            {}
func (nopObserver) SetBreakerState(string)                       {}
func (nopObserver) RecordEscalation(string, string)              {}
