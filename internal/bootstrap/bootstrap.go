// Package bootstrap assembles the scan-watcher service from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/scanwatcher/internal/config"
	"github.com/kirillkom/scanwatcher/internal/core/ports"
	"github.com/kirillkom/scanwatcher/internal/core/usecase"
	"github.com/kirillkom/scanwatcher/internal/infrastructure/audit/natsaudit"
	"github.com/kirillkom/scanwatcher/internal/infrastructure/extractor/pdfimage"
	"github.com/kirillkom/scanwatcher/internal/infrastructure/journal/sqlite"
	"github.com/kirillkom/scanwatcher/internal/infrastructure/llm/openai"
	"github.com/kirillkom/scanwatcher/internal/infrastructure/placer"
	"github.com/kirillkom/scanwatcher/internal/infrastructure/resilience"
	"github.com/kirillkom/scanwatcher/internal/infrastructure/tempstore"
	"github.com/kirillkom/scanwatcher/internal/infrastructure/watcher"
	"github.com/kirillkom/scanwatcher/internal/observability/metrics"
	"github.com/kirillkom/scanwatcher/internal/service"
)

type App struct {
	Config       config.Config
	Orchestrator *service.Orchestrator
	Journal      ports.OutcomeJournal

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pipelineMetrics := metrics.NewPipelineMetrics("scanwatcherd")
	stats := service.NewRollingStats()

	temp, err := tempstore.New(cfg.Pipeline.TempDir, logger)
	if err != nil {
		return nil, fmt.Errorf("init temp storage: %w", err)
	}

	journal, err := sqlite.Open(ctx, cfg.Journal.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open outcome journal: %w", err)
	}

	var auditSink ports.AuditSink
	var natsSink *natsaudit.Sink
	if cfg.Audit.NATSURL != "" {
		natsSink, err = natsaudit.New(cfg.Audit.NATSURL, cfg.Audit.Subject, natsaudit.Options{}, logger)
		if err != nil {
			journal.Close()
			return nil, fmt.Errorf("init audit sink: %w", err)
		}
		auditSink = natsSink
	} else {
		auditSink = natsaudit.NewNoop(logger)
	}

	executor := resilience.NewExecutor(resilience.Config{
		MaxAttempts:             cfg.Retry.MaxAttempts,
		InitialDelay:            cfg.Retry.InitialDelay.Std(),
		MaxDelay:                cfg.Retry.MaxDelay.Std(),
		MaxJitter:               cfg.Retry.MaxJitter.Std(),
		BreakerFailureThreshold: cfg.Retry.BreakerFailureThreshold,
		BreakerWindow:           cfg.Retry.BreakerWindow.Std(),
		BreakerOpenTimeout:      cfg.Retry.BreakerOpenTimeout.Std(),
	}, logger)
	executor.OnRetry = func(operation string) {
		pipelineMetrics.RecordRetry("scanwatcherd", operation)
	}

	extractor := pdfimage.New(temp, logger)
	classifier := openai.New(openai.Config{
		BaseURL:           cfg.Classifier.BaseURL,
		APIKey:            cfg.Classifier.APIKey,
		Model:             cfg.Classifier.Model,
		MaxTokens:         cfg.Classifier.MaxTokens,
		Temperature:       cfg.Classifier.Temperature,
		Timeout:           cfg.Classifier.Timeout.Std(),
		RequestsPerMinute: cfg.Classifier.RequestsPerMinute,
	}, logger)
	filePlacer := placer.New(placer.Config{
		SourcePrefix: cfg.Watch.FilePrefix,
		PriorityKeys: cfg.Pipeline.PriorityKeys,
	}, logger)

	var orchestrator *service.Orchestrator

	coordinator := usecase.NewCoordinator(usecase.CoordinatorConfig{
		MaxPages:      cfg.Pipeline.MaxPages,
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		ItemTimeout:   cfg.Pipeline.ItemTimeout.Std(),
		ErrorPrefix:   cfg.Pipeline.ErrorPrefix,
		UnknownPrefix: cfg.Pipeline.UnknownPrefix,
	}, usecase.Deps{
		Extractor:  extractor,
		Classifier: classifier,
		Placer:     filePlacer,
		Temp:       temp,
		Journal:    journal,
		Audit:      auditSink,
		Retrier:    executor,
		Observer:   pipelineMetrics,
		Severity:   resilience.Classify,
		Logger:     logger,
		OnOutcome:  stats.Observe,
		OnFatal: func(err error) {
			if orchestrator != nil {
				orchestrator.SignalFatal(err)
			}
		},
	})

	fileWatcher := watcher.New(watcher.Config{
		Directory:       cfg.Watch.Directory,
		FilePrefix:      cfg.Watch.FilePrefix,
		Extension:       cfg.Watch.Extension,
		StabilityWindow: cfg.Watch.StabilityWindow.Std(),
		PollInterval:    cfg.Watch.PollInterval.Std(),
		AccessRetry:     cfg.Watch.AccessRetry.Std(),
	}, coordinator.Enqueue, logger)

	orchestrator = service.NewOrchestrator(cfg, service.Components{
		Watcher:        fileWatcher,
		Processor:      coordinator,
		Breaker:        executor,
		Temp:           temp,
		Audit:          auditSink,
		Stats:          stats,
		MetricsHandler: pipelineMetrics.Handler(),
		Observer:       pipelineMetrics,
	}, logger)

	return &App{
		Config:       cfg,
		Orchestrator: orchestrator,
		Journal:      journal,
		closeFn: func() {
			journal.Close()
			if natsSink != nil {
				natsSink.Close()
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
