package ports

import (
	"context"
	"time"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

// PageExtractor rasterizes the leading pages of a source document.
type PageExtractor interface {
	ExtractPages(ctx context.Context, sourcePath string, maxPages int) ([]domain.ExtractedPage, error)
}

// DocumentClassifier sends extracted pages to the external classification
// service. It performs exactly one attempt per call; retry orchestration
// happens above it.
type DocumentClassifier interface {
	Classify(ctx context.Context, pages []domain.ExtractedPage) (domain.Classification, error)
}

// FilePlacer derives a target filename from a classification and performs a
// conflict-safe atomic rename.
type FilePlacer interface {
	Place(ctx context.Context, originalPath string, cls domain.Classification) (string, error)
	PlacePrefixed(ctx context.Context, originalPath, prefix string) (string, error)
}

// TempStorage hands out scratch file paths and deletes them with
// verification.
type TempStorage interface {
	NewFile(suffix string) (string, error)
	Remove(path string) error
	RemoveOlderThan(age time.Duration) error
}

// OutcomeJournal persists terminal processing outcomes for later reporting.
type OutcomeJournal interface {
	Record(ctx context.Context, outcome domain.ProcessingOutcome) error
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.ProcessingOutcome, error)
}

// AuditSink receives critical/fatal records for operator alerting. It is
// fire-and-forget: implementations log delivery failures, never return them.
type AuditSink interface {
	Escalate(ctx context.Context, record domain.AuditRecord)
}
