// Package sqlite persists terminal processing outcomes to an embedded
// database so daily reports survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT    NOT NULL,
	source_path    TEXT    NOT NULL,
	new_path       TEXT    NOT NULL DEFAULT '',
	document_type  TEXT    NOT NULL DEFAULT '',
	success        INTEGER NOT NULL,
	error          TEXT    NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL,
	finished_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_finished_at ON outcomes (finished_at);
`

// Open opens (or creates) the journal database and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database %s: %w", path, err)
	}
	// The embedded driver serializes writes itself; one connection avoids
	// SQLITE_BUSY under concurrent reporting reads.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal database %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return NewJournal(db, logger), nil
}

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJournal wraps an already opened database. Used by Open and by tests.
func NewJournal(db *sql.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger}
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) Record(ctx context.Context, outcome domain.ProcessingOutcome) error {
	const query = `INSERT INTO outcomes
		(correlation_id, source_path, new_path, document_type, success, error, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		outcome.CorrelationID,
		outcome.SourcePath,
		outcome.NewPath,
		outcome.DocumentType,
		boolToInt(outcome.Success),
		outcome.Error,
		outcome.Duration.Milliseconds(),
		outcome.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", outcome.CorrelationID, err)
	}
	return nil
}

// ListBetween returns outcomes with finished_at in [from, to), oldest first.
func (j *Journal) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ProcessingOutcome, error) {
	const query = `SELECT correlation_id, source_path, new_path, document_type, success, error, duration_ms, finished_at
		FROM outcomes
		WHERE finished_at >= ? AND finished_at < ?
		ORDER BY finished_at ASC`

	rows, err := j.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessingOutcome
	for rows.Next() {
		var (
			o          domain.ProcessingOutcome
			success    int
			durationMS int64
		)
		if err := rows.Scan(
			&o.CorrelationID,
			&o.SourcePath,
			&o.NewPath,
			&o.DocumentType,
			&success,
			&o.Error,
			&durationMS,
			&o.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		o.Success = success != 0
		o.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome rows: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
