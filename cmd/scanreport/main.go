// scanreport exports processing outcomes from the journal to an XLSX file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kirillkom/scanwatcher/internal/infrastructure/journal/sqlite"
	"github.com/kirillkom/scanwatcher/internal/observability/logging"
	"github.com/kirillkom/scanwatcher/internal/report"
)

func main() {
	journalPath := flag.String("journal", "scanwatcher.db", "path to the outcome journal database")
	fromArg := flag.String("from", "", "start date YYYY-MM-DD (default: today)")
	toArg := flag.String("to", "", "end date YYYY-MM-DD, inclusive (default: same as from)")
	outPath := flag.String("out", "", "output file (default: scan-report-<from>.xlsx)")
	flag.Parse()

	logger := logging.NewTextLogger("info")

	from, to, err := resolveRange(*fromArg, *toArg)
	if err != nil {
		logger.Error("invalid date range", "error", err)
		os.Exit(2)
	}
	output := *outPath
	if output == "" {
		output = fmt.Sprintf("scan-report-%s.xlsx", from.Format("2006-01-02"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	journal, err := sqlite.Open(ctx, *journalPath, logger)
	if err != nil {
		logger.Error("open journal", "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	outcomes, err := journal.ListBetween(ctx, from, to)
	if err != nil {
		logger.Error("query outcomes", "error", err)
		os.Exit(1)
	}

	data, err := report.BuildWorkbook(outcomes)
	if err != nil {
		logger.Error("build workbook", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		logger.Error("write report", "error", err)
		os.Exit(1)
	}

	logger.Info("report written",
		"file", output,
		"outcomes", len(outcomes),
		"from", from.Format("2006-01-02"),
		"to", to.Add(-24*time.Hour).Format("2006-01-02"),
	)
}

// resolveRange turns inclusive date arguments into the [from, to) window the
// journal queries with.
func resolveRange(fromArg, toArg string) (time.Time, time.Time, error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	from := today
	if fromArg != "" {
		parsed, err := time.Parse("2006-01-02", fromArg)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from must be YYYY-MM-DD: %w", err)
		}
		from = parsed
	}

	end := from
	if toArg != "" {
		parsed, err := time.Parse("2006-01-02", toArg)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to must be YYYY-MM-DD: %w", err)
		}
		end = parsed
	}
	if end.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to %s is before from %s", end.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	return from, end.Add(24 * time.Hour), nil
}
