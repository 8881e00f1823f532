package resilience

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

// Classify maps an arbitrary failure into the four-level severity taxonomy.
// Errors already tagged with a domain kind win; everything else falls back to
// structural and textual inspection.
func Classify(err error) domain.Severity {
	if err == nil {
		return domain.SeverityTransient
	}

	switch {
	case errors.Is(err, domain.ErrFatal):
		return domain.SeverityFatal
	case errors.Is(err, domain.ErrCritical):
		return domain.SeverityCritical
	case errors.Is(err, domain.ErrPermanent):
		return domain.SeverityPermanent
	case errors.Is(err, domain.ErrTransient):
		return domain.SeverityTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.SeverityTransient
	}
	if errors.Is(err, context.Canceled) {
		return domain.SeverityPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.SeverityTransient
	}

	if errors.Is(err, fs.ErrPermission) || errors.Is(err, os.ErrPermission) {
		return domain.SeverityPermanent
	}
	if errors.Is(err, fs.ErrNotExist) {
		return domain.SeverityPermanent
	}

	msg := strings.ToLower(err.Error())

	for _, indicator := range transientIndicators {
		if strings.Contains(msg, indicator) {
			return domain.SeverityTransient
		}
	}
	for _, indicator := range fatalIndicators {
		if strings.Contains(msg, indicator) {
			return domain.SeverityFatal
		}
	}
	for _, indicator := range criticalIndicators {
		if strings.Contains(msg, indicator) {
			return domain.SeverityCritical
		}
	}

	return domain.SeverityPermanent
}

// ShouldRetry reports whether attempt n (1-based) of a fallible operation
// that failed with err may be retried. Only transient failures are retried.
func (e *Executor) ShouldRetry(err error, attempt int) bool {
	if attempt >= e.cfg.MaxAttempts {
		return false
	}
	return Classify(err) == domain.SeverityTransient
}

var transientIndicators = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"network",
	"rate limit",
	"too many requests",
	"status: 429",
	"status: 503",
	"sharing violation",
	"being used by another process",
	"temporarily unavailable",
	"resource busy",
}

var criticalIndicators = []string{
	"no space left",
	"disk full",
	"service unavailable",
	"circuit breaker is open",
}

var fatalIndicators = []string{
	"out of memory",
	"cannot write log",
}
