package domain

import (
	"errors"
	"fmt"
)

// Severity drives the retry/skip/escalate/stop decision for a failure.
type Severity int

const (
	SeverityTransient Severity = iota
	SeverityPermanent
	SeverityCritical
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityTransient:
		return "transient"
	case SeverityPermanent:
		return "permanent"
	case SeverityCritical:
		return "critical"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrTransient = errors.New("transient failure")
	ErrPermanent = errors.New("permanent failure")
	ErrCritical  = errors.New("critical failure")
	ErrFatal     = errors.New("fatal failure")

	// ErrDocumentInvalid marks documents rejected by pre-flight validation
	// (missing, empty, unreadable by every engine). Such files are left
	// under their original name instead of being renamed to ERROR_.
	ErrDocumentInvalid = errors.New("document invalid")
)

// WrapError preserves typed severity kinds with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
