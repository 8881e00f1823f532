package pdfimage

import (
	"errors"
	"testing"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

func TestDualEngineFailureSeverity(t *testing.T) {
	busy := dualEngineFailure("extract pages",
		errors.New("open: the file is being used by another process"))
	if !domain.IsKind(busy, domain.ErrTransient) {
		t.Errorf("file-in-use failure tagged %v, want transient", busy)
	}

	broken := dualEngineFailure("extract pages",
		errors.New("both engines failed: primary: no PDF header; fallback: malformed xref"))
	if !domain.IsKind(broken, domain.ErrPermanent) {
		t.Errorf("malformed-document failure tagged %v, want permanent", broken)
	}
	if domain.IsKind(broken, domain.ErrTransient) {
		t.Error("malformed-document failure must not be retried")
	}
}
