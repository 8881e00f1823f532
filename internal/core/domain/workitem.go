package domain

import (
	"time"

	"github.com/google/uuid"
)

type ItemState string

const (
	StateQueued      ItemState = "queued"
	StateExtracting  ItemState = "extracting"
	StateClassifying ItemState = "classifying"
	StatePlacing     ItemState = "placing"
	StateSucceeded   ItemState = "succeeded"
	StateSkipped     ItemState = "skipped_permanent"
	StateAbandoned   ItemState = "abandoned"
)

// Terminal reports whether the state ends the item's lifecycle.
func (s ItemState) Terminal() bool {
	switch s {
	case StateSucceeded, StateSkipped, StateAbandoned:
		return true
	default:
		return false
	}
}

// WorkItem is one file in flight. It is owned exclusively by the processing
// coordinator from enqueue to terminal outcome and never shared.
type WorkItem struct {
	SourcePath    string
	DetectedAt    time.Time
	State         ItemState
	Attempts      int
	CorrelationID string
}

func NewWorkItem(sourcePath string) *WorkItem {
	return &WorkItem{
		SourcePath:    sourcePath,
		DetectedAt:    time.Now(),
		State:         StateQueued,
		CorrelationID: uuid.NewString(),
	}
}

// ExtractedPage is one rasterized page derived from a WorkItem's source.
// The sequence is ordered by Index; PageNumber is the 1-based source page.
type ExtractedPage struct {
	Index      int
	PageNumber int
	Data       []byte
	TempPath   string
}
