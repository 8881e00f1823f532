package domain

import "time"

// ProcessingOutcome is the terminal record for a WorkItem. Exactly one is
// produced per item that enters the queue.
type ProcessingOutcome struct {
	Success       bool
	SourcePath    string
	NewPath       string
	DocumentType  string
	Duration      time.Duration
	Error         string
	CorrelationID string
	FinishedAt    time.Time
}

// HealthStatus is the snapshot produced by one health-check cycle.
type HealthStatus struct {
	Healthy             bool
	WatchDirAccessible  bool
	ConfigValid         bool
	CheckedAt           time.Time
	ConsecutiveFailures int
	Details             map[string]any
}

// CircuitSnapshot is a consistent read of the breaker guarding the
// classification service, exposed for health reporting and metrics.
type CircuitSnapshot struct {
	State    string
	Requests uint32
	Failures uint32
}

// AuditRecord is one escalation sent to the operator-alerting channel.
type AuditRecord struct {
	Severity  string            `json:"severity"`
	Component string            `json:"component"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
