package models

import (
	"fmt"
	"time"
)

// Status enumerates job lifecycle states. Transitions are strictly forward:
// pending -> running -> {completed, failed}, pending/running -> cancelled.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// statusRank orders statuses so a transition is legal only when the rank
// strictly increases. The three terminal states share the top rank.
var statusRank = map[string]int{
	StatusPending:   0,
	StatusRunning:   1,
	StatusCompleted: 2,
	StatusFailed:    2,
	StatusCancelled: 2,
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// ValidTransition reports whether from -> to is a legal forward edge.
func ValidTransition(from, to string) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// Priority tiers, highest first. Within a tier dispatch is FIFO.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Priorities lists tiers in dequeue order.
var Priorities = []string{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// PriorityIndex maps a priority to its tier index (0 = urgent).
func PriorityIndex(priority string) (int, bool) {
	for i, p := range Priorities {
		if p == priority {
			return i, true
		}
	}
	return 0, false
}

// Input describes the media to transcribe. SHA256 may be pre-computed by the
// host (e.g. taken during upload); when empty the scheduler hashes Path itself.
type Input struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
}

// Options are the transcription parameters that participate in the fingerprint.
type Options struct {
	Language    string  `json:"language,omitempty"`
	Model       string  `json:"model,omitempty"`
	Translate   bool    `json:"translate,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Segment is one timed span of transcript text.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Result is the payload produced by a successful transcription.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// Job is a point-in-time snapshot of a job record.
type Job struct {
	ID              string     `json:"id"`
	Fingerprint     string     `json:"fingerprint"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	Attempts        int        `json:"attempts"`
	CancelRequested bool       `json:"cancel_requested"`
	Input           Input      `json:"input"`
	Options         Options    `json:"options"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Result          *Result    `json:"result,omitempty"`
	Error           *JobError  `json:"error,omitempty"`
}

// Error kinds classify job failures for programmatic handling.
const (
	KindInvalidInput        = "invalid_input"
	KindResourceLoadFailure = "resource_load_failure"
	KindTimeout             = "timeout"
	KindExecutionFailure    = "execution_failure"
)

// JobError carries a stable kind plus a human-readable message.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewJobError builds a classified error.
func NewJobError(kind, format string, args ...any) *JobError {
	return &JobError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Retryable reports whether a failure kind qualifies for another attempt.
// Execution failures are retried once; invalid input never retries.
func (e *JobError) Retryable(attempt int) bool {
	switch e.Kind {
	case KindTimeout, KindResourceLoadFailure:
		return true
	case KindExecutionFailure:
		return attempt < 2
	default:
		return false
	}
}
