// Package jobs tracks translation jobs through a monotonic state
// machine. The registry is in-memory and volatile; it hides behind the
// Registry methods so a durable implementation can replace it without
// touching callers.
package jobs

import (
	"errors"
	"time"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusTimeout marks jobs whose deadline lapsed while running. It
	// is deliberately distinct from StatusFailed so operators can tell
	// slow jobs from broken ones.
	StatusTimeout Status = "timeout"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// allowed transitions; terminal states absorb.
func (s Status) canTransitionTo(to Status) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return to == StatusRunning || to.Terminal()
	case StatusRunning:
		return to.Terminal()
	}
	return false
}

var (
	// ErrNotFound indicates the job id is unknown.
	ErrNotFound = errors.New("jobs: not found")
	// ErrDuplicate indicates the job id is already registered.
	ErrDuplicate = errors.New("jobs: duplicate id")
	// ErrTerminal indicates the job already reached a terminal state.
	ErrTerminal = errors.New("jobs: job is terminal")
	// ErrBadTransition indicates the requested transition is not part
	// of the state machine.
	ErrBadTransition = errors.New("jobs: invalid transition")
)

// Job is one translation job record.
type Job struct {
	ID              string    `json:"job_id"`
	Status          Status    `json:"status"`
	SourceContainer string    `json:"source_container"`
	SourceBlob      string    `json:"source_blob"`
	TargetContainer string    `json:"target_container"`
	TargetBlob      string    `json:"target_blob"`
	SourceLanguage  string    `json:"source_language,omitempty"`
	TargetLanguage  string    `json:"target_language"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Deadline        time.Time `json:"deadline"`

	DocumentsTotal     int `json:"documents_total"`
	DocumentsCompleted int `json:"documents_completed"`
	DocumentsFailed    int `json:"documents_failed"`

	ErrorMessage string `json:"error_message,omitempty"`
	// OperationID is the external translation service's operation id,
	// once the batch has been accepted.
	OperationID string `json:"operation_id,omitempty"`
}

// Progress returns percent complete clamped to [0, 100], 0 when no
// documents are counted. Services have been seen reporting more
// completions than the announced total.
func (j Job) Progress() float64 {
	if j.DocumentsTotal <= 0 {
		return 0
	}
	pct := float64(j.DocumentsCompleted) / float64(j.DocumentsTotal) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
