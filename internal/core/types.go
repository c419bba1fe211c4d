package core

import (
	"errors"
	"time"
)

// JobState is the lifecycle stage of a processing job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var (
	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("processing job not found")

	// ErrJobCancelled is the failure recorded for a job stopped by Cancel.
	ErrJobCancelled = errors.New("processing cancelled")

	// ErrInvalidRequest is returned when a request lacks a user or file id.
	ErrInvalidRequest = errors.New("user id and file id are required")
)

// Request asks for one stored file to be analysed.
type Request struct {
	UserID string
	FileID string

	// Force reprocesses a file that already has a stored result.
	Force bool
}

// JobStatus is a snapshot of a job, safe to hand to other goroutines.
type JobStatus struct {
	JobID    string   `json:"jobId"`
	UserID   string   `json:"userId"`
	FileID   string   `json:"fileId"`
	FileName string   `json:"fileName"`
	State    JobState `json:"status"`

	Rows        int64 `json:"rowsProcessed"`
	FieldErrors int64 `json:"fieldErrors"`
	BytesRead   int64 `json:"bytesRead"`
	BytesTotal  int64 `json:"bytesTotal"`

	// Cached is set when the job completed by reusing a stored result.
	Cached bool `json:"cached"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`

	// Message is the user-facing rendering of a failure.
	Message string `json:"message,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Percent returns byte-based progress from 0 to 100.
func (s JobStatus) Percent() int {
	if s.State == StateCompleted {
		return 100
	}
	if s.BytesTotal <= 0 {
		return 0
	}
	p := int(s.BytesRead * 100 / s.BytesTotal)
	if p > 100 {
		p = 100
	}
	return p
}
