package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JonMunkholm/bidlog/internal/logparse"
)

// job is the mutable state behind a JobStatus.
type job struct {
	mu        sync.Mutex
	status    JobStatus
	cancel    context.CancelFunc
	cancelled bool
	listeners []chan JobStatus
	done      chan struct{}
}

func newJob(id, userID, fileID, fileName string, size int64, now time.Time) *job {
	return &job{
		status: JobStatus{
			JobID:      id,
			UserID:     userID,
			FileID:     fileID,
			FileName:   fileName,
			State:      StatePending,
			BytesTotal: size,
			CreatedAt:  now,
		},
		cancel: func() {},
		done:   make(chan struct{}),
	}
}

func (j *job) snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// subscribe registers a listener and sends it the current state. The
// channel is closed when the job finishes.
func (j *job) subscribe() <-chan JobStatus {
	ch := make(chan JobStatus, 10)

	j.mu.Lock()
	defer j.mu.Unlock()

	ch <- j.status
	if j.status.State.Terminal() {
		close(ch)
		return ch
	}
	j.listeners = append(j.listeners, ch)
	return ch
}

// notifyLocked sends the current state to every listener without blocking.
// A slow listener misses intermediate updates. Caller holds j.mu.
func (j *job) notifyLocked() {
	for _, ch := range j.listeners {
		select {
		case ch <- j.status:
		default:
		}
	}
}

func (j *job) setRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status.State = StateRunning
	j.notifyLocked()
}

func (j *job) progress(p logparse.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status.Rows = p.Rows
	j.status.BytesRead = p.BytesRead
	j.notifyLocked()
}

// requestCancel marks the job as cancelled by the caller and stops its context.
// It returns false if the job had already finished.
func (j *job) requestCancel() bool {
	j.mu.Lock()
	if j.status.State.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.cancelled = true
	cancel := j.cancel
	j.mu.Unlock()

	cancel()
	return true
}

func (j *job) wasCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

func (j *job) complete(stats logparse.Stats, cached bool, now time.Time) {
	j.finish(func(s *JobStatus) {
		s.State = StateCompleted
		s.Rows = stats.Rows
		s.FieldErrors = stats.FieldErrors
		if stats.BytesRead > 0 {
			s.BytesRead = stats.BytesRead
		}
		s.Cached = cached
	}, now)
}

func (j *job) fail(err error, now time.Time) {
	state := StateFailed
	if errors.Is(err, ErrJobCancelled) {
		state = StateCancelled
	}
	msg := MapError(err)
	j.finish(func(s *JobStatus) {
		s.State = state
		s.Error = err.Error()
		s.ErrorCode = msg.Code
		s.Message = FormatUserError(err)
	}, now)
}

// finish applies the terminal update once, notifies and closes listeners.
func (j *job) finish(update func(*JobStatus), now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.State.Terminal() {
		return
	}
	update(&j.status)
	j.status.FinishedAt = now
	j.notifyLocked()
	for _, ch := range j.listeners {
		close(ch)
	}
	j.listeners = nil
	close(j.done)
}
