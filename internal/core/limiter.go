package core

// limiter.go bounds how many logs are parsed at once.
//
// Slots are a buffered channel used as a semaphore. A caller that cannot get
// a slot waits up to maxWait and then fails with ErrTooManyJobs. WaitForDrain
// lets shutdown block until every running parse has released its slot.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyJobs is returned when every processing slot stays busy for the
// whole wait period. Clients should retry after a short delay.
var ErrTooManyJobs = errors.New("too many concurrent processing jobs, please try again later")

const (
	DefaultMaxConcurrentJobs = 5
	DefaultMaxWaitTime       = 30 * time.Second
)

// JobLimiter is a counting semaphore with a bounded wait.
type JobLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
	idle   chan struct{} // closed while active == 0
}

// NewJobLimiter allows maxConcurrent parses at once. Non-positive arguments
// select the defaults.
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	idle := make(chan struct{})
	close(idle)
	return &JobLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		idle:    idle,
	}
}

// Acquire takes a slot, waiting at most maxWait. Every successful Acquire
// must be paired with exactly one Release.
func (l *JobLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyJobs
	}
}

// Release returns a slot taken by Acquire.
func (l *JobLimiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 {
		close(l.idle)
	}
	l.mu.Unlock()
	<-l.slots
}

func (l *JobLimiter) inc() {
	l.mu.Lock()
	if l.active == 0 {
		l.idle = make(chan struct{})
	}
	l.active++
	l.mu.Unlock()
}

// ActiveCount returns the number of slots in use.
func (l *JobLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// WaitForDrain blocks until no slot is in use or ctx is done.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LimiterStatus is a snapshot for monitoring.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current slot usage.
func (l *JobLimiter) Status() LimiterStatus {
	active := l.ActiveCount()
	return LimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}
