package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bidlog/internal/filestore"
	"github.com/JonMunkholm/bidlog/internal/logparse"
	"github.com/JonMunkholm/bidlog/internal/metrics"
	"github.com/JonMunkholm/bidlog/internal/store"
)

const (
	DefaultJobTimeout   = 10 * time.Minute
	DefaultJobRetention = 5 * time.Minute
)

// FileSource hands out stored uploads. *filestore.Store satisfies it.
type FileSource interface {
	Stat(userID, fileID string) (filestore.FileInfo, error)
	Open(userID, fileID string) (io.ReadCloser, error)
	Delete(userID, fileID string) error
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	MaxConcurrent    int
	MaxWait          time.Duration
	JobTimeout       time.Duration
	JobRetention     time.Duration
	ProgressInterval int
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// Service runs log analyses as background jobs and serves their results.
type Service struct {
	files     FileSource
	results   store.ResultStore
	limiter   *JobLimiter
	timeout   time.Duration
	retention time.Duration
	interval  int
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu   sync.RWMutex
	jobs map[string]*job
}

// NewService creates a Service reading uploads from files and persisting
// summaries to results.
func NewService(files FileSource, results store.ResultStore, opts Options) *Service {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.JobRetention <= 0 {
		opts.JobRetention = DefaultJobRetention
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		files:     files,
		results:   results,
		limiter:   NewJobLimiter(opts.MaxConcurrent, opts.MaxWait),
		timeout:   opts.JobTimeout,
		retention: opts.JobRetention,
		interval:  opts.ProgressInterval,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		jobs:      make(map[string]*job),
	}
}

// Process starts analysing a stored file and returns the new job's status.
//
// A file with an unsupported extension yields a job that has already
// failed. A file that already has a stored result yields a completed job
// unless req.Force is set. Otherwise Process waits for a processing slot
// and fails with ErrTooManyJobs if none frees up in time.
func (s *Service) Process(ctx context.Context, req Request) (JobStatus, error) {
	if req.UserID == "" || req.FileID == "" {
		return JobStatus{}, ErrInvalidRequest
	}

	info, err := s.files.Stat(req.UserID, req.FileID)
	if err != nil {
		return JobStatus{}, err
	}

	if err := CheckFormat(info.Name); err != nil {
		j := s.register(req, info, nil)
		j.fail(err, time.Now().UTC())
		st := j.snapshot()
		s.metrics.JobSkipped(string(StateFailed))
		s.log.Info("rejected log file",
			"job_id", st.JobID,
			"user_id", req.UserID,
			"file_id", req.FileID,
			"file_name", info.Name,
		)
		s.cleanup(st.JobID)
		return st, nil
	}

	if !req.Force {
		done, err := s.results.Exists(ctx, req.UserID, req.FileID)
		if err != nil {
			return JobStatus{}, fmt.Errorf("check existing result: %w", err)
		}
		if done {
			j := s.register(req, info, nil)
			j.complete(logparse.Stats{}, true, time.Now().UTC())
			st := j.snapshot()
			s.metrics.JobSkipped(string(StateCompleted))
			s.cleanup(st.JobID)
			return st, nil
		}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return JobStatus{}, err
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	j := s.register(req, info, cancel)

	go s.run(jobCtx, cancel, j, info)

	return j.snapshot(), nil
}

func (s *Service) register(req Request, info filestore.FileInfo, cancel context.CancelFunc) *job {
	id := uuid.NewString()
	j := newJob(id, req.UserID, req.FileID, info.Name, info.Size, time.Now().UTC())
	if cancel != nil {
		j.cancel = cancel
	}
	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()
	return j
}

// run parses the file and saves the result. It owns a limiter slot.
func (s *Service) run(ctx context.Context, cancel context.CancelFunc, j *job, info filestore.FileInfo) {
	st := j.snapshot()
	log := s.log.With(
		"job_id", st.JobID,
		"user_id", st.UserID,
		"file_id", st.FileID,
	)

	defer s.limiter.Release()
	defer cancel()
	defer s.cleanup(st.JobID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in processing job", "panic", r)
			j.fail(fmt.Errorf("internal error: %v", r), time.Now().UTC())
			s.metrics.JobFinished(string(StateFailed))
		}
	}()

	s.metrics.JobStarted()
	j.setRunning()
	log.Info("processing started", "file_name", info.Name, "size", info.Size)

	report, stats, err := s.analyse(ctx, j, info, log)
	if err == nil {
		err = s.results.Save(ctx, report)
	}
	if err != nil && j.wasCancelled() {
		err = ErrJobCancelled
	}

	if err != nil {
		j.fail(err, time.Now().UTC())
		final := j.snapshot()
		s.metrics.JobFinished(string(final.State))
		log.Warn("processing failed",
			"status", final.State,
			"error", err,
			"code", final.ErrorCode,
		)
		return
	}

	j.complete(stats, false, time.Now().UTC())
	s.metrics.JobFinished(string(StateCompleted))
	s.metrics.ParseCompleted(stats.Rows, stats.FieldErrors, stats.BytesRead, stats.Duration)
	log.Info("processing completed",
		"rows", stats.Rows,
		"field_errors", stats.FieldErrors,
		"duration", stats.Duration,
	)
}

func (s *Service) analyse(ctx context.Context, j *job, info filestore.FileInfo, log *slog.Logger) (*store.Report, logparse.Stats, error) {
	rc, err := s.files.Open(info.UserID, info.ID)
	if err != nil {
		return nil, logparse.Stats{}, err
	}
	defer rc.Close()

	p := logparse.Parser{
		Logger:           log,
		OnProgress:       j.progress,
		ProgressInterval: s.interval,
	}
	sum, stats, err := p.Parse(ctx, rc, info.Size)
	if err != nil {
		return nil, stats, err
	}

	return &store.Report{
		FileID:      info.ID,
		UserID:      info.UserID,
		FileName:    info.Name,
		ProcessedAt: time.Now().UTC().Truncate(time.Microsecond),
		Summary:     sum,
	}, stats, nil
}

// cleanup forgets a job once the retention period has passed.
func (s *Service) cleanup(jobID string) {
	time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}

func (s *Service) job(jobID string) (*job, error) {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return j, nil
}

// Status returns the current state of a job without blocking.
func (s *Service) Status(jobID string) (JobStatus, error) {
	j, err := s.job(jobID)
	if err != nil {
		return JobStatus{}, err
	}
	return j.snapshot(), nil
}

// Wait blocks until the job finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, jobID string) (JobStatus, error) {
	j, err := s.job(jobID)
	if err != nil {
		return JobStatus{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Subscribe returns a channel of status updates. The first value is the
// current state; the channel is closed when the job finishes.
func (s *Service) Subscribe(jobID string) (<-chan JobStatus, error) {
	j, err := s.job(jobID)
	if err != nil {
		return nil, err
	}
	return j.subscribe(), nil
}

// Cancel stops a running job. Nothing is persisted for a cancelled job.
// Cancelling a finished job is a no-op.
func (s *Service) Cancel(jobID string) error {
	j, err := s.job(jobID)
	if err != nil {
		return err
	}
	if j.requestCancel() {
		s.log.Info("processing cancel requested", "job_id", jobID)
	}
	return nil
}

// CancelAll stops every running job. Used when shutdown runs out of time.
func (s *Service) CancelAll() {
	s.mu.RLock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	for _, j := range jobs {
		j.requestCancel()
	}
}

// Result loads the stored analysis of a file.
func (s *Service) Result(ctx context.Context, userID, fileID string) (*store.Report, error) {
	r, err := s.results.Load(ctx, userID, fileID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load result: %w", err)
	}
	return r, err
}

// IsProcessed reports whether a file has a stored analysis.
func (s *Service) IsProcessed(ctx context.Context, userID, fileID string) (bool, error) {
	return s.results.Exists(ctx, userID, fileID)
}

// Delete removes a stored file together with its analysis. Jobs still
// running on the file are cancelled and awaited first, so none can save a
// result after the delete.
func (s *Service) Delete(ctx context.Context, userID, fileID string) error {
	if userID == "" || fileID == "" {
		return ErrInvalidRequest
	}
	if _, err := s.files.Stat(userID, fileID); err != nil {
		return err
	}
	if err := s.stopFileJobs(ctx, userID, fileID); err != nil {
		return err
	}
	if err := s.results.Delete(ctx, userID, fileID); err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	if err := s.files.Delete(userID, fileID); err != nil {
		return err
	}
	s.log.Info("file deleted", "user_id", userID, "file_id", fileID)
	return nil
}

func (s *Service) stopFileJobs(ctx context.Context, userID, fileID string) error {
	s.mu.RLock()
	var running []*job
	for _, j := range s.jobs {
		st := j.snapshot()
		if st.UserID == userID && st.FileID == fileID && !st.State.Terminal() {
			running = append(running, j)
		}
	}
	s.mu.RUnlock()

	for _, j := range running {
		j.requestCancel()
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// WaitForJobs blocks until no job is parsing or ctx is done.
func (s *Service) WaitForJobs(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// LimiterStatus reports processing slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}
