package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/metrics"
)

var ErrJobNotFailed = errors.New("download job has not failed")

// Runner is the part of Downloader the service drives.
type Runner interface {
	Download(ctx context.Context, job domain.DownloadJob, cb Callbacks) (Result, error)
}

type ServiceOption func(*Service)

// WithUpdateHook is called with a snapshot after every state change.
func WithUpdateHook(fn func(domain.DownloadState)) ServiceOption {
	return func(s *Service) { s.onUpdate = fn }
}

func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service keeps a registry of download jobs and runs each one on its own
// goroutine. Jobs are not persisted.
type Service struct {
	runner   Runner
	logger   *slog.Logger
	onUpdate func(domain.DownloadState)
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*domain.DownloadState
}

func NewService(runner Runner, opts ...ServiceOption) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*domain.DownloadState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the job and begins downloading it in the background.
func (s *Service) Start(job domain.DownloadJob) (domain.DownloadState, error) {
	if strings.TrimSpace(job.URL) == "" {
		return domain.DownloadState{}, fmt.Errorf("%w: url is required", domain.ErrInvalidArgument)
	}
	if err := s.ctx.Err(); err != nil {
		return domain.DownloadState{}, err
	}
	job.ID = uuid.NewString()
	now := s.now()
	state := &domain.DownloadState{
		Job:       job,
		Status:    domain.DownloadPending,
		StartedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = state
	snapshot := *state
	s.mu.Unlock()

	s.notify(snapshot)
	s.run(job)
	return snapshot, nil
}

// Retry restarts a failed job under the same id. Jobs that are still running
// or already succeeded are left alone.
func (s *Service) Retry(id string) (domain.DownloadState, error) {
	if err := s.ctx.Err(); err != nil {
		return domain.DownloadState{}, err
	}
	s.mu.Lock()
	state, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return domain.DownloadState{}, domain.ErrNotFound
	}
	if state.Status != domain.DownloadFailed {
		s.mu.Unlock()
		return domain.DownloadState{}, ErrJobNotFailed
	}
	state.Status = domain.DownloadPending
	state.Error = ""
	state.Progress = domain.DownloadProgress{}
	state.StartedAt = s.now()
	state.UpdatedAt = state.StartedAt
	job := state.Job
	snapshot := *state
	s.mu.Unlock()

	s.logger.Info("download retry requested", slog.String("jobId", id))
	s.notify(snapshot)
	s.run(job)
	return snapshot, nil
}

func (s *Service) Get(id string) (domain.DownloadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.jobs[id]
	if !ok {
		return domain.DownloadState{}, domain.ErrNotFound
	}
	return *state, nil
}

// List returns every known job, most recently started first.
func (s *Service) List() []domain.DownloadState {
	s.mu.RLock()
	out := make([]domain.DownloadState, 0, len(s.jobs))
	for _, state := range s.jobs {
		out = append(out, *state)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Job.ID < out[j].Job.ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Close cancels running jobs and waits for their goroutines to return.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) run(job domain.DownloadJob) {
	s.wg.Add(1)
	metrics.DownloadActiveJobs.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.DownloadActiveJobs.Dec()

		s.update(job.ID, func(st *domain.DownloadState) {
			st.Status = domain.DownloadRunning
		})
		_, _ = s.runner.Download(s.ctx, job, Callbacks{
			OnProgress: func(p domain.DownloadProgress) {
				s.update(job.ID, func(st *domain.DownloadState) {
					st.Progress = p
				})
			},
			OnSuccess: func(res Result) {
				s.update(job.ID, func(st *domain.DownloadState) {
					st.Status = domain.DownloadSucceeded
					st.Filename = res.Filename
				})
			},
			OnFailure: func(err error) {
				s.update(job.ID, func(st *domain.DownloadState) {
					st.Status = domain.DownloadFailed
					st.Error = err.Error()
				})
			},
		})
	}()
}

func (s *Service) update(id string, fn func(*domain.DownloadState)) {
	s.mu.Lock()
	state, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	fn(state)
	state.UpdatedAt = s.now()
	snapshot := *state
	s.mu.Unlock()
	s.notify(snapshot)
}

func (s *Service) notify(state domain.DownloadState) {
	if s.onUpdate != nil {
		s.onUpdate(state)
	}
}
