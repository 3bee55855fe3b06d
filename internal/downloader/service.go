package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuongbtq/hls-downloader/internal/downloader/domain"
	"github.com/cuongbtq/hls-downloader/internal/downloader/registry"
	"github.com/cuongbtq/hls-downloader/internal/downloader/runner"
	"github.com/google/uuid"
)

// Recorder persists terminal job outcomes. Implementations must be safe for
// concurrent use; failures are logged, never surfaced to the job.
type Recorder interface {
	RecordTerminal(ctx context.Context, job domain.Snapshot) error
}

// Publisher emits a lifecycle event for every committed record change.
type Publisher interface {
	PublishJobEvent(ctx context.Context, job domain.Snapshot) error
}

// Broadcaster pushes live job updates to connected clients.
type Broadcaster interface {
	BroadcastJobUpdate(job domain.Snapshot)
}

// Config holds downloader orchestration settings.
type Config struct {
	BaseDir          string
	FFmpegPath       string
	JobTimeout       time.Duration
	TerminationGrace time.Duration
	ReaperInterval   time.Duration
	ReaperRetention  time.Duration
}

// Deps holds the service's collaborators. Recorder, Publisher, and
// Broadcaster are optional; nil disables the corresponding sink.
type Deps struct {
	Logger      *slog.Logger
	Recorder    Recorder
	Publisher   Publisher
	Broadcaster Broadcaster
}

// Service is the job orchestration core: it owns the registry, spawns one
// runner goroutine per job, and exposes the start/status/cancel/await
// operations consumed by the HTTP layer.
type Service struct {
	cfg         Config
	logger      *slog.Logger
	reg         *registry.Registry
	run         *runner.Runner
	recorder    Recorder
	publisher   Publisher
	broadcaster Broadcaster

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	// sinks tracks the detached archive/event deliveries so Shutdown does
	// not close their clients underneath them.
	sinks sync.WaitGroup
}

// New creates the service and starts its background reaper (when enabled by
// config). Call Shutdown to stop in-flight jobs and background tasks.
func New(cfg Config, deps Deps) *Service {
	baseCtx, stop := context.WithCancel(context.Background())

	s := &Service{
		cfg:         cfg,
		logger:      deps.Logger,
		reg:         registry.New(),
		recorder:    deps.Recorder,
		publisher:   deps.Publisher,
		broadcaster: deps.Broadcaster,
		baseCtx:     baseCtx,
		stop:        stop,
	}
	s.run = runner.New(runner.Config{
		FFmpegPath:       cfg.FFmpegPath,
		JobTimeout:       cfg.JobTimeout,
		TerminationGrace: cfg.TerminationGrace,
	}, s.reg, deps.Logger, s.notify)

	if cfg.ReaperInterval > 0 && cfg.ReaperRetention > 0 {
		s.wg.Add(1)
		go s.reapLoop()
	}

	return s
}

// Registry exposes the underlying registry for read-side collaborators.
func (s *Service) Registry() *registry.Registry {
	return s.reg
}

// StartJob validates the source URL, allocates a job record and working
// directory, and begins asynchronous execution. The caller gets the job id
// back immediately; progress is tracked through GetStatus.
func (s *Service) StartJob(ctx context.Context, sourceURL string) (domain.Snapshot, error) {
	if err := validateSourceURL(sourceURL); err != nil {
		return domain.Snapshot{}, err
	}

	// Rejecting here keeps ToolUnavailable free of partial state: no record
	// and no directory exist yet.
	if _, err := exec.LookPath(s.cfg.FFmpegPath); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrToolUnavailable, err)
	}

	jobID := uuid.New().String()
	workingDir := filepath.Join(s.cfg.BaseDir, jobID)

	jobCtx, cancel := context.WithCancel(s.baseCtx)
	job := domain.NewJob(jobID, sourceURL, workingDir, cancel)

	if err := os.MkdirAll(workingDir, 0755); err != nil {
		cancel()
		return domain.Snapshot{}, fmt.Errorf("failed to create working directory: %w", err)
	}

	if err := s.reg.Create(job); err != nil {
		cancel()
		_ = os.RemoveAll(workingDir)
		return domain.Snapshot{}, err
	}

	snap := job.Snapshot()
	s.logger.Info("Job created",
		slog.String("job_id", jobID),
		slog.String("url", sourceURL),
	)
	s.notify(snap)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run.Run(jobCtx, snap)
	}()

	return snap, nil
}

// GetStatus returns the latest committed view of the job record.
func (s *Service) GetStatus(jobID string) (domain.Snapshot, error) {
	return s.reg.Get(jobID)
}

// ListJobs returns snapshots of every known job, newest first.
func (s *Service) ListJobs() []domain.Snapshot {
	return s.reg.List()
}

// CancelJob synchronously flips the record to cancelled, then signals the
// runner; a status read after a successful return never observes running
// again. Process termination and directory removal complete asynchronously
// in the runner but are guaranteed to occur.
func (s *Service) CancelJob(jobID string) error {
	cancelled := false
	snap, err := s.reg.Update(jobID, func(j *domain.Job) {
		if j.Status.Terminal() {
			return
		}
		cancelled = j.MarkCancelled()
		j.SignalCancel()
	})
	if err != nil {
		return err
	}
	if !cancelled {
		return domain.ErrInvalidState
	}

	s.logger.Info("Job cancelled", slog.String("job_id", jobID))
	s.notify(snap)
	return nil
}

// AwaitResult blocks the calling goroutine until the job reaches a terminal
// state, then returns the snapshot on completion or an error carrying the
// stored diagnostic for failed/cancelled jobs.
func (s *Service) AwaitResult(ctx context.Context, jobID string) (domain.Snapshot, error) {
	done, err := s.reg.Done(jobID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	select {
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	case <-done:
	}

	snap, err := s.reg.Get(jobID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	switch snap.Status {
	case domain.StatusCompleted:
		return snap, nil
	case domain.StatusCancelled:
		return snap, domain.ErrJobCancelled
	default:
		return snap, fmt.Errorf("%w: %s", domain.ErrJobFailed, snap.Error)
	}
}

// ToolCheck reports whether the configured ffmpeg binary is invocable.
func (s *Service) ToolCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cfg.FFmpegPath, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrToolUnavailable, err)
	}
	return nil
}

// Shutdown cancels all in-flight jobs and waits for runners, background
// tasks, and in-flight sink deliveries to finish, bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.sinks.Wait()
		close(finished)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-finished:
		return nil
	}
}

// notify fans a committed record change out to the observers. The broadcast
// is synchronous and cheap; archive and event sinks run detached so a slow
// integration never blocks a runner's progress loop.
func (s *Service) notify(snap domain.Snapshot) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastJobUpdate(snap)
	}

	if s.publisher != nil {
		s.sinks.Add(1)
		go func() {
			defer s.sinks.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.publisher.PublishJobEvent(ctx, snap); err != nil {
				s.logger.Warn("Failed to publish job event",
					slog.String("job_id", snap.ID),
					slog.Any("error", err),
				)
			}
		}()
	}

	if snap.Status.Terminal() && s.recorder != nil {
		s.sinks.Add(1)
		go func() {
			defer s.sinks.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.recorder.RecordTerminal(ctx, snap); err != nil {
				s.logger.Warn("Failed to archive job outcome",
					slog.String("job_id", snap.ID),
					slog.Any("error", err),
				)
			}
		}()
	}
}

// reapLoop evicts long-terminal records so the in-memory registry does not
// grow without bound over the process lifetime.
func (s *Service) reapLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			if removed := s.reg.Reap(s.cfg.ReaperRetention); removed > 0 {
				s.logger.Info("Reaped terminal jobs",
					slog.Int("count", removed),
					slog.Duration("retention", s.cfg.ReaperRetention),
				)
			}
		}
	}
}

// validateSourceURL accepts only syntactically well-formed absolute
// http/https URLs.
func validateSourceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", domain.ErrInvalidInput)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", domain.ErrInvalidInput)
	}
	return nil
}
