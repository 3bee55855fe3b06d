package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cuongbtq/hls-downloader/internal/downloader/domain"
	"github.com/cuongbtq/hls-downloader/internal/downloader/progress"
	"github.com/cuongbtq/hls-downloader/internal/downloader/registry"
)

// Config holds the knobs for driving one external ffmpeg process.
type Config struct {
	FFmpegPath       string
	JobTimeout       time.Duration
	TerminationGrace time.Duration
}

// Runner drives a single job from initializing to a terminal state: it
// spawns ffmpeg, pipes its progress output into the parser and estimator,
// applies updates to the job record, enforces cancellation and the
// wall-clock ceiling, and cleans up the working directory on every exit
// path except a successful completion handoff.
type Runner struct {
	cfg    Config
	reg    *registry.Registry
	logger *slog.Logger
	notify func(domain.Snapshot)
}

// New creates a runner. notify is invoked after every committed record
// change (progress refresh or status transition) and may be nil.
func New(cfg Config, reg *registry.Registry, logger *slog.Logger, notify func(domain.Snapshot)) *Runner {
	if cfg.TerminationGrace <= 0 {
		cfg.TerminationGrace = 5 * time.Second
	}
	return &Runner{
		cfg:    cfg,
		reg:    reg,
		logger: logger,
		notify: notify,
	}
}

// Run executes the job to a terminal state. ctx carries the cooperative
// cancellation signal fired by CancelJob (and service shutdown); the
// configured job timeout is layered on top. Run never returns before the
// external process has been reaped and cleanup has happened.
func (r *Runner) Run(ctx context.Context, job domain.Snapshot) {
	keepDir := false
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic while running job",
				slog.String("job_id", job.ID),
				slog.Any("panic", rec),
			)
			r.transition(job.ID, func(j *domain.Job) bool {
				return j.Fail(fmt.Sprintf("internal error: %v", rec))
			})
		}
		if !keepDir {
			if err := os.RemoveAll(job.WorkingDir); err != nil {
				r.logger.Error("Failed to remove working directory",
					slog.String("job_id", job.ID),
					slog.String("working_dir", job.WorkingDir),
					slog.Any("error", err),
				)
			}
		}
	}()

	// Tool availability is re-checked here: StartJob already verified it, but
	// the binary may have vanished between the check and the spawn.
	if _, err := exec.LookPath(r.cfg.FFmpegPath); err != nil {
		r.transition(job.ID, func(j *domain.Job) bool {
			return j.Fail(fmt.Sprintf("ffmpeg is not available: %v", err))
		})
		return
	}

	// Cancelled before anything was spawned.
	if ctx.Err() != nil {
		r.transition(job.ID, func(j *domain.Job) bool { return j.MarkCancelled() })
		return
	}

	procCtx := ctx
	var cancelTimeout context.CancelFunc
	if r.cfg.JobTimeout > 0 {
		procCtx, cancelTimeout = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancelTimeout()
	}

	outputPath := filepath.Join(job.WorkingDir, outputFileName())
	args := ffmpegArgs(job.SourceURL, outputPath)

	cmd := exec.Command(r.cfg.FFmpegPath, args...)
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.transition(job.ID, func(j *domain.Job) bool {
			return j.Fail(fmt.Sprintf("failed to open ffmpeg stdout: %v", err))
		})
		return
	}

	if err := cmd.Start(); err != nil {
		r.transition(job.ID, func(j *domain.Job) bool {
			return j.Fail(fmt.Sprintf("failed to start ffmpeg: %v", err))
		})
		return
	}

	r.logger.Info("Download started",
		slog.String("job_id", job.ID),
		slog.String("url", job.SourceURL),
		slog.Int("pid", cmd.Process.Pid),
	)

	r.transition(job.ID, func(j *domain.Job) bool { return j.MarkRunning() })

	// The reader goroutine must keep draining stdout or the child stalls on a
	// full pipe buffer; record updates are brief map writes, so it keeps pace.
	estimator := progress.NewEstimator(job.StartedAt)
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		r.consumeProgress(job.ID, estimator, stdout)
	}()

	// Wait must not run before the stdout reader is finished with the pipe.
	exited := make(chan error, 1)
	go func() {
		readers.Wait()
		exited <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-exited:
	case <-procCtx.Done():
		waitErr = r.terminate(job.ID, cmd, exited)
	}

	timedOut := procCtx.Err() != nil && errors.Is(procCtx.Err(), context.DeadlineExceeded)
	cancelled := ctx.Err() != nil

	switch {
	case cancelled:
		// CancelJob already flipped the record; this is a no-op safety net for
		// shutdown-driven cancellation.
		r.transition(job.ID, func(j *domain.Job) bool { return j.MarkCancelled() })
		r.logger.Info("Download cancelled", slog.String("job_id", job.ID))

	case timedOut:
		r.transition(job.ID, func(j *domain.Job) bool {
			return j.Fail(fmt.Sprintf("download timed out after %s", r.cfg.JobTimeout))
		})
		r.logger.Warn("Download timed out",
			slog.String("job_id", job.ID),
			slog.Duration("timeout", r.cfg.JobTimeout),
		)

	case waitErr == nil:
		// Exit code zero is not enough: the artifact must exist and be
		// non-empty before the job may claim completion.
		info, statErr := os.Stat(outputPath)
		if statErr != nil || info.Size() == 0 {
			r.transition(job.ID, func(j *domain.Job) bool {
				return j.Fail("ffmpeg exited successfully but the output file is missing or empty")
			})
			return
		}
		completed := false
		r.transition(job.ID, func(j *domain.Job) bool {
			completed = j.Complete(outputPath)
			return completed
		})
		// Ownership of the artifact passes to the caller; the directory is
		// only kept when the completed transition actually won.
		keepDir = completed
		if completed {
			r.logger.Info("Download completed",
				slog.String("job_id", job.ID),
				slog.String("output", outputPath),
				slog.Int64("size", info.Size()),
			)
		}

	default:
		diagnostic := strings.TrimSpace(stderr.String())
		if diagnostic == "" {
			diagnostic = waitErr.Error()
		}
		r.transition(job.ID, func(j *domain.Job) bool {
			return j.Fail(fmt.Sprintf("download failed: %s", diagnostic))
		})
		r.logger.Error("Download failed",
			slog.String("job_id", job.ID),
			slog.Any("error", waitErr),
		)
	}
}

// consumeProgress reads the process output line by line until EOF, feeding
// byte-count samples through the estimator into the record.
func (r *Runner) consumeProgress(jobID string, estimator *progress.Estimator, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		bytes, ok := progress.ParseLine(scanner.Text())
		if !ok {
			continue
		}
		est := estimator.Sample(time.Now(), bytes)

		var speed, eta float64
		if est.HasSpeed {
			speed = est.SpeedBps
		}
		if est.HasETA {
			eta = est.ETASeconds
		}
		snap, err := r.reg.Update(jobID, func(j *domain.Job) {
			j.SetProgress(bytes, speed, eta)
		})
		if err == nil && r.notify != nil {
			r.notify(snap)
		}
	}
}

// terminate asks the process to stop gracefully and escalates to SIGKILL
// after the configured grace, so a hung ffmpeg cannot starve the job slot.
func (r *Runner) terminate(jobID string, cmd *exec.Cmd, exited <-chan error) error {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		r.logger.Warn("Failed to signal ffmpeg",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	select {
	case err := <-exited:
		return err
	case <-time.After(r.cfg.TerminationGrace):
		r.logger.Warn("ffmpeg did not exit within grace period, killing",
			slog.String("job_id", jobID),
			slog.Duration("grace", r.cfg.TerminationGrace),
		)
		_ = cmd.Process.Kill()
		return <-exited
	}
}

// transition applies a terminal-or-running state change and notifies
// observers only when the mutation actually took effect.
func (r *Runner) transition(jobID string, fn func(*domain.Job) bool) {
	changed := false
	snap, err := r.reg.Update(jobID, func(j *domain.Job) {
		changed = fn(j)
	})
	if err == nil && changed && r.notify != nil {
		r.notify(snap)
	}
}

// ffmpegArgs builds the invocation used by the service: stream copy into an
// MP4 container with progress key/value output on stdout.
func ffmpegArgs(sourceURL, outputPath string) []string {
	return []string{
		"-i", sourceURL,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-y",
		"-timeout", "30000000",
		"-progress", "pipe:1",
		outputPath,
	}
}

// outputFileName derives the artifact name from the wall clock, unique
// within one job's private directory.
func outputFileName() string {
	return "video_" + time.Now().Format("20060102_150405") + ".mp4"
}
