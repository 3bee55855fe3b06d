package domain

import (
	"context"
	"time"
)

// Status is the lifecycle state of a download job
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the mutable state container for one download. It is owned by the
// registry: every mutation happens through a registry update, under the
// registry lock, so the methods below do no locking of their own.
type Job struct {
	ID              string
	SourceURL       string
	Status          Status
	BytesDownloaded int64
	SpeedBps        float64
	ETASeconds      float64
	StartedAt       time.Time
	FinishedAt      *time.Time
	OutputPath      string
	Error           string
	WorkingDir      string

	done   chan struct{}
	cancel context.CancelFunc
}

// NewJob creates a job in initializing state. cancel is the runner's
// cancellation signal, fired when CancelJob flips the record.
func NewJob(id, sourceURL, workingDir string, cancel context.CancelFunc) *Job {
	return &Job{
		ID:         id,
		SourceURL:  sourceURL,
		Status:     StatusInitializing,
		StartedAt:  time.Now(),
		WorkingDir: workingDir,
		done:       make(chan struct{}),
		cancel:     cancel,
	}
}

// Done is closed exactly once, when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// SignalCancel asks the runner to terminate the external process. Safe to
// call at most the registry calls it: the underlying CancelFunc is idempotent.
func (j *Job) SignalCancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// MarkRunning transitions initializing -> running. Returns false if the job
// already left initializing (e.g. cancelled before the process spawned).
func (j *Job) MarkRunning() bool {
	if j.Status != StatusInitializing {
		return false
	}
	j.Status = StatusRunning
	return true
}

// SetProgress overwrites the advisory progress fields. Ignored once the job
// is terminal, and never lets the byte counter go backwards.
func (j *Job) SetProgress(bytes int64, speedBps, etaSeconds float64) {
	if j.Status.Terminal() {
		return
	}
	if bytes > j.BytesDownloaded {
		j.BytesDownloaded = bytes
	}
	j.SpeedBps = speedBps
	j.ETASeconds = etaSeconds
}

// Complete transitions to completed with the validated artifact path.
// Returns false if another terminal transition won the race.
func (j *Job) Complete(outputPath string) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = StatusCompleted
	j.OutputPath = outputPath
	j.finish()
	return true
}

// Fail transitions to failed with a human-readable diagnostic.
func (j *Job) Fail(message string) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = StatusFailed
	j.Error = message
	j.finish()
	return true
}

// MarkCancelled transitions to cancelled.
func (j *Job) MarkCancelled() bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = StatusCancelled
	j.finish()
	return true
}

func (j *Job) finish() {
	now := time.Now()
	j.FinishedAt = &now
	close(j.done)
}

// Snapshot returns a read-only copy safe to hand to concurrent readers.
func (j *Job) Snapshot() Snapshot {
	return Snapshot{
		ID:              j.ID,
		SourceURL:       j.SourceURL,
		Status:          j.Status,
		BytesDownloaded: j.BytesDownloaded,
		SpeedBps:        j.SpeedBps,
		ETASeconds:      j.ETASeconds,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
		OutputPath:      j.OutputPath,
		Error:           j.Error,
		WorkingDir:      j.WorkingDir,
	}
}

// Snapshot is an immutable view of a job record at one point in time.
type Snapshot struct {
	ID              string
	SourceURL       string
	Status          Status
	BytesDownloaded int64
	SpeedBps        float64
	ETASeconds      float64
	StartedAt       time.Time
	FinishedAt      *time.Time
	OutputPath      string
	Error           string
	WorkingDir      string
}
