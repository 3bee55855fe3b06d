package domain

import "errors"

var (
	// ErrInvalidInput is returned when the source URL is not an absolute
	// http/https URL. Rejected before any resource is allocated.
	ErrInvalidInput = errors.New("invalid source URL")

	// ErrToolUnavailable is returned when the ffmpeg binary cannot be invoked
	ErrToolUnavailable = errors.New("ffmpeg is not available")

	// ErrNotFound is returned for job ids unknown to the registry
	ErrNotFound = errors.New("job not found")

	// ErrDuplicateID is returned when creating a job whose id already exists
	ErrDuplicateID = errors.New("job id already exists")

	// ErrInvalidState is returned when cancelling a job that is already terminal
	ErrInvalidState = errors.New("job is already in a terminal state")

	// ErrJobFailed is returned by AwaitResult for jobs that ended in failed
	ErrJobFailed = errors.New("job failed")

	// ErrJobCancelled is returned by AwaitResult for jobs that were cancelled
	ErrJobCancelled = errors.New("job cancelled")
)
