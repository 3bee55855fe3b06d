package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/hls-downloader/internal/downloader/domain"
	"github.com/cuongbtq/hls-downloader/internal/downloader/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFakeFFmpeg installs a shell script standing in for the real binary.
// The last argument of the invocation is the output path, matching the real
// argument order.
func writeFakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor arg; do out=\"$arg\"; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func setupJob(t *testing.T, reg *registry.Registry) (domain.Snapshot, context.Context, context.CancelFunc) {
	t.Helper()
	workingDir := filepath.Join(t.TempDir(), "job-1")
	require.NoError(t, os.MkdirAll(workingDir, 0755))

	ctx, cancel := context.WithCancel(context.Background())
	job := domain.NewJob("job-1", "https://example.com/stream.m3u8", workingDir, cancel)
	require.NoError(t, reg.Create(job))
	return job.Snapshot(), ctx, cancel
}

func TestRunner_Run_Success(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `
echo "total_size=524288"
echo "total_size=1048576"
printf 'mp4-data' > "$out"
exit 0`)

	reg := registry.New()
	snap, ctx, cancel := setupJob(t, reg)
	defer cancel()

	var updates []domain.Snapshot
	r := New(Config{FFmpegPath: ffmpeg, JobTimeout: 30 * time.Second}, reg, testLogger(), func(s domain.Snapshot) {
		updates = append(updates, s)
	})
	r.Run(ctx, snap)

	got, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, int64(1048576), got.BytesDownloaded)
	require.NotEmpty(t, got.OutputPath)
	assert.Empty(t, got.Error)

	// Artifact survives, inside the job's own directory
	info, err := os.Stat(got.OutputPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Equal(t, snap.WorkingDir, filepath.Dir(got.OutputPath))

	// Progress updates flowed through the notifier before completion
	require.NotEmpty(t, updates)
	assert.Equal(t, domain.StatusCompleted, updates[len(updates)-1].Status)
}

func TestRunner_Run_ProcessFailure(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `
echo "Connection refused" >&2
exit 1`)

	reg := registry.New()
	snap, ctx, cancel := setupJob(t, reg)
	defer cancel()

	r := New(Config{FFmpegPath: ffmpeg, JobTimeout: 30 * time.Second}, reg, testLogger(), nil)
	r.Run(ctx, snap)

	got, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "Connection refused")

	// Working directory removed on failure
	_, statErr := os.Stat(snap.WorkingDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunner_Run_MissingOutput(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `exit 0`)

	reg := registry.New()
	snap, ctx, cancel := setupJob(t, reg)
	defer cancel()

	r := New(Config{FFmpegPath: ffmpeg, JobTimeout: 30 * time.Second}, reg, testLogger(), nil)
	r.Run(ctx, snap)

	got, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "missing or empty")

	_, statErr := os.Stat(snap.WorkingDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunner_Run_EmptyOutput(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `
: > "$out"
exit 0`)

	reg := registry.New()
	snap, ctx, cancel := setupJob(t, reg)
	defer cancel()

	r := New(Config{FFmpegPath: ffmpeg, JobTimeout: 30 * time.Second}, reg, testLogger(), nil)
	r.Run(ctx, snap)

	got, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "missing or empty")
}

func TestRunner_Run_Timeout(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `
trap 'exit 0' TERM
sleep 60 > /dev/null 2>&1 &
wait $!`)

	reg := registry.New()
	snap, ctx, cancel := setupJob(t, reg)
	defer cancel()

	r := New(Config{
		FFmpegPath:       ffmpeg,
		JobTimeout:       300 * time.Millisecond,
		TerminationGrace: 2 * time.Second,
	}, reg, testLogger(), nil)

	start := time.Now()
	r.Run(ctx, snap)
	assert.Less(t, time.Since(start), 10*time.Second)

	got, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "timed out")

	_, statErr := os.Stat(snap.WorkingDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunner_Run_KillAfterGrace(t *testing.T) {
	// Ignores SIGTERM, so the runner must escalate to SIGKILL
	ffmpeg := writeFakeFFmpeg(t, `
trap '' TERM
sleep 60 > /dev/null 2>&1 &
wait $!
sleep 60`)

	reg := registry.New()
	snap, ctx, cancel := setupJob(t, reg)
	defer cancel()

	r := New(Config{
		FFmpegPath:       ffmpeg,
		JobTimeout:       200 * time.Millisecond,
		TerminationGrace: 200 * time.Millisecond,
	}, reg, testLogger(), nil)

	start := time.Now()
	r.Run(ctx, snap)
	assert.Less(t, time.Since(start), 10*time.Second)

	got, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestRunner_Run_Cancel(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `
trap 'exit 0' TERM
echo "total_size=1024"
sleep 60 > /dev/null 2>&1 &
wait $!`)

	reg := registry.New()
	snap, ctx, cancel := setupJob(t, reg)

	r := New(Config{
		FFmpegPath:       ffmpeg,
		JobTimeout:       time.Minute,
		TerminationGrace: 2 * time.Second,
	}, reg, testLogger(), nil)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		r.Run(ctx, snap)
	}()

	// Wait for the process to be up and reporting progress
	require.Eventually(t, func() bool {
		got, err := reg.Get("job-1")
		return err == nil && got.Status == domain.StatusRunning && got.BytesDownloaded > 0
	}, 5*time.Second, 10*time.Millisecond)

	// Mirror CancelJob: flip the record first, then fire the signal
	_, err := reg.Update("job-1", func(j *domain.Job) {
		j.MarkCancelled()
		j.SignalCancel()
	})
	require.NoError(t, err)
	cancel()

	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not unwind after cancellation")
	}

	got, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	// Directory removal happens after the process is gone
	assert.Eventually(t, func() bool {
		_, statErr := os.Stat(snap.WorkingDir)
		return os.IsNotExist(statErr)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunner_Run_CancelledBeforeSpawn(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `exit 0`)

	reg := registry.New()
	snap, ctx, cancel := setupJob(t, reg)
	cancel()

	r := New(Config{FFmpegPath: ffmpeg, JobTimeout: time.Minute}, reg, testLogger(), nil)
	r.Run(ctx, snap)

	got, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestRunner_Run_ToolVanished(t *testing.T) {
	reg := registry.New()
	snap, ctx, cancel := setupJob(t, reg)
	defer cancel()

	r := New(Config{FFmpegPath: "/nonexistent/ffmpeg", JobTimeout: time.Minute}, reg, testLogger(), nil)
	r.Run(ctx, snap)

	got, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "not available")
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("https://example.com/stream.m3u8", "downloads/job-1/video.mp4")

	assert.Equal(t, []string{
		"-i", "https://example.com/stream.m3u8",
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-y",
		"-timeout", "30000000",
		"-progress", "pipe:1",
		"downloads/job-1/video.mp4",
	}, args)
}
