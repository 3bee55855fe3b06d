package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusInitializing, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}
}

func TestJob_Lifecycle(t *testing.T) {
	t.Run("new job starts initializing", func(t *testing.T) {
		job := NewJob("job-1", "https://example.com/stream.m3u8", "downloads/job-1", nil)

		assert.Equal(t, StatusInitializing, job.Status)
		assert.False(t, job.StartedAt.IsZero())
		assert.Nil(t, job.FinishedAt)

		select {
		case <-job.Done():
			t.Fatal("done channel closed before any terminal transition")
		default:
		}
	})

	t.Run("mark running only from initializing", func(t *testing.T) {
		job := NewJob("job-1", "https://example.com/stream.m3u8", "downloads/job-1", nil)

		assert.True(t, job.MarkRunning())
		assert.Equal(t, StatusRunning, job.Status)

		assert.False(t, job.MarkRunning())
	})

	t.Run("complete closes done and records output", func(t *testing.T) {
		job := NewJob("job-1", "https://example.com/stream.m3u8", "downloads/job-1", nil)
		job.MarkRunning()

		require.True(t, job.Complete("downloads/job-1/video.mp4"))
		assert.Equal(t, StatusCompleted, job.Status)
		assert.Equal(t, "downloads/job-1/video.mp4", job.OutputPath)
		require.NotNil(t, job.FinishedAt)

		select {
		case <-job.Done():
		default:
			t.Fatal("done channel not closed after completion")
		}
	})

	t.Run("first terminal transition wins", func(t *testing.T) {
		job := NewJob("job-1", "https://example.com/stream.m3u8", "downloads/job-1", nil)
		job.MarkRunning()

		require.True(t, job.Fail("boom"))
		assert.False(t, job.Complete("out.mp4"))
		assert.False(t, job.MarkCancelled())
		assert.False(t, job.Fail("boom again"))

		assert.Equal(t, StatusFailed, job.Status)
		assert.Equal(t, "boom", job.Error)
		assert.Empty(t, job.OutputPath)
	})

	t.Run("cancel before running", func(t *testing.T) {
		job := NewJob("job-1", "https://example.com/stream.m3u8", "downloads/job-1", nil)

		require.True(t, job.MarkCancelled())
		assert.Equal(t, StatusCancelled, job.Status)
		assert.False(t, job.MarkRunning())
	})
}

func TestJob_SetProgress(t *testing.T) {
	t.Run("updates advisory fields", func(t *testing.T) {
		job := NewJob("job-1", "https://example.com/stream.m3u8", "downloads/job-1", nil)
		job.MarkRunning()

		job.SetProgress(2048, 512.0, 30.0)
		assert.Equal(t, int64(2048), job.BytesDownloaded)
		assert.Equal(t, 512.0, job.SpeedBps)
		assert.Equal(t, 30.0, job.ETASeconds)
	})

	t.Run("byte counter never goes backwards", func(t *testing.T) {
		job := NewJob("job-1", "https://example.com/stream.m3u8", "downloads/job-1", nil)
		job.MarkRunning()

		job.SetProgress(4096, 0, 0)
		job.SetProgress(1024, 0, 0)
		assert.Equal(t, int64(4096), job.BytesDownloaded)
	})

	t.Run("ignored after terminal transition", func(t *testing.T) {
		job := NewJob("job-1", "https://example.com/stream.m3u8", "downloads/job-1", nil)
		job.MarkRunning()
		job.SetProgress(1024, 0, 0)
		require.True(t, job.MarkCancelled())

		job.SetProgress(9999, 100, 100)
		assert.Equal(t, int64(1024), job.BytesDownloaded)
	})
}

func TestJob_SignalCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := NewJob("job-1", "https://example.com/stream.m3u8", "downloads/job-1", cancel)

	job.SignalCancel()
	job.SignalCancel()

	assert.Error(t, ctx.Err())
}

func TestJob_Snapshot(t *testing.T) {
	job := NewJob("job-1", "https://example.com/stream.m3u8", "downloads/job-1", nil)
	job.MarkRunning()
	job.SetProgress(2048, 512.0, 30.0)

	snap := job.Snapshot()
	assert.Equal(t, "job-1", snap.ID)
	assert.Equal(t, "https://example.com/stream.m3u8", snap.SourceURL)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, int64(2048), snap.BytesDownloaded)
	assert.Equal(t, "downloads/job-1", snap.WorkingDir)

	// Later mutations must not leak into an already-taken snapshot
	job.Fail("boom")
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Empty(t, snap.Error)
}
