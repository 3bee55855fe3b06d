package dto

import (
	"testing"
	"time"

	"github.com/cuongbtq/hls-downloader/internal/downloader/domain"
	"github.com/stretchr/testify/assert"
)

func TestFromSnapshot(t *testing.T) {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	t.Run("running job with estimates", func(t *testing.T) {
		d := FromSnapshot(domain.Snapshot{
			ID:              "job-1",
			SourceURL:       "https://example.com/stream.m3u8",
			Status:          domain.StatusRunning,
			BytesDownloaded: 5 * 1024 * 1024,
			SpeedBps:        2.5 * 1024 * 1024,
			ETASeconds:      125,
			StartedAt:       started,
		})

		assert.Equal(t, "job-1", d.JobID)
		assert.Equal(t, "running", d.Status)
		assert.Equal(t, int64(5*1024*1024), d.BytesDownloaded)
		assert.Equal(t, "2.50 MB/s", d.Speed)
		assert.Equal(t, "2:05", d.ETA)
		assert.Empty(t, d.FinishedAt)
	})

	t.Run("estimates not yet known", func(t *testing.T) {
		d := FromSnapshot(domain.Snapshot{
			ID:        "job-1",
			Status:    domain.StatusInitializing,
			StartedAt: started,
		})

		assert.Equal(t, "calculating...", d.Speed)
		assert.Equal(t, "calculating...", d.ETA)
	})

	t.Run("finished job carries timestamps and output", func(t *testing.T) {
		d := FromSnapshot(domain.Snapshot{
			ID:         "job-1",
			Status:     domain.StatusCompleted,
			StartedAt:  started,
			FinishedAt: &finished,
			OutputPath: "downloads/job-1/video.mp4",
		})

		assert.Equal(t, "completed", d.Status)
		assert.Equal(t, started.Format(time.RFC3339), d.StartedAt)
		assert.Equal(t, finished.Format(time.RFC3339), d.FinishedAt)
		assert.Equal(t, "downloads/job-1/video.mp4", d.OutputPath)
	})
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "calculating..."},
		{-1, "calculating..."},
		{5, "0:05"},
		{59, "0:59"},
		{60, "1:00"},
		{125, "2:05"},
		{3605, "60:05"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatETA(tt.seconds))
		})
	}
}

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		bps  float64
		want string
	}{
		{0, "calculating..."},
		{1024 * 1024, "1.00 MB/s"},
		{512 * 1024, "0.50 MB/s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSpeed(tt.bps))
		})
	}
}
