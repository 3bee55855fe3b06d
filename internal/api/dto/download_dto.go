package dto

import (
	"fmt"
	"time"

	"github.com/cuongbtq/hls-downloader/internal/downloader/domain"
)

type CreateDownloadRequest struct {
	URL string `json:"url" binding:"required"`
}

type CreateDownloadResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListDownloadsResponse struct {
	Downloads []DownloadStatusDTO `json:"downloads"`
	Count     int                 `json:"count"`
}

type DownloadStatusDTO struct {
	JobID           string `json:"job_id"`
	URL             string `json:"url"`
	Status          string `json:"status"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
	Speed           string `json:"speed"`
	ETA             string `json:"eta"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at,omitempty"`
	OutputPath      string `json:"output_path,omitempty"`
	Error           string `json:"error,omitempty"`
}

// FromSnapshot converts a job record into its wire representation.
func FromSnapshot(job domain.Snapshot) DownloadStatusDTO {
	d := DownloadStatusDTO{
		JobID:           job.ID,
		URL:             job.SourceURL,
		Status:          string(job.Status),
		BytesDownloaded: job.BytesDownloaded,
		Speed:           formatSpeed(job.SpeedBps),
		ETA:             formatETA(job.ETASeconds),
		StartedAt:       job.StartedAt.Format(time.RFC3339),
		OutputPath:      job.OutputPath,
		Error:           job.Error,
	}
	if job.FinishedAt != nil {
		d.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return d
}

// formatSpeed renders bytes/sec as "12.34 MB/s", or a placeholder before
// the first estimate arrives.
func formatSpeed(bps float64) string {
	if bps <= 0 {
		return "calculating..."
	}
	return fmt.Sprintf("%.2f MB/s", bps/(1024*1024))
}

// formatETA renders seconds as "M:SS", or a placeholder while the estimate
// is still unknown.
func formatETA(seconds float64) string {
	if seconds <= 0 {
		return "calculating..."
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
