package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cuongbtq/hls-downloader/internal/api/dto"
	"github.com/cuongbtq/hls-downloader/internal/downloader/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Root handles GET /
// Returns the service banner with tool availability
func (h *DownloadHandler) Root(c *gin.Context) {
	banner := gin.H{
		"service": h.appName,
		"version": h.appVersion,
		"status":  "running",
	}

	if err := h.service.ToolCheck(c.Request.Context()); err != nil {
		banner["ffmpeg_available"] = false
		banner["ffmpeg_error"] = err.Error()
	} else {
		banner["ffmpeg_available"] = true
	}

	c.JSON(http.StatusOK, banner)
}

// Health handles GET /health
func (h *DownloadHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   h.appName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateDownload handles POST /api/v1/downloads
// Starts a new download job and returns immediately with its id
func (h *DownloadHandler) CreateDownload(c *gin.Context) {
	var req dto.CreateDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.service.StartJob(c.Request.Context(), req.URL)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
		case errors.Is(err, domain.ErrToolUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": err.Error(),
			})
		default:
			h.logger.Error("Failed to start job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to start download",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateDownloadResponse{
		JobID:  job.ID,
		Status: string(job.Status),
	})
}

// ListDownloads handles GET /api/v1/downloads
// Lists all known download jobs, newest first
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	jobs := h.service.ListJobs()

	downloads := make([]dto.DownloadStatusDTO, len(jobs))
	for i, job := range jobs {
		downloads[i] = dto.FromSnapshot(job)
	}

	c.JSON(http.StatusOK, dto.ListDownloadsResponse{
		Downloads: downloads,
		Count:     len(downloads),
	})
}

// GetDownload handles GET /api/v1/downloads/:job_id
// Retrieves the current status of a download job
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.service.GetStatus(jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Download not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get download",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromSnapshot(job))
}

// CancelDownload handles POST /api/v1/downloads/:job_id/cancel
// Cancels a download that has not yet reached a terminal state
func (h *DownloadHandler) CancelDownload(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	err := h.service.CancelJob(jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Download not found",
			})
		case errors.Is(err, domain.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Download already finished",
			})
		default:
			h.logger.Error("Failed to cancel job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel download",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": string(domain.StatusCancelled),
	})
}

// DownloadFile handles GET /api/v1/downloads/:job_id/file
// Blocks until the job finishes, then streams the artifact
func (h *DownloadHandler) DownloadFile(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	// The await plus the stream can far outlast the server's write timeout;
	// lift the connection deadline for this response only.
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Warn("Failed to clear write deadline", slog.String("error", err.Error()))
	}

	job, err := h.service.AwaitResult(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Download not found",
			})
		case errors.Is(err, domain.ErrJobCancelled):
			c.JSON(http.StatusGone, gin.H{
				"error": "Download was cancelled",
			})
		case errors.Is(err, domain.ErrJobFailed):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
		default:
			// Client went away while waiting
			c.Abort()
		}
		return
	}

	c.Header("Content-Type", "video/mp4")
	c.FileAttachment(job.OutputPath, filepath.Base(job.OutputPath))
}

// ServeWS handles GET /ws
// Upgrades the connection and attaches it to the progress hub
func (h *DownloadHandler) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.hub.RegisterClient(conn)

	// Drain incoming frames so pings and close messages are processed; the
	// hub owns all writes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.hub.UnregisterClient(conn)
			return
		}
	}
}
