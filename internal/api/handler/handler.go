package handler

import (
	"log/slog"

	"github.com/cuongbtq/hls-downloader/internal/downloader"
	"github.com/cuongbtq/hls-downloader/internal/ws"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Service    *downloader.Service
	Hub        *ws.Hub
	AppName    string
	AppVersion string
}

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	logger     *slog.Logger
	service    *downloader.Service
	hub        *ws.Hub
	appName    string
	appVersion string
}

// NewDownloadHandler creates a new DownloadHandler instance
func NewDownloadHandler(deps *Dependencies) *DownloadHandler {
	return &DownloadHandler{
		logger:     deps.Logger,
		service:    deps.Service,
		hub:        deps.Hub,
		appName:    deps.AppName,
		appVersion: deps.AppVersion,
	}
}
