package router

import (
	"github.com/cuongbtq/hls-downloader/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	downloadHandler := handler.NewDownloadHandler(deps)

	// Service banner and health check
	r.GET("/", downloadHandler.Root)
	r.GET("/health", downloadHandler.Health)

	// Live progress stream
	r.GET("/ws", downloadHandler.ServeWS)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		downloads := v1.Group("/downloads")
		{
			// POST /api/v1/downloads - Start a new download job
			downloads.POST("", downloadHandler.CreateDownload)

			// GET /api/v1/downloads - List all download jobs
			downloads.GET("", downloadHandler.ListDownloads)

			// GET /api/v1/downloads/:job_id - Get download status
			downloads.GET("/:job_id", downloadHandler.GetDownload)

			// POST /api/v1/downloads/:job_id/cancel - Cancel a download
			downloads.POST("/:job_id/cancel", downloadHandler.CancelDownload)

			// GET /api/v1/downloads/:job_id/file - Wait for and fetch the artifact
			downloads.GET("/:job_id/file", downloadHandler.DownloadFile)
		}
	}

	return r
}
