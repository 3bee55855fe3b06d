package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/hls-downloader/internal/downloader/domain"
	"github.com/cuongbtq/hls-downloader/shared/rabbitmq"
)

// JobEvent is the wire shape published for every committed job update.
type JobEvent struct {
	JobID           string    `json:"job_id"`
	SourceURL       string    `json:"source_url"`
	Status          string    `json:"status"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	SpeedBps        float64   `json:"speed_bps,omitempty"`
	ETASeconds      float64   `json:"eta_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	OutputPath      string    `json:"output_path,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// eventSink is the slice of the broker client the publisher needs.
type eventSink interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher emits job lifecycle events to RabbitMQ so external consumers
// can follow downloads without polling the HTTP API.
type Publisher struct {
	client eventSink
	logger *slog.Logger
}

// NewPublisher creates a publisher on top of the shared RabbitMQ client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// PublishJobEvent serializes and publishes one event. Delivery is
// best-effort with the client's retry/backoff policy.
func (p *Publisher) PublishJobEvent(ctx context.Context, job domain.Snapshot) error {
	event := JobEvent{
		JobID:           job.ID,
		SourceURL:       job.SourceURL,
		Status:          string(job.Status),
		BytesDownloaded: job.BytesDownloaded,
		SpeedBps:        job.SpeedBps,
		ETASeconds:      job.ETASeconds,
		Error:           job.Error,
		OutputPath:      job.OutputPath,
		Timestamp:       time.Now(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}

	p.logger.Debug("Job event published",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
	return nil
}
