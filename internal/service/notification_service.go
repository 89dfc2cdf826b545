package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/lab-booking-api/internal/models"
	"github.com/noah-isme/lab-booking-api/pkg/jobs"
)

const bookingEventJob = "booking.event"

// Broadcaster delivers a payload to realtime subscribers of the given labs.
type Broadcaster interface {
	Broadcast(event interface{}, labs ...string) error
}

// NotificationConfig sizes the dispatch worker pool.
type NotificationConfig struct {
	Enabled    bool
	Workers    int
	BufferSize int
}

// NotificationService emits booking change events off the request path.
// Events are dropped when the buffer is full; delivery is best effort.
type NotificationService struct {
	queue       *jobs.Queue
	broadcaster Broadcaster
	metrics     *MetricsService
	logger      *zap.Logger
	enabled     bool
}

// NewNotificationService wires the dispatch queue to broadcaster.
func NewNotificationService(broadcaster Broadcaster, metrics *MetricsService, cfg NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		enabled:     cfg.Enabled && broadcaster != nil,
	}
	svc.queue = jobs.NewQueue("booking-events", svc.dispatch, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	return svc
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	if s.enabled {
		s.queue.Start(ctx)
	}
}

// Stop drains workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Publish enqueues event without blocking.
func (s *NotificationService) Publish(event models.BookingEvent) {
	if s == nil || !s.enabled {
		return
	}
	if err := s.queue.TryEnqueue(jobs.Job{Type: bookingEventJob, Payload: event}); err != nil {
		s.metrics.RecordEvent(string(event.Action), true)
		if errors.Is(err, jobs.ErrQueueFull) {
			s.logger.Warn("booking event dropped", zap.String("action", string(event.Action)), zap.String("lab_code", event.LabCode))
			return
		}
		s.logger.Debug("booking event not queued", zap.Error(err))
	}
}

func (s *NotificationService) dispatch(_ context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.BookingEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	labs := event.LabCodes
	if event.LabCode != "" {
		labs = []string{event.LabCode}
	}
	if err := s.broadcaster.Broadcast(event, labs...); err != nil {
		return fmt.Errorf("broadcast booking event: %w", err)
	}
	s.metrics.RecordEvent(string(event.Action), false)
	return nil
}
