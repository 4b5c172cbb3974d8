package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
	"github.com/noah-isme/field-training-api/pkg/jobs"
	"github.com/noah-isme/field-training-api/pkg/middleware/requestid"
)

type activityRepository interface {
	Insert(ctx context.Context, event *models.ActivityEvent) error
	List(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityEvent, int, error)
}

type activityRecorder interface {
	Record(ctx context.Context, actor models.Actor, action models.ActivityAction, entityType, entityID string, payload interface{})
}

// ActivityConfig sizes the delivery worker pool.
type ActivityConfig struct {
	Workers    int
	BufferSize int
	Retries    int
	RetryDelay time.Duration
}

// ActivityService records one event per committed state transition. Events
// are delivered by a background queue; when the queue is saturated or stopped
// the event is written inline instead.
type ActivityService struct {
	repo    activityRepository
	queue   *jobs.Queue
	retries int
	metrics *MetricsService
	clock   func() time.Time
	logger  *zap.Logger
}

// NewActivityService constructs the service and its delivery queue.
func NewActivityService(repo activityRepository, cfg ActivityConfig, metrics *MetricsService, logger *zap.Logger) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	s := &ActivityService{repo: repo, retries: cfg.Retries, metrics: metrics, clock: time.Now, logger: logger}
	s.queue = jobs.NewQueue("activity", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *ActivityService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop flushes buffered events and stops the workers.
func (s *ActivityService) Stop() {
	s.queue.Stop()
}

// Record emits an event. It never fails the caller: the transition it
// describes has already committed.
func (s *ActivityService) Record(ctx context.Context, actor models.Actor, action models.ActivityAction, entityType, entityID string, payload interface{}) {
	event := &models.ActivityEvent{
		ID:         uuid.NewString(),
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		RequestID:  requestid.FromContext(ctx),
		CreatedAt:  s.clock().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			s.logger.Warn("activity payload not encodable", zap.String("action", string(action)), zap.Error(err))
		} else {
			event.Payload = raw
		}
	}

	if err := s.queue.TryEnqueue(jobs.Job{ID: event.ID, Type: string(action), Payload: event}); err == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.repo.Insert(writeCtx, event); err != nil {
		s.metrics.RecordActivityDropped()
		s.logger.Error("activity event dropped",
			zap.String("action", string(action)),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

func (s *ActivityService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(*models.ActivityEvent)
	if !ok {
		s.logger.Error("unexpected activity job payload", zap.String("job_id", job.ID))
		return nil
	}
	if err := s.repo.Insert(ctx, event); err != nil {
		if job.Attempt >= s.retries {
			s.metrics.RecordActivityDropped()
		}
		return err
	}
	return nil
}

// List returns recorded events with pagination metadata.
func (s *ActivityService) List(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityEvent, *models.Pagination, error) {
	events, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list activity")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return events, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
