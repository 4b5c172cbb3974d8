package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/field-training-api/internal/models"
)

type lifecycleSweeper interface {
	SweepLifecycle(ctx context.Context, now time.Time) (activated, completed []string, err error)
}

// LifecycleScheduler periodically moves groups along their date window:
// UPCOMING groups become ACTIVE on their start date and open groups become
// COMPLETED on their end date.
type LifecycleScheduler struct {
	sweeper  lifecycleSweeper
	capacity *CapacityTracker
	activity activityRecorder
	schedule string
	timeout  time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	cron     *cron.Cron
}

// NewLifecycleScheduler constructs the scheduler. schedule uses cron syntax,
// including descriptors such as "@every 15m".
func NewLifecycleScheduler(sweeper lifecycleSweeper, capacity *CapacityTracker, activity activityRecorder, schedule string, logger *zap.Logger) *LifecycleScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = "@every 15m"
	}
	return &LifecycleScheduler{
		sweeper:  sweeper,
		capacity: capacity,
		activity: activity,
		schedule: schedule,
		timeout:  time.Minute,
		clock:    time.Now,
		logger:   logger,
	}
}

// Start registers the sweep and starts the cron runner. Overlapping runs are skipped.
func (s *LifecycleScheduler) Start() error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("lifecycle sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info("lifecycle sweep scheduled", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the runner and waits for a running sweep to finish.
func (s *LifecycleScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce performs one sweep and reports the groups it changed.
func (s *LifecycleScheduler) RunOnce(ctx context.Context) (activated, completed []string, err error) {
	activated, completed, err = s.sweeper.SweepLifecycle(ctx, s.clock().UTC())
	if err != nil {
		return nil, nil, err
	}
	if len(activated) == 0 && len(completed) == 0 {
		return activated, completed, nil
	}

	s.capacity.Invalidate(ctx, append(append([]string(nil), activated...), completed...)...)
	for _, id := range activated {
		s.record(ctx, id, models.GroupStatusUpcoming, models.GroupStatusActive)
	}
	for _, id := range completed {
		s.record(ctx, id, "", models.GroupStatusCompleted)
	}
	s.logger.Info("lifecycle sweep applied", zap.Int("activated", len(activated)), zap.Int("completed", len(completed)))
	return activated, completed, nil
}

func (s *LifecycleScheduler) record(ctx context.Context, groupID string, from, to models.GroupStatus) {
	if s.activity == nil {
		return
	}
	payload := map[string]interface{}{"to": to, "trigger": "schedule"}
	if from != "" {
		payload["from"] = from
	}
	s.activity.Record(ctx, models.SystemActor, models.ActivityGroupStatus, models.EntityGroup, groupID, payload)
}
