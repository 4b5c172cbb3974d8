package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
	"github.com/noah-isme/field-training-api/pkg/lock"
)

// GroupLocker serialises work on training groups and, for placements, on the
// student being placed. Keys are taken in sorted order so two operations
// touching overlapping keys cannot deadlock.
type GroupLocker struct {
	locker  lock.Locker
	metrics *MetricsService
	logger  *zap.Logger
}

// NewGroupLocker wraps a lock backend.
func NewGroupLocker(locker lock.Locker, metrics *MetricsService, logger *zap.Logger) *GroupLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupLocker{locker: locker, metrics: metrics, logger: logger}
}

func groupLockKey(groupID string) string {
	return "group:" + groupID
}

func studentLockKey(studentID string) string {
	return "student:" + studentID
}

// Lock acquires every group lock or none. A timeout surfaces as BUSY.
func (g *GroupLocker) Lock(ctx context.Context, groupIDs ...string) (lock.Release, error) {
	return g.acquire(ctx, "", groupIDs)
}

// LockForStudent also takes the student's lock, so placements of one student
// into different groups of a course run one at a time.
func (g *GroupLocker) LockForStudent(ctx context.Context, studentID string, groupIDs ...string) (lock.Release, error) {
	return g.acquire(ctx, studentID, groupIDs)
}

func (g *GroupLocker) acquire(ctx context.Context, studentID string, groupIDs []string) (lock.Release, error) {
	keys := make([]string, 0, len(groupIDs)+1)
	for _, id := range groupIDs {
		keys = append(keys, groupLockKey(id))
	}
	if studentID != "" {
		keys = append(keys, studentLockKey(studentID))
	}

	start := time.Now()
	release, err := lock.AcquireAll(ctx, g.locker, keys...)
	g.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			g.logger.Warn("group lock timeout", zap.Strings("groups", groupIDs), zap.String("student_id", studentID))
			return nil, appErrors.Wrap(err, appErrors.ErrBusy.Code, appErrors.ErrBusy.Status, appErrors.ErrBusy.Message)
		}
		return nil, appErrors.Internal(err, "failed to acquire group lock")
	}
	return release, nil
}
