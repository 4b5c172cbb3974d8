package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

const (
	availabilityKeyPrefix  = "availability:group:"
	availabilityKeyPattern = availabilityKeyPrefix + "*"
)

// AvailabilityCacheKey returns the cache key of a group's availability read model.
func AvailabilityCacheKey(groupID string) string {
	return availabilityKeyPrefix + groupID
}

// AvailableSeats is capacity minus occupied seats, never negative.
func AvailableSeats(group *models.TrainingGroup, occupied int) int {
	if group == nil {
		return 0
	}
	seats := group.Capacity - occupied
	if seats < 0 {
		return 0
	}
	return seats
}

// HasCapacity reports whether at least one seat is free.
func HasCapacity(group *models.TrainingGroup, occupied int) bool {
	return AvailableSeats(group, occupied) > 0
}

type occupancyReader interface {
	FindByID(ctx context.Context, id string) (*models.TrainingGroup, error)
	CountOccupied(ctx context.Context, groupID string) (int, error)
}

// CapacityTracker serves group availability. Counts always come from the
// assignment ledger; the cache only holds a short-lived copy that every ledger
// mutation invalidates.
type CapacityTracker struct {
	groups occupancyReader
	cache  *CacheService
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

// NewCapacityTracker constructs a CapacityTracker. cache may be nil.
func NewCapacityTracker(groups occupancyReader, cache *CacheService, ttl time.Duration, logger *zap.Logger) *CapacityTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityTracker{groups: groups, cache: cache, ttl: ttl, clock: time.Now, logger: logger}
}

// Availability returns the capacity read model for a group.
func (t *CapacityTracker) Availability(ctx context.Context, groupID string) (*models.GroupAvailability, error) {
	availability, _, err := t.Lookup(ctx, groupID)
	return availability, err
}

// Lookup is Availability that also reports whether the cache served it.
func (t *CapacityTracker) Lookup(ctx context.Context, groupID string) (*models.GroupAvailability, bool, error) {
	key := AvailabilityCacheKey(groupID)
	var cached models.GroupAvailability
	if hit, _ := t.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	group, err := t.groups.FindByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, false, appErrors.Internal(err, "failed to load group")
	}
	occupied, err := t.groups.CountOccupied(ctx, groupID)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to count group occupancy")
	}

	availability := &models.GroupAvailability{
		GroupID:           group.ID,
		CourseID:          group.CourseID,
		Capacity:          group.Capacity,
		CurrentEnrollment: occupied,
		AvailableSeats:    AvailableSeats(group, occupied),
		HasCapacity:       HasCapacity(group, occupied),
		ComputedAt:        t.clock().UTC(),
	}
	_ = t.cache.Set(ctx, key, availability, t.ttl)
	return availability, false, nil
}

// Invalidate drops cached availability of the given groups.
func (t *CapacityTracker) Invalidate(ctx context.Context, groupIDs ...string) {
	if len(groupIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(groupIDs))
	for _, id := range groupIDs {
		keys = append(keys, AvailabilityCacheKey(id))
	}
	if err := t.cache.Delete(ctx, keys...); err != nil {
		t.logger.Warn("availability invalidation failed", zap.Strings("groups", groupIDs), zap.Error(err))
	}
}

// InvalidateAll drops every cached availability entry.
func (t *CapacityTracker) InvalidateAll(ctx context.Context) {
	if err := t.cache.Invalidate(ctx, availabilityKeyPattern); err != nil {
		t.logger.Warn("availability invalidation failed", zap.Error(err))
	}
}
