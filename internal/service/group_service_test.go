package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
	"github.com/noah-isme/field-training-api/pkg/lock"
)

// memGroupRepo backs GroupService with memLedger's groups and assignments.
type memGroupRepo struct{ *memLedger }

func (r memGroupRepo) List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, int, error) {
	var out []models.GroupDetail
	for _, g := range r.groupsSnapshot() {
		if filter.CourseID != "" && g.CourseID != filter.CourseID {
			continue
		}
		out = append(out, models.GroupDetail{TrainingGroup: g, CurrentEnrollment: r.occupied(g.ID)})
	}
	return out, len(out), nil
}

func (r memGroupRepo) groupsSnapshot() []models.TrainingGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TrainingGroup, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	return out
}

func (r memGroupRepo) FindByID(ctx context.Context, id string) (*models.TrainingGroup, error) {
	return memGroups{r.memLedger}.FindByID(ctx, id)
}

func (r memGroupRepo) FindDetailByID(ctx context.Context, id string) (*models.GroupDetail, error) {
	g, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.GroupDetail{TrainingGroup: *g, CurrentEnrollment: r.occupied(id)}, nil
}

func (r memGroupRepo) Create(ctx context.Context, group *models.TrainingGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	group.ID = "G-new"
	r.groups[group.ID] = *group
	return nil
}

func (r memGroupRepo) UpdateGuarded(ctx context.Context, group *models.TrainingGroup, check func(current *models.TrainingGroup, occupied int) error) error {
	current, err := r.FindByID(ctx, group.ID)
	if err != nil {
		return err
	}
	if err := check(current, r.occupied(group.ID)); err != nil {
		return err
	}
	group.CourseID = current.CourseID
	r.mu.Lock()
	r.groups[group.ID] = *group
	r.mu.Unlock()
	return nil
}

type groupFixture struct {
	*registrationFixture
	groups *GroupService
}

func newGroupFixture(t *testing.T) *groupFixture {
	t.Helper()
	reg := newRegistrationFixture(t, 50*time.Millisecond)
	reg.mem.addCourse("C", models.CourseStatusActive)
	reg.mem.addCourse("DONE", models.CourseStatusCompleted)
	reg.mem.addGroup("G", "C", 3)
	supervisors := newMockSupervisorRepo(models.Supervisor{ID: "sup1", Active: true})
	tracker := NewCapacityTracker(memGroups{reg.mem}, nil, 0, nil)
	svc := NewGroupService(memGroupRepo{reg.mem}, memCourses{reg.mem}, supervisors, NewGroupLocker(reg.locker, nil, nil), tracker, reg.activity, nil, nil)
	return &groupFixture{registrationFixture: reg, groups: svc}
}

func groupUpdate(capacity int, status models.GroupStatus) UpdateGroupRequest {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	return UpdateGroupRequest{Name: "Group G", Capacity: capacity, StartDate: start, EndDate: start.AddDate(0, 3, 0), Status: status}
}

func TestGroupServiceCreateValidation(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	group, err := f.groups.Create(ctx, CreateGroupRequest{CourseID: "C", SupervisorID: strPtr("sup1"), Name: "North", Capacity: 10, StartDate: start, EndDate: start.AddDate(0, 1, 0)})
	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusUpcoming, group.Status)

	_, err = f.groups.Create(ctx, CreateGroupRequest{CourseID: "C", Name: "Zero", Capacity: 0, StartDate: start, EndDate: start.AddDate(0, 1, 0)})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.groups.Create(ctx, CreateGroupRequest{CourseID: "C", Name: "Backwards", Capacity: 5, StartDate: start, EndDate: start.AddDate(0, 0, -1)})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.groups.Create(ctx, CreateGroupRequest{CourseID: "missing", Name: "X", Capacity: 5, StartDate: start, EndDate: start.AddDate(0, 1, 0)})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.groups.Create(ctx, CreateGroupRequest{CourseID: "DONE", Name: "X", Capacity: 5, StartDate: start, EndDate: start.AddDate(0, 1, 0)})
	assert.ErrorIs(t, err, appErrors.ErrCourseNotOpen)

	_, err = f.groups.Create(ctx, CreateGroupRequest{CourseID: "C", SupervisorID: strPtr("ghost"), Name: "X", Capacity: 5, StartDate: start, EndDate: start.AddDate(0, 1, 0)})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestGroupServiceCapacityCannotDropBelowOccupancy(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()
	f.register(t, "S1", "G")
	f.register(t, "S2", "G")

	_, err := f.groups.Update(ctx, adminActor, "G", groupUpdate(1, ""))
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	updated, err := f.groups.Update(ctx, adminActor, "G", groupUpdate(2, ""))
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Capacity)
	assert.Equal(t, models.GroupStatusUpcoming, updated.Status)

	detail, err := f.groups.Get(ctx, "G")
	require.NoError(t, err)
	assert.Equal(t, 2, detail.CurrentEnrollment)
	assert.Equal(t, 0, detail.AvailableSeats)
}

func TestGroupServiceStatusTransitions(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()

	_, err := f.groups.Update(ctx, adminActor, "G", groupUpdate(3, models.GroupStatusCompleted))
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	_, err = f.groups.Update(ctx, adminActor, "G", groupUpdate(3, models.GroupStatusActive))
	require.NoError(t, err)
	_, err = f.groups.Update(ctx, adminActor, "G", groupUpdate(3, models.GroupStatusCancelled))
	require.NoError(t, err)

	_, err = f.groups.Update(ctx, adminActor, "G", groupUpdate(5, ""))
	assert.ErrorIs(t, err, appErrors.ErrFinalized)

	assert.Equal(t, []models.ActivityAction{models.ActivityGroupStatus, models.ActivityGroupStatus}, f.activity.actions())
}

func TestGroupServiceUpdateBusyWhileLocked(t *testing.T) {
	f := newGroupFixture(t)
	release, err := lock.AcquireAll(context.Background(), f.locker, groupLockKey("G"))
	require.NoError(t, err)
	defer release()

	_, err = f.groups.Update(context.Background(), adminActor, "G", groupUpdate(4, ""))
	assert.ErrorIs(t, err, appErrors.ErrBusy)
}

func TestGroupServiceListFillsAvailableSeats(t *testing.T) {
	f := newGroupFixture(t)
	f.register(t, "S1", "G")

	groups, pagination, err := f.groups.List(context.Background(), models.GroupFilter{CourseID: "C"})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].AvailableSeats)
	assert.Equal(t, 1, pagination.TotalCount)

	availability, cached, err := f.groups.Availability(context.Background(), "G")
	assert.False(t, cached)
	require.NoError(t, err)
	assert.Equal(t, 2, availability.AvailableSeats)
	assert.True(t, availability.HasCapacity)
}
