package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

// memAssignmentQueries serves detail reads straight from memLedger.
type memAssignmentQueries struct {
	mem        *memLedger
	lastFilter models.AssignmentFilter
}

func (q *memAssignmentQueries) FindDetailByID(ctx context.Context, id string) (*models.AssignmentDetail, error) {
	a, err := q.mem.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.AssignmentDetail{Assignment: *a}, nil
}

func (q *memAssignmentQueries) List(ctx context.Context, filter models.AssignmentFilter) ([]models.AssignmentDetail, int, error) {
	q.lastFilter = filter
	var out []models.AssignmentDetail
	for _, a := range q.mem.snapshot() {
		if filter.StudentID != "" && a.StudentID != filter.StudentID {
			continue
		}
		out = append(out, models.AssignmentDetail{Assignment: a})
	}
	return out, len(out), nil
}

func newAssignmentServiceFixture(t *testing.T) (*evaluationFixture, *AssignmentService, *memAssignmentQueries) {
	t.Helper()
	f := newEvaluationFixture(t)
	queries := &memAssignmentQueries{mem: f.mem}
	tracker := NewCapacityTracker(memGroups{f.mem}, nil, 0, nil)
	svc := NewAssignmentService(queries, f.ledger, memGroups{f.mem}, f.svc.directory, tracker, f.activity, nil, nil)
	return f, svc, queries
}

func TestAssignmentListScopesByRole(t *testing.T) {
	f, svc, queries := newAssignmentServiceFixture(t)
	f.register(t, "S2", "G")
	ctx := context.Background()

	items, pagination, err := svc.List(ctx, models.Actor{UserID: "user-S1", Role: models.RoleStudent}, models.AssignmentFilter{StudentID: "S2"})
	require.NoError(t, err)
	assert.Equal(t, "S1", queries.lastFilter.StudentID)
	require.Len(t, items, 1)
	assert.Equal(t, 1, pagination.TotalCount)

	_, _, err = svc.List(ctx, supervisorActor, models.AssignmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, "sup1", queries.lastFilter.SupervisorID)

	_, _, err = svc.List(ctx, models.Actor{UserID: "nobody", Role: models.RoleSupervisor}, models.AssignmentFilter{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, _, err = svc.List(ctx, models.Actor{UserID: "nobody", Role: models.RoleStudent}, models.AssignmentFilter{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	items, _, err = svc.List(ctx, adminActor, models.AssignmentFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestAssignmentGetAuthorization(t *testing.T) {
	f, svc, _ := newAssignmentServiceFixture(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, models.Actor{UserID: "user-S1", Role: models.RoleStudent}, f.assignment.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, models.Actor{UserID: "user-S9", Role: models.RoleStudent}, f.assignment.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = svc.Get(ctx, otherSupervisorActor, f.assignment.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = svc.Get(ctx, adminActor, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestAssignmentCancelByID(t *testing.T) {
	f, svc, _ := newAssignmentServiceFixture(t)
	ctx := context.Background()

	_, err := svc.CancelByID(ctx, supervisorActor, f.assignment.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	cancelled, err := svc.CancelByID(ctx, adminActor, f.assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusCancelled, cancelled.Status)
	assert.Equal(t, 0, f.mem.occupied("G"))

	_, err = svc.CancelByID(ctx, adminActor, f.assignment.ID)
	assert.ErrorIs(t, err, appErrors.ErrAlreadyCancelled)

	_, err = svc.CancelByID(ctx, adminActor, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	assert.Equal(t, []models.ActivityAction{models.ActivityRegister, models.ActivityCancel}, f.activity.actions())
}
