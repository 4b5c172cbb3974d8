package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

type memCourses struct{ *memLedger }

func (c memCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	course, ok := c.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &course, nil
}

type memEvaluations struct {
	byAssignment map[string]models.Evaluation
}

func (m *memEvaluations) FindByAssignment(ctx context.Context, assignmentID string) (*models.Evaluation, error) {
	e, ok := m.byAssignment[assignmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (m *memEvaluations) Upsert(ctx context.Context, evaluation *models.Evaluation) error {
	if existing, ok := m.byAssignment[evaluation.AssignmentID]; ok {
		evaluation.ID = existing.ID
	} else {
		evaluation.ID = "eval-" + evaluation.AssignmentID
	}
	m.byAssignment[evaluation.AssignmentID] = *evaluation
	return nil
}

type evaluationFixture struct {
	*registrationFixture
	evaluations *memEvaluations
	svc         *EvaluationService
	assignment  *models.Assignment
}

var (
	supervisorActor      = models.Actor{UserID: "user-sup1", Role: models.RoleSupervisor}
	otherSupervisorActor = models.Actor{UserID: "user-sup2", Role: models.RoleSupervisor}
)

func newEvaluationFixture(t *testing.T) *evaluationFixture {
	t.Helper()
	reg := newRegistrationFixture(t, time.Second)
	reg.mem.addCourse("C", models.CourseStatusActive)
	reg.mem.addGroup("G", "C", 5)
	reg.mem.mu.Lock()
	g := reg.mem.groups["G"]
	g.SupervisorID = strPtr("sup1")
	reg.mem.groups["G"] = g
	reg.mem.mu.Unlock()
	assignment := reg.register(t, "S1", "G")

	supervisors := newMockSupervisorRepo(
		models.Supervisor{ID: "sup1", UserID: strPtr("user-sup1"), Active: true},
		models.Supervisor{ID: "sup2", UserID: strPtr("user-sup2"), Active: true},
	)
	evaluations := &memEvaluations{byAssignment: make(map[string]models.Evaluation)}
	directory := NewActorDirectory(reg.students, supervisors)
	svc := NewEvaluationService(evaluations, reg.mem, memGroups{reg.mem}, memCourses{reg.mem}, directory, reg.activity, nil, nil)
	return &evaluationFixture{registrationFixture: reg, evaluations: evaluations, svc: svc, assignment: assignment}
}

func grades(attendance, behavior, exam float64) EvaluationRequest {
	return EvaluationRequest{AttendanceGrade: &attendance, BehaviorGrade: &behavior, FinalExamGrade: &exam}
}

func TestEvaluationUpsertComputesFinalGrade(t *testing.T) {
	f := newEvaluationFixture(t)

	evaluation, err := f.svc.Upsert(context.Background(), supervisorActor, f.assignment.ID, grades(80, 90, 70))
	require.NoError(t, err)
	assert.InDelta(t, 78.0, evaluation.FinalGrade, 1e-9)
	assert.Equal(t, "user-sup1", evaluation.EvaluatedBy)

	again, err := f.svc.Upsert(context.Background(), adminActor, f.assignment.ID, grades(100, 100, 100))
	require.NoError(t, err)
	assert.Equal(t, evaluation.ID, again.ID)
	assert.InDelta(t, 100.0, again.FinalGrade, 1e-9)

	assert.Equal(t, []models.ActivityAction{models.ActivityRegister, models.ActivityEvaluate, models.ActivityEvaluate}, f.activity.actions())
}

func TestEvaluationUpsertRejections(t *testing.T) {
	f := newEvaluationFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upsert(ctx, supervisorActor, f.assignment.ID, EvaluationRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Upsert(ctx, supervisorActor, f.assignment.ID, grades(101, 50, 50))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Upsert(ctx, supervisorActor, "missing", grades(50, 50, 50))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Upsert(ctx, otherSupervisorActor, f.assignment.ID, grades(50, 50, 50))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Upsert(ctx, models.Actor{UserID: "user-S1", Role: models.RoleStudent}, f.assignment.ID, grades(50, 50, 50))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	f.mem.mu.Lock()
	c := f.mem.courses["C"]
	c.Archived = true
	f.mem.courses["C"] = c
	f.mem.mu.Unlock()
	_, err = f.svc.Upsert(ctx, adminActor, f.assignment.ID, grades(50, 50, 50))
	assert.ErrorIs(t, err, appErrors.ErrFinalized)
}

func TestEvaluationRejectsCancelledAssignment(t *testing.T) {
	f := newEvaluationFixture(t)
	_, err := f.ledger.Cancel(context.Background(), f.assignment.ID)
	require.NoError(t, err)

	_, err = f.svc.Upsert(context.Background(), adminActor, f.assignment.ID, grades(50, 50, 50))
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
}

func TestEvaluationGetAuthorization(t *testing.T) {
	f := newEvaluationFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, adminActor, f.assignment.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Upsert(ctx, adminActor, f.assignment.ID, grades(60, 60, 60))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, models.Actor{UserID: "user-S1", Role: models.RoleStudent}, f.assignment.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, models.Actor{UserID: "user-S2", Role: models.RoleStudent}, f.assignment.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Get(ctx, supervisorActor, f.assignment.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, otherSupervisorActor, f.assignment.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Get(ctx, models.Actor{UserID: "x", Role: "GUEST"}, f.assignment.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}
