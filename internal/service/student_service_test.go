package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/field-training-api/internal/models"
	"github.com/noah-isme/field-training-api/internal/repository"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

type mockStudentRepo struct {
	students    map[string]*models.Student
	createErr   error
	deactivated []string
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{students: make(map[string]*models.Student)}
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *s
	return &copied, nil
}

func (m *mockStudentRepo) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	for _, s := range m.students {
		if s.UserID != nil && *s.UserID == userID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) ExistsByNumber(ctx context.Context, number string, excludeID string) (bool, error) {
	for id, s := range m.students {
		if s.StudentNumber == number && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.createErr != nil {
		return m.createErr
	}
	student.ID = fmt.Sprintf("s-%d", len(m.students)+1)
	copied := *student
	m.students[student.ID] = &copied
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	copied := *student
	m.students[student.ID] = &copied
	return nil
}

func (m *mockStudentRepo) Deactivate(ctx context.Context, id string) error {
	m.students[id].Active = false
	m.deactivated = append(m.deactivated, id)
	return nil
}

func validStudentRequest(number string) CreateStudentRequest {
	return CreateStudentRequest{StudentNumber: number, FullName: "Sari", Email: "sari@example.com", FacultyID: "f1", MajorID: "m1", LevelID: "l1"}
}

func TestStudentServiceCreate(t *testing.T) {
	repo := newMockStudentRepo()
	svc := NewStudentService(repo, validator.New(), zap.NewNop())

	student, err := svc.Create(context.Background(), validStudentRequest("2024001"))
	require.NoError(t, err)
	assert.NotEmpty(t, student.ID)
	assert.True(t, student.Active)

	_, err = svc.Create(context.Background(), validStudentRequest("2024001"))
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = svc.Create(context.Background(), CreateStudentRequest{FullName: "No number"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestStudentServiceCreateUniqueViolation(t *testing.T) {
	repo := newMockStudentRepo()
	repo.createErr = fmt.Errorf("create student: %w", repository.ErrUniqueViolation)
	svc := NewStudentService(repo, nil, nil)

	_, err := svc.Create(context.Background(), validStudentRequest("2024002"))
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestStudentServiceUpdateAndDeactivate(t *testing.T) {
	repo := newMockStudentRepo()
	svc := NewStudentService(repo, nil, nil)
	first, err := svc.Create(context.Background(), validStudentRequest("A1"))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), validStudentRequest("A2"))
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), first.ID, UpdateStudentRequest{StudentNumber: "A2", FullName: "X", FacultyID: "f", MajorID: "m", LevelID: "l", Active: true})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	updated, err := svc.Update(context.Background(), first.ID, UpdateStudentRequest{StudentNumber: "A1", FullName: "Sari Dewi", FacultyID: "f", MajorID: "m", LevelID: "l", Active: true})
	require.NoError(t, err)
	assert.Equal(t, "Sari Dewi", updated.FullName)

	require.NoError(t, svc.Deactivate(context.Background(), first.ID))
	assert.Equal(t, []string{first.ID}, repo.deactivated)
	got, err := svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.ErrorIs(t, svc.Deactivate(context.Background(), "missing"), appErrors.ErrNotFound)
}

func TestStudentServiceListNormalizesPage(t *testing.T) {
	repo := newMockStudentRepo()
	svc := NewStudentService(repo, nil, nil)
	_, pagination, err := svc.List(context.Background(), models.StudentFilter{Page: 0, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
}
