package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/field-training-api/internal/models"
)

func TestEvaluationRepositoryUpsertKeepsStoredIdentity(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	created := time.Now().Add(-24 * time.Hour).UTC()
	updated := time.Now().UTC()
	mock.ExpectQuery("(?s)INSERT INTO evaluations.*ON CONFLICT \\(assignment_id\\) DO UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "assignment_id", "attendance_grade", "behavior_grade", "final_exam_grade", "final_grade", "evaluated_by", "created_at", "updated_at"}).
			AddRow("existing", "a1", 20.0, 25.0, 42.0, 32.5, "sup-user", created, updated))

	evaluation := &models.Evaluation{AssignmentID: "a1", AttendanceGrade: 20, BehaviorGrade: 25, FinalExamGrade: 42, FinalGrade: 32.5, EvaluatedBy: "sup-user"}
	require.NoError(t, repo.Upsert(context.Background(), evaluation))
	assert.Equal(t, "existing", evaluation.ID)
	assert.Equal(t, created, evaluation.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
