package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/field-training-api/internal/models"
)

// EvaluationRepository stores graded outcomes of assignments.
type EvaluationRepository struct {
	db *sqlx.DB
}

// NewEvaluationRepository constructs an EvaluationRepository.
func NewEvaluationRepository(db *sqlx.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

const evaluationColumns = `id, assignment_id, attendance_grade, behavior_grade, final_exam_grade, final_grade, evaluated_by, created_at, updated_at`

// FindByAssignment returns the evaluation attached to an assignment.
func (r *EvaluationRepository) FindByAssignment(ctx context.Context, assignmentID string) (*models.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE assignment_id = $1`
	var evaluation models.Evaluation
	if err := r.db.GetContext(ctx, &evaluation, query, assignmentID); err != nil {
		return nil, err
	}
	return &evaluation, nil
}

// Upsert creates or replaces the evaluation of an assignment. The stored row,
// including its original id and created_at, is written back into evaluation.
func (r *EvaluationRepository) Upsert(ctx context.Context, evaluation *models.Evaluation) error {
	if evaluation.ID == "" {
		evaluation.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	evaluation.CreatedAt = now
	evaluation.UpdatedAt = now

	const query = `INSERT INTO evaluations (id, assignment_id, attendance_grade, behavior_grade, final_exam_grade, final_grade, evaluated_by, created_at, updated_at)
        VALUES (:id, :assignment_id, :attendance_grade, :behavior_grade, :final_exam_grade, :final_grade, :evaluated_by, :created_at, :updated_at)
        ON CONFLICT (assignment_id) DO UPDATE SET attendance_grade = EXCLUDED.attendance_grade, behavior_grade = EXCLUDED.behavior_grade,
        final_exam_grade = EXCLUDED.final_exam_grade, final_grade = EXCLUDED.final_grade, evaluated_by = EXCLUDED.evaluated_by, updated_at = EXCLUDED.updated_at
        RETURNING ` + evaluationColumns

	rows, err := r.db.NamedQueryContext(ctx, query, evaluation)
	if err != nil {
		return fmt.Errorf("upsert evaluation: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.StructScan(evaluation); err != nil {
			return fmt.Errorf("scan evaluation: %w", err)
		}
	}
	return rows.Err()
}
