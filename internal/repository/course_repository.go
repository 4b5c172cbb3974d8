package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/field-training-api/internal/models"
)

// CourseRepository manages persistence for courses and their lifecycle.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs a CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, code, name, description, status, archived, created_at, updated_at`

// List returns courses matching the filter.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var args []interface{}
	conditions := []string{"1=1"}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	base := "FROM courses WHERE " + strings.Join(conditions, " AND ")
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", courseColumns, base, size, (page-1)*size)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// Create inserts a course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, code, name, description, status, archived, created_at, updated_at)
        VALUES (:id, :code, :name, :description, :status, :archived, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", translatePQ(err))
	}
	return nil
}

// Update modifies descriptive course fields. Status changes go through Transition.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET code = :code, name = :name, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", translatePQ(err))
	}
	return nil
}

// SetArchived flags a course as archived.
func (r *CourseRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	const query = `UPDATE courses SET archived = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, archived, time.Now().UTC()); err != nil {
		return fmt.Errorf("archive course: %w", err)
	}
	return nil
}

// Transition changes a course status and cascades the change to its groups
// and assignments in one transaction. check runs against the locked row and
// may veto the change.
func (r *CourseRepository) Transition(ctx context.Context, id string, next models.CourseStatus, at time.Time, check func(current *models.Course) error) (result *models.CourseTransitionResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin course transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var course models.Course
	if err = tx.GetContext(ctx, &course, `SELECT `+courseColumns+` FROM courses WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, translatePQ(err)
	}
	if err = check(&course); err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE courses SET status = $2, updated_at = $3 WHERE id = $1`, id, next, at); err != nil {
		return nil, fmt.Errorf("update course status: %w", err)
	}
	course.Status = next
	course.UpdatedAt = at

	affected, err := cascadeCourseStatus(ctx, tx, []string{id}, next, at)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit course transition: %w", err)
	}
	return &models.CourseTransitionResult{Course: &course, AssignmentsAffected: affected}, nil
}

// cascadeCourseStatus applies a course status change to its groups and the
// assignments they hold. It returns the number of assignments touched.
func cascadeCourseStatus(ctx context.Context, tx *sqlx.Tx, courseIDs []string, next models.CourseStatus, at time.Time) (int64, error) {
	if len(courseIDs) == 0 {
		return 0, nil
	}
	ids := pq.Array(courseIDs)

	var (
		groupQuery      string
		groupArgs       []interface{}
		assignmentQuery string
		assignmentArgs  []interface{}
	)
	switch next {
	case models.CourseStatusActive:
		groupQuery = `UPDATE training_groups SET status = $2, updated_at = $3 WHERE course_id = ANY($1) AND status = $4`
		groupArgs = []interface{}{ids, models.GroupStatusActive, at, models.GroupStatusUpcoming}
		assignmentQuery = `UPDATE assignments SET status = $2 WHERE course_id = ANY($1) AND status = $3`
		assignmentArgs = []interface{}{ids, models.AssignmentStatusActive, models.AssignmentStatusPending}
	case models.CourseStatusCompleted:
		groupQuery = `UPDATE training_groups SET status = $2, updated_at = $3 WHERE course_id = ANY($1) AND status IN ($4, $5)`
		groupArgs = []interface{}{ids, models.GroupStatusCompleted, at, models.GroupStatusUpcoming, models.GroupStatusActive}
		assignmentQuery = `UPDATE assignments SET status = $2, completed_at = $3 WHERE course_id = ANY($1) AND status IN ($4, $5)`
		assignmentArgs = []interface{}{ids, models.AssignmentStatusCompleted, at, models.AssignmentStatusPending, models.AssignmentStatusActive}
	case models.CourseStatusCancelled:
		groupQuery = `UPDATE training_groups SET status = $2, updated_at = $3 WHERE course_id = ANY($1) AND status IN ($4, $5)`
		groupArgs = []interface{}{ids, models.GroupStatusCancelled, at, models.GroupStatusUpcoming, models.GroupStatusActive}
		assignmentQuery = `UPDATE assignments SET status = $2, cancelled_at = $3 WHERE course_id = ANY($1) AND status IN ($4, $5)`
		assignmentArgs = []interface{}{ids, models.AssignmentStatusCancelled, at, models.AssignmentStatusPending, models.AssignmentStatusActive}
	default:
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx, groupQuery, groupArgs...); err != nil {
		return 0, fmt.Errorf("cascade group status: %w", err)
	}
	res, err := tx.ExecContext(ctx, assignmentQuery, assignmentArgs...)
	if err != nil {
		return 0, fmt.Errorf("cascade assignment status: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
