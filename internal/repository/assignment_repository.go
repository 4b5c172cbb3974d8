package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/field-training-api/internal/models"
)

// Sentinel errors translated from PostgreSQL error codes.
var (
	// ErrLockNotAvailable means the row lock could not be taken within lock_timeout.
	ErrLockNotAvailable = errors.New("repository: lock not available")
	// ErrUniqueViolation means an insert hit a unique index.
	ErrUniqueViolation = errors.New("repository: unique violation")
)

// LedgerTx is the transactional view of assignments and their groups. Every
// read made through it observes writes already made in the same transaction.
type LedgerTx interface {
	// LockStudent holds the student's row lock until the transaction ends, so
	// placements of one student are serialised across every group.
	LockStudent(ctx context.Context, studentID string) error
	// LockGroup loads a group and holds its row lock until the transaction ends.
	LockGroup(ctx context.Context, groupID string) (*models.TrainingGroup, error)
	// ShareCourse loads a course and blocks concurrent status changes to it.
	ShareCourse(ctx context.Context, courseID string) (*models.Course, error)
	CountOccupied(ctx context.Context, groupID string) (int, error)
	FindLiveForStudentInCourse(ctx context.Context, studentID, courseID string) (*models.Assignment, error)
	FindLiveForStudentInGroup(ctx context.Context, studentID, groupID string) (*models.Assignment, error)
	LockAssignment(ctx context.Context, id string) (*models.Assignment, error)
	InsertAssignment(ctx context.Context, assignment *models.Assignment) error
	UpdateAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus, at time.Time) error
}

// AssignmentRepository handles persistence of assignments.
type AssignmentRepository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewAssignmentRepository constructs the repository. lockTimeout bounds row
// lock waits inside ledger transactions; zero leaves the server default.
func NewAssignmentRepository(db *sqlx.DB, lockTimeout time.Duration) *AssignmentRepository {
	return &AssignmentRepository{db: db, lockTimeout: lockTimeout}
}

const assignmentColumns = `id, student_id, group_id, course_id, status, assigned_at, cancelled_at, completed_at`

// WithinTx runs fn inside a single database transaction. fn's error rolls the
// transaction back and is returned unchanged.
func (r *AssignmentRepository) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err = fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", translatePQ(err))
	}
	return nil
}

// FindByID returns an assignment by its ID.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// FindDetailByID returns an assignment with contextual info.
func (r *AssignmentRepository) FindDetailByID(ctx context.Context, id string) (*models.AssignmentDetail, error) {
	query := assignmentDetailSelect + ` WHERE a.id = $1`
	var detail models.AssignmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

const assignmentDetailSelect = `SELECT a.id, a.student_id, a.group_id, a.course_id, a.status, a.assigned_at, a.cancelled_at, a.completed_at,
        s.full_name AS student_name, s.student_number, g.name AS group_name, c.name AS course_name, ev.final_grade
        FROM assignments a
        JOIN students s ON s.id = a.student_id
        JOIN training_groups g ON g.id = a.group_id
        JOIN courses c ON c.id = a.course_id
        LEFT JOIN evaluations ev ON ev.assignment_id = a.id`

// List returns assignments filtered by the provided criteria.
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.AssignmentDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.GroupID != "" {
		conditions = append(conditions, fmt.Sprintf("a.group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("a.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.SupervisorID != "" {
		conditions = append(conditions, fmt.Sprintf("g.supervisor_id = $%d", len(args)+1))
		args = append(args, filter.SupervisorID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"assigned_at":  "a.assigned_at",
		"student_name": "s.full_name",
		"group_name":   "g.name",
		"status":       "a.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "a.assigned_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf(`%s%s ORDER BY %s %s, a.id LIMIT %d OFFSET %d`, assignmentDetailSelect, clause, orderBy, order, size, offset)

	var assignments []models.AssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}

	countQuery := `SELECT COUNT(*) FROM assignments a
        JOIN training_groups g ON g.id = a.group_id` + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}
	return assignments, total, nil
}

type ledgerTx struct {
	tx *sqlx.Tx
}

func (t *ledgerTx) LockStudent(ctx context.Context, studentID string) error {
	const query = `SELECT id FROM students WHERE id = $1 FOR UPDATE`
	var id string
	if err := t.tx.GetContext(ctx, &id, query, studentID); err != nil {
		return translatePQ(err)
	}
	return nil
}

func (t *ledgerTx) LockGroup(ctx context.Context, groupID string) (*models.TrainingGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM training_groups WHERE id = $1 FOR UPDATE`
	var group models.TrainingGroup
	if err := t.tx.GetContext(ctx, &group, query, groupID); err != nil {
		return nil, translatePQ(err)
	}
	return &group, nil
}

func (t *ledgerTx) ShareCourse(ctx context.Context, courseID string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 FOR SHARE`
	var course models.Course
	if err := t.tx.GetContext(ctx, &course, query, courseID); err != nil {
		return nil, translatePQ(err)
	}
	return &course, nil
}

func (t *ledgerTx) CountOccupied(ctx context.Context, groupID string) (int, error) {
	const query = `SELECT COUNT(*) FROM assignments WHERE group_id = $1 AND status = ANY($2)`
	var count int
	if err := t.tx.GetContext(ctx, &count, query, groupID, pq.Array(occupyingStatuses())); err != nil {
		return 0, fmt.Errorf("count group occupancy: %w", err)
	}
	return count, nil
}

func (t *ledgerTx) FindLiveForStudentInCourse(ctx context.Context, studentID, courseID string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
        WHERE student_id = $1 AND course_id = $2 AND status <> $3
        ORDER BY assigned_at DESC LIMIT 1`
	return t.findOne(ctx, query, studentID, courseID, models.AssignmentStatusCancelled)
}

func (t *ledgerTx) FindLiveForStudentInGroup(ctx context.Context, studentID, groupID string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
        WHERE student_id = $1 AND group_id = $2 AND status IN ($3, $4)
        ORDER BY assigned_at DESC LIMIT 1 FOR UPDATE`
	return t.findOne(ctx, query, studentID, groupID, models.AssignmentStatusPending, models.AssignmentStatusActive)
}

func (t *ledgerTx) findOne(ctx context.Context, query string, args ...interface{}) (*models.Assignment, error) {
	var assignment models.Assignment
	if err := t.tx.GetContext(ctx, &assignment, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find assignment: %w", translatePQ(err))
	}
	return &assignment, nil
}

func (t *ledgerTx) LockAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1 FOR UPDATE`
	var assignment models.Assignment
	if err := t.tx.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, translatePQ(err)
	}
	return &assignment, nil
}

func (t *ledgerTx) InsertAssignment(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}
	const query = `INSERT INTO assignments (id, student_id, group_id, course_id, status, assigned_at, cancelled_at, completed_at)
        VALUES (:id, :student_id, :group_id, :course_id, :status, :assigned_at, :cancelled_at, :completed_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("insert assignment: %w", translatePQ(err))
	}
	return nil
}

func (t *ledgerTx) UpdateAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	switch status {
	case models.AssignmentStatusCancelled:
		res, err = t.tx.ExecContext(ctx, `UPDATE assignments SET status = $2, cancelled_at = $3 WHERE id = $1`, id, status, at)
	case models.AssignmentStatusCompleted:
		res, err = t.tx.ExecContext(ctx, `UPDATE assignments SET status = $2, completed_at = $3 WHERE id = $1`, id, status, at)
	default:
		res, err = t.tx.ExecContext(ctx, `UPDATE assignments SET status = $2 WHERE id = $1`, id, status)
	}
	if err != nil {
		return fmt.Errorf("update assignment status: %w", translatePQ(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func occupyingStatuses() []string {
	out := make([]string, len(models.OccupyingStatuses))
	for i, s := range models.OccupyingStatuses {
		out[i] = string(s)
	}
	return out
}

// translatePQ maps driver errors the ledger reacts to onto package sentinels.
func translatePQ(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03":
			return fmt.Errorf("%w: %s", ErrLockNotAvailable, pqErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pqErr.Constraint)
		}
	}
	return err
}
