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

// GroupRepository manages persistence for training groups.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs a GroupRepository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

const groupColumns = `id, course_id, supervisor_id, name, site, capacity, start_date, end_date, status, created_at, updated_at`

const groupDetailSelect = `SELECT g.id, g.course_id, g.supervisor_id, g.name, g.site, g.capacity, g.start_date, g.end_date, g.status, g.created_at, g.updated_at,
        c.name AS course_name, c.status AS course_status,
        (SELECT COUNT(*) FROM assignments a WHERE a.group_id = g.id AND a.status = ANY($1)) AS current_enrollment
        FROM training_groups g
        JOIN courses c ON c.id = g.course_id`

// List returns groups with their derived enrollment.
func (r *GroupRepository) List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, int, error) {
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	// $1 is taken by the enrollment subquery in groupDetailSelect.
	where, args := groupConditions(filter, 1)
	args = append([]interface{}{pq.Array(occupyingStatuses())}, args...)
	query := fmt.Sprintf("%s WHERE %s ORDER BY g.start_date ASC, g.name ASC LIMIT %d OFFSET %d", groupDetailSelect, where, size, (page-1)*size)
	var groups []models.GroupDetail
	if err := r.db.SelectContext(ctx, &groups, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list groups: %w", err)
	}

	countWhere, countArgs := groupConditions(filter, 0)
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM training_groups g WHERE "+countWhere, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count groups: %w", err)
	}
	return groups, total, nil
}

func groupConditions(filter models.GroupFilter, offset int) (string, []interface{}) {
	var args []interface{}
	conditions := []string{"1=1"}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("g.course_id = $%d", offset+len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.SupervisorID != "" {
		conditions = append(conditions, fmt.Sprintf("g.supervisor_id = $%d", offset+len(args)+1))
		args = append(args, filter.SupervisorID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("g.status = $%d", offset+len(args)+1))
		args = append(args, filter.Status)
	}
	return strings.Join(conditions, " AND "), args
}

// FindByID returns a group by ID.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*models.TrainingGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM training_groups WHERE id = $1`
	var group models.TrainingGroup
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// FindDetailByID returns a group with course info and derived enrollment.
func (r *GroupRepository) FindDetailByID(ctx context.Context, id string) (*models.GroupDetail, error) {
	query := groupDetailSelect + ` WHERE g.id = $2`
	var detail models.GroupDetail
	if err := r.db.GetContext(ctx, &detail, query, pq.Array(occupyingStatuses()), id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create inserts a group.
func (r *GroupRepository) Create(ctx context.Context, group *models.TrainingGroup) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	const query = `INSERT INTO training_groups (id, course_id, supervisor_id, name, site, capacity, start_date, end_date, status, created_at, updated_at)
        VALUES (:id, :course_id, :supervisor_id, :name, :site, :capacity, :start_date, :end_date, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("create group: %w", translatePQ(err))
	}
	return nil
}

// UpdateGuarded locks the group row, counts its occupied seats and lets check
// veto the change before the update is written. A status change to CANCELLED
// cancels the group's pending and active assignments in the same transaction.
func (r *GroupRepository) UpdateGuarded(ctx context.Context, group *models.TrainingGroup, check func(current *models.TrainingGroup, occupied int) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin group update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.TrainingGroup
	if err = tx.GetContext(ctx, &current, `SELECT `+groupColumns+` FROM training_groups WHERE id = $1 FOR UPDATE`, group.ID); err != nil {
		return translatePQ(err)
	}
	var occupied int
	if err = tx.GetContext(ctx, &occupied, `SELECT COUNT(*) FROM assignments WHERE group_id = $1 AND status = ANY($2)`, group.ID, pq.Array(occupyingStatuses())); err != nil {
		return fmt.Errorf("count group occupancy: %w", err)
	}
	if err = check(&current, occupied); err != nil {
		return err
	}

	group.CourseID = current.CourseID
	group.CreatedAt = current.CreatedAt
	group.UpdatedAt = time.Now().UTC()
	const query = `UPDATE training_groups SET supervisor_id = :supervisor_id, name = :name, site = :site, capacity = :capacity,
        start_date = :start_date, end_date = :end_date, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("update group: %w", translatePQ(err))
	}

	if group.Status == models.GroupStatusCancelled && current.Status != models.GroupStatusCancelled {
		if _, err = tx.ExecContext(ctx, `UPDATE assignments SET status = $2, cancelled_at = $3 WHERE group_id = $1 AND status IN ($4, $5)`,
			group.ID, models.AssignmentStatusCancelled, group.UpdatedAt, models.AssignmentStatusPending, models.AssignmentStatusActive); err != nil {
			return fmt.Errorf("cancel group assignments: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit group update: %w", err)
	}
	return nil
}

// CountOccupied counts seats held in a group outside any transaction.
func (r *GroupRepository) CountOccupied(ctx context.Context, groupID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM assignments WHERE group_id = $1 AND status = ANY($2)`, groupID, pq.Array(occupyingStatuses())); err != nil {
		return 0, fmt.Errorf("count group occupancy: %w", err)
	}
	return count, nil
}

// SweepLifecycle advances groups whose date window has opened or closed. A
// group only opens once its course is ACTIVE. When a group ends its active
// assignments complete and its pending ones, which never started, are
// cancelled. It returns the IDs of the groups it changed.
func (r *GroupRepository) SweepLifecycle(ctx context.Context, now time.Time) (activated, completed []string, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin lifecycle sweep: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const completeQuery = `UPDATE training_groups SET status = $1, updated_at = $2
        WHERE status IN ($3, $4) AND end_date <= $2
        RETURNING id`
	if err = tx.SelectContext(ctx, &completed, completeQuery, models.GroupStatusCompleted, now, models.GroupStatusUpcoming, models.GroupStatusActive); err != nil {
		return nil, nil, fmt.Errorf("complete groups: %w", err)
	}

	const activateQuery = `UPDATE training_groups g SET status = $1, updated_at = $2
        FROM courses c
        WHERE c.id = g.course_id AND c.status = $4
          AND g.status = $3 AND g.start_date <= $2 AND g.end_date > $2
        RETURNING g.id`
	if err = tx.SelectContext(ctx, &activated, activateQuery, models.GroupStatusActive, now, models.GroupStatusUpcoming, models.CourseStatusActive); err != nil {
		return nil, nil, fmt.Errorf("activate groups: %w", err)
	}

	if len(completed) > 0 {
		const completeAssignments = `UPDATE assignments SET status = $2, completed_at = $3 WHERE group_id = ANY($1) AND status = $4`
		if _, err = tx.ExecContext(ctx, completeAssignments, pq.Array(completed), models.AssignmentStatusCompleted, now, models.AssignmentStatusActive); err != nil {
			return nil, nil, fmt.Errorf("complete group assignments: %w", err)
		}
		const cancelPending = `UPDATE assignments SET status = $2, cancelled_at = $3 WHERE group_id = ANY($1) AND status = $4`
		if _, err = tx.ExecContext(ctx, cancelPending, pq.Array(completed), models.AssignmentStatusCancelled, now, models.AssignmentStatusPending); err != nil {
			return nil, nil, fmt.Errorf("cancel pending group assignments: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit lifecycle sweep: %w", err)
	}
	return activated, completed, nil
}
