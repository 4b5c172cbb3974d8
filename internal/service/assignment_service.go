package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

type assignmentQueryRepository interface {
	FindDetailByID(ctx context.Context, id string) (*models.AssignmentDetail, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.AssignmentDetail, int, error)
}

// AssignmentService serves assignment reads scoped to the caller and the
// administrative cancel-by-id operation.
type AssignmentService struct {
	repo      assignmentQueryRepository
	ledger    *AssignmentLedger
	groups    groupReader
	directory *ActorDirectory
	capacity  *CapacityTracker
	activity  activityRecorder
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewAssignmentService constructs AssignmentService.
func NewAssignmentService(repo assignmentQueryRepository, ledger *AssignmentLedger, groups groupReader, directory *ActorDirectory, capacity *CapacityTracker, activity activityRecorder, metrics *MetricsService, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		repo:      repo,
		ledger:    ledger,
		groups:    groups,
		directory: directory,
		capacity:  capacity,
		activity:  activity,
		metrics:   metrics,
		logger:    logger,
	}
}

// List returns assignments visible to the actor. Students only see their own
// and supervisors only those in groups they supervise.
func (s *AssignmentService) List(ctx context.Context, actor models.Actor, filter models.AssignmentFilter) ([]models.AssignmentDetail, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		student, err := s.directory.studentFor(ctx, actor)
		if err != nil {
			return nil, nil, err
		}
		filter.StudentID = student.ID
	case models.RoleSupervisor:
		supervisor, err := s.directory.supervisorFor(ctx, actor)
		if err != nil {
			return nil, nil, err
		}
		if supervisor == nil {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "no supervisor profile linked to this account")
		}
		filter.SupervisorID = supervisor.ID
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list assignments")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one assignment if the actor may read it.
func (s *AssignmentService) Get(ctx context.Context, actor models.Actor, id string) (*models.AssignmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load assignment")
	}

	var (
		student    *models.Student
		group      *models.TrainingGroup
		supervisor *models.Supervisor
	)
	switch actor.Role {
	case models.RoleStudent:
		if student, err = s.directory.student(ctx, detail.StudentID); err != nil {
			return nil, err
		}
	case models.RoleSupervisor:
		if group, err = s.groups.FindByID(ctx, detail.GroupID); err != nil {
			return nil, appErrors.Internal(err, "failed to load group")
		}
		if supervisor, err = s.directory.supervisorFor(ctx, actor); err != nil {
			return nil, err
		}
	}
	if err := authorizeAssignmentRead(actor, student, group, supervisor); err != nil {
		return nil, err
	}
	return detail, nil
}

// CancelByID cancels an assignment directly. Only administrators may do this.
func (s *AssignmentService) CancelByID(ctx context.Context, actor models.Actor, id string) (*models.Assignment, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may cancel assignments by id")
	}
	cancelled, err := s.ledger.Cancel(ctx, id)
	if err != nil {
		outcome := OutcomeRejected
		if appErrors.HasCode(err, appErrors.ErrBusy.Code) {
			outcome = OutcomeBusy
		}
		s.metrics.RecordRegistration(opCancel, outcome)
		return nil, err
	}

	s.metrics.RecordRegistration(opCancel, OutcomeSuccess)
	s.capacity.Invalidate(ctx, cancelled.GroupID)
	if s.activity != nil {
		s.activity.Record(ctx, actor, models.ActivityCancel, models.EntityAssignment, cancelled.ID, map[string]interface{}{
			"student_id": cancelled.StudentID,
			"group_id":   cancelled.GroupID,
		})
	}
	s.logger.Info("assignment cancelled", zap.String("assignment_id", cancelled.ID))
	return cancelled, nil
}
