package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/field-training-api/internal/models"
	"github.com/noah-isme/field-training-api/internal/repository"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

type groupRepository interface {
	List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.TrainingGroup, error)
	FindDetailByID(ctx context.Context, id string) (*models.GroupDetail, error)
	Create(ctx context.Context, group *models.TrainingGroup) error
	UpdateGuarded(ctx context.Context, group *models.TrainingGroup, check func(current *models.TrainingGroup, occupied int) error) error
}

type supervisorReader interface {
	FindByID(ctx context.Context, id string) (*models.Supervisor, error)
}

// CreateGroupRequest is the payload for opening a training group.
type CreateGroupRequest struct {
	CourseID     string    `json:"course_id" validate:"required"`
	SupervisorID *string   `json:"supervisor_id"`
	Name         string    `json:"name" validate:"required"`
	Site         string    `json:"site"`
	Capacity     int       `json:"capacity" validate:"gt=0"`
	StartDate    time.Time `json:"start_date" validate:"required"`
	EndDate      time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}

// UpdateGroupRequest replaces the mutable fields of a group. An empty status
// keeps the current one.
type UpdateGroupRequest struct {
	SupervisorID *string            `json:"supervisor_id"`
	Name         string             `json:"name" validate:"required"`
	Site         string             `json:"site"`
	Capacity     int                `json:"capacity" validate:"gt=0"`
	StartDate    time.Time          `json:"start_date" validate:"required"`
	EndDate      time.Time          `json:"end_date" validate:"required,gtfield=StartDate"`
	Status       models.GroupStatus `json:"status" validate:"omitempty,oneof=UPCOMING ACTIVE COMPLETED CANCELLED"`
}

// GroupService manages training groups.
type GroupService struct {
	repo        groupRepository
	courses     courseReader
	supervisors supervisorReader
	locks       *GroupLocker
	capacity    *CapacityTracker
	activity    activityRecorder
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewGroupService constructs GroupService.
func NewGroupService(repo groupRepository, courses courseReader, supervisors supervisorReader, locks *GroupLocker, capacity *CapacityTracker, activity activityRecorder, validate *validator.Validate, logger *zap.Logger) *GroupService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupService{
		repo:        repo,
		courses:     courses,
		supervisors: supervisors,
		locks:       locks,
		capacity:    capacity,
		activity:    activity,
		validator:   validate,
		logger:      logger,
	}
}

// List returns groups with their derived occupancy.
func (s *GroupService) List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	groups, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list groups")
	}
	for i := range groups {
		groups[i].AvailableSeats = AvailableSeats(&groups[i].TrainingGroup, groups[i].CurrentEnrollment)
	}
	return groups, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one group with its derived occupancy.
func (s *GroupService) Get(ctx context.Context, id string) (*models.GroupDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Internal(err, "failed to load group")
	}
	detail.AvailableSeats = AvailableSeats(&detail.TrainingGroup, detail.CurrentEnrollment)
	return detail, nil
}

// Availability returns the capacity read model of a group and whether it
// came from cache.
func (s *GroupService) Availability(ctx context.Context, id string) (*models.GroupAvailability, bool, error) {
	return s.capacity.Lookup(ctx, id)
}

// Create opens a new group under an open course.
func (s *GroupService) Create(ctx context.Context, req CreateGroupRequest) (*models.TrainingGroup, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	if !course.Status.Open() || course.Archived {
		return nil, appErrors.Clone(appErrors.ErrCourseNotOpen, "groups can only be added to upcoming or active courses")
	}
	if err := s.ensureSupervisor(ctx, req.SupervisorID); err != nil {
		return nil, err
	}

	group := &models.TrainingGroup{
		CourseID:     course.ID,
		SupervisorID: req.SupervisorID,
		Name:         req.Name,
		Site:         req.Site,
		Capacity:     req.Capacity,
		StartDate:    req.StartDate.UTC(),
		EndDate:      req.EndDate.UTC(),
		Status:       models.GroupStatusUpcoming,
	}
	if err := s.repo.Create(ctx, group); err != nil {
		return nil, appErrors.Internal(err, "failed to create group")
	}
	s.logger.Info("group created", zap.String("group_id", group.ID), zap.String("course_id", group.CourseID), zap.Int("capacity", group.Capacity))
	return group, nil
}

// Update changes a group while holding its lock, so no registration can slip
// in between the occupancy check and the write. Capacity may not drop below
// the seats already taken.
func (s *GroupService) Update(ctx context.Context, actor models.Actor, id string, req UpdateGroupRequest) (*models.TrainingGroup, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	if err := s.ensureSupervisor(ctx, req.SupervisorID); err != nil {
		return nil, err
	}

	release, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	group := &models.TrainingGroup{
		ID:           id,
		SupervisorID: req.SupervisorID,
		Name:         req.Name,
		Site:         req.Site,
		Capacity:     req.Capacity,
		StartDate:    req.StartDate.UTC(),
		EndDate:      req.EndDate.UTC(),
		Status:       req.Status,
	}
	var previous models.GroupStatus
	err = s.repo.UpdateGuarded(ctx, group, func(current *models.TrainingGroup, occupied int) error {
		previous = current.Status
		if group.Status == "" {
			group.Status = current.Status
		}
		if current.Status.Terminal() {
			return appErrors.Clone(appErrors.ErrFinalized, fmt.Sprintf("group is %s", current.Status))
		}
		if group.Status != current.Status && !current.Status.CanTransitionTo(group.Status) {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("group cannot move from %s to %s", current.Status, group.Status))
		}
		if group.Capacity < occupied {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("capacity %d is below current enrollment %d", group.Capacity, occupied))
		}
		return nil
	})
	if err != nil {
		return nil, translateGroupError(err)
	}

	s.capacity.Invalidate(ctx, id)
	if group.Status != previous && s.activity != nil {
		s.activity.Record(ctx, actor, models.ActivityGroupStatus, models.EntityGroup, id, map[string]interface{}{
			"from": previous,
			"to":   group.Status,
		})
	}
	return group, nil
}

func (s *GroupService) ensureSupervisor(ctx context.Context, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	if _, err := s.supervisors.FindByID(ctx, *id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "supervisor not found")
		}
		return appErrors.Internal(err, "failed to load supervisor")
	}
	return nil
}

func translateGroupError(err error) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "group not found")
	case errors.Is(err, repository.ErrLockNotAvailable):
		return appErrors.Wrap(err, appErrors.ErrBusy.Code, appErrors.ErrBusy.Status, appErrors.ErrBusy.Message)
	default:
		return appErrors.Internal(err, "failed to update group")
	}
}
