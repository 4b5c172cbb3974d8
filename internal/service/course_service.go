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

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	SetArchived(ctx context.Context, id string, archived bool) error
	Transition(ctx context.Context, id string, next models.CourseStatus, at time.Time, check func(current *models.Course) error) (*models.CourseTransitionResult, error)
}

// CourseRequest is the payload for creating or updating a course.
type CourseRequest struct {
	Code        string `json:"code" validate:"required,max=32"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// ChangeCourseStatusRequest moves a course along its lifecycle.
type ChangeCourseStatusRequest struct {
	Status models.CourseStatus `json:"status" validate:"required,oneof=UPCOMING ACTIVE COMPLETED CANCELLED"`
}

// CourseService manages courses and drives their lifecycle. Status changes
// cascade to the course's groups and assignments.
type CourseService struct {
	repo      courseRepository
	capacity  *CapacityTracker
	activity  activityRecorder
	validator *validator.Validate
	clock     func() time.Time
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, capacity *CapacityTracker, activity activityRecorder, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, capacity: capacity, activity: activity, validator: validate, clock: time.Now, logger: logger}
}

// List returns courses with pagination.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list courses")
	}
	return courses, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a course by id.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	return course, nil
}

// Create stores a new course in UPCOMING status.
func (s *CourseService) Create(ctx context.Context, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Status:      models.CourseStatusUpcoming,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, courseWriteError(err, "failed to create course")
	}
	return course, nil
}

// Update changes the descriptive fields of a course.
func (s *CourseService) Update(ctx context.Context, id string, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if course.Archived {
		return nil, appErrors.Clone(appErrors.ErrFinalized, "archived courses cannot be modified")
	}
	course.Code = req.Code
	course.Name = req.Name
	course.Description = req.Description
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, courseWriteError(err, "failed to update course")
	}
	return course, nil
}

// ChangeStatus applies a lifecycle transition and cascades it.
func (s *CourseService) ChangeStatus(ctx context.Context, actor models.Actor, id string, req ChangeCourseStatusRequest) (*models.CourseTransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course status")
	}

	var previous models.CourseStatus
	result, err := s.repo.Transition(ctx, id, req.Status, s.clock().UTC(), func(current *models.Course) error {
		previous = current.Status
		if current.Archived {
			return appErrors.Clone(appErrors.ErrFinalized, "archived courses cannot change status")
		}
		if !current.Status.CanTransitionTo(req.Status) {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("course cannot move from %s to %s", current.Status, req.Status))
		}
		return nil
	})
	if err != nil {
		return nil, translateCourseError(err)
	}

	s.capacity.InvalidateAll(ctx)
	if s.activity != nil {
		s.activity.Record(ctx, actor, models.ActivityCourseStatus, models.EntityCourse, id, map[string]interface{}{
			"from":                 previous,
			"to":                   req.Status,
			"assignments_affected": result.AssignmentsAffected,
		})
	}
	s.logger.Info("course status changed",
		zap.String("course_id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(req.Status)),
		zap.Int64("assignments_affected", result.AssignmentsAffected))
	return result, nil
}

// Archive freezes a completed course. Its evaluations become immutable.
// Archiving an archived course is a no-op.
func (s *CourseService) Archive(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if course.Archived {
		return course, nil
	}
	if course.Status != models.CourseStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only completed courses can be archived")
	}
	if err := s.repo.SetArchived(ctx, id, true); err != nil {
		return nil, appErrors.Internal(err, "failed to archive course")
	}
	course.Archived = true
	return course, nil
}

func translateCourseError(err error) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "course not found")
	case errors.Is(err, repository.ErrLockNotAvailable):
		return appErrors.Wrap(err, appErrors.ErrBusy.Code, appErrors.ErrBusy.Status, appErrors.ErrBusy.Message)
	default:
		return appErrors.Internal(err, "failed to change course status")
	}
}

func courseWriteError(err error, message string) error {
	if errors.Is(err, repository.ErrUniqueViolation) {
		return appErrors.Clone(appErrors.ErrConflict, "course code already used")
	}
	return appErrors.Internal(err, message)
}
