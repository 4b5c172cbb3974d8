package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

type evaluationRepository interface {
	FindByAssignment(ctx context.Context, assignmentID string) (*models.Evaluation, error)
	Upsert(ctx context.Context, evaluation *models.Evaluation) error
}

type assignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

type groupReader interface {
	FindByID(ctx context.Context, id string) (*models.TrainingGroup, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// EvaluationRequest carries the three component grades. Pointers distinguish
// a zero grade from a missing one.
type EvaluationRequest struct {
	AttendanceGrade *float64 `json:"attendance_grade" validate:"required"`
	BehaviorGrade   *float64 `json:"behavior_grade" validate:"required"`
	FinalExamGrade  *float64 `json:"final_exam_grade" validate:"required"`
}

// EvaluationService records graded outcomes of assignments.
type EvaluationService struct {
	evaluations evaluationRepository
	assignments assignmentReader
	groups      groupReader
	courses     courseReader
	directory   *ActorDirectory
	activity    activityRecorder
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEvaluationService constructs EvaluationService.
func NewEvaluationService(evaluations evaluationRepository, assignments assignmentReader, groups groupReader, courses courseReader, directory *ActorDirectory, activity activityRecorder, validate *validator.Validate, logger *zap.Logger) *EvaluationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluationService{
		evaluations: evaluations,
		assignments: assignments,
		groups:      groups,
		courses:     courses,
		directory:   directory,
		activity:    activity,
		validator:   validate,
		logger:      logger,
	}
}

// Upsert computes the final grade and stores the evaluation of an assignment.
func (s *EvaluationService) Upsert(ctx context.Context, actor models.Actor, assignmentID string, req EvaluationRequest) (*models.Evaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "all three grades are required")
	}

	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment.Status == models.AssignmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cancelled assignments cannot be evaluated")
	}
	group, err := s.loadGroup(ctx, assignment.GroupID)
	if err != nil {
		return nil, err
	}
	supervisor, err := s.directory.supervisorFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := authorizeGrading(actor, group, supervisor); err != nil {
		return nil, err
	}

	course, err := s.courses.FindByID(ctx, assignment.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	if course.Archived {
		return nil, appErrors.Clone(appErrors.ErrFinalized, "course is archived; evaluations are final")
	}

	final, err := ComputeFinalGrade(*req.AttendanceGrade, *req.BehaviorGrade, *req.FinalExamGrade)
	if err != nil {
		return nil, err
	}
	evaluation := &models.Evaluation{
		AssignmentID:    assignment.ID,
		AttendanceGrade: *req.AttendanceGrade,
		BehaviorGrade:   *req.BehaviorGrade,
		FinalExamGrade:  *req.FinalExamGrade,
		FinalGrade:      final,
		EvaluatedBy:     actor.UserID,
	}
	if err := s.evaluations.Upsert(ctx, evaluation); err != nil {
		return nil, appErrors.Internal(err, "failed to store evaluation")
	}

	if s.activity != nil {
		s.activity.Record(ctx, actor, models.ActivityEvaluate, models.EntityEvaluation, evaluation.ID, map[string]interface{}{
			"assignment_id": assignment.ID,
			"final_grade":   final,
		})
	}
	s.logger.Info("assignment evaluated", zap.String("assignment_id", assignment.ID), zap.Float64("final_grade", final))
	return evaluation, nil
}

// Get returns the evaluation of an assignment the actor may read.
func (s *EvaluationService) Get(ctx context.Context, actor models.Actor, assignmentID string) (*models.Evaluation, error) {
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, actor, assignment); err != nil {
		return nil, err
	}
	evaluation, err := s.evaluations.FindByAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment has not been evaluated")
		}
		return nil, appErrors.Internal(err, "failed to load evaluation")
	}
	return evaluation, nil
}

func (s *EvaluationService) authorizeRead(ctx context.Context, actor models.Actor, assignment *models.Assignment) error {
	var (
		student    *models.Student
		group      *models.TrainingGroup
		supervisor *models.Supervisor
		err        error
	)
	switch actor.Role {
	case models.RoleStudent:
		if student, err = s.directory.student(ctx, assignment.StudentID); err != nil {
			return err
		}
	case models.RoleSupervisor:
		if group, err = s.loadGroup(ctx, assignment.GroupID); err != nil {
			return err
		}
		if supervisor, err = s.directory.supervisorFor(ctx, actor); err != nil {
			return err
		}
	}
	return authorizeAssignmentRead(actor, student, group, supervisor)
}

func (s *EvaluationService) loadAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.assignments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load assignment")
	}
	return assignment, nil
}

func (s *EvaluationService) loadGroup(ctx context.Context, id string) (*models.TrainingGroup, error) {
	group, err := s.groups.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Internal(err, "failed to load group")
	}
	return group, nil
}
