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

// Operation labels used for metrics and logs.
const (
	opRegister = "register"
	opCancel   = "cancel"
	opTransfer = "transfer"
)

type studentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// RegisterRequest asks for a student to be placed into a group.
type RegisterRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	GroupID   string `json:"group_id" validate:"required"`
}

// CancelRegistrationRequest withdraws a student from a group.
type CancelRegistrationRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	GroupID   string `json:"group_id" validate:"required"`
}

// TransferRequest moves a student between two groups of the same course.
type TransferRequest struct {
	StudentID   string `json:"student_id" validate:"required"`
	FromGroupID string `json:"from_group_id" validate:"required"`
	ToGroupID   string `json:"to_group_id" validate:"required"`
}

// RegistrationService orchestrates register, cancel and transfer against the
// assignment ledger. All checks run inside the ledger session, after the
// group locks are held, so nothing is written when any check fails.
type RegistrationService struct {
	ledger    *AssignmentLedger
	students  studentLookup
	capacity  *CapacityTracker
	activity  activityRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs RegistrationService.
func NewRegistrationService(ledger *AssignmentLedger, students studentLookup, capacity *CapacityTracker, activity activityRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		ledger:    ledger,
		students:  students,
		capacity:  capacity,
		activity:  activity,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Register places the student into the group.
func (s *RegistrationService) Register(ctx context.Context, actor models.Actor, req RegisterRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if _, err := s.actingFor(ctx, actor, req.StudentID, true); err != nil {
		return nil, s.fail(opRegister, err)
	}

	var created *models.Assignment
	err := s.ledger.AtomicallyForStudent(ctx, req.StudentID, []string{req.GroupID}, func(sess *LedgerSession) error {
		var err error
		created, err = s.register(ctx, sess, req.StudentID, req.GroupID)
		return err
	})
	if err != nil {
		return nil, s.fail(opRegister, err)
	}

	s.metrics.RecordRegistration(opRegister, OutcomeSuccess)
	s.capacity.Invalidate(ctx, req.GroupID)
	s.record(ctx, actor, models.ActivityRegister, created.ID, map[string]interface{}{
		"student_id": created.StudentID,
		"group_id":   created.GroupID,
		"course_id":  created.CourseID,
		"status":     created.Status,
	})
	s.logger.Info("student registered",
		zap.String("student_id", created.StudentID),
		zap.String("group_id", created.GroupID),
		zap.String("assignment_id", created.ID))
	return created, nil
}

// Cancel withdraws the student's live assignment in the group.
func (s *RegistrationService) Cancel(ctx context.Context, actor models.Actor, req CancelRegistrationRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if _, err := s.actingFor(ctx, actor, req.StudentID, false); err != nil {
		return nil, s.fail(opCancel, err)
	}

	var cancelled *models.Assignment
	err := s.ledger.Atomically(ctx, []string{req.GroupID}, func(sess *LedgerSession) error {
		if _, err := sess.Group(ctx, req.GroupID); err != nil {
			return err
		}
		current, err := sess.FindActiveForStudentInGroup(ctx, req.StudentID, req.GroupID)
		if err != nil {
			return err
		}
		if current == nil {
			return appErrors.ErrNotRegistered
		}
		cancelled, err = sess.Cancel(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, s.fail(opCancel, err)
	}

	s.metrics.RecordRegistration(opCancel, OutcomeSuccess)
	s.capacity.Invalidate(ctx, req.GroupID)
	s.record(ctx, actor, models.ActivityCancel, cancelled.ID, map[string]interface{}{
		"student_id": cancelled.StudentID,
		"group_id":   cancelled.GroupID,
	})
	return cancelled, nil
}

// Transfer cancels the student's assignment in the source group and registers
// them into the destination in one transaction. If the destination rejects the
// student, the source assignment is left untouched.
func (s *RegistrationService) Transfer(ctx context.Context, actor models.Actor, req TransferRequest) (*models.TransferResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if req.FromGroupID == req.ToGroupID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "source and destination groups must differ")
	}
	if _, err := s.actingFor(ctx, actor, req.StudentID, true); err != nil {
		return nil, s.fail(opTransfer, err)
	}

	result := &models.TransferResult{}
	err := s.ledger.AtomicallyForStudent(ctx, req.StudentID, []string{req.FromGroupID, req.ToGroupID}, func(sess *LedgerSession) error {
		groups, err := sess.Groups(ctx, req.FromGroupID, req.ToGroupID)
		if err != nil {
			return err
		}
		if groups[req.FromGroupID].CourseID != groups[req.ToGroupID].CourseID {
			return appErrors.Clone(appErrors.ErrValidation, "groups belong to different courses")
		}

		current, err := sess.FindActiveForStudentInGroup(ctx, req.StudentID, req.FromGroupID)
		if err != nil {
			return err
		}
		if current == nil {
			return appErrors.ErrNotRegistered
		}
		if result.Cancelled, err = sess.Cancel(ctx, current.ID); err != nil {
			return err
		}
		result.Created, err = s.register(ctx, sess, req.StudentID, req.ToGroupID)
		return err
	})
	if err != nil {
		return nil, s.fail(opTransfer, err)
	}

	s.metrics.RecordRegistration(opTransfer, OutcomeSuccess)
	s.capacity.Invalidate(ctx, req.FromGroupID, req.ToGroupID)
	s.record(ctx, actor, models.ActivityTransfer, result.Created.ID, map[string]interface{}{
		"student_id":              req.StudentID,
		"from_group_id":           req.FromGroupID,
		"to_group_id":             req.ToGroupID,
		"cancelled_assignment_id": result.Cancelled.ID,
	})
	return result, nil
}

// register applies the workflow checks in order and then asks the ledger to
// create the assignment.
func (s *RegistrationService) register(ctx context.Context, sess *LedgerSession, studentID, groupID string) (*models.Assignment, error) {
	group, err := sess.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	course, err := sess.Course(ctx, group.CourseID)
	if err != nil {
		return nil, err
	}
	if !course.Status.Open() || !group.Status.Open() {
		return nil, appErrors.ErrCourseNotOpen
	}

	existing, err := sess.FindActiveForStudentInCourse(ctx, studentID, course.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, appErrors.ErrAlreadyRegistered
	}

	occupied, err := sess.Occupied(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !HasCapacity(group, occupied) {
		return nil, appErrors.ErrGroupFull
	}

	return sess.Create(ctx, studentID, groupID)
}

// actingFor loads the student and checks the actor may act for them.
// requireActive rejects deactivated students.
func (s *RegistrationService) actingFor(ctx context.Context, actor models.Actor, studentID string, requireActive bool) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	if err := authorizeRegistration(actor, student); err != nil {
		return nil, err
	}
	if requireActive && !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is inactive")
	}
	return student, nil
}

func (s *RegistrationService) fail(op string, err error) error {
	outcome := OutcomeRejected
	appErr := appErrors.FromError(err)
	switch {
	case appErr.Code == appErrors.ErrBusy.Code:
		outcome = OutcomeBusy
	case appErr.Status >= 500:
		outcome = OutcomeError
		s.logger.Error("registration failed", zap.String("operation", op), zap.Error(err))
	}
	s.metrics.RecordRegistration(op, outcome)
	return appErr
}

func (s *RegistrationService) record(ctx context.Context, actor models.Actor, action models.ActivityAction, entityID string, payload map[string]interface{}) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, actor, action, models.EntityAssignment, entityID, payload)
}
