package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/field-training-api/internal/models"
	"github.com/noah-isme/field-training-api/internal/repository"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
	"github.com/noah-isme/field-training-api/pkg/lock"
)

type ledgerStore interface {
	WithinTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

// AssignmentLedger is the only writer of assignment rows. Every mutation runs
// while holding the per-group locks of the groups it touches and inside one
// database transaction, so the capacity check and the write cannot interleave
// with another registration on the same group. Placements also hold the
// student's lock, which keeps the per-course check for one student serial.
type AssignmentLedger struct {
	store   ledgerStore
	locks   *GroupLocker
	metrics *MetricsService
	clock   func() time.Time
	logger  *zap.Logger
}

// NewAssignmentLedger constructs the ledger.
func NewAssignmentLedger(store ledgerStore, locker lock.Locker, metrics *MetricsService, logger *zap.Logger) *AssignmentLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentLedger{
		store:   store,
		locks:   NewGroupLocker(locker, metrics, logger),
		metrics: metrics,
		clock:   time.Now,
		logger:  logger,
	}
}

// Atomically locks the given groups and runs fn in a single ledger
// transaction. Any error returned by fn rolls back every write made through
// the session.
func (l *AssignmentLedger) Atomically(ctx context.Context, groupIDs []string, fn func(s *LedgerSession) error) error {
	release, err := l.locks.Lock(ctx, groupIDs...)
	if err != nil {
		return err
	}
	defer release()
	return l.run(ctx, "", fn)
}

// AtomicallyForStudent is Atomically for work that places studentID. It also
// holds the student's lock, and the student's row lock inside the
// transaction, so two placements of the same student never check the
// one-assignment-per-course rule at the same time.
func (l *AssignmentLedger) AtomicallyForStudent(ctx context.Context, studentID string, groupIDs []string, fn func(s *LedgerSession) error) error {
	release, err := l.locks.LockForStudent(ctx, studentID, groupIDs...)
	if err != nil {
		return err
	}
	defer release()
	return l.run(ctx, studentID, fn)
}

func (l *AssignmentLedger) run(ctx context.Context, studentID string, fn func(s *LedgerSession) error) error {
	txStart := time.Now()
	err := l.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		if studentID != "" {
			if err := tx.LockStudent(ctx, studentID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Clone(appErrors.ErrNotFound, "student not found")
				}
				return err
			}
		}
		return fn(&LedgerSession{
			tx:      tx,
			now:     l.clock().UTC(),
			student: studentID,
			groups:  make(map[string]*models.TrainingGroup),
			courses: make(map[string]*models.Course),
		})
	})
	l.metrics.ObserveDBQuery("ledger_tx", time.Since(txStart))
	return translateLedgerError(err)
}

// Create adds an assignment for the student in the group.
func (l *AssignmentLedger) Create(ctx context.Context, studentID, groupID string) (*models.Assignment, error) {
	var created *models.Assignment
	err := l.AtomicallyForStudent(ctx, studentID, []string{groupID}, func(s *LedgerSession) error {
		var err error
		created, err = s.Create(ctx, studentID, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Cancel moves an assignment to CANCELLED.
func (l *AssignmentLedger) Cancel(ctx context.Context, assignmentID string) (*models.Assignment, error) {
	existing, err := l.store.FindByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load assignment")
	}

	var cancelled *models.Assignment
	err = l.Atomically(ctx, []string{existing.GroupID}, func(s *LedgerSession) error {
		var err error
		cancelled, err = s.Cancel(ctx, assignmentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// FindActiveForStudentInCourse returns the student's non-cancelled assignment
// in the course, or nil.
func (l *AssignmentLedger) FindActiveForStudentInCourse(ctx context.Context, studentID, courseID string) (*models.Assignment, error) {
	var found *models.Assignment
	err := l.store.WithinTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		found, err = tx.FindLiveForStudentInCourse(ctx, studentID, courseID)
		return err
	})
	if err != nil {
		return nil, translateLedgerError(err)
	}
	return found, nil
}

func translateLedgerError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repository.ErrLockNotAvailable):
		return appErrors.Wrap(err, appErrors.ErrBusy.Code, appErrors.ErrBusy.Status, appErrors.ErrBusy.Message)
	case errors.Is(err, repository.ErrUniqueViolation):
		return appErrors.Wrap(err, appErrors.ErrDuplicateActiveAssignment.Code, appErrors.ErrDuplicateActiveAssignment.Status, appErrors.ErrDuplicateActiveAssignment.Message)
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, appErrors.ErrNotFound.Message)
	default:
		return appErrors.Internal(err, "ledger transaction failed")
	}
}

// LedgerSession is the view of the ledger inside one locked transaction.
type LedgerSession struct {
	tx      repository.LedgerTx
	now     time.Time
	student string
	groups  map[string]*models.TrainingGroup
	courses map[string]*models.Course
}

// Now is the timestamp applied to every write in the session.
func (s *LedgerSession) Now() time.Time {
	return s.now
}

// Group returns the group with its row locked for the rest of the session.
func (s *LedgerSession) Group(ctx context.Context, groupID string) (*models.TrainingGroup, error) {
	if g, ok := s.groups[groupID]; ok {
		return g, nil
	}
	group, err := s.tx.LockGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, err
	}
	s.groups[groupID] = group
	return group, nil
}

// Groups locks several groups in a stable order.
func (s *LedgerSession) Groups(ctx context.Context, groupIDs ...string) (map[string]*models.TrainingGroup, error) {
	ids := append([]string(nil), groupIDs...)
	sort.Strings(ids)
	out := make(map[string]*models.TrainingGroup, len(ids))
	for _, id := range ids {
		group, err := s.Group(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = group
	}
	return out, nil
}

// Course returns the course of a group, protected against concurrent status changes.
func (s *LedgerSession) Course(ctx context.Context, courseID string) (*models.Course, error) {
	if c, ok := s.courses[courseID]; ok {
		return c, nil
	}
	course, err := s.tx.ShareCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, err
	}
	s.courses[courseID] = course
	return course, nil
}

// Occupied counts seats held in the group, including writes made earlier in
// this session.
func (s *LedgerSession) Occupied(ctx context.Context, groupID string) (int, error) {
	return s.tx.CountOccupied(ctx, groupID)
}

// FindActiveForStudentInCourse returns the student's non-cancelled assignment
// in the course, or nil.
func (s *LedgerSession) FindActiveForStudentInCourse(ctx context.Context, studentID, courseID string) (*models.Assignment, error) {
	return s.tx.FindLiveForStudentInCourse(ctx, studentID, courseID)
}

// FindActiveForStudentInGroup returns the student's pending or active
// assignment in the group, or nil.
func (s *LedgerSession) FindActiveForStudentInGroup(ctx context.Context, studentID, groupID string) (*models.Assignment, error) {
	return s.tx.FindLiveForStudentInGroup(ctx, studentID, groupID)
}

// Create appends an assignment. It enforces the seat limit and the
// one-live-assignment-per-course rule itself, whatever the caller checked.
// The session must have been opened for studentID with AtomicallyForStudent;
// group locks alone do not keep two groups of one course apart.
func (s *LedgerSession) Create(ctx context.Context, studentID, groupID string) (*models.Assignment, error) {
	if s.student != studentID {
		return nil, appErrors.Internal(errors.New("ledger session not opened for student "+studentID), "assignment placement without student lock")
	}
	group, err := s.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	course, err := s.Course(ctx, group.CourseID)
	if err != nil {
		return nil, err
	}

	existing, err := s.tx.FindLiveForStudentInCourse(ctx, studentID, course.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, appErrors.ErrDuplicateActiveAssignment
	}

	occupied, err := s.tx.CountOccupied(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !HasCapacity(group, occupied) {
		return nil, appErrors.ErrCapacityExceeded
	}

	status := models.AssignmentStatusPending
	if course.Status == models.CourseStatusActive {
		status = models.AssignmentStatusActive
	}
	assignment := &models.Assignment{
		StudentID:  studentID,
		GroupID:    groupID,
		CourseID:   course.ID,
		Status:     status,
		AssignedAt: s.now,
	}
	if err := s.tx.InsertAssignment(ctx, assignment); err != nil {
		return nil, err
	}
	return assignment, nil
}

// Cancel moves an assignment to CANCELLED. The row is kept.
func (s *LedgerSession) Cancel(ctx context.Context, assignmentID string) (*models.Assignment, error) {
	assignment, err := s.tx.LockAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, err
	}
	switch assignment.Status {
	case models.AssignmentStatusCancelled:
		return nil, appErrors.ErrAlreadyCancelled
	case models.AssignmentStatusCompleted:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "completed assignment cannot be cancelled")
	}

	if err := s.tx.UpdateAssignmentStatus(ctx, assignmentID, models.AssignmentStatusCancelled, s.now); err != nil {
		return nil, err
	}
	at := s.now
	assignment.Status = models.AssignmentStatusCancelled
	assignment.CancelledAt = &at
	return assignment, nil
}
