package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
	"github.com/noah-isme/field-training-api/pkg/lock"
)

var adminActor = models.Actor{UserID: "admin-user", Role: models.RoleAdmin}

type registrationFixture struct {
	mem      *memLedger
	students *fakeStudents
	activity *recordingActivity
	locker   *lock.MemoryLocker
	ledger   *AssignmentLedger
	svc      *RegistrationService
}

func newRegistrationFixture(t *testing.T, lockTimeout time.Duration) *registrationFixture {
	t.Helper()
	mem := newMemLedger()
	students := newFakeStudents()
	for i := 1; i <= 40; i++ {
		id := fmt.Sprintf("S%d", i)
		students.students[id] = models.Student{ID: id, UserID: strPtr("user-" + id), StudentNumber: id, FullName: "Student " + id, Active: true}
	}
	activity := &recordingActivity{}
	locker := lock.NewMemoryLocker(lockTimeout)
	ledger := NewAssignmentLedger(mem, locker, nil, zap.NewNop())
	tracker := NewCapacityTracker(memGroups{mem}, nil, 0, nil)
	svc := NewRegistrationService(ledger, students, tracker, activity, nil, validator.New(), zap.NewNop())
	return &registrationFixture{mem: mem, students: students, activity: activity, locker: locker, ledger: ledger, svc: svc}
}

func (f *registrationFixture) register(t *testing.T, studentID, groupID string) *models.Assignment {
	t.Helper()
	a, err := f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: studentID, GroupID: groupID})
	require.NoError(t, err)
	return a
}

func TestRegisterFillsGroupThenRejects(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G", "C", 2)

	first := f.register(t, "S1", "G")
	assert.Equal(t, models.AssignmentStatusActive, first.Status)
	assert.Equal(t, "C", first.CourseID)
	assert.Equal(t, 1, f.mem.occupied("G"))

	f.register(t, "S2", "G")
	assert.Equal(t, 2, f.mem.occupied("G"))

	_, err := f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S3", GroupID: "G"})
	assert.ErrorIs(t, err, appErrors.ErrGroupFull)
	assert.Equal(t, 2, f.mem.occupied("G"))
	assert.Equal(t, []models.ActivityAction{models.ActivityRegister, models.ActivityRegister}, f.activity.actions())
}

func TestRegisterIntoUpcomingCourseIsPending(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("C", models.CourseStatusUpcoming)
	f.mem.addGroup("G", "C", 3)

	a := f.register(t, "S1", "G")
	assert.Equal(t, models.AssignmentStatusPending, a.Status)
	assert.Equal(t, 1, f.mem.occupied("G"))
}

func TestRegisterSameCourseOtherGroupRejected(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G1", "C", 5)
	f.mem.addGroup("G2", "C", 5)

	f.register(t, "S1", "G1")
	_, err := f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S1", GroupID: "G2"})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyRegistered)
	assert.Len(t, f.mem.live("S1", "C"), 1)
	assert.Equal(t, 0, f.mem.occupied("G2"))
}

func TestRegisterClosedCourseOrGroup(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("DONE", models.CourseStatusCompleted)
	f.mem.addGroup("G1", "DONE", 5)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G2", "C", 5)
	f.mem.setGroupStatus("G2", models.GroupStatusCancelled)

	_, err := f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S1", GroupID: "G1"})
	assert.ErrorIs(t, err, appErrors.ErrCourseNotOpen)

	_, err = f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S1", GroupID: "G2"})
	assert.ErrorIs(t, err, appErrors.ErrCourseNotOpen)
	assert.Empty(t, f.mem.snapshot())
}

func TestRegisterCourseNotOpenCheckedBeforeCapacity(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G", "C", 1)
	f.register(t, "S1", "G")
	f.mem.addCourse("C", models.CourseStatusCancelled)

	_, err := f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S2", GroupID: "G"})
	assert.ErrorIs(t, err, appErrors.ErrCourseNotOpen)
}

func TestRegisterUnknownGroupOrStudent(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)

	_, err := f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S1", GroupID: "nope"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "ghost", GroupID: "nope"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S1"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRegisterInactiveStudent(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G", "C", 5)
	s := f.students.students["S1"]
	s.Active = false
	f.students.students["S1"] = s

	_, err := f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S1", GroupID: "G"})
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
}

func TestRegisterAuthorization(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G", "C", 5)

	self := models.Actor{UserID: "user-S1", Role: models.RoleStudent}
	_, err := f.svc.Register(context.Background(), self, RegisterRequest{StudentID: "S1", GroupID: "G"})
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), self, RegisterRequest{StudentID: "S2", GroupID: "G"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	supervisor := models.Actor{UserID: "sup-user", Role: models.RoleSupervisor}
	_, err = f.svc.Register(context.Background(), supervisor, RegisterRequest{StudentID: "S2", GroupID: "G"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	unknown := models.Actor{UserID: "x", Role: models.UserRole("GUEST")}
	_, err = f.svc.Register(context.Background(), unknown, RegisterRequest{StudentID: "S2", GroupID: "G"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	assert.Equal(t, 1, f.mem.occupied("G"))
}

func TestRegisterBusyWhenGroupLockHeld(t *testing.T) {
	f := newRegistrationFixture(t, 20*time.Millisecond)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G", "C", 5)

	release, err := f.locker.Acquire(context.Background(), groupLockKey("G"))
	require.NoError(t, err)
	defer release()

	_, err = f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S1", GroupID: "G"})
	assert.ErrorIs(t, err, appErrors.ErrBusy)
	assert.Equal(t, 0, f.mem.occupied("G"))
}

func TestRegisterBusyWhenStudentLockHeld(t *testing.T) {
	f := newRegistrationFixture(t, 20*time.Millisecond)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G", "C", 5)

	release, err := f.locker.Acquire(context.Background(), studentLockKey("S1"))
	require.NoError(t, err)
	defer release()

	_, err = f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S1", GroupID: "G"})
	assert.ErrorIs(t, err, appErrors.ErrBusy)

	f.register(t, "S2", "G")
	assert.Equal(t, 1, f.mem.occupied("G"))
}

func TestCancelRegistration(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G", "C", 1)
	f.register(t, "S1", "G")

	cancelled, err := f.svc.Cancel(context.Background(), adminActor, CancelRegistrationRequest{StudentID: "S1", GroupID: "G"})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 0, f.mem.occupied("G"))
	assert.Len(t, f.mem.snapshot(), 1, "cancelled assignments are kept")

	_, err = f.svc.Cancel(context.Background(), adminActor, CancelRegistrationRequest{StudentID: "S1", GroupID: "G"})
	assert.ErrorIs(t, err, appErrors.ErrNotRegistered)

	// The freed seat can be taken again.
	f.register(t, "S2", "G")
	assert.Equal(t, []models.ActivityAction{models.ActivityRegister, models.ActivityCancel, models.ActivityRegister}, f.activity.actions())
}

func TestCancelRegistrationUnknownGroup(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	_, err := f.svc.Cancel(context.Background(), adminActor, CancelRegistrationRequest{StudentID: "S1", GroupID: "missing"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestTransferIntoFullGroupKeepsSource(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G1", "C", 1)
	f.mem.addGroup("G2", "C", 1)
	original := f.register(t, "S1", "G1")
	f.register(t, "S2", "G2")
	before := f.mem.snapshot()

	_, err := f.svc.Transfer(context.Background(), adminActor, TransferRequest{StudentID: "S1", FromGroupID: "G1", ToGroupID: "G2"})
	assert.ErrorIs(t, err, appErrors.ErrGroupFull)

	live := f.mem.live("S1", "C")
	require.Len(t, live, 1)
	assert.Equal(t, original.ID, live[0].ID)
	assert.Equal(t, "G1", live[0].GroupID)
	assert.Equal(t, models.AssignmentStatusActive, live[0].Status)
	assert.Equal(t, before, f.mem.snapshot())
	assert.NotContains(t, f.activity.actions(), models.ActivityTransfer)
}

func TestTransferMovesStudent(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G1", "C", 1)
	f.mem.addGroup("G2", "C", 1)
	original := f.register(t, "S1", "G1")

	result, err := f.svc.Transfer(context.Background(), adminActor, TransferRequest{StudentID: "S1", FromGroupID: "G1", ToGroupID: "G2"})
	require.NoError(t, err)
	assert.Equal(t, original.ID, result.Cancelled.ID)
	assert.Equal(t, models.AssignmentStatusCancelled, result.Cancelled.Status)
	assert.Equal(t, "G2", result.Created.GroupID)
	assert.Equal(t, models.AssignmentStatusActive, result.Created.Status)

	live := f.mem.live("S1", "C")
	require.Len(t, live, 1)
	assert.Equal(t, "G2", live[0].GroupID)
	assert.Equal(t, 0, f.mem.occupied("G1"))
	assert.Equal(t, 1, f.mem.occupied("G2"))
	assert.Equal(t, []models.ActivityAction{models.ActivityRegister, models.ActivityTransfer}, f.activity.actions())
}

func TestTransferRejections(t *testing.T) {
	f := newRegistrationFixture(t, time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addCourse("OTHER", models.CourseStatusActive)
	f.mem.addGroup("G1", "C", 2)
	f.mem.addGroup("G2", "C", 2)
	f.mem.addGroup("X", "OTHER", 2)
	f.register(t, "S1", "G1")

	_, err := f.svc.Transfer(context.Background(), adminActor, TransferRequest{StudentID: "S1", FromGroupID: "G1", ToGroupID: "G1"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Transfer(context.Background(), adminActor, TransferRequest{StudentID: "S1", FromGroupID: "G1", ToGroupID: "X"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Transfer(context.Background(), adminActor, TransferRequest{StudentID: "S2", FromGroupID: "G1", ToGroupID: "G2"})
	assert.ErrorIs(t, err, appErrors.ErrNotRegistered)

	f.mem.setGroupStatus("G2", models.GroupStatusCompleted)
	_, err = f.svc.Transfer(context.Background(), adminActor, TransferRequest{StudentID: "S1", FromGroupID: "G1", ToGroupID: "G2"})
	assert.ErrorIs(t, err, appErrors.ErrCourseNotOpen)

	live := f.mem.live("S1", "C")
	require.Len(t, live, 1)
	assert.Equal(t, "G1", live[0].GroupID)
}

func TestConcurrentRegistrationsNeverOversubscribe(t *testing.T) {
	f := newRegistrationFixture(t, 5*time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G", "C", 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		full    int
	)
	for i := 1; i <= 30; i++ {
		wg.Add(1)
		go func(studentID string) {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: studentID, GroupID: "G"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case appErrors.HasCode(err, appErrors.ErrGroupFull.Code):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("S%d", i))
	}
	wg.Wait()

	assert.Equal(t, 5, success)
	assert.Equal(t, 25, full)
	assert.Equal(t, 5, f.mem.occupied("G"))
}

func TestConcurrentOpposingTransfersDoNotDeadlock(t *testing.T) {
	f := newRegistrationFixture(t, 5*time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G1", "C", 10)
	f.mem.addGroup("G2", "C", 10)
	for i := 1; i <= 10; i++ {
		group := "G1"
		if i%2 == 0 {
			group = "G2"
		}
		f.register(t, fmt.Sprintf("S%d", i), group)
	}

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "G1", "G2"
			if i%2 == 0 {
				from, to = "G2", "G1"
			}
			_, err := f.svc.Transfer(context.Background(), adminActor, TransferRequest{StudentID: fmt.Sprintf("S%d", i), FromGroupID: from, ToGroupID: to})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, f.mem.occupied("G1"))
	assert.Equal(t, 5, f.mem.occupied("G2"))
	for i := 1; i <= 10; i++ {
		assert.Len(t, f.mem.live(fmt.Sprintf("S%d", i), "C"), 1)
	}
}

func TestConcurrentRegistrationsOfOneStudentAcrossGroups(t *testing.T) {
	f := newRegistrationFixture(t, 2*time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G1", "C", 5)
	f.mem.addGroup("G2", "C", 5)
	ledger := NewAssignmentLedger(newInterleavingStore(f.mem, 200*time.Millisecond), f.locker, nil, zap.NewNop())
	svc := NewRegistrationService(ledger, f.students, NewCapacityTracker(memGroups{f.mem}, nil, 0, nil), f.activity, nil, validator.New(), zap.NewNop())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for _, group := range []string{"G1", "G2"} {
		wg.Add(1)
		go func(groupID string) {
			defer wg.Done()
			_, err := svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S1", GroupID: groupID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case appErrors.HasCode(err, appErrors.ErrAlreadyRegistered.Code):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(group)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, rejected)
	assert.Len(t, f.mem.live("S1", "C"), 1)
	assert.Equal(t, 1, f.mem.occupied("G1")+f.mem.occupied("G2"))
}

func TestConcurrentTransferAndRegisterOfOneStudent(t *testing.T) {
	f := newRegistrationFixture(t, 2*time.Second)
	f.mem.addCourse("C", models.CourseStatusActive)
	f.mem.addGroup("G1", "C", 5)
	f.mem.addGroup("G2", "C", 5)
	f.mem.addGroup("G3", "C", 5)
	f.register(t, "S1", "G1")
	ledger := NewAssignmentLedger(newInterleavingStore(f.mem, 200*time.Millisecond), f.locker, nil, zap.NewNop())
	svc := NewRegistrationService(ledger, f.students, NewCapacityTracker(memGroups{f.mem}, nil, 0, nil), f.activity, nil, validator.New(), zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.Transfer(context.Background(), adminActor, TransferRequest{StudentID: "S1", FromGroupID: "G1", ToGroupID: "G2"})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := svc.Register(context.Background(), adminActor, RegisterRequest{StudentID: "S1", GroupID: "G3"})
		assert.ErrorIs(t, err, appErrors.ErrAlreadyRegistered)
	}()
	wg.Wait()

	live := f.mem.live("S1", "C")
	require.Len(t, live, 1)
	assert.Equal(t, "G2", live[0].GroupID)
}
