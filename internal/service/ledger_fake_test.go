package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/field-training-api/internal/models"
	"github.com/noah-isme/field-training-api/internal/repository"
)

// memLedger stands in for AssignmentRepository. Transactions buffer their
// writes and apply them on commit; reads inside a transaction see committed
// state plus the transaction's own writes. It takes no row locks, so only the
// ledger's group and student locks keep concurrent registrations apart.
type memLedger struct {
	mu           sync.Mutex
	groups       map[string]models.TrainingGroup
	courses      map[string]models.Course
	assignments  map[string]models.Assignment
	order        []string
	seq          int
	commits      int
	insertErr    error
	studentLocks []string
}

func newMemLedger() *memLedger {
	return &memLedger{
		groups:      make(map[string]models.TrainingGroup),
		courses:     make(map[string]models.Course),
		assignments: make(map[string]models.Assignment),
	}
}

func (m *memLedger) addCourse(id string, status models.CourseStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[id] = models.Course{ID: id, Code: id, Name: "Course " + id, Status: status}
}

func (m *memLedger) addGroup(id, courseID string, capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	m.groups[id] = models.TrainingGroup{
		ID:        id,
		CourseID:  courseID,
		Name:      "Group " + id,
		Capacity:  capacity,
		StartDate: start,
		EndDate:   start.AddDate(0, 3, 0),
		Status:    models.GroupStatusUpcoming,
	}
}

func (m *memLedger) setGroupStatus(id string, status models.GroupStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.groups[id]
	g.Status = status
	m.groups[id] = g
}

func (m *memLedger) occupied(groupID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.assignments {
		if a.GroupID == groupID && a.Status.Occupies() {
			n++
		}
	}
	return n
}

func (m *memLedger) live(studentID, courseID string) []models.Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Assignment
	for _, id := range m.order {
		a := m.assignments[id]
		if a.StudentID == studentID && a.CourseID == courseID && a.Status.Live() {
			out = append(out, a)
		}
	}
	return out
}

func (m *memLedger) snapshot() map[string]models.Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Assignment, len(m.assignments))
	for k, v := range m.assignments {
		out[k] = v
	}
	return out
}

func (m *memLedger) WithinTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	tx := &memTx{parent: m, writes: make(map[string]models.Assignment)}
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range tx.created {
		m.order = append(m.order, id)
	}
	for id, a := range tx.writes {
		m.assignments[id] = a
	}
	m.commits++
	return nil
}

func (m *memLedger) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

// CountOccupied and group lookups let memLedger back a CapacityTracker.
func (m *memLedger) CountOccupied(ctx context.Context, groupID string) (int, error) {
	return m.occupied(groupID), nil
}

type memGroups struct{ *memLedger }

func (g memGroups) FindByID(ctx context.Context, id string) (*models.TrainingGroup, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	group, ok := g.groups[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &group, nil
}

type memTx struct {
	parent  *memLedger
	writes  map[string]models.Assignment
	created []string
}

// view returns committed assignments overlaid with this transaction's writes,
// in insertion order.
func (t *memTx) view() []models.Assignment {
	t.parent.mu.Lock()
	out := make([]models.Assignment, 0, len(t.parent.order)+len(t.created))
	for _, id := range t.parent.order {
		a := t.parent.assignments[id]
		if w, ok := t.writes[id]; ok {
			a = w
		}
		out = append(out, a)
	}
	t.parent.mu.Unlock()
	for _, id := range t.created {
		out = append(out, t.writes[id])
	}
	return out
}

func (t *memTx) LockStudent(ctx context.Context, studentID string) error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.studentLocks = append(t.parent.studentLocks, studentID)
	return nil
}

func (t *memTx) LockGroup(ctx context.Context, groupID string) (*models.TrainingGroup, error) {
	return memGroups{t.parent}.FindByID(ctx, groupID)
}

func (t *memTx) ShareCourse(ctx context.Context, courseID string) (*models.Course, error) {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	c, ok := t.parent.courses[courseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (t *memTx) CountOccupied(ctx context.Context, groupID string) (int, error) {
	n := 0
	for _, a := range t.view() {
		if a.GroupID == groupID && a.Status.Occupies() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) FindLiveForStudentInCourse(ctx context.Context, studentID, courseID string) (*models.Assignment, error) {
	for _, a := range t.view() {
		if a.StudentID == studentID && a.CourseID == courseID && a.Status.Live() {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) FindLiveForStudentInGroup(ctx context.Context, studentID, groupID string) (*models.Assignment, error) {
	for _, a := range t.view() {
		if a.StudentID == studentID && a.GroupID == groupID &&
			(a.Status == models.AssignmentStatusPending || a.Status == models.AssignmentStatusActive) {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) LockAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	for _, a := range t.view() {
		if a.ID == id {
			found := a
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (t *memTx) InsertAssignment(ctx context.Context, assignment *models.Assignment) error {
	if t.parent.insertErr != nil {
		return t.parent.insertErr
	}
	t.parent.mu.Lock()
	t.parent.seq++
	assignment.ID = fmt.Sprintf("a-%d", t.parent.seq)
	t.parent.mu.Unlock()
	t.writes[assignment.ID] = *assignment
	t.created = append(t.created, assignment.ID)
	return nil
}

func (t *memTx) UpdateAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus, at time.Time) error {
	current, err := t.LockAssignment(ctx, id)
	if err != nil {
		return err
	}
	current.Status = status
	switch status {
	case models.AssignmentStatusCancelled:
		current.CancelledAt = &at
	case models.AssignmentStatusCompleted:
		current.CompletedAt = &at
	}
	t.writes[id] = *current
	return nil
}

type fakeStudents struct {
	mu       sync.Mutex
	students map[string]models.Student
}

func newFakeStudents(students ...models.Student) *fakeStudents {
	f := &fakeStudents{students: make(map[string]models.Student)}
	for _, s := range students {
		f.students[s.ID] = s
	}
	return f
}

func (f *fakeStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (f *fakeStudents) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.students {
		if s.UserID != nil && *s.UserID == userID {
			found := s
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

type recordedEvent struct {
	Actor      models.Actor
	Action     models.ActivityAction
	EntityType string
	EntityID   string
	Payload    interface{}
}

type recordingActivity struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingActivity) Record(ctx context.Context, actor models.Actor, action models.ActivityAction, entityType, entityID string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Actor: actor, Action: action, EntityType: entityType, EntityID: entityID, Payload: payload})
}

func (r *recordingActivity) actions() []models.ActivityAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ActivityAction, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

func strPtr(s string) *string { return &s }

// interleavingStore holds every assignment insert until a second transaction
// has reached its own insert, or until hold passes. Two placements that are
// not serialised by the ledger therefore both pass their checks before either
// one commits.
type interleavingStore struct {
	*memLedger
	hold    time.Duration
	mu      sync.Mutex
	arrived int
	both    chan struct{}
}

func newInterleavingStore(mem *memLedger, hold time.Duration) *interleavingStore {
	return &interleavingStore{memLedger: mem, hold: hold, both: make(chan struct{})}
}

func (s *interleavingStore) WithinTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	return s.memLedger.WithinTx(ctx, func(tx repository.LedgerTx) error {
		return fn(&heldTx{memTx: tx.(*memTx), store: s})
	})
}

type heldTx struct {
	*memTx
	store *interleavingStore
}

func (t *heldTx) InsertAssignment(ctx context.Context, assignment *models.Assignment) error {
	t.store.mu.Lock()
	t.store.arrived++
	if t.store.arrived == 2 {
		close(t.store.both)
	}
	t.store.mu.Unlock()
	select {
	case <-t.store.both:
	case <-time.After(t.store.hold):
	}
	return t.memTx.InsertAssignment(ctx, assignment)
}
