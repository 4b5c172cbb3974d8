package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

type studentDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type supervisorDirectory interface {
	FindByUserID(ctx context.Context, userID string) (*models.Supervisor, error)
}

// ActorDirectory resolves the student or supervisor profile behind a login.
type ActorDirectory struct {
	students    studentDirectory
	supervisors supervisorDirectory
}

// NewActorDirectory constructs ActorDirectory.
func NewActorDirectory(students studentDirectory, supervisors supervisorDirectory) *ActorDirectory {
	return &ActorDirectory{students: students, supervisors: supervisors}
}

// studentFor returns the student profile of a STUDENT actor. Other roles get nil.
func (d *ActorDirectory) studentFor(ctx context.Context, actor models.Actor) (*models.Student, error) {
	if actor.Role != models.RoleStudent {
		return nil, nil
	}
	student, err := d.students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile linked to this account")
		}
		return nil, appErrors.Internal(err, "failed to resolve student profile")
	}
	return student, nil
}

// supervisorFor returns the supervisor profile of a SUPERVISOR actor, or nil
// when the actor has none.
func (d *ActorDirectory) supervisorFor(ctx context.Context, actor models.Actor) (*models.Supervisor, error) {
	if actor.Role != models.RoleSupervisor {
		return nil, nil
	}
	supervisor, err := d.supervisors.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to resolve supervisor profile")
	}
	return supervisor, nil
}

// student loads the student an assignment belongs to.
func (d *ActorDirectory) student(ctx context.Context, id string) (*models.Student, error) {
	student, err := d.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	return student, nil
}
