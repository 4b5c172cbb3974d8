package service

import (
	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

// Every check below switches over the closed role set and denies anything it
// does not list.

// authorizeRegistration decides whether actor may register, cancel or
// transfer on behalf of student.
func authorizeRegistration(actor models.Actor, student *models.Student) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		if ownsStudent(actor, student) {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "students may only manage their own registrations")
	case models.RoleSupervisor:
		return appErrors.Clone(appErrors.ErrForbidden, "supervisors cannot manage registrations")
	default:
		return appErrors.ErrForbidden
	}
}

// authorizeGrading decides whether actor may write the evaluation of an
// assignment in group. supervisor is the actor's supervisor record, if any.
func authorizeGrading(actor models.Actor, group *models.TrainingGroup, supervisor *models.Supervisor) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleSupervisor:
		if supervises(supervisor, group) {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "supervisors may only grade their own groups")
	case models.RoleStudent:
		return appErrors.Clone(appErrors.ErrForbidden, "students cannot grade assignments")
	default:
		return appErrors.ErrForbidden
	}
}

// authorizeAssignmentRead decides whether actor may read an assignment and
// its evaluation.
func authorizeAssignmentRead(actor models.Actor, student *models.Student, group *models.TrainingGroup, supervisor *models.Supervisor) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleSupervisor:
		if supervises(supervisor, group) {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "assignment belongs to another supervisor")
	case models.RoleStudent:
		if ownsStudent(actor, student) {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "assignment belongs to another student")
	default:
		return appErrors.ErrForbidden
	}
}

func ownsStudent(actor models.Actor, student *models.Student) bool {
	return student != nil && student.UserID != nil && actor.UserID != "" && *student.UserID == actor.UserID
}

func supervises(supervisor *models.Supervisor, group *models.TrainingGroup) bool {
	return supervisor != nil && group != nil && group.SupervisorID != nil && *group.SupervisorID == supervisor.ID
}
