package models

import (
	"encoding/json"
	"time"
)

// ActivityAction names a state transition recorded in the activity log.
type ActivityAction string

const (
	ActivityRegister     ActivityAction = "REGISTER"
	ActivityCancel       ActivityAction = "CANCEL"
	ActivityTransfer     ActivityAction = "TRANSFER"
	ActivityEvaluate     ActivityAction = "EVALUATE"
	ActivityCourseStatus ActivityAction = "COURSE_STATUS"
	ActivityGroupStatus  ActivityAction = "GROUP_STATUS"
	ActivityLogin        ActivityAction = "LOGIN"
)

// Entity types referenced by activity events.
const (
	EntityAssignment = "assignment"
	EntityEvaluation = "evaluation"
	EntityCourse     = "course"
	EntityGroup      = "group"
	EntityUser       = "user"
)

// ActivityEvent is emitted once per successful state transition.
type ActivityEvent struct {
	ID         string          `db:"id" json:"id"`
	ActorID    string          `db:"actor_id" json:"actor_id"`
	ActorRole  UserRole        `db:"actor_role" json:"actor_role"`
	Action     ActivityAction  `db:"action" json:"action"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	RequestID  string          `db:"request_id" json:"request_id,omitempty"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// ActivityFilter captures list filters for the activity log.
type ActivityFilter struct {
	ActorID    string
	EntityType string
	EntityID   string
	Action     ActivityAction
	Page       int
	PageSize   int
}

// Actor identifies who performs an operation.
type Actor struct {
	UserID string
	Role   UserRole
}

// SystemActor is used for transitions triggered by background sweeps.
var SystemActor = Actor{UserID: "system", Role: RoleAdmin}

// ActorFromClaims builds an Actor from verified JWT claims.
func ActorFromClaims(c *JWTClaims) Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{UserID: c.UserID, Role: c.Role}
}
