package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/field-training-api/internal/models"
)

// ActivityRepository persists activity events.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs an ActivityRepository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Insert stores an event. Re-inserting an event with the same id is a no-op so
// retried deliveries do not duplicate rows.
func (r *ActivityRepository) Insert(ctx context.Context, event *models.ActivityEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	payload := "{}"
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}
	const query = `INSERT INTO activity_logs (id, actor_id, actor_role, action, entity_type, entity_id, request_id, payload, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9) ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, event.ID, event.ActorID, event.ActorRole, event.Action, event.EntityType, event.EntityID, event.RequestID, payload, event.CreatedAt); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// List returns events newest first.
func (r *ActivityRepository) List(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityEvent, int, error) {
	var args []interface{}
	conditions := []string{"1=1"}
	if filter.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)+1))
		args = append(args, filter.ActorID)
	}
	if filter.EntityType != "" {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", len(args)+1))
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", len(args)+1))
		args = append(args, filter.EntityID)
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)+1))
		args = append(args, filter.Action)
	}
	base := "FROM activity_logs WHERE " + strings.Join(conditions, " AND ")
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT id, actor_id, actor_role, action, entity_type, entity_id, COALESCE(request_id, '') AS request_id, COALESCE(payload, '{}'::jsonb) AS payload, created_at
        %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, base, size, (page-1)*size)
	var events []models.ActivityEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list activity: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count activity: %w", err)
	}
	return events, total, nil
}
