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

// SupervisorRepository manages persistence for supervisors.
type SupervisorRepository struct {
	db *sqlx.DB
}

// NewSupervisorRepository constructs a SupervisorRepository.
func NewSupervisorRepository(db *sqlx.DB) *SupervisorRepository {
	return &SupervisorRepository{db: db}
}

const supervisorColumns = `id, user_id, full_name, email, phone, organization, active, created_at, updated_at`

// List returns supervisors matching the filter.
func (r *SupervisorRepository) List(ctx context.Context, filter models.SupervisorFilter) ([]models.Supervisor, int, error) {
	var args []interface{}
	conditions := []string{"1=1"}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR LOWER(email) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	base := "FROM supervisors WHERE " + strings.Join(conditions, " AND ")
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY full_name ASC LIMIT %d OFFSET %d", supervisorColumns, base, size, (page-1)*size)
	var supervisors []models.Supervisor
	if err := r.db.SelectContext(ctx, &supervisors, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list supervisors: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count supervisors: %w", err)
	}
	return supervisors, total, nil
}

// FindByID returns a supervisor by ID.
func (r *SupervisorRepository) FindByID(ctx context.Context, id string) (*models.Supervisor, error) {
	query := `SELECT ` + supervisorColumns + ` FROM supervisors WHERE id = $1`
	var supervisor models.Supervisor
	if err := r.db.GetContext(ctx, &supervisor, query, id); err != nil {
		return nil, err
	}
	return &supervisor, nil
}

// FindByUserID returns the supervisor linked to a login account.
func (r *SupervisorRepository) FindByUserID(ctx context.Context, userID string) (*models.Supervisor, error) {
	query := `SELECT ` + supervisorColumns + ` FROM supervisors WHERE user_id = $1 LIMIT 1`
	var supervisor models.Supervisor
	if err := r.db.GetContext(ctx, &supervisor, query, userID); err != nil {
		return nil, err
	}
	return &supervisor, nil
}

// Create inserts a supervisor.
func (r *SupervisorRepository) Create(ctx context.Context, supervisor *models.Supervisor) error {
	if supervisor.ID == "" {
		supervisor.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if supervisor.CreatedAt.IsZero() {
		supervisor.CreatedAt = now
	}
	supervisor.UpdatedAt = now
	const query = `INSERT INTO supervisors (id, user_id, full_name, email, phone, organization, active, created_at, updated_at)
        VALUES (:id, :user_id, :full_name, :email, :phone, :organization, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, supervisor); err != nil {
		return fmt.Errorf("create supervisor: %w", translatePQ(err))
	}
	return nil
}

// Update modifies a supervisor.
func (r *SupervisorRepository) Update(ctx context.Context, supervisor *models.Supervisor) error {
	supervisor.UpdatedAt = time.Now().UTC()
	const query = `UPDATE supervisors SET user_id = :user_id, full_name = :full_name, email = :email, phone = :phone,
        organization = :organization, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, supervisor); err != nil {
		return fmt.Errorf("update supervisor: %w", translatePQ(err))
	}
	return nil
}
