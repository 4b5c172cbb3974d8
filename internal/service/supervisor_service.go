package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/field-training-api/internal/models"
	"github.com/noah-isme/field-training-api/internal/repository"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

type supervisorRepository interface {
	List(ctx context.Context, filter models.SupervisorFilter) ([]models.Supervisor, int, error)
	FindByID(ctx context.Context, id string) (*models.Supervisor, error)
	FindByUserID(ctx context.Context, userID string) (*models.Supervisor, error)
	Create(ctx context.Context, supervisor *models.Supervisor) error
	Update(ctx context.Context, supervisor *models.Supervisor) error
}

// SupervisorRequest is the payload for creating or updating a supervisor.
type SupervisorRequest struct {
	UserID       *string `json:"user_id"`
	FullName     string  `json:"full_name" validate:"required"`
	Email        string  `json:"email" validate:"required,email"`
	Phone        string  `json:"phone"`
	Organization string  `json:"organization"`
	Active       *bool   `json:"active"`
}

// SupervisorService manages supervisor records.
type SupervisorService struct {
	repo      supervisorRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSupervisorService constructs SupervisorService.
func NewSupervisorService(repo supervisorRepository, validate *validator.Validate, logger *zap.Logger) *SupervisorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupervisorService{repo: repo, validator: validate, logger: logger}
}

// List returns supervisors with pagination.
func (s *SupervisorService) List(ctx context.Context, filter models.SupervisorFilter) ([]models.Supervisor, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	supervisors, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list supervisors")
	}
	return supervisors, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a supervisor by id.
func (s *SupervisorService) Get(ctx context.Context, id string) (*models.Supervisor, error) {
	supervisor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "supervisor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load supervisor")
	}
	return supervisor, nil
}

// Create stores a new supervisor.
func (s *SupervisorService) Create(ctx context.Context, req SupervisorRequest) (*models.Supervisor, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid supervisor payload")
	}
	supervisor := &models.Supervisor{Active: true}
	applySupervisorRequest(supervisor, req)
	if err := s.repo.Create(ctx, supervisor); err != nil {
		return nil, supervisorWriteError(err, "failed to create supervisor")
	}
	return supervisor, nil
}

// Update modifies an existing supervisor.
func (s *SupervisorService) Update(ctx context.Context, id string, req SupervisorRequest) (*models.Supervisor, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid supervisor payload")
	}
	supervisor, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applySupervisorRequest(supervisor, req)
	if err := s.repo.Update(ctx, supervisor); err != nil {
		return nil, supervisorWriteError(err, "failed to update supervisor")
	}
	return supervisor, nil
}

func applySupervisorRequest(supervisor *models.Supervisor, req SupervisorRequest) {
	supervisor.UserID = req.UserID
	supervisor.FullName = req.FullName
	supervisor.Email = req.Email
	supervisor.Phone = req.Phone
	supervisor.Organization = req.Organization
	if req.Active != nil {
		supervisor.Active = *req.Active
	}
}

func supervisorWriteError(err error, message string) error {
	if errors.Is(err, repository.ErrUniqueViolation) {
		return appErrors.Clone(appErrors.ErrConflict, "supervisor already exists")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
