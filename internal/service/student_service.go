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

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
	ExistsByNumber(ctx context.Context, number string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	UserID        *string `json:"user_id"`
	StudentNumber string  `json:"student_number" validate:"required"`
	FullName      string  `json:"full_name" validate:"required"`
	Email         string  `json:"email" validate:"omitempty,email"`
	FacultyID     string  `json:"faculty_id" validate:"required"`
	MajorID       string  `json:"major_id" validate:"required"`
	LevelID       string  `json:"level_id" validate:"required"`
}

// UpdateStudentRequest holds payload for updating students.
type UpdateStudentRequest struct {
	UserID        *string `json:"user_id"`
	StudentNumber string  `json:"student_number" validate:"required"`
	FullName      string  `json:"full_name" validate:"required"`
	Email         string  `json:"email" validate:"omitempty,email"`
	FacultyID     string  `json:"faculty_id" validate:"required"`
	MajorID       string  `json:"major_id" validate:"required"`
	LevelID       string  `json:"level_id" validate:"required"`
	Active        bool    `json:"active"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a student by id.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a new student.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if err := s.ensureNumberFree(ctx, req.StudentNumber, ""); err != nil {
		return nil, err
	}
	student := &models.Student{
		UserID:        req.UserID,
		StudentNumber: req.StudentNumber,
		FullName:      req.FullName,
		Email:         req.Email,
		FacultyID:     req.FacultyID,
		MajorID:       req.MajorID,
		LevelID:       req.LevelID,
		Active:        true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, s.writeError(err, "failed to create student")
	}
	s.logger.Info("student created", zap.String("student_id", student.ID))
	return student, nil
}

// Update modifies an existing student record.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNumberFree(ctx, req.StudentNumber, id); err != nil {
		return nil, err
	}
	student.UserID = req.UserID
	student.StudentNumber = req.StudentNumber
	student.FullName = req.FullName
	student.Email = req.Email
	student.FacultyID = req.FacultyID
	student.MajorID = req.MajorID
	student.LevelID = req.LevelID
	student.Active = req.Active
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, s.writeError(err, "failed to update student")
	}
	return student, nil
}

// Deactivate soft-deletes a student. Existing assignments are kept.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
	}
	s.logger.Info("student deactivated", zap.String("student_id", id))
	return nil
}

func (s *StudentService) ensureNumberFree(ctx context.Context, number, excludeID string) error {
	exists, err := s.repo.ExistsByNumber(ctx, number, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student number")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "student number already used")
	}
	return nil
}

func (s *StudentService) writeError(err error, message string) error {
	if errors.Is(err, repository.ErrUniqueViolation) {
		return appErrors.Clone(appErrors.ErrConflict, "student already exists")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
