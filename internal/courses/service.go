package courses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sdlms/syncserver/internal/apperrors"
	"github.com/sdlms/syncserver/internal/models"
	"github.com/sdlms/syncserver/internal/packages"
)

// CreateRequest registers a catalog entry
type CreateRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Code        string `json:"code" validate:"required,max=50"`
	Description string `json:"description"`
}

// UpdateRequest changes a catalog entry. ContentChanged signals that
// course material was edited, not just metadata.
type UpdateRequest struct {
	Title          *string `json:"title" validate:"omitempty,max=200"`
	Description    *string `json:"description"`
	Active         *bool   `json:"active"`
	ContentChanged bool    `json:"contentChanged"`
}

// Service maintains the slim course catalog and publishes package
// invalidation when content changes
type Service struct {
	db       *gorm.DB
	packages *packages.Service
}

// NewService creates a new course service
func NewService(db *gorm.DB, pkgs *packages.Service) *Service {
	return &Service{db: db, packages: pkgs}
}

// Create registers a course. Staff only.
func (s *Service) Create(ctx context.Context, actor *models.User, req CreateRequest) (*models.Course, error) {
	if !actor.CanAdminister() {
		return nil, fmt.Errorf("%w: only staff may create courses", apperrors.ErrPermission)
	}
	if req.Title == "" || req.Code == "" {
		return nil, fmt.Errorf("%w: title and code are required", apperrors.ErrValidation)
	}

	course := &models.Course{
		Title:       req.Title,
		Code:        req.Code,
		Description: req.Description,
		Active:      true,
	}
	if err := s.db.WithContext(ctx).Create(course).Error; err != nil {
		return nil, err
	}
	return course, nil
}

// Update edits a course. A content change explicitly marks the
// course's ready packages outdated; there is no implicit trigger.
func (s *Service) Update(ctx context.Context, actor *models.User, courseID uint, req UpdateRequest) (*models.Course, error) {
	if !actor.CanAdminister() {
		return nil, fmt.Errorf("%w: only staff may update courses", apperrors.ErrPermission)
	}

	var course models.Course
	err := s.db.WithContext(ctx).First(&course, courseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: course %d", apperrors.ErrNotFound, courseID)
	}
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Active != nil {
		course.Active = *req.Active
	}
	if req.ContentChanged {
		now := time.Now().UTC()
		course.ContentUpdatedAt = &now
	}
	if err := s.db.WithContext(ctx).Save(&course).Error; err != nil {
		return nil, err
	}

	if req.ContentChanged {
		if _, err := s.packages.MarkOutdated(ctx, course.ID); err != nil {
			return nil, err
		}
	}
	return &course, nil
}

// Get returns one course
func (s *Service) Get(ctx context.Context, courseID uint) (*models.Course, error) {
	var course models.Course
	err := s.db.WithContext(ctx).First(&course, courseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: course %d", apperrors.ErrNotFound, courseID)
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// List returns active courses ordered by title
func (s *Service) List(ctx context.Context) ([]models.Course, error) {
	var courses []models.Course
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("title ASC").
		Find(&courses).Error
	return courses, err
}
