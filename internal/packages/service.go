package packages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/sdlms/syncserver/internal/apperrors"
	"github.com/sdlms/syncserver/internal/models"
	"github.com/sdlms/syncserver/internal/websocket"
)

// Notifier pushes package lifecycle events to devices
type Notifier interface {
	Broadcast(eventType string, payload interface{})
}

// Service owns the offline package lifecycle and download tracking
type Service struct {
	db         *gorm.DB
	storageDir string
	notifier   Notifier
}

// NewService creates a new package service. Artifacts are written
// under storageDir and served from /files/packages/.
func NewService(db *gorm.DB, storageDir string, notifier Notifier) *Service {
	return &Service{db: db, storageDir: storageDir, notifier: notifier}
}

// Create registers a package in building state. Staff only.
func (s *Service) Create(ctx context.Context, actor *models.User, req CreateRequest) (*models.OfflinePackage, error) {
	if !actor.CanAdminister() {
		return nil, fmt.Errorf("%w: only staff may create packages", apperrors.ErrPermission)
	}
	if req.Name == "" || req.CourseID == 0 {
		return nil, fmt.Errorf("%w: name and courseId are required", apperrors.ErrValidation)
	}

	var course models.Course
	err := s.db.WithContext(ctx).First(&course, req.CourseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: course %d", apperrors.ErrNotFound, req.CourseID)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pkg := &models.OfflinePackage{
		Name:                req.Name,
		Description:         req.Description,
		CourseID:            course.ID,
		Status:              models.PackageBuilding,
		IncludesVideos:      boolOr(req.IncludesVideos, true),
		IncludesDocuments:   boolOr(req.IncludesDocuments, true),
		IncludesAssessments: boolOr(req.IncludesAssessments, true),
		BuildStartedAt:      &now,
	}
	if err := s.db.WithContext(ctx).Create(pkg).Error; err != nil {
		return nil, err
	}
	return pkg, nil
}

// RequestBuild re-triggers a build. A rebuild of a ready or outdated
// package bumps the version and clears the artifact until the build
// lands; a package already building cannot be triggered again.
func (s *Service) RequestBuild(ctx context.Context, actor *models.User, packageID uint) (*models.OfflinePackage, error) {
	if !actor.CanAdminister() {
		return nil, fmt.Errorf("%w: only staff may trigger builds", apperrors.ErrPermission)
	}

	var pkg *models.OfflinePackage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		pkg, err = getPackage(tx, packageID)
		if err != nil {
			return err
		}
		if pkg.Status == models.PackageBuilding {
			return fmt.Errorf("%w: package is already building", apperrors.ErrInvalidState)
		}
		if pkg.Status == models.PackageReady || pkg.Status == models.PackageOutdated {
			pkg.Version++
		}

		now := time.Now().UTC()
		pkg.Status = models.PackageBuilding
		pkg.FilePath = ""
		pkg.FileSize = 0
		pkg.Checksum = ""
		pkg.Manifest = nil
		pkg.BuildStartedAt = &now
		pkg.BuildCompletedAt = nil
		pkg.ErrorMessage = ""
		return tx.Save(pkg).Error
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// CompleteBuild attaches a built artifact. File, checksum and size are
// stored together in one transaction so a ready package always has a
// verifiable artifact.
func (s *Service) CompleteBuild(ctx context.Context, packageID uint, artifact []byte, manifest map[string]interface{}) (*models.OfflinePackage, error) {
	if len(artifact) == 0 {
		return nil, fmt.Errorf("%w: artifact must not be empty", apperrors.ErrValidation)
	}

	var pkg *models.OfflinePackage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		pkg, err = getPackage(tx, packageID)
		if err != nil {
			return err
		}
		if pkg.Status != models.PackageBuilding {
			return fmt.Errorf("%w: package is %s, not building", apperrors.ErrInvalidState, pkg.Status)
		}

		name := fmt.Sprintf("package_%d_v%d.zip", pkg.ID, pkg.Version)
		path := filepath.Join(s.storageDir, name)
		if err := os.MkdirAll(s.storageDir, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, artifact, 0o644); err != nil {
			return err
		}

		sum := sha256.Sum256(artifact)
		now := time.Now().UTC()
		pkg.FilePath = name
		pkg.FileSize = int64(len(artifact))
		pkg.Checksum = hex.EncodeToString(sum[:])
		pkg.Manifest = manifest
		pkg.Status = models.PackageReady
		pkg.BuildCompletedAt = &now
		pkg.ErrorMessage = ""
		return tx.Save(pkg).Error
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.Broadcast(websocket.EventPackageReady, map[string]interface{}{
			"packageId": pkg.ID,
			"courseId":  pkg.CourseID,
			"version":   pkg.Version,
		})
	}
	return pkg, nil
}

// FailBuild records a build failure, leaving the artifact empty
func (s *Service) FailBuild(ctx context.Context, packageID uint, message string) (*models.OfflinePackage, error) {
	var pkg *models.OfflinePackage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		pkg, err = getPackage(tx, packageID)
		if err != nil {
			return err
		}
		if pkg.Status != models.PackageBuilding {
			return fmt.Errorf("%w: package is %s, not building", apperrors.ErrInvalidState, pkg.Status)
		}
		pkg.Status = models.PackageError
		pkg.ErrorMessage = message
		return tx.Save(pkg).Error
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// MarkOutdated flags every ready package of a course as outdated.
// CourseService calls this when course content changes; packages are
// never invalidated implicitly.
func (s *Service) MarkOutdated(ctx context.Context, courseID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.OfflinePackage{}).
		Where("course_id = ? AND status = ?", courseID, models.PackageReady).
		Update("status", models.PackageOutdated)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 && s.notifier != nil {
		s.notifier.Broadcast(websocket.EventPackageOutdated, map[string]interface{}{
			"courseId": courseID,
		})
	}
	return res.RowsAffected, nil
}

// Get returns one package
func (s *Service) Get(ctx context.Context, packageID uint) (*models.OfflinePackage, error) {
	return getPackage(s.db.WithContext(ctx), packageID)
}

// ListAvailable returns ready packages for client discovery
func (s *Service) ListAvailable(ctx context.Context) ([]models.OfflinePackage, error) {
	var pkgs []models.OfflinePackage
	err := s.db.WithContext(ctx).
		Where("status = ?", models.PackageReady).
		Order("name ASC").
		Find(&pkgs).Error
	return pkgs, err
}

// List returns packages newest first. Non-staff only see ready ones.
func (s *Service) List(ctx context.Context, actor *models.User, filters Filters) ([]models.OfflinePackage, error) {
	query := s.db.WithContext(ctx).Model(&models.OfflinePackage{})
	if !actor.CanAdminister() {
		query = query.Where("status = ?", models.PackageReady)
	} else if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.CourseID != 0 {
		query = query.Where("course_id = ?", filters.CourseID)
	}
	if filters.Search != "" {
		query = query.Where("name LIKE ?", "%"+filters.Search+"%")
	}

	var pkgs []models.OfflinePackage
	err := query.Order("created_at DESC").Find(&pkgs).Error
	return pkgs, err
}

// GetDownloadInfo returns fetch information for a ready package
func (s *Service) GetDownloadInfo(ctx context.Context, packageID uint) (*DownloadInfo, error) {
	pkg, err := getPackage(s.db.WithContext(ctx), packageID)
	if err != nil {
		return nil, err
	}
	return s.downloadInfo(pkg)
}

func (s *Service) downloadInfo(pkg *models.OfflinePackage) (*DownloadInfo, error) {
	if pkg.Status != models.PackageReady {
		return nil, fmt.Errorf("%w: package is %s, not ready", apperrors.ErrInvalidState, pkg.Status)
	}
	if !pkg.HasArtifact() {
		return nil, fmt.Errorf("%w: package has no artifact", apperrors.ErrNotFound)
	}
	return &DownloadInfo{
		URL:      "/files/packages/" + pkg.FilePath,
		Checksum: pkg.Checksum,
		FileSize: pkg.FileSize,
	}, nil
}

func getPackage(tx *gorm.DB, packageID uint) (*models.OfflinePackage, error) {
	var pkg models.OfflinePackage
	err := tx.First(&pkg, packageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: package %d", apperrors.ErrNotFound, packageID)
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}
