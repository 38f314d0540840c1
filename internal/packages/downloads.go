package packages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sdlms/syncserver/internal/apperrors"
	"github.com/sdlms/syncserver/internal/models"
)

// StartDownload begins or restarts a download of a ready package.
// One row exists per (package, user, device); restarting resets the
// completion flag so interrupted transfers start clean.
func (s *Service) StartDownload(ctx context.Context, actor *models.User, req StartDownloadRequest) (*StartDownloadResult, error) {
	if req.PackageID == 0 || req.DeviceID == "" {
		return nil, fmt.Errorf("%w: packageId and deviceId are required", apperrors.ErrValidation)
	}

	var pkg models.OfflinePackage
	err := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", req.PackageID, models.PackageReady).
		First(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: package not found or not available", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	info, err := s.downloadInfo(&pkg)
	if err != nil {
		return nil, err
	}

	var download models.PackageDownload
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("package_id = ? AND user_id = ? AND device_id = ?",
			pkg.ID, actor.ID, req.DeviceID).
			First(&download).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			download = models.PackageDownload{
				PackageID:    pkg.ID,
				UserID:       actor.ID,
				DeviceID:     req.DeviceID,
				DownloadedAt: time.Now().UTC(),
			}
			return tx.Create(&download).Error
		case err != nil:
			return err
		default:
			download.DownloadCompleted = false
			download.DownloadedAt = time.Now().UTC()
			return tx.Save(&download).Error
		}
	})
	if err != nil {
		return nil, err
	}

	return &StartDownloadResult{
		DownloadID: download.ID,
		URL:        info.URL,
		Checksum:   info.Checksum,
		FileSize:   info.FileSize,
	}, nil
}

// CompleteDownload acknowledges a finished transfer
func (s *Service) CompleteDownload(ctx context.Context, actor *models.User, downloadID uint) (*models.PackageDownload, error) {
	download, err := s.getDownload(ctx, actor, downloadID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	download.DownloadCompleted = true
	download.LastAccessedAt = &now
	if err := s.db.WithContext(ctx).Save(download).Error; err != nil {
		return nil, err
	}
	return download, nil
}

// RecordAccess stamps the download each time the client opens the
// cached package
func (s *Service) RecordAccess(ctx context.Context, actor *models.User, downloadID uint) (*models.PackageDownload, error) {
	download, err := s.getDownload(ctx, actor, downloadID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	download.LastAccessedAt = &now
	if err := s.db.WithContext(ctx).Save(download).Error; err != nil {
		return nil, err
	}
	return download, nil
}

// MyDownloads returns the user's completed downloads, most recently
// accessed first
func (s *Service) MyDownloads(ctx context.Context, actor *models.User) ([]models.PackageDownload, error) {
	var downloads []models.PackageDownload
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND download_completed = ?", actor.ID, true).
		Order("last_accessed_at DESC").
		Find(&downloads).Error
	return downloads, err
}

// ListDownloads returns download rows. Non-staff only see their own.
func (s *Service) ListDownloads(ctx context.Context, actor *models.User, filters DownloadFilters) ([]models.PackageDownload, error) {
	query := s.db.WithContext(ctx).Model(&models.PackageDownload{})
	if !actor.CanAdminister() {
		query = query.Where("user_id = ?", actor.ID)
	}
	if filters.PackageID != 0 {
		query = query.Where("package_id = ?", filters.PackageID)
	}
	if filters.DeviceID != "" {
		query = query.Where("device_id = ?", filters.DeviceID)
	}
	if filters.Completed != nil {
		query = query.Where("download_completed = ?", *filters.Completed)
	}

	var downloads []models.PackageDownload
	err := query.Order("downloaded_at DESC").Find(&downloads).Error
	return downloads, err
}

func (s *Service) getDownload(ctx context.Context, actor *models.User, downloadID uint) (*models.PackageDownload, error) {
	var download models.PackageDownload
	err := s.db.WithContext(ctx).First(&download, downloadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: download %d", apperrors.ErrNotFound, downloadID)
	}
	if err != nil {
		return nil, err
	}
	if download.UserID != actor.ID {
		return nil, fmt.Errorf("%w: download belongs to another user", apperrors.ErrPermission)
	}
	return &download, nil
}
