package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sdlms/syncserver/internal/apperrors"
	"github.com/sdlms/syncserver/internal/models"
	"github.com/sdlms/syncserver/internal/websocket"
)

// Resolve closes a pending conflict. server_wins and client_wins copy
// the stored snapshot; merged requires caller-supplied data. The update
// is conditional on resolution still being pending, so a concurrent
// second resolve loses cleanly instead of overwriting.
func (s *Service) Resolve(ctx context.Context, actor *models.User, conflictID uint, req ResolveRequest) (*models.SyncConflict, error) {
	var conflict models.SyncConflict
	err := s.db.WithContext(ctx).Preload("Session").First(&conflict, conflictID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: conflict %d", apperrors.ErrNotFound, conflictID)
	}
	if err != nil {
		return nil, err
	}

	if conflict.Session.UserID != actor.ID && !actor.CanAdminister() {
		return nil, fmt.Errorf("%w: conflict belongs to another user", apperrors.ErrPermission)
	}
	if conflict.Resolution != models.ResolutionPending {
		return nil, fmt.Errorf("%w: conflict already resolved as %s", apperrors.ErrInvalidState, conflict.Resolution)
	}

	var resolvedData datatypes.JSON
	switch req.Resolution {
	case models.ResolutionServerWins:
		resolvedData = conflict.ServerData
	case models.ResolutionClientWins:
		resolvedData = conflict.ClientData
	case models.ResolutionMerged:
		if len(req.ResolvedData) == 0 {
			return nil, fmt.Errorf("%w: resolvedData is required for merged resolution", apperrors.ErrValidation)
		}
		resolvedData = datatypes.JSON(req.ResolvedData)
	case models.ResolutionManual:
		if len(req.ResolvedData) > 0 {
			resolvedData = datatypes.JSON(req.ResolvedData)
		}
	default:
		return nil, fmt.Errorf("%w: unknown resolution %q", apperrors.ErrValidation, req.Resolution)
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.SyncConflict{}).
		Where("id = ? AND resolution = ?", conflict.ID, models.ResolutionPending).
		Updates(map[string]interface{}{
			"resolution":     req.Resolution,
			"resolved_data":  resolvedData,
			"resolved_by_id": actor.ID,
			"resolved_at":    now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// lost a race with another resolver
		return nil, fmt.Errorf("%w: conflict already resolved", apperrors.ErrInvalidState)
	}

	if err := s.db.WithContext(ctx).First(&conflict, conflict.ID).Error; err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.SendToDevice(conflict.Session.DeviceID, websocket.EventConflictResolved, map[string]interface{}{
			"conflictId": conflict.ID,
			"entityType": conflict.EntityType,
			"recordId":   conflict.RecordID,
			"resolution": conflict.Resolution,
		})
	}

	return &conflict, nil
}

// ListPending returns the user's unresolved conflicts, newest first
func (s *Service) ListPending(ctx context.Context, actor *models.User) ([]models.SyncConflict, error) {
	var conflicts []models.SyncConflict
	err := s.db.WithContext(ctx).
		Joins("JOIN sync_sessions ON sync_sessions.id = sync_conflicts.session_id").
		Where("sync_sessions.user_id = ? AND sync_conflicts.resolution = ?", actor.ID, models.ResolutionPending).
		Order("sync_conflicts.created_at DESC").
		Find(&conflicts).Error
	return conflicts, err
}

// ListConflicts returns conflicts newest first. Non-staff only see
// conflicts from their own sessions.
func (s *Service) ListConflicts(ctx context.Context, actor *models.User, filters ConflictFilters) ([]models.SyncConflict, error) {
	query := s.db.WithContext(ctx).Model(&models.SyncConflict{}).
		Joins("JOIN sync_sessions ON sync_sessions.id = sync_conflicts.session_id")
	if !actor.CanAdminister() {
		query = query.Where("sync_sessions.user_id = ?", actor.ID)
	}
	if filters.Resolution != "" {
		query = query.Where("sync_conflicts.resolution = ?", filters.Resolution)
	}
	if filters.EntityType != "" {
		query = query.Where("sync_conflicts.entity_type = ?", filters.EntityType)
	}

	var conflicts []models.SyncConflict
	err := query.Order("sync_conflicts.created_at DESC").Find(&conflicts).Error
	return conflicts, err
}
