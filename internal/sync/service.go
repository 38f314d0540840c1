package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sdlms/syncserver/internal/apperrors"
	"github.com/sdlms/syncserver/internal/models"
)

// Notifier pushes events to connected devices. The websocket hub
// satisfies it; a nil notifier disables pushes.
type Notifier interface {
	SendToDevice(deviceID, eventType string, payload interface{}) bool
}

// Service orchestrates sync sessions and their conflicts
type Service struct {
	db       *gorm.DB
	notifier Notifier
}

// NewService creates a new sync service
func NewService(db *gorm.DB, notifier Notifier) *Service {
	return &Service{db: db, notifier: notifier}
}

const maxDownloadBatch = 500

// Start opens a session in in_progress for the device. A second start
// while another session for the same (user, device) is in flight fails:
// concurrent sessions would double-count transfer counters.
func (s *Service) Start(ctx context.Context, actor *models.User, req StartRequest) (*models.SyncSession, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", apperrors.ErrValidation)
	}
	direction := req.Direction
	if direction == "" {
		direction = models.DirectionBidirectional
	}
	switch direction {
	case models.DirectionUpload, models.DirectionDownload, models.DirectionBidirectional:
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", apperrors.ErrValidation, direction)
	}

	now := time.Now().UTC()
	session := &models.SyncSession{
		PublicID:        uuid.NewString(),
		UserID:          actor.ID,
		DeviceID:        req.DeviceID,
		DeviceName:      req.DeviceName,
		Direction:       direction,
		Status:          models.SyncInProgress,
		StartedAt:       &now,
		ClientTimestamp: req.ClientTimestamp,
		Metadata:        req.Metadata,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inFlight int64
		if err := tx.Model(&models.SyncSession{}).
			Where("user_id = ? AND device_id = ? AND status = ?", actor.ID, req.DeviceID, models.SyncInProgress).
			Count(&inFlight).Error; err != nil {
			return err
		}
		if inFlight > 0 {
			return fmt.Errorf("%w: a sync session is already in progress for device %s", apperrors.ErrInvalidState, req.DeviceID)
		}

		device := models.Device{
			DeviceID:   req.DeviceID,
			Name:       req.DeviceName,
			UserID:     actor.ID,
			LastSeenAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "user_id", "last_seen_at"}),
		}).Create(&device).Error; err != nil {
			return err
		}

		return tx.Create(session).Error
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Upload processes a batch of client changes inside one transaction.
// Records whose server version moved past the client's base version
// become pending conflicts; the rest are applied to the journal.
func (s *Service) Upload(ctx context.Context, actor *models.User, sessionID uint, req UploadRequest) (*UploadResult, error) {
	if len(req.Records) == 0 {
		return nil, fmt.Errorf("%w: records must not be empty", apperrors.ErrValidation)
	}

	result := &UploadResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.getSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.UserID != actor.ID {
			return fmt.Errorf("%w: session belongs to another user", apperrors.ErrPermission)
		}
		if session.Status != models.SyncInProgress {
			return fmt.Errorf("%w: session is %s, not in_progress", apperrors.ErrInvalidState, session.Status)
		}

		var bytes int64
		for _, rec := range req.Records {
			if rec.EntityType == "" || rec.RecordID == "" {
				return fmt.Errorf("%w: entityType and recordId are required", apperrors.ErrValidation)
			}
			bytes += int64(len(rec.Payload))

			var server models.SyncRecord
			err := tx.Where("entity_type = ? AND record_id = ?", rec.EntityType, rec.RecordID).
				First(&server).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				journal := models.SyncRecord{
					EntityType: rec.EntityType,
					RecordID:   rec.RecordID,
					Version:    rec.BaseVersion + 1,
					Payload:    datatypes.JSON(rec.Payload),
					Deleted:    rec.Deleted,
				}
				if err := tx.Create(&journal).Error; err != nil {
					return err
				}
				result.Accepted++

			case err != nil:
				return err

			case server.Version > rec.BaseVersion:
				// modified on both sides since the client's baseline
				conflict := models.SyncConflict{
					SessionID:  session.ID,
					EntityType: rec.EntityType,
					RecordID:   rec.RecordID,
					ServerData: server.Payload,
					ClientData: datatypes.JSON(rec.Payload),
				}
				if err := tx.Create(&conflict).Error; err != nil {
					return err
				}
				result.Conflicts++

			default:
				server.Version++
				server.Payload = datatypes.JSON(rec.Payload)
				server.Deleted = rec.Deleted
				if err := tx.Save(&server).Error; err != nil {
					return err
				}
				result.Accepted++
			}
		}

		return tx.Model(session).Updates(map[string]interface{}{
			"records_uploaded":  gorm.Expr("records_uploaded + ?", result.Accepted),
			"bytes_transferred": gorm.Expr("bytes_transferred + ?", bytes),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Download returns server-side changes since the session's baseline.
// The baseline is the client-supplied timestamp, falling back to the
// device's last completed sync.
func (s *Service) Download(ctx context.Context, actor *models.User, sessionID uint) (*DownloadResult, error) {
	result := &DownloadResult{Records: []models.SyncRecord{}}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.getSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.UserID != actor.ID {
			return fmt.Errorf("%w: session belongs to another user", apperrors.ErrPermission)
		}
		if session.Status != models.SyncInProgress {
			return fmt.Errorf("%w: session is %s, not in_progress", apperrors.ErrInvalidState, session.Status)
		}

		baseline := s.baselineFor(tx, session)
		query := tx.Order("updated_at ASC").Limit(maxDownloadBatch)
		if !baseline.IsZero() {
			query = query.Where("updated_at > ?", baseline)
		}
		if err := query.Find(&result.Records).Error; err != nil {
			return err
		}
		result.ServerTimestamp = time.Now().UTC()

		var bytes int64
		for _, rec := range result.Records {
			bytes += int64(len(rec.Payload))
		}
		return tx.Model(session).Updates(map[string]interface{}{
			"records_downloaded": gorm.Expr("records_downloaded + ?", len(result.Records)),
			"bytes_transferred":  gorm.Expr("bytes_transferred + ?", bytes),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Complete terminates an in-progress session. Unresolved conflicts
// leave it partial, which the client reconciles by resolving them.
func (s *Service) Complete(ctx context.Context, actor *models.User, sessionID uint) (*models.SyncSession, error) {
	var session *models.SyncSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.getSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.UserID != actor.ID {
			return fmt.Errorf("%w: session belongs to another user", apperrors.ErrPermission)
		}
		if session.Status != models.SyncInProgress {
			return fmt.Errorf("%w: session is %s, not in_progress", apperrors.ErrInvalidState, session.Status)
		}

		var pending int64
		if err := tx.Model(&models.SyncConflict{}).
			Where("session_id = ? AND resolution = ?", session.ID, models.ResolutionPending).
			Count(&pending).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		session.CompletedAt = &now
		if pending > 0 {
			session.Status = models.SyncPartial
		} else {
			session.Status = models.SyncCompleted
		}
		return tx.Save(session).Error
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Fail marks an in-progress session as failed with client context
func (s *Service) Fail(ctx context.Context, actor *models.User, sessionID uint, req FailRequest) (*models.SyncSession, error) {
	if req.ErrorMessage == "" {
		return nil, fmt.Errorf("%w: errorMessage is required", apperrors.ErrValidation)
	}
	var session *models.SyncSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.getSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.UserID != actor.ID {
			return fmt.Errorf("%w: session belongs to another user", apperrors.ErrPermission)
		}
		if session.Status != models.SyncInProgress {
			return fmt.Errorf("%w: session is %s, not in_progress", apperrors.ErrInvalidState, session.Status)
		}

		now := time.Now().UTC()
		session.Status = models.SyncFailed
		session.CompletedAt = &now
		session.ErrorMessage = req.ErrorMessage
		session.ErrorDetails = req.ErrorDetails
		return tx.Save(session).Error
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Last returns the most recent completed session for the device, or
// nil when the device has never finished a sync
func (s *Service) Last(ctx context.Context, actor *models.User, deviceID string) (*models.SyncSession, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device is required", apperrors.ErrValidation)
	}
	var session models.SyncSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ? AND status = ?", actor.ID, deviceID, models.SyncCompleted).
		Order("completed_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Get returns one session with its conflicts, visible to its owner or staff
func (s *Service) Get(ctx context.Context, actor *models.User, sessionID uint) (*models.SyncSession, error) {
	var session models.SyncSession
	err := s.db.WithContext(ctx).Preload("Conflicts").First(&session, sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: session %d", apperrors.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if session.UserID != actor.ID && !actor.CanAdminister() {
		return nil, fmt.Errorf("%w: session belongs to another user", apperrors.ErrPermission)
	}
	return &session, nil
}

// List returns sessions newest first. Non-staff only see their own.
func (s *Service) List(ctx context.Context, actor *models.User, filters SessionFilters) ([]models.SyncSession, error) {
	query := s.db.WithContext(ctx).Model(&models.SyncSession{})
	if !actor.CanAdminister() {
		query = query.Where("user_id = ?", actor.ID)
	}
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.Direction != "" {
		query = query.Where("direction = ?", filters.Direction)
	}
	if filters.DeviceID != "" {
		query = query.Where("device_id = ?", filters.DeviceID)
	}

	var sessions []models.SyncSession
	if err := query.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// SweepStale fails in-progress sessions older than the cutoff so an
// abandoned client cannot hold a session open forever
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).Model(&models.SyncSession{}).
		Where("status = ? AND started_at < ?", models.SyncInProgress, cutoff).
		Updates(map[string]interface{}{
			"status":        models.SyncFailed,
			"completed_at":  time.Now().UTC(),
			"error_message": "session timed out",
		})
	return res.RowsAffected, res.Error
}

// ListDevices returns the devices the user has synced from
func (s *Service) ListDevices(ctx context.Context, actor *models.User) ([]models.Device, error) {
	var devices []models.Device
	err := s.db.WithContext(ctx).
		Where("user_id = ?", actor.ID).
		Order("last_seen_at DESC").
		Find(&devices).Error
	return devices, err
}

func (s *Service) getSession(tx *gorm.DB, sessionID uint) (*models.SyncSession, error) {
	var session models.SyncSession
	err := tx.First(&session, sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: session %d", apperrors.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// baselineFor picks the reference point download diffs against
func (s *Service) baselineFor(tx *gorm.DB, session *models.SyncSession) time.Time {
	if session.ClientTimestamp != nil {
		return session.ClientTimestamp.UTC()
	}
	var last models.SyncSession
	err := tx.Where("user_id = ? AND device_id = ? AND status = ? AND id != ?",
		session.UserID, session.DeviceID, models.SyncCompleted, session.ID).
		Order("completed_at DESC").
		First(&last).Error
	if err != nil || last.CompletedAt == nil {
		return time.Time{}
	}
	return last.CompletedAt.UTC()
}
