package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sdlms/syncserver/internal/apperrors"
	"github.com/sdlms/syncserver/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.User{},
		&models.Course{},
		&models.Device{},
		&models.SyncSession{},
		&models.SyncConflict{},
		&models.SyncRecord{},
		&models.OfflinePackage{},
		&models.PackageDownload{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestUser(t *testing.T, db *gorm.DB, email string, staff bool) *models.User {
	t.Helper()
	user := &models.User{
		Email:    email,
		Password: "hashed",
		Role:     models.RoleLearner,
		IsStaff:  staff,
	}
	if staff {
		user.Role = models.RoleAdmin
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func startTestSession(t *testing.T, svc *Service, user *models.User, deviceID string) *models.SyncSession {
	t.Helper()
	session, err := svc.Start(context.Background(), user, StartRequest{
		DeviceID:   deviceID,
		DeviceName: "Test Device",
	})
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	return session
}

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return data
}

func TestStartSession(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)

	session := startTestSession(t, svc, user, "tablet-1")

	if session.Status != models.SyncInProgress {
		t.Errorf("expected status in_progress, got %s", session.Status)
	}
	if session.Direction != models.DirectionBidirectional {
		t.Errorf("expected default direction bidirectional, got %s", session.Direction)
	}
	if session.PublicID == "" {
		t.Error("expected public id to be set")
	}

	var device models.Device
	if err := db.First(&device, "device_id = ?", "tablet-1").Error; err != nil {
		t.Fatalf("expected device to be registered: %v", err)
	}
	if device.UserID != user.ID {
		t.Errorf("expected device owner %d, got %d", user.ID, device.UserID)
	}
}

func TestStartSessionRejectsConcurrent(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)

	startTestSession(t, svc, user, "tablet-1")

	_, err := svc.Start(context.Background(), user, StartRequest{DeviceID: "tablet-1"})
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	// a different device is unaffected
	if _, err := svc.Start(context.Background(), user, StartRequest{DeviceID: "tablet-2"}); err != nil {
		t.Fatalf("second device should start: %v", err)
	}
}

func TestStartSessionValidation(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)

	_, err := svc.Start(context.Background(), user, StartRequest{})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation for missing device, got %v", err)
	}

	_, err = svc.Start(context.Background(), user, StartRequest{DeviceID: "tablet-1", Direction: "sideways"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation for bad direction, got %v", err)
	}
}

func TestUploadNewRecords(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)
	session := startTestSession(t, svc, user, "tablet-1")

	result, err := svc.Upload(context.Background(), user, session.ID, UploadRequest{
		Records: []UploadRecord{
			{EntityType: "progress", RecordID: "p-1", BaseVersion: 0, Payload: rawJSON(t, map[string]int{"score": 80})},
			{EntityType: "progress", RecordID: "p-2", BaseVersion: 0, Payload: rawJSON(t, map[string]int{"score": 90})},
		},
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if result.Accepted != 2 || result.Conflicts != 0 {
		t.Errorf("expected 2 accepted, 0 conflicts, got %d/%d", result.Accepted, result.Conflicts)
	}

	var journal models.SyncRecord
	if err := db.First(&journal, "entity_type = ? AND record_id = ?", "progress", "p-1").Error; err != nil {
		t.Fatalf("journal row missing: %v", err)
	}
	if journal.Version != 1 {
		t.Errorf("expected version 1, got %d", journal.Version)
	}

	var reloaded models.SyncSession
	db.First(&reloaded, session.ID)
	if reloaded.RecordsUploaded != 2 {
		t.Errorf("expected records_uploaded 2, got %d", reloaded.RecordsUploaded)
	}
	if reloaded.BytesTransferred == 0 {
		t.Error("expected bytes_transferred to grow")
	}
}

func TestUploadDetectsConflict(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)

	// server already at version 3
	serverPayload := rawJSON(t, map[string]int{"score": 50})
	if err := db.Create(&models.SyncRecord{
		EntityType: "progress",
		RecordID:   "p-1",
		Version:    3,
		Payload:    datatypes.JSON(serverPayload),
	}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	session := startTestSession(t, svc, user, "tablet-1")
	result, err := svc.Upload(context.Background(), user, session.ID, UploadRequest{
		Records: []UploadRecord{
			{EntityType: "progress", RecordID: "p-1", BaseVersion: 2, Payload: rawJSON(t, map[string]int{"score": 70})},
		},
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if result.Accepted != 0 || result.Conflicts != 1 {
		t.Fatalf("expected 0 accepted, 1 conflict, got %d/%d", result.Accepted, result.Conflicts)
	}

	var conflict models.SyncConflict
	if err := db.First(&conflict, "session_id = ?", session.ID).Error; err != nil {
		t.Fatalf("conflict row missing: %v", err)
	}
	if conflict.Resolution != models.ResolutionPending {
		t.Errorf("expected pending resolution, got %s", conflict.Resolution)
	}
	if len(conflict.ServerData) == 0 || len(conflict.ClientData) == 0 {
		t.Error("expected both snapshots to be stored")
	}

	// the server journal keeps its version; the conflict holds the client change
	var journal models.SyncRecord
	db.First(&journal, "entity_type = ? AND record_id = ?", "progress", "p-1")
	if journal.Version != 3 {
		t.Errorf("expected server version untouched at 3, got %d", journal.Version)
	}
}

func TestUploadMatchingBaseVersion(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)

	if err := db.Create(&models.SyncRecord{
		EntityType: "progress",
		RecordID:   "p-1",
		Version:    2,
		Payload:    datatypes.JSON(`{"score":50}`),
	}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	session := startTestSession(t, svc, user, "tablet-1")
	result, err := svc.Upload(context.Background(), user, session.ID, UploadRequest{
		Records: []UploadRecord{
			{EntityType: "progress", RecordID: "p-1", BaseVersion: 2, Payload: rawJSON(t, map[string]int{"score": 70})},
		},
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if result.Accepted != 1 || result.Conflicts != 0 {
		t.Fatalf("expected clean accept, got %d/%d", result.Accepted, result.Conflicts)
	}

	var journal models.SyncRecord
	db.First(&journal, "entity_type = ? AND record_id = ?", "progress", "p-1")
	if journal.Version != 3 {
		t.Errorf("expected version bumped to 3, got %d", journal.Version)
	}
}

func TestUploadRequiresOwnership(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	owner := newTestUser(t, db, "owner@example.com", false)
	other := newTestUser(t, db, "other@example.com", false)
	session := startTestSession(t, svc, owner, "tablet-1")

	_, err := svc.Upload(context.Background(), other, session.ID, UploadRequest{
		Records: []UploadRecord{
			{EntityType: "progress", RecordID: "p-1", Payload: rawJSON(t, map[string]int{"v": 1})},
		},
	})
	if !errors.Is(err, apperrors.ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestDownloadSinceBaseline(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)

	old := time.Now().UTC().Add(-2 * time.Hour)
	recent := time.Now().UTC().Add(-5 * time.Minute)
	db.Create(&models.SyncRecord{EntityType: "lesson", RecordID: "l-1", Version: 1, Payload: datatypes.JSON(`{}`), UpdatedAt: old})
	db.Create(&models.SyncRecord{EntityType: "lesson", RecordID: "l-2", Version: 1, Payload: datatypes.JSON(`{}`), UpdatedAt: recent})

	baseline := time.Now().UTC().Add(-1 * time.Hour)
	session, err := svc.Start(context.Background(), user, StartRequest{
		DeviceID:        "tablet-1",
		ClientTimestamp: &baseline,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	result, err := svc.Download(context.Background(), user, session.ID)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 record past baseline, got %d", len(result.Records))
	}
	if result.Records[0].RecordID != "l-2" {
		t.Errorf("expected l-2, got %s", result.Records[0].RecordID)
	}
	if result.ServerTimestamp.IsZero() {
		t.Error("expected server timestamp")
	}

	var reloaded models.SyncSession
	db.First(&reloaded, session.ID)
	if reloaded.RecordsDownloaded != 1 {
		t.Errorf("expected records_downloaded 1, got %d", reloaded.RecordsDownloaded)
	}
}

func TestCompleteWithoutConflicts(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)
	session := startTestSession(t, svc, user, "tablet-1")

	done, err := svc.Complete(context.Background(), user, session.ID)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if done.Status != models.SyncCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	// terminal sessions cannot be completed again
	_, err = svc.Complete(context.Background(), user, session.ID)
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on re-complete, got %v", err)
	}
}

func TestCompleteWithPendingConflictsIsPartial(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)

	db.Create(&models.SyncRecord{EntityType: "progress", RecordID: "p-1", Version: 5, Payload: datatypes.JSON(`{}`)})
	session := startTestSession(t, svc, user, "tablet-1")

	if _, err := svc.Upload(context.Background(), user, session.ID, UploadRequest{
		Records: []UploadRecord{
			{EntityType: "progress", RecordID: "p-1", BaseVersion: 1, Payload: rawJSON(t, map[string]int{"v": 1})},
		},
	}); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	done, err := svc.Complete(context.Background(), user, session.ID)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if done.Status != models.SyncPartial {
		t.Errorf("expected partial, got %s", done.Status)
	}
}

func TestFailSession(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)
	session := startTestSession(t, svc, user, "tablet-1")

	failed, err := svc.Fail(context.Background(), user, session.ID, FailRequest{
		ErrorMessage: "network dropped",
		ErrorDetails: map[string]interface{}{"attempt": 3},
	})
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if failed.Status != models.SyncFailed {
		t.Errorf("expected failed, got %s", failed.Status)
	}
	if failed.ErrorMessage != "network dropped" {
		t.Errorf("expected error message to be stored, got %q", failed.ErrorMessage)
	}

	_, err = svc.Fail(context.Background(), user, session.ID, FailRequest{ErrorMessage: "again"})
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on terminal session, got %v", err)
	}
}

func TestLastCompletedSession(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)

	last, err := svc.Last(context.Background(), user, "tablet-1")
	if err != nil {
		t.Fatalf("last failed: %v", err)
	}
	if last != nil {
		t.Fatal("expected nil before any completed session")
	}

	session := startTestSession(t, svc, user, "tablet-1")
	if _, err := svc.Complete(context.Background(), user, session.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	last, err = svc.Last(context.Background(), user, "tablet-1")
	if err != nil {
		t.Fatalf("last failed: %v", err)
	}
	if last == nil || last.ID != session.ID {
		t.Fatalf("expected session %d, got %+v", session.ID, last)
	}
}

func TestListScopesToOwner(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	alice := newTestUser(t, db, "alice@example.com", false)
	bob := newTestUser(t, db, "bob@example.com", false)
	admin := newTestUser(t, db, "admin@example.com", true)

	startTestSession(t, svc, alice, "tablet-1")
	startTestSession(t, svc, bob, "tablet-2")

	own, err := svc.List(context.Background(), alice, SessionFilters{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(own) != 1 {
		t.Errorf("expected alice to see 1 session, got %d", len(own))
	}

	all, err := svc.List(context.Background(), admin, SessionFilters{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected admin to see 2 sessions, got %d", len(all))
	}
}

func TestSweepStale(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)

	session := startTestSession(t, svc, user, "tablet-1")
	stale := time.Now().UTC().Add(-48 * time.Hour)
	db.Model(&models.SyncSession{}).Where("id = ?", session.ID).Update("started_at", stale)

	fresh := startTestSession(t, svc, user, "tablet-2")

	swept, err := svc.SweepStale(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept, got %d", swept)
	}

	var reloaded models.SyncSession
	db.First(&reloaded, session.ID)
	if reloaded.Status != models.SyncFailed {
		t.Errorf("expected stale session failed, got %s", reloaded.Status)
	}

	reloaded = models.SyncSession{}
	db.First(&reloaded, fresh.ID)
	if reloaded.Status != models.SyncInProgress {
		t.Errorf("expected fresh session untouched, got %s", reloaded.Status)
	}
}
