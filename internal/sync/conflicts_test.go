package sync

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sdlms/syncserver/internal/apperrors"
	"github.com/sdlms/syncserver/internal/models"
)

func seedConflict(t *testing.T, db *gorm.DB, svc *Service, user *models.User) *models.SyncConflict {
	t.Helper()
	db.Create(&models.SyncRecord{EntityType: "progress", RecordID: "p-1", Version: 5, Payload: datatypes.JSON(`{"score":50}`)})
	session := startTestSession(t, svc, user, "tablet-1")
	if _, err := svc.Upload(context.Background(), user, session.ID, UploadRequest{
		Records: []UploadRecord{
			{EntityType: "progress", RecordID: "p-1", BaseVersion: 1, Payload: rawJSON(t, map[string]int{"score": 70})},
		},
	}); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	var conflict models.SyncConflict
	if err := db.First(&conflict, "session_id = ?", session.ID).Error; err != nil {
		t.Fatalf("expected a conflict: %v", err)
	}
	return &conflict
}

func TestResolveServerWins(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)
	conflict := seedConflict(t, db, svc, user)

	resolved, err := svc.Resolve(context.Background(), user, conflict.ID, ResolveRequest{
		Resolution: models.ResolutionServerWins,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Resolution != models.ResolutionServerWins {
		t.Errorf("expected server_wins, got %s", resolved.Resolution)
	}
	if !bytes.Equal(resolved.ResolvedData, conflict.ServerData) {
		t.Error("expected resolved data to be the server snapshot")
	}
	if resolved.ResolvedAt == nil || resolved.ResolvedByID == nil {
		t.Error("expected resolver audit fields to be set")
	}
}

func TestResolveClientWins(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)
	conflict := seedConflict(t, db, svc, user)

	resolved, err := svc.Resolve(context.Background(), user, conflict.ID, ResolveRequest{
		Resolution: models.ResolutionClientWins,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !bytes.Equal(resolved.ResolvedData, conflict.ClientData) {
		t.Error("expected resolved data to be the client snapshot")
	}
}

func TestResolveMergedRequiresData(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)
	conflict := seedConflict(t, db, svc, user)

	_, err := svc.Resolve(context.Background(), user, conflict.ID, ResolveRequest{
		Resolution: models.ResolutionMerged,
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected ErrValidation without merged data, got %v", err)
	}

	merged := rawJSON(t, map[string]int{"score": 60})
	resolved, err := svc.Resolve(context.Background(), user, conflict.ID, ResolveRequest{
		Resolution:   models.ResolutionMerged,
		ResolvedData: merged,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !bytes.Equal(resolved.ResolvedData, datatypes.JSON(merged)) {
		t.Error("expected resolved data to be the merged payload")
	}
}

func TestResolveIsSingleShot(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)
	conflict := seedConflict(t, db, svc, user)

	if _, err := svc.Resolve(context.Background(), user, conflict.ID, ResolveRequest{
		Resolution: models.ResolutionServerWins,
	}); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}

	_, err := svc.Resolve(context.Background(), user, conflict.ID, ResolveRequest{
		Resolution: models.ResolutionClientWins,
	})
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second resolve, got %v", err)
	}

	// the first resolution stands
	var reloaded models.SyncConflict
	db.First(&reloaded, conflict.ID)
	if reloaded.Resolution != models.ResolutionServerWins {
		t.Errorf("expected server_wins preserved, got %s", reloaded.Resolution)
	}
}

func TestResolveRequiresOwnershipOrStaff(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	owner := newTestUser(t, db, "owner@example.com", false)
	other := newTestUser(t, db, "other@example.com", false)
	admin := newTestUser(t, db, "admin@example.com", true)
	conflict := seedConflict(t, db, svc, owner)

	_, err := svc.Resolve(context.Background(), other, conflict.ID, ResolveRequest{
		Resolution: models.ResolutionServerWins,
	})
	if !errors.Is(err, apperrors.ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}

	if _, err := svc.Resolve(context.Background(), admin, conflict.ID, ResolveRequest{
		Resolution: models.ResolutionServerWins,
	}); err != nil {
		t.Fatalf("staff resolve failed: %v", err)
	}
}

func TestResolveUnknownResolution(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)
	conflict := seedConflict(t, db, svc, user)

	_, err := svc.Resolve(context.Background(), user, conflict.ID, ResolveRequest{
		Resolution: "coin_flip",
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestListPendingConflicts(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	user := newTestUser(t, db, "learner@example.com", false)
	conflict := seedConflict(t, db, svc, user)

	pending, err := svc.ListPending(context.Background(), user)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != conflict.ID {
		t.Fatalf("expected the seeded conflict, got %+v", pending)
	}

	if _, err := svc.Resolve(context.Background(), user, conflict.ID, ResolveRequest{
		Resolution: models.ResolutionServerWins,
	}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	pending, err = svc.ListPending(context.Background(), user)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending conflicts, got %d", len(pending))
	}
}

func TestResolveNotifiesOwningDevice(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	svc := NewService(db, notifier)
	user := newTestUser(t, db, "learner@example.com", false)
	conflict := seedConflict(t, db, svc, user)

	if _, err := svc.Resolve(context.Background(), user, conflict.ID, ResolveRequest{
		Resolution: models.ResolutionServerWins,
	}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if notifier.lastDevice != "tablet-1" {
		t.Errorf("expected notification to tablet-1, got %q", notifier.lastDevice)
	}
}

type fakeNotifier struct {
	lastDevice string
	lastEvent  string
}

func (f *fakeNotifier) SendToDevice(deviceID, eventType string, payload interface{}) bool {
	f.lastDevice = deviceID
	f.lastEvent = eventType
	return true
}
