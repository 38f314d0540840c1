package sync

import (
	"encoding/json"
	"time"

	"github.com/sdlms/syncserver/internal/models"
)

// StartRequest opens a new sync session for a device
type StartRequest struct {
	DeviceID        string                 `json:"deviceId" validate:"required,max=100"`
	DeviceName      string                 `json:"deviceName" validate:"max=200"`
	Direction       models.SyncDirection   `json:"direction" validate:"omitempty,oneof=upload download bidirectional"`
	ClientTimestamp *time.Time             `json:"clientTimestamp"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// UploadRecord is one client-side change pushed during upload.
// BaseVersion is the server version the client last saw for this
// record; a server version ahead of it means both sides changed.
type UploadRecord struct {
	EntityType  string          `json:"entityType" validate:"required,max=100"`
	RecordID    string          `json:"recordId" validate:"required,max=100"`
	BaseVersion int             `json:"baseVersion" validate:"min=0"`
	Deleted     bool            `json:"deleted"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

// UploadRequest is the batch body for the upload operation
type UploadRequest struct {
	Records []UploadRecord `json:"records" validate:"required,min=1,dive"`
}

// UploadResult reports what the server did with an uploaded batch
type UploadResult struct {
	Accepted  int `json:"accepted"`
	Conflicts int `json:"conflicts"`
}

// DownloadResult carries server-side changes plus the timestamp the
// client must persist as its next baseline
type DownloadResult struct {
	Records         []models.SyncRecord `json:"records"`
	ServerTimestamp time.Time           `json:"serverTimestamp"`
}

// FailRequest marks a session as failed with client-supplied context
type FailRequest struct {
	ErrorMessage string                 `json:"errorMessage" validate:"required"`
	ErrorDetails map[string]interface{} `json:"errorDetails"`
}

// ResolveRequest closes a conflict with the chosen strategy
type ResolveRequest struct {
	Resolution   models.ConflictResolution `json:"resolution" validate:"required,oneof=server_wins client_wins merged manual"`
	ResolvedData json.RawMessage           `json:"resolvedData"`
}

// SessionFilters narrows session listings
type SessionFilters struct {
	Status    string
	Direction string
	DeviceID  string
}

// ConflictFilters narrows conflict listings
type ConflictFilters struct {
	Resolution string
	EntityType string
}
