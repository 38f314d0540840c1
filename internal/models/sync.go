package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncStatus defines the lifecycle state of a sync session
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
	SyncPartial    SyncStatus = "partial"
)

// SyncDirection defines which way records flow during a session
type SyncDirection string

const (
	DirectionUpload        SyncDirection = "upload"
	DirectionDownload      SyncDirection = "download"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// Terminal reports whether the status accepts no further transitions
func (s SyncStatus) Terminal() bool {
	return s == SyncCompleted || s == SyncFailed || s == SyncPartial
}

// SyncSession records one device-initiated sync attempt.
// Client and server timestamps are captured independently so clock
// skew stays visible; they are never reconciled automatically.
type SyncSession struct {
	ID                uint               `gorm:"primaryKey" json:"id"`
	PublicID          string             `gorm:"type:varchar(36);uniqueIndex;not null" json:"publicId"`
	UserID            uint               `gorm:"not null;index" json:"userId"`
	User              User               `json:"-"`
	DeviceID          string             `gorm:"type:varchar(100);not null;index" json:"deviceId"`
	DeviceName        string             `gorm:"type:varchar(200)" json:"deviceName"`
	Direction         SyncDirection      `gorm:"type:varchar(20);default:'bidirectional'" json:"direction"`
	Status            SyncStatus         `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	StartedAt         *time.Time         `json:"startedAt,omitempty"`
	CompletedAt       *time.Time         `json:"completedAt,omitempty"`
	RecordsUploaded   int                `gorm:"default:0" json:"recordsUploaded"`
	RecordsDownloaded int                `gorm:"default:0" json:"recordsDownloaded"`
	BytesTransferred  int64              `gorm:"default:0" json:"bytesTransferred"`
	ErrorMessage      string             `gorm:"type:text" json:"errorMessage,omitempty"`
	ErrorDetails      datatypes.JSONMap  `json:"errorDetails,omitempty"`
	ClientTimestamp   *time.Time         `json:"clientTimestamp,omitempty"`
	ServerTimestamp   time.Time          `gorm:"autoUpdateTime" json:"serverTimestamp"`
	Metadata          datatypes.JSONMap  `json:"metadata,omitempty"`
	Conflicts         []SyncConflict     `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"conflicts,omitempty"`
	CreatedAt         time.Time          `gorm:"index" json:"createdAt"`
}

// TableName specifies the table name
func (SyncSession) TableName() string {
	return "sync_sessions"
}

// ConflictResolution defines the chosen strategy for closing a conflict
type ConflictResolution string

const (
	ResolutionPending    ConflictResolution = "pending"
	ResolutionServerWins ConflictResolution = "server_wins"
	ResolutionClientWins ConflictResolution = "client_wins"
	ResolutionMerged     ConflictResolution = "merged"
	ResolutionManual     ConflictResolution = "manual"
)

// SyncConflict is one record collision detected during upload.
// EntityType and RecordID are opaque strings on purpose: the sync
// layer carries snapshots, not typed references into domain tables.
type SyncConflict struct {
	ID           uint               `gorm:"primaryKey" json:"id"`
	SessionID    uint               `gorm:"not null;index" json:"sessionId"`
	Session      SyncSession        `json:"-"`
	EntityType   string             `gorm:"type:varchar(100);not null;index:idx_conflict_entity" json:"entityType"`
	RecordID     string             `gorm:"type:varchar(100);not null;index:idx_conflict_entity" json:"recordId"`
	ServerData   datatypes.JSON     `json:"serverData"`
	ClientData   datatypes.JSON     `json:"clientData"`
	Resolution   ConflictResolution `gorm:"type:varchar(20);default:'pending';index" json:"resolution"`
	ResolvedData datatypes.JSON     `json:"resolvedData,omitempty"`
	ResolvedByID *uint              `json:"resolvedById,omitempty"`
	ResolvedBy   *User              `json:"-"`
	ResolvedAt   *time.Time         `json:"resolvedAt,omitempty"`
	CreatedAt    time.Time          `gorm:"index" json:"createdAt"`
}

// TableName specifies the table name
func (SyncConflict) TableName() string {
	return "sync_conflicts"
}

// SyncRecord is the server-side change journal the upload path compares
// against. Domain services upsert rows here when server state changes;
// version increases monotonically per (entity_type, record_id).
type SyncRecord struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	EntityType string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_sync_record" json:"entityType"`
	RecordID   string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_sync_record" json:"recordId"`
	Version    int            `gorm:"default:1;not null" json:"version"`
	Payload    datatypes.JSON `json:"payload"`
	Deleted    bool           `gorm:"default:false" json:"deleted"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `gorm:"index" json:"updatedAt"`
}

// TableName specifies the table name
func (SyncRecord) TableName() string {
	return "sync_records"
}
