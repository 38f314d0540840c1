package models

import (
	"time"
)

// Device represents a mobile client that has synced at least once.
// Rows are upserted when a sync session starts; the device identifier
// is chosen by the client and treated as opaque.
type Device struct {
	DeviceID   string    `gorm:"primaryKey;type:varchar(100)" json:"deviceId"`
	Name       string    `gorm:"type:varchar(200)" json:"name"`
	UserID     uint      `gorm:"not null;index" json:"userId"`
	User       User      `json:"-"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (Device) TableName() string {
	return "devices"
}
