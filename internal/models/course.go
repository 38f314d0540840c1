package models

import (
	"time"
)

// Course is the slim catalog entry offline packages are built from.
// Authoring, lessons and SCORM content live in the main LMS; the sync
// server only needs enough to version and invalidate packages.
type Course struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Title            string     `gorm:"type:varchar(200);not null" json:"title"`
	Code             string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"`
	Description      string     `gorm:"type:text" json:"description"`
	Active           bool       `gorm:"default:true" json:"active"`
	ContentUpdatedAt *time.Time `json:"contentUpdatedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// TableName specifies the table name
func (Course) TableName() string {
	return "courses"
}
