package models

import (
	"time"

	"gorm.io/datatypes"
)

// PackageStatus defines the build state of an offline package
type PackageStatus string

const (
	PackageBuilding PackageStatus = "building"
	PackageReady    PackageStatus = "ready"
	PackageOutdated PackageStatus = "outdated"
	PackageError    PackageStatus = "error"
)

// OfflinePackage is a versioned bundle of a course's content for
// disconnected use. FilePath, Checksum and FileSize are populated
// together on a successful build and cleared together on rebuild.
type OfflinePackage struct {
	ID                  uint              `gorm:"primaryKey" json:"id"`
	Name                string            `gorm:"type:varchar(200);not null" json:"name"`
	Description         string            `gorm:"type:text" json:"description"`
	CourseID            uint              `gorm:"not null;index" json:"courseId"`
	Course              Course            `json:"-"`
	Version             int               `gorm:"default:1;not null" json:"version"`
	Status              PackageStatus     `gorm:"type:varchar(20);default:'building';index" json:"status"`
	FilePath            string            `gorm:"type:varchar(500)" json:"-"`
	FileSize            int64             `gorm:"default:0" json:"fileSize"`
	Checksum            string            `gorm:"type:varchar(64)" json:"checksum"`
	IncludesVideos      bool              `gorm:"default:true" json:"includesVideos"`
	IncludesDocuments   bool              `gorm:"default:true" json:"includesDocuments"`
	IncludesAssessments bool              `gorm:"default:true" json:"includesAssessments"`
	Manifest            datatypes.JSONMap `json:"manifest,omitempty"`
	BuildStartedAt      *time.Time        `json:"buildStartedAt,omitempty"`
	BuildCompletedAt    *time.Time        `json:"buildCompletedAt,omitempty"`
	ErrorMessage        string            `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt           time.Time         `gorm:"index" json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// TableName specifies the table name
func (OfflinePackage) TableName() string {
	return "offline_packages"
}

// HasArtifact reports whether a built artifact is attached
func (p *OfflinePackage) HasArtifact() bool {
	return p.FilePath != "" && p.Checksum != ""
}

// PackageDownload tracks one device's copy of a package version.
// The (package, user, device) triple is unique so re-starting a
// download reuses the existing row.
type PackageDownload struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	PackageID         uint           `gorm:"not null;uniqueIndex:idx_pkg_user_device" json:"packageId"`
	Package           OfflinePackage `json:"-"`
	UserID            uint           `gorm:"not null;uniqueIndex:idx_pkg_user_device" json:"userId"`
	User              User           `json:"-"`
	DeviceID          string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_pkg_user_device" json:"deviceId"`
	DownloadedAt      time.Time      `json:"downloadedAt"`
	DownloadCompleted bool           `gorm:"default:false" json:"downloadCompleted"`
	LastAccessedAt    *time.Time     `json:"lastAccessedAt,omitempty"`
}

// TableName specifies the table name
func (PackageDownload) TableName() string {
	return "package_downloads"
}
