package models

import (
	"time"
)

// UserRole defines the coarse role of an account
type UserRole string

const (
	RoleLearner    UserRole = "learner"
	RoleInstructor UserRole = "instructor"
	RoleAdmin      UserRole = "admin"
)

// User represents an LMS account that owns sync sessions and downloads
type User struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Email     string     `gorm:"type:varchar(254);uniqueIndex;not null" json:"email"`
	Password  string     `gorm:"not null" json:"-"`
	FullName  string     `gorm:"type:varchar(200)" json:"fullName"`
	Role      UserRole   `gorm:"type:varchar(20);default:'learner'" json:"role"`
	IsStaff   bool       `gorm:"default:false" json:"isStaff"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

// CanAdminister reports whether the user may act on resources they do not own
func (u *User) CanAdminister() bool {
	return u.IsStaff || u.Role == RoleAdmin
}
