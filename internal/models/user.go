package models

import "time"

type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username     string `gorm:"type:varchar(32);uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"type:varchar(128);not null" json:"-"`
	DisplayName  string `gorm:"type:varchar(64)" json:"display_name"`
	PhotoURL     string `gorm:"type:varchar(512)" json:"photo_url"`
	Role         string `gorm:"type:varchar(16);not null;default:user" json:"role"`

	// set by admin moderation
	Blocked   bool       `gorm:"not null;default:false" json:"blocked"`
	BlockedAt *time.Time `json:"blocked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
