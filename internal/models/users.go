package models

import (
	"time"

	"gorm.io/gorm"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// UserAccount represents a registered account. Each account owns one
// time-series bucket named after its username; superuser accounts hold the
// store API token the worker writes with.
type UserAccount struct {
	Model
	Username       string `json:"username" gorm:"uniqueIndex;Column:username"`
	Email          string `json:"email" gorm:"uniqueIndex;Column:email"`
	HashedPassword string `json:"-" gorm:"Column:hashed_password"`
	AccessKey      string `json:"access_key" gorm:"uniqueIndex;size:64;Column:access_key"`
	APIToken       string `json:"-" gorm:"Column:api_token"`
	IsActive       bool   `json:"is_active" gorm:"Column:is_active"`
	IsSuperuser    bool   `json:"is_superuser" gorm:"Column:is_superuser"`
}

// TableName overrides the gorm table name
func (UserAccount) TableName() string {
	return "accounts"
}

// SetupModels runs auto-migration for all database models
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(&UserAccount{})
}
