package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns projects. Credential storage lives here; session handling is
// done with bearer tokens issued at login.
type User struct {
	ID           uuid.UUID `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	Username     string    `json:"username" db:"username" gorm:"type:text;not null;uniqueIndex"`
	PasswordHash string    `json:"-" db:"password_hash" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at" gorm:"not null;autoCreateTime"`
}
