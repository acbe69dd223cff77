package models

import (
	"time"

	"github.com/google/uuid"
)

// Project types recognized at creation time.
const (
	ProjectTypeClassification = "classification"
	ProjectTypeDetection      = "detection"
)

// ValidProjectType reports whether t is a recognized project type.
func ValidProjectType(t string) bool {
	return t == ProjectTypeClassification || t == ProjectTypeDetection
}

// Project is the top-level container for a dataset, its training
// configuration and its trained iterations. Owned exclusively by OwnerID;
// deleting it cascades to every dependent entity.
type Project struct {
	ID          uuid.UUID `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	Name        string    `json:"name" db:"name" gorm:"type:text;not null"`
	Type        string    `json:"type" db:"type" gorm:"type:text;not null"`
	Description string    `json:"description" db:"description" gorm:"type:text"`
	OwnerID     uuid.UUID `json:"ownerId" db:"owner_id" gorm:"type:uuid;not null;index"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at" gorm:"not null;autoCreateTime"`
}
