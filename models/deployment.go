package models

import (
	"time"

	"github.com/google/uuid"
)

// Deployment binds an API key to an artifact. A nil IterationID targets
// the baseline artifact. The key is generated once at deploy time and is
// never serialized afterward; only its metadata is.
type Deployment struct {
	ID          uuid.UUID  `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	ProjectID   uuid.UUID  `json:"projectId" db:"project_id" gorm:"type:uuid;not null;index"`
	IterationID *uuid.UUID `json:"iterationId,omitempty" db:"iteration_id" gorm:"type:uuid"`
	APIKey      string     `json:"-" db:"api_key" gorm:"type:text;not null;uniqueIndex"`
	Active      bool       `json:"active" db:"active" gorm:"not null"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at" gorm:"not null;autoCreateTime"`
}
