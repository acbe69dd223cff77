package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TrainingConfig holds the single training configuration of a project.
// The unique index on ProjectID is what makes the at-most-one-per-project
// invariant hold under concurrent upserts.
type TrainingConfig struct {
	ID        uuid.UUID       `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	ProjectID uuid.UUID       `json:"projectId" db:"project_id" gorm:"type:uuid;not null;uniqueIndex"`
	Payload   json.RawMessage `json:"payload" db:"payload" gorm:"type:jsonb;not null"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at" gorm:"not null;autoUpdateTime"`
}
