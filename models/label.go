package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Label is one annotation pass over an image. Payload is opaque to the
// backend. Labels are immutable once written; corrections are new labels.
type Label struct {
	ID        uuid.UUID       `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	ImageID   uuid.UUID       `json:"imageId" db:"image_id" gorm:"type:uuid;not null;index"`
	Payload   json.RawMessage `json:"payload" db:"payload" gorm:"type:jsonb;not null"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at" gorm:"not null;autoCreateTime"`
}
