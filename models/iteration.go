package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IterationStatus is the state of one training attempt.
// Transitions: pending -> running -> completed | failed. Terminal states
// have no outgoing transitions; re-training creates a new iteration.
type IterationStatus string

const (
	IterationPending   IterationStatus = "pending"
	IterationRunning   IterationStatus = "running"
	IterationCompleted IterationStatus = "completed"
	IterationFailed    IterationStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s IterationStatus) Terminal() bool {
	return s == IterationCompleted || s == IterationFailed
}

// Iteration records one training attempt and its outcome. ArtifactRef is
// set only on completed iterations.
type Iteration struct {
	ID          uuid.UUID       `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	ProjectID   uuid.UUID       `json:"projectId" db:"project_id" gorm:"type:uuid;not null;index"`
	Status      IterationStatus `json:"status" db:"status" gorm:"type:text;not null"`
	Result      json.RawMessage `json:"result,omitempty" db:"result" gorm:"type:jsonb"`
	ArtifactRef *string         `json:"artifactRef,omitempty" db:"artifact_ref" gorm:"type:text"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at" gorm:"not null;autoUpdateTime"`
}
