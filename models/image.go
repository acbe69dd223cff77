package models

import (
	"time"

	"github.com/google/uuid"
)

// Image belongs to exactly one project. The bytes live in the blob store
// under BlobKey; the row records only the reference.
type Image struct {
	ID        uuid.UUID `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	ProjectID uuid.UUID `json:"projectId" db:"project_id" gorm:"type:uuid;not null;index"`
	Filename  string    `json:"filename" db:"filename" gorm:"type:text;not null"`
	BlobKey   string    `json:"-" db:"blob_key" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" db:"created_at" gorm:"not null;autoCreateTime"`
}
