package database

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/visionsuite/backend/models"
)

type TrainingConfigRepo struct {
	db *gorm.DB
}

func NewTrainingConfigRepo(db *gorm.DB) *TrainingConfigRepo {
	return &TrainingConfigRepo{db}
}

// Set upserts the single training config of a project: full replace of the
// payload, never a merge. The INSERT ... ON CONFLICT(project_id) DO UPDATE
// rides the unique index, so two concurrent calls cannot produce two rows
// and the surviving row keeps its original identity.
func (r *TrainingConfigRepo) Set(projectID uuid.UUID, payload json.RawMessage) (*models.TrainingConfig, error) {
	cfg := models.TrainingConfig{
		ID:        uuid.New(),
		ProjectID: projectID,
		Payload:   payload,
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"payload": []byte(payload)}),
	}).Create(&cfg).Error
	if err != nil {
		return nil, err
	}

	// Reload: on the update path the row keeps the ID it was created with.
	return r.FindByProject(projectID)
}

// FindByProject returns the project's config, or nil if never configured.
func (r *TrainingConfigRepo) FindByProject(projectID uuid.UUID) (*models.TrainingConfig, error) {
	var cfg models.TrainingConfig
	err := r.db.First(&cfg, "project_id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
