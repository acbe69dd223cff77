package database

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
)

// ErrStaleTransition is returned when a guarded status update matched no
// row: the iteration was not in the expected source state.
var ErrStaleTransition = errors.New("iteration not in expected state")

type IterationRepo struct {
	db *gorm.DB
}

func NewIterationRepo(db *gorm.DB) *IterationRepo {
	return &IterationRepo{db}
}

// Add inserts a new iteration, normally in pending state.
func (r *IterationRepo) Add(iteration *models.Iteration) error {
	return r.db.Create(iteration).Error
}

// FindScoped returns the iteration only when it belongs to the given
// project, nil otherwise.
func (r *IterationRepo) FindScoped(projectID, iterationID uuid.UUID) (*models.Iteration, error) {
	var iteration models.Iteration
	err := r.db.First(&iteration, "id = ? AND project_id = ?", iterationID, projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &iteration, nil
}

// FindAllByProject returns a project's full iteration history, newest first.
func (r *IterationRepo) FindAllByProject(projectID uuid.UUID) ([]*models.Iteration, error) {
	var iterations []*models.Iteration
	err := r.db.
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&iterations).Error
	return iterations, err
}

// MarkRunning flips pending -> running. The WHERE clause on the source
// status makes the flip atomic per row; a second caller gets
// ErrStaleTransition instead of a double transition.
func (r *IterationRepo) MarkRunning(id uuid.UUID) error {
	return r.transition(id, models.IterationPending, map[string]interface{}{
		"status": models.IterationRunning,
	})
}

// MarkCompleted flips running -> completed and stores the outcome.
func (r *IterationRepo) MarkCompleted(id uuid.UUID, result json.RawMessage, artifactRef string) error {
	return r.transition(id, models.IterationRunning, map[string]interface{}{
		"status":       models.IterationCompleted,
		"result":       []byte(result),
		"artifact_ref": artifactRef,
	})
}

// AbortPending flips pending -> failed for iterations that never reached a
// worker, such as when the training queue is full.
func (r *IterationRepo) AbortPending(id uuid.UUID, result json.RawMessage) error {
	return r.transition(id, models.IterationPending, map[string]interface{}{
		"status": models.IterationFailed,
		"result": []byte(result),
	})
}

// MarkFailed flips running -> failed and stores the diagnostics. Terminal
// rows are never touched again.
func (r *IterationRepo) MarkFailed(id uuid.UUID, result json.RawMessage) error {
	return r.transition(id, models.IterationRunning, map[string]interface{}{
		"status": models.IterationFailed,
		"result": []byte(result),
	})
}

func (r *IterationRepo) transition(id uuid.UUID, from models.IterationStatus, updates map[string]interface{}) error {
	res := r.db.Model(&models.Iteration{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return errs.NewDatabaseError("transition", "iteration", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}
