package database

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
)

type ProjectRepo struct {
	db *gorm.DB
}

func NewProjectRepo(db *gorm.DB) *ProjectRepo {
	return &ProjectRepo{db}
}

// Add inserts a new project into the database
func (r *ProjectRepo) Add(project *models.Project) error {
	return r.db.Create(project).Error
}

// FindByID returns a project by its ID, or nil if absent.
func (r *ProjectRepo) FindByID(id uuid.UUID) (*models.Project, error) {
	var project models.Project
	err := r.db.First(&project, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// FindAllByOwner returns the owner's projects in insertion order.
func (r *ProjectRepo) FindAllByOwner(ownerID uuid.UUID) ([]*models.Project, error) {
	var projects []*models.Project
	err := r.db.
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&projects).Error
	return projects, err
}

// Delete removes a project and every dependent entity in a single
// transaction: labels of its images, the images, the training config,
// all iterations and all deployments. Either everything goes or nothing
// does. It returns the blob keys of the deleted images so the caller can
// clean up the blob store after the commit.
func (r *ProjectRepo) Delete(id uuid.UUID) ([]string, error) {
	var blobKeys []string

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var images []models.Image
		if err := tx.Where("project_id = ?", id).Find(&images).Error; err != nil {
			return err
		}
		imageIDs := make([]uuid.UUID, 0, len(images))
		for _, img := range images {
			imageIDs = append(imageIDs, img.ID)
			blobKeys = append(blobKeys, img.BlobKey)
		}

		if len(imageIDs) > 0 {
			if err := tx.Where("image_id IN ?", imageIDs).Delete(&models.Label{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.Image{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.TrainingConfig{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.Iteration{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.Deployment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Project{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, errs.NewTransactionFailedError("project cascade delete", err)
	}
	return blobKeys, nil
}
