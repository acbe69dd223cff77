package database

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
)

type ImageRepo struct {
	db *gorm.DB
}

func NewImageRepo(db *gorm.DB) *ImageRepo {
	return &ImageRepo{db}
}

// Add inserts a new image row. The bytes are already in the blob store.
func (r *ImageRepo) Add(image *models.Image) error {
	return r.db.Create(image).Error
}

// FindScoped returns the image only when it belongs to the given project,
// nil otherwise. Reads are scope-checked, not only writes.
func (r *ImageRepo) FindScoped(projectID, imageID uuid.UUID) (*models.Image, error) {
	var image models.Image
	err := r.db.First(&image, "id = ? AND project_id = ?", imageID, projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// FindAllByProject returns a project's images in creation order.
func (r *ImageRepo) FindAllByProject(projectID uuid.UUID) ([]*models.Image, error) {
	var images []*models.Image
	err := r.db.
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&images).Error
	return images, err
}

// Delete removes an image and its labels in one transaction.
func (r *ImageRepo) Delete(imageID uuid.UUID) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", imageID).Delete(&models.Label{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Image{}, "id = ?", imageID).Error
	})
	if err != nil {
		return errs.NewTransactionFailedError("image cascade delete", err)
	}
	return nil
}
