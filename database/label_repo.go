package database

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/visionsuite/backend/models"
)

type LabelRepo struct {
	db *gorm.DB
}

func NewLabelRepo(db *gorm.DB) *LabelRepo {
	return &LabelRepo{db}
}

// Add inserts a new label. Labels are never updated afterwards.
func (r *LabelRepo) Add(label *models.Label) error {
	return r.db.Create(label).Error
}

// FindAllByImage returns an image's labels in creation order.
func (r *LabelRepo) FindAllByImage(imageID uuid.UUID) ([]*models.Label, error) {
	var labels []*models.Label
	err := r.db.
		Where("image_id = ?", imageID).
		Order("created_at ASC").
		Find(&labels).Error
	return labels, err
}

// FindAllByImages returns the labels of many images at once, grouped by
// image. One query regardless of image count.
func (r *LabelRepo) FindAllByImages(imageIDs []uuid.UUID) (map[uuid.UUID][]*models.Label, error) {
	grouped := make(map[uuid.UUID][]*models.Label, len(imageIDs))
	if len(imageIDs) == 0 {
		return grouped, nil
	}

	var labels []*models.Label
	err := r.db.
		Where("image_id IN ?", imageIDs).
		Order("created_at ASC").
		Find(&labels).Error
	if err != nil {
		return nil, err
	}

	for _, label := range labels {
		grouped[label.ImageID] = append(grouped[label.ImageID], label)
	}
	return grouped, nil
}
