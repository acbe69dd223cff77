package database

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
)

const (
	apiKeyPrefix = "vsk_"
	apiKeyBytes  = 32

	// maxKeyAttempts bounds the retry loop on api_key collisions. With
	// 256-bit random keys a collision is effectively impossible, but the
	// unique index is the authority and collisions are retried, never
	// silently overwritten.
	maxKeyAttempts = 5
)

type DeploymentRepo struct {
	db *gorm.DB

	// keygen is swappable so tests can force collisions.
	keygen func() (string, error)
}

func NewDeploymentRepo(db *gorm.DB) *DeploymentRepo {
	return &DeploymentRepo{db: db, keygen: generateAPIKey}
}

func generateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// Deploy inserts the deployment with a freshly generated API key, retrying
// generation while the unique index reports a collision. On success the
// key is populated on d exactly once; it is up to the caller to show it to
// the user a single time.
func (r *DeploymentRepo) Deploy(d *models.Deployment) error {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := r.keygen()
		if err != nil {
			return errs.NewInternalErrorWithCause("generating API key", err)
		}
		d.APIKey = key

		err = r.db.Create(d).Error
		if err == nil {
			return nil
		}
		if errs.IsUniqueViolation(err) {
			continue
		}
		return errs.NewDatabaseError("create", "deployment", err)
	}
	return errs.NewUniqueConstraintViolationError("deployment", "api_key", nil)
}

// FindScoped returns the deployment only when it belongs to the given
// project, nil otherwise.
func (r *DeploymentRepo) FindScoped(projectID, deploymentID uuid.UUID) (*models.Deployment, error) {
	var deployment models.Deployment
	err := r.db.First(&deployment, "id = ? AND project_id = ?", deploymentID, projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deployment, nil
}

// FindAllByProject returns a project's deployments in creation order.
func (r *DeploymentRepo) FindAllByProject(projectID uuid.UUID) ([]*models.Deployment, error) {
	var deployments []*models.Deployment
	err := r.db.
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&deployments).Error
	return deployments, err
}

// Deactivate clears the active flag. Idempotent: deactivating an already
// inactive deployment is a no-op, not an error.
func (r *DeploymentRepo) Deactivate(id uuid.UUID) error {
	return r.db.Model(&models.Deployment{}).
		Where("id = ?", id).
		Update("active", false).Error
}

// ResolveByKey maps an API key to its active deployment. Unknown keys and
// keys of deactivated deployments fail with errors that are
// distinguishable via errors.Is but render the same 401 externally.
func (r *DeploymentRepo) ResolveByKey(apiKey string) (*models.Deployment, error) {
	var deployment models.Deployment
	err := r.db.First(&deployment, "api_key = ?", apiKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NewUnknownAPIKeyError()
	}
	if err != nil {
		return nil, err
	}
	if !deployment.Active {
		return nil, errs.NewDeploymentInactiveError()
	}
	return &deployment, nil
}
