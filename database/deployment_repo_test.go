package database

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
)

func TestDeployGeneratesKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeploymentRepo(db)

	deployment := &models.Deployment{
		ID:        uuid.New(),
		ProjectID: uuid.New(),
		Active:    true,
	}
	require.NoError(t, repo.Deploy(deployment))

	assert.True(t, strings.HasPrefix(deployment.APIKey, "vsk_"))
	// 32 random bytes hex-encoded.
	assert.Len(t, deployment.APIKey, len("vsk_")+64)
}

func TestDeployRetriesOnKeyCollision(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeploymentRepo(db)

	existing := &models.Deployment{ID: uuid.New(), ProjectID: uuid.New(), Active: true}
	require.NoError(t, repo.Deploy(existing))

	// First generation collides with the existing key, second is fresh.
	calls := 0
	repo.keygen = func() (string, error) {
		calls++
		if calls == 1 {
			return existing.APIKey, nil
		}
		return "vsk_fresh", nil
	}

	deployment := &models.Deployment{ID: uuid.New(), ProjectID: uuid.New(), Active: true}
	require.NoError(t, repo.Deploy(deployment))
	assert.Equal(t, "vsk_fresh", deployment.APIKey)
	assert.Equal(t, 2, calls)
}

func TestDeployGivesUpAfterMaxAttempts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeploymentRepo(db)

	existing := &models.Deployment{ID: uuid.New(), ProjectID: uuid.New(), Active: true}
	require.NoError(t, repo.Deploy(existing))

	repo.keygen = func() (string, error) { return existing.APIKey, nil }

	deployment := &models.Deployment{ID: uuid.New(), ProjectID: uuid.New(), Active: true}
	err := repo.Deploy(deployment)
	require.Error(t, err)
	assert.True(t, errs.IsUniqueViolation(err))
}

func TestConcurrentDeploysGetDistinctKeys(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeploymentRepo(db)
	projectID := uuid.New()

	const n = 10
	keys := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deployment := &models.Deployment{ID: uuid.New(), ProjectID: projectID, Active: true}
			if assert.NoError(t, repo.Deploy(deployment)) {
				keys <- deployment.APIKey
			}
		}()
	}
	wg.Wait()
	close(keys)

	seen := make(map[string]bool)
	for key := range keys {
		assert.False(t, seen[key], "api key issued twice: %s", key)
		seen[key] = true
	}
	assert.Len(t, seen, n)
}

func TestResolveByKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeploymentRepo(db)

	deployment := &models.Deployment{ID: uuid.New(), ProjectID: uuid.New(), Active: true}
	require.NoError(t, repo.Deploy(deployment))

	resolved, err := repo.ResolveByKey(deployment.APIKey)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, deployment.ID, resolved.ID)
}

func TestResolveByKeyUnknown(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeploymentRepo(db)

	resolved, err := repo.ResolveByKey("vsk_never_issued")
	assert.Nil(t, resolved)
	require.Error(t, err)
	assert.True(t, errs.IsUnknownAPIKeyError(err))
	assert.False(t, errs.IsDeploymentInactiveError(err))
}

func TestResolveByKeyInactive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeploymentRepo(db)

	deployment := &models.Deployment{ID: uuid.New(), ProjectID: uuid.New(), Active: true}
	require.NoError(t, repo.Deploy(deployment))
	require.NoError(t, repo.Deactivate(deployment.ID))

	resolved, err := repo.ResolveByKey(deployment.APIKey)
	assert.Nil(t, resolved)
	require.Error(t, err)
	assert.True(t, errs.IsDeploymentInactiveError(err))
	assert.False(t, errs.IsUnknownAPIKeyError(err))

	// Both failures render the same message externally.
	_, unknownErr := repo.ResolveByKey("vsk_never_issued")
	assert.Equal(t, unknownErr.Error(), err.Error())
}

func TestDeactivateIsIdempotentAndPermanent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeploymentRepo(db)

	deployment := &models.Deployment{ID: uuid.New(), ProjectID: uuid.New(), Active: true}
	require.NoError(t, repo.Deploy(deployment))

	require.NoError(t, repo.Deactivate(deployment.ID))
	require.NoError(t, repo.Deactivate(deployment.ID))

	found, err := repo.FindScoped(deployment.ProjectID, deployment.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.False(t, found.Active)
}

func TestFindAllByProjectCreationOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeploymentRepo(db)
	projectID := uuid.New()

	first := &models.Deployment{ID: uuid.New(), ProjectID: projectID, Active: true}
	require.NoError(t, repo.Deploy(first))
	second := &models.Deployment{ID: uuid.New(), ProjectID: projectID, Active: true}
	require.NoError(t, repo.Deploy(second))

	deployments, err := repo.FindAllByProject(projectID)
	require.NoError(t, err)
	require.Len(t, deployments, 2)
}
