package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/models"
	"github.com/visionsuite/backend/services"
	"github.com/visionsuite/backend/storage"
	"github.com/visionsuite/backend/training"
)

// stubEngine is a canned ML engine for endpoint tests.
type stubEngine struct {
	mu          sync.Mutex
	trainResult *services.TrainResult
	trainErr    error
	predictions json.RawMessage
	predicted   []string // artifact refs seen by Predict
}

func (e *stubEngine) Train(ctx context.Context, req services.TrainRequest) (*services.TrainResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.trainErr != nil {
		return nil, e.trainErr
	}
	if e.trainResult != nil {
		return e.trainResult, nil
	}
	return &services.TrainResult{ArtifactRef: "artifact-test", Metrics: json.RawMessage(`{"accuracy":0.8}`)}, nil
}

func (e *stubEngine) Predict(ctx context.Context, artifactRef, filename string, image []byte) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predicted = append(e.predicted, artifactRef)
	if e.predictions != nil {
		return e.predictions, nil
	}
	return json.RawMessage(`{"prediction":"sparrow","confidence":0.97}`), nil
}

func (e *stubEngine) predictedArtifacts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.predicted...)
}

type testAPI struct {
	router http.Handler
	db     database.Database
	blobs  *storage.MemoryStore
	engine *stubEngine
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(gormDB))

	db := database.New(gormDB)
	blobs := storage.NewMemoryStore()
	engine := &stubEngine{}

	scheduler := training.NewScheduler(db, engine, 1)
	scheduler.Start(context.Background())
	t.Cleanup(scheduler.Stop)

	router := newRouter(db, blobs, engine, scheduler, withConfig(map[string]string{
		"JWT_SECRET":        "test-secret",
		"BASELINE_ARTIFACT": "baseline",
	}))

	return &testAPI{router: router, db: db, blobs: blobs, engine: engine}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) uploadImage(t *testing.T, token, projectID, filename string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("fake image bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	path := "/inference"
	if projectID != "" {
		path = fmt.Sprintf("/project/%s/image", projectID)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) registerAndLogin(t *testing.T, username string) string {
	t.Helper()

	creds := map[string]string{"username": username, "password": "hunter2-but-better"}
	rec := a.do(t, http.MethodPost, "/register", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/login", "", creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
	return resp["token"]
}

func (a *testAPI) createProject(t *testing.T, token, name, projectType string) string {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/project", token, map[string]string{
		"name": name,
		"type": projectType,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var project models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &project))
	return project.ID.String()
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRegisterAndLogin(t *testing.T) {
	api := setupAPI(t)

	creds := map[string]string{"username": "ada", "password": "s3cret"}
	rec := api.do(t, http.MethodPost, "/register", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code)

	user := decodeJSON[map[string]any](t, rec)
	assert.Equal(t, "ada", user["username"])
	// Password material never leaves the server.
	assert.NotContains(t, rec.Body.String(), "password")

	// Duplicate username is a conflict.
	rec = api.do(t, http.MethodPost, "/register", "", creds)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Wrong password and unknown user fail identically.
	rec = api.do(t, http.MethodPost, "/login", "", map[string]string{"username": "ada", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	wrongBody := rec.Body.String()
	rec = api.do(t, http.MethodPost, "/login", "", map[string]string{"username": "ghost", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, wrongBody, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/login", "", creds)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticatedRoutesRejectMissingToken(t *testing.T) {
	api := setupAPI(t)

	rec := api.do(t, http.MethodGet, "/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodGet, "/projects", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProjectLifecycle(t *testing.T) {
	api := setupAPI(t)
	token := api.registerAndLogin(t, "mina")

	rec := api.do(t, http.MethodPost, "/project", token, map[string]string{"name": "", "type": "classification"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/project", token, map[string]string{"name": "x", "type": "segmentation"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	first := api.createProject(t, token, "first", models.ProjectTypeClassification)
	second := api.createProject(t, token, "second", models.ProjectTypeDetection)

	rec = api.do(t, http.MethodGet, "/projects", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	collection := decodeJSON[ProjectCollection](t, rec)
	require.Equal(t, 2, collection.Total)
	assert.Equal(t, first, collection.Projects[0].ID.String())
	assert.Equal(t, second, collection.Projects[1].ID.String())

	rec = api.do(t, http.MethodDelete, "/project/"+first, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/projects", token, nil)
	collection = decodeJSON[ProjectCollection](t, rec)
	assert.Equal(t, 1, collection.Total)

	// Deleting twice is a 404, not an error.
	rec = api.do(t, http.MethodDelete, "/project/"+first, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectOwnershipIsolation(t *testing.T) {
	api := setupAPI(t)
	ownerToken := api.registerAndLogin(t, "owner")
	otherToken := api.registerAndLogin(t, "other")

	projectID := api.createProject(t, ownerToken, "private", models.ProjectTypeClassification)

	// Foreign project: 403 on every scoped route.
	rec := api.do(t, http.MethodDelete, "/project/"+projectID, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(t, http.MethodGet, fmt.Sprintf("/project/%s/images", projectID), otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The other user's listing stays empty.
	rec = api.do(t, http.MethodGet, "/projects", otherToken, nil)
	collection := decodeJSON[ProjectCollection](t, rec)
	assert.Zero(t, collection.Total)

	// The failed delete attempt left the project untouched.
	rec = api.do(t, http.MethodGet, "/projects", ownerToken, nil)
	collection = decodeJSON[ProjectCollection](t, rec)
	require.Equal(t, 1, collection.Total)
	assert.Equal(t, projectID, collection.Projects[0].ID.String())
}

func TestImageUploadAndLabels(t *testing.T) {
	api := setupAPI(t)
	token := api.registerAndLogin(t, "labeler")
	projectID := api.createProject(t, token, "dataset", models.ProjectTypeClassification)

	rec := api.uploadImage(t, token, projectID, "sparrow.PNG", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	image := decodeJSON[models.Image](t, rec)
	assert.Equal(t, "sparrow.PNG", image.Filename)
	// Blob keys stay internal.
	assert.NotContains(t, rec.Body.String(), "blobKey")
	assert.Equal(t, 1, api.blobs.Len())

	rec = api.uploadImage(t, token, projectID, "malware.exe", nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, 1, api.blobs.Len())

	labelPath := fmt.Sprintf("/project/%s/image/%s/label", projectID, image.ID)
	rec = api.do(t, http.MethodPost, labelPath, token, map[string]any{
		"payload": map[string]string{"class": "sparrow"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, labelPath, token, map[string]any{"payload": nil})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Labeling an image of another project is a 404.
	otherProject := api.createProject(t, token, "other", models.ProjectTypeClassification)
	rec = api.do(t, http.MethodPost,
		fmt.Sprintf("/project/%s/image/%s/label", otherProject, image.ID), token,
		map[string]any{"payload": map[string]string{"class": "x"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/project/%s/images", projectID), token, nil)
	images := decodeJSON[ImageCollection](t, rec)
	assert.Equal(t, 1, images.Total)
}

func TestImageDeleteCleansUp(t *testing.T) {
	api := setupAPI(t)
	token := api.registerAndLogin(t, "cleaner")
	projectID := api.createProject(t, token, "dataset", models.ProjectTypeClassification)

	rec := api.uploadImage(t, token, projectID, "cat.jpg", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	image := decodeJSON[models.Image](t, rec)
	require.Equal(t, 1, api.blobs.Len())

	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/project/%s/image/%s", projectID, image.ID), token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, api.blobs.Len())

	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/project/%s/image/%s", projectID, image.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeAggregatesDataset(t *testing.T) {
	api := setupAPI(t)
	token := api.registerAndLogin(t, "analyst")
	projectID := api.createProject(t, token, "dataset", models.ProjectTypeDetection)

	// Empty project: zero images, empty details, not an error.
	rec := api.do(t, http.MethodGet, fmt.Sprintf("/project/%s/analyze", projectID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	analysis := decodeJSON[ProjectAnalysis](t, rec)
	assert.Zero(t, analysis.TotalImages)
	assert.NotNil(t, analysis.Details)
	assert.Empty(t, analysis.Details)

	rec = api.uploadImage(t, token, projectID, "one.png", nil)
	one := decodeJSON[models.Image](t, rec)
	rec = api.uploadImage(t, token, projectID, "two.png", nil)
	decodeJSON[models.Image](t, rec)

	labelPath := fmt.Sprintf("/project/%s/image/%s/label", projectID, one.ID)
	for _, class := range []string{"cat", "dog"} {
		rec = api.do(t, http.MethodPost, labelPath, token, map[string]any{
			"payload": map[string]string{"class": class},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/project/%s/analyze", projectID), token, nil)
	analysis = decodeJSON[ProjectAnalysis](t, rec)
	require.Equal(t, 2, analysis.TotalImages)
	require.Len(t, analysis.Details, 2)
	assert.Equal(t, "one.png", analysis.Details[0].Filename)
	assert.Len(t, analysis.Details[0].Labels, 2)
	// An unlabeled image still shows up, with an empty label list.
	assert.Equal(t, "two.png", analysis.Details[1].Filename)
	assert.Empty(t, analysis.Details[1].Labels)
}

func TestTrainingConfigUpsert(t *testing.T) {
	api := setupAPI(t)
	token := api.registerAndLogin(t, "trainer")
	projectID := api.createProject(t, token, "dataset", models.ProjectTypeClassification)
	configPath := fmt.Sprintf("/project/%s/training-config", projectID)

	rec := api.do(t, http.MethodGet, configPath, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPut, configPath, token, map[string]any{
		"payload": map[string]any{"epochs": 5, "lr": 0.01},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPut, configPath, token, map[string]any{
		"payload": map[string]any{"epochs": 10},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, configPath, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decodeJSON[models.TrainingConfig](t, rec)
	// Replace, not merge: lr must be gone.
	assert.JSONEq(t, `{"epochs":10}`, string(cfg.Payload))
}

func TestIterationLifecycleOverAPI(t *testing.T) {
	api := setupAPI(t)
	token := api.registerAndLogin(t, "trainer")
	projectID := api.createProject(t, token, "dataset", models.ProjectTypeClassification)

	// No config yet: starting is a precondition failure.
	rec := api.do(t, http.MethodPost, fmt.Sprintf("/project/%s/iteration", projectID), token, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = api.do(t, http.MethodPut, fmt.Sprintf("/project/%s/training-config", projectID), token,
		map[string]any{"payload": map[string]int{"epochs": 2}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/project/%s/iteration", projectID), token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	iteration := decodeJSON[models.Iteration](t, rec)
	assert.Equal(t, models.IterationPending, iteration.Status)

	// Poll until the worker finishes.
	iterationPath := fmt.Sprintf("/project/%s/iteration/%s", projectID, iteration.ID)
	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, iterationPath, token, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var polled models.Iteration
		if json.Unmarshal(rec.Body.Bytes(), &polled) != nil {
			return false
		}
		return polled.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	rec = api.do(t, http.MethodGet, iterationPath, token, nil)
	final := decodeJSON[models.Iteration](t, rec)
	assert.Equal(t, models.IterationCompleted, final.Status)
	require.NotNil(t, final.ArtifactRef)
	assert.Equal(t, "artifact-test", *final.ArtifactRef)

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/project/%s/iterations", projectID), token, nil)
	history := decodeJSON[IterationCollection](t, rec)
	assert.Equal(t, 1, history.Total)
}

func TestDeploymentAndInference(t *testing.T) {
	api := setupAPI(t)
	token := api.registerAndLogin(t, "deployer")
	projectID := api.createProject(t, token, "dataset", models.ProjectTypeClassification)

	// Baseline deployment, no iteration pinned.
	rec := api.do(t, http.MethodPost, fmt.Sprintf("/project/%s/deployment", projectID), token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeJSON[DeploymentCreated](t, rec)
	require.NotEmpty(t, created.APIKey)
	assert.Contains(t, created.APIKey, "vsk_")

	// The key shows up exactly once; listings omit it.
	rec = api.do(t, http.MethodGet, fmt.Sprintf("/project/%s/deployments", projectID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.APIKey)
	listing := decodeJSON[DeploymentCollection](t, rec)
	assert.Equal(t, 1, listing.Total)

	// Inference with the key hits the baseline artifact.
	rec = api.uploadImage(t, "", "", "query.png", map[string]string{"API-Key": created.APIKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"prediction":"sparrow","confidence":0.97}`, rec.Body.String())
	assert.Equal(t, []string{"baseline"}, api.engine.predictedArtifacts())

	// Missing and unknown keys are both 401.
	rec = api.uploadImage(t, "", "", "query.png", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.uploadImage(t, "", "", "query.png", map[string]string{"API-Key": "vsk_bogus"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	unknownBody := rec.Body.String()

	// Deactivation revokes the key; the body matches the unknown-key one.
	deactivatePath := fmt.Sprintf("/project/%s/deployment/%s/deactivate", projectID, created.Deployment.ID)
	rec = api.do(t, http.MethodPost, deactivatePath, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deactivated := decodeJSON[models.Deployment](t, rec)
	assert.False(t, deactivated.Active)

	rec = api.uploadImage(t, "", "", "query.png", map[string]string{"API-Key": created.APIKey})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, unknownBody, rec.Body.String())

	// Deactivating again stays a 200.
	rec = api.do(t, http.MethodPost, deactivatePath, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeploymentPinnedToIteration(t *testing.T) {
	api := setupAPI(t)
	token := api.registerAndLogin(t, "deployer")
	projectID := api.createProject(t, token, "dataset", models.ProjectTypeClassification)

	rec := api.do(t, http.MethodPut, fmt.Sprintf("/project/%s/training-config", projectID), token,
		map[string]any{"payload": map[string]int{"epochs": 1}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/project/%s/iteration", projectID), token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	iteration := decodeJSON[models.Iteration](t, rec)

	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, fmt.Sprintf("/project/%s/iteration/%s", projectID, iteration.ID), token, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var polled models.Iteration
		if json.Unmarshal(rec.Body.Bytes(), &polled) != nil {
			return false
		}
		return polled.Status == models.IterationCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/project/%s/deployment", projectID), token,
		map[string]string{"iterationId": iteration.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeJSON[DeploymentCreated](t, rec)

	rec = api.uploadImage(t, "", "", "query.jpeg", map[string]string{"API-Key": created.APIKey})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"artifact-test"}, api.engine.predictedArtifacts())
}

func TestDeploymentRejectsUnfinishedIteration(t *testing.T) {
	api := setupAPI(t)
	token := api.registerAndLogin(t, "deployer")
	projectID := api.createProject(t, token, "dataset", models.ProjectTypeClassification)

	// A pending iteration created directly, bypassing the scheduler.
	iteration := &models.Iteration{
		ID:        uuid.New(),
		ProjectID: uuid.MustParse(projectID),
		Status:    models.IterationPending,
	}
	require.NoError(t, api.db.IterationRepo().Add(iteration))

	rec := api.do(t, http.MethodPost, fmt.Sprintf("/project/%s/deployment", projectID), token,
		map[string]string{"iterationId": iteration.ID.String()})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	// An iteration that does not exist in this project is a 404.
	rec = api.do(t, http.MethodPost, fmt.Sprintf("/project/%s/deployment", projectID), token,
		map[string]string{"iterationId": uuid.New().String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
