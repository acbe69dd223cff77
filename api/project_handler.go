package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
	"github.com/visionsuite/backend/storage"
)

type projectHandler struct {
	responder   Responder
	logger      zerolog.Logger
	projectRepo *database.ProjectRepo
	blobs       storage.BlobStore
}

func newProjectHandler(projectRepo *database.ProjectRepo, blobs storage.BlobStore) projectHandler {
	logger := log.With().Str("handlerName", "projectHandler").Logger()

	return projectHandler{
		responder:   NewResponder(logger),
		logger:      logger,
		projectRepo: projectRepo,
		blobs:       blobs,
	}
}

// ProjectCollection represents the owner's projects in insertion order
type ProjectCollection struct {
	Projects []*models.Project `json:"projects"`
	Total    int               `json:"total"`
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// createProject creates a new project owned by the authenticated user
// @Summary Create project
// @Description Creates a new project of type classification or detection
// @Tags Projects
// @Accept json
// @Produce json
// @Param project body createProjectRequest true "Project data"
// @Success 201 {object} models.Project "Created project"
// @Failure 400 {object} ErrorResponse "Bad Request - empty name or unknown type"
// @Router /project [post]
func (h projectHandler) createProject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := ctxGetUserID(r.Context())
		if err != nil {
			h.responder.WriteError(w, errs.Unauthorized)
			return
		}

		var req createProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.responder.WriteError(w, errs.NewInvalidJSONError(err))
			return
		}

		if req.Name == "" {
			h.responder.WriteError(w, errs.NewMissingRequiredFieldError("name"))
			return
		}
		if !models.ValidProjectType(req.Type) {
			h.responder.WriteError(w, errs.NewInvalidFieldError("type",
				fmt.Sprintf("must be %q or %q", models.ProjectTypeClassification, models.ProjectTypeDetection)))
			return
		}

		project := models.Project{
			ID:          uuid.New(),
			Name:        req.Name,
			Type:        req.Type,
			Description: req.Description,
			OwnerID:     userID,
		}
		if err := h.projectRepo.Add(&project); err != nil {
			h.responder.WriteError(w, wrapDatabaseError("create", "project", err))
			return
		}

		w.WriteHeader(http.StatusCreated)
		h.responder.WriteJSON(w, project)
	}
}

// listProjects lists the authenticated user's projects
// @Summary List projects
// @Description Lists the user's projects in insertion order
// @Tags Projects
// @Produce json
// @Success 200 {object} ProjectCollection "Projects"
// @Router /projects [get]
func (h projectHandler) listProjects() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := ctxGetUserID(r.Context())
		if err != nil {
			h.responder.WriteError(w, errs.Unauthorized)
			return
		}

		projects, err := h.projectRepo.FindAllByOwner(userID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "projects", err))
			return
		}

		h.responder.WriteJSON(w, ProjectCollection{
			Projects: projects,
			Total:    len(projects),
		})
	}
}

// deleteProject deletes a project and everything under it
// @Summary Delete project
// @Description Atomically cascades to images, labels, config, iterations and deployments
// @Tags Projects
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Success 200 {object} map[string]string "Success message"
// @Failure 403 {object} ErrorResponse "Forbidden - not the owner"
// @Failure 404 {object} ErrorResponse "Not Found - project absent"
// @Router /project/{projectID} [delete]
func (h projectHandler) deleteProject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		blobKeys, err := h.projectRepo.Delete(project.ID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("delete", "project", err))
			return
		}

		// Blob cleanup happens after the commit; a failed delete here
		// orphans bytes in the blob store but never the other way around.
		go h.cleanupBlobs(project.ID, blobKeys)

		h.responder.WriteJSON(w, map[string]string{
			"status":  "success",
			"message": "project deleted successfully",
		})
	}
}

func (h projectHandler) cleanupBlobs(projectID uuid.UUID, blobKeys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, key := range blobKeys {
		if err := h.blobs.Delete(ctx, key); err != nil {
			h.logger.Warn().Err(err).
				Str("projectID", projectID.String()).
				Str("blobKey", key).
				Msg("Failed to delete blob for removed project")
		}
	}
}
