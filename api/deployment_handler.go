package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
)

type deploymentHandler struct {
	responder      Responder
	logger         zerolog.Logger
	projectRepo    *database.ProjectRepo
	iterationRepo  *database.IterationRepo
	deploymentRepo *database.DeploymentRepo
}

func newDeploymentHandler(projectRepo *database.ProjectRepo, iterationRepo *database.IterationRepo, deploymentRepo *database.DeploymentRepo) deploymentHandler {
	logger := log.With().Str("handlerName", "deploymentHandler").Logger()

	return deploymentHandler{
		responder:      NewResponder(logger),
		logger:         logger,
		projectRepo:    projectRepo,
		iterationRepo:  iterationRepo,
		deploymentRepo: deploymentRepo,
	}
}

// DeploymentCollection represents a project's deployments in creation order.
// API keys are never included.
type DeploymentCollection struct {
	Deployments []*models.Deployment `json:"deployments"`
	Total       int                  `json:"total"`
}

type createDeploymentRequest struct {
	IterationID *uuid.UUID `json:"iterationId"`
}

// DeploymentCreated carries the plaintext API key exactly once, at creation.
// Every later read of the deployment omits it.
type DeploymentCreated struct {
	Deployment models.Deployment `json:"deployment"`
	APIKey     string            `json:"apiKey"`
}

// deploy creates a deployment and mints its API key
// @Summary Create deployment
// @Description Optionally pins a completed iteration; without one the deployment serves the baseline model
// @Tags Deployments
// @Accept json
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Success 201 {object} DeploymentCreated "Deployment with one-time API key"
// @Failure 412 {object} ErrorResponse "Precondition Failed - iteration not completed"
// @Router /project/{projectID}/deployment [post]
func (h deploymentHandler) deploy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		var req createDeploymentRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				h.responder.WriteError(w, errs.NewInvalidJSONError(err))
				return
			}
		}

		if req.IterationID != nil {
			iteration, err := h.iterationRepo.FindScoped(project.ID, *req.IterationID)
			if err != nil {
				h.responder.WriteError(w, wrapDatabaseError("find", "iteration", err))
				return
			}
			if iteration == nil {
				h.responder.WriteError(w, errs.NewNotFound("iteration"))
				return
			}
			if iteration.Status != models.IterationCompleted {
				h.responder.WriteError(w, errs.NewPreconditionFailedError("iteration has not completed"))
				return
			}
		}

		deployment := models.Deployment{
			ID:          uuid.New(),
			ProjectID:   project.ID,
			IterationID: req.IterationID,
			Active:      true,
		}
		if err := h.deploymentRepo.Deploy(&deployment); err != nil {
			h.responder.WriteError(w, wrapDatabaseError("create", "deployment", err))
			return
		}

		w.WriteHeader(http.StatusCreated)
		h.responder.WriteJSON(w, DeploymentCreated{
			Deployment: deployment,
			APIKey:     deployment.APIKey,
		})
	}
}

// listDeployments lists a project's deployments without their keys
// @Summary List deployments
// @Tags Deployments
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Success 200 {object} DeploymentCollection "Deployments"
// @Router /project/{projectID}/deployments [get]
func (h deploymentHandler) listDeployments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		deployments, err := h.deploymentRepo.FindAllByProject(project.ID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "deployments", err))
			return
		}

		h.responder.WriteJSON(w, DeploymentCollection{
			Deployments: deployments,
			Total:       len(deployments),
		})
	}
}

// deactivate permanently revokes a deployment's API key
// @Summary Deactivate deployment
// @Description Idempotent; a deactivated deployment is never reactivated
// @Tags Deployments
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Param deploymentID path string true "Deployment ID" format(uuid)
// @Success 200 {object} models.Deployment "Deactivated deployment"
// @Failure 404 {object} ErrorResponse "Not Found - deployment absent or out of scope"
// @Router /project/{projectID}/deployment/{deploymentID}/deactivate [post]
func (h deploymentHandler) deactivate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		deploymentID, err := urlUUID(r, "deploymentID")
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		deployment, err := h.deploymentRepo.FindScoped(project.ID, deploymentID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "deployment", err))
			return
		}
		if deployment == nil {
			h.responder.WriteError(w, errs.NewNotFound("deployment"))
			return
		}

		if err := h.deploymentRepo.Deactivate(deployment.ID); err != nil {
			h.responder.WriteError(w, wrapDatabaseError("deactivate", "deployment", err))
			return
		}
		deployment.Active = false

		h.responder.WriteJSON(w, deployment)
	}
}
