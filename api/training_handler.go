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
	"github.com/visionsuite/backend/training"
)

type trainingHandler struct {
	responder     Responder
	logger        zerolog.Logger
	projectRepo   *database.ProjectRepo
	configRepo    *database.TrainingConfigRepo
	iterationRepo *database.IterationRepo
	scheduler     *training.Scheduler
}

func newTrainingHandler(projectRepo *database.ProjectRepo, configRepo *database.TrainingConfigRepo, iterationRepo *database.IterationRepo, scheduler *training.Scheduler) trainingHandler {
	logger := log.With().Str("handlerName", "trainingHandler").Logger()

	return trainingHandler{
		responder:     NewResponder(logger),
		logger:        logger,
		projectRepo:   projectRepo,
		configRepo:    configRepo,
		iterationRepo: iterationRepo,
		scheduler:     scheduler,
	}
}

// IterationCollection represents a project's iteration history, newest first
type IterationCollection struct {
	Iterations []*models.Iteration `json:"iterations"`
	Total      int                 `json:"total"`
}

type setTrainingConfigRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// setTrainingConfig creates or fully replaces the project's training config
// @Summary Set training config
// @Description Upserts the single config per project; replace, never merge
// @Tags Training
// @Accept json
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Success 200 {object} models.TrainingConfig "Current config"
// @Failure 400 {object} ErrorResponse "Bad Request - empty payload"
// @Router /project/{projectID}/training-config [put]
func (h trainingHandler) setTrainingConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		var req setTrainingConfigRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.responder.WriteError(w, errs.NewInvalidJSONError(err))
			return
		}
		if emptyPayload(req.Payload) {
			h.responder.WriteError(w, errs.NewMissingRequiredFieldError("payload"))
			return
		}

		cfg, err := h.configRepo.Set(project.ID, req.Payload)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("upsert", "training config", err))
			return
		}

		h.responder.WriteJSON(w, cfg)
	}
}

// getTrainingConfig returns the project's current training config
// @Summary Get training config
// @Tags Training
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Success 200 {object} models.TrainingConfig "Current config"
// @Failure 404 {object} ErrorResponse "Not Found - project never configured"
// @Router /project/{projectID}/training-config [get]
func (h trainingHandler) getTrainingConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		cfg, err := h.configRepo.FindByProject(project.ID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "training config", err))
			return
		}
		if cfg == nil {
			h.responder.WriteError(w, errs.NewNotFound("training config"))
			return
		}

		h.responder.WriteJSON(w, cfg)
	}
}

// startIteration creates a pending iteration and hands it to the scheduler
// @Summary Start iteration
// @Description Returns immediately with the pending iteration; training runs asynchronously
// @Tags Training
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Success 201 {object} models.Iteration "Pending iteration"
// @Failure 412 {object} ErrorResponse "Precondition Failed - no training config"
// @Router /project/{projectID}/iteration [post]
func (h trainingHandler) startIteration() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		cfg, err := h.configRepo.FindByProject(project.ID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "training config", err))
			return
		}
		if cfg == nil {
			h.responder.WriteError(w, errs.NewPreconditionFailedError("project has no training config"))
			return
		}

		iteration := models.Iteration{
			ID:        uuid.New(),
			ProjectID: project.ID,
			Status:    models.IterationPending,
		}
		if err := h.iterationRepo.Add(&iteration); err != nil {
			h.responder.WriteError(w, wrapDatabaseError("create", "iteration", err))
			return
		}

		if err := h.scheduler.Enqueue(project.ID, iteration.ID); err != nil {
			// The row exists but no worker will ever see it; record the
			// failure instead of leaving it pending forever.
			diagnostics, _ := json.Marshal(map[string]string{"error": err.Error()})
			if abortErr := h.iterationRepo.AbortPending(iteration.ID, diagnostics); abortErr != nil {
				h.logger.Error().Err(abortErr).
					Str("iterationID", iteration.ID.String()).
					Msg("Failed to abort unqueued iteration")
			}
			h.responder.WriteError(w, errs.NewApiErr(http.StatusServiceUnavailable, "training queue full"))
			return
		}

		w.WriteHeader(http.StatusCreated)
		h.responder.WriteJSON(w, iteration)
	}
}

// getIteration returns a single iteration for polling
// @Summary Get iteration
// @Tags Training
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Param iterationID path string true "Iteration ID" format(uuid)
// @Success 200 {object} models.Iteration "Iteration"
// @Failure 404 {object} ErrorResponse "Not Found - iteration absent or out of scope"
// @Router /project/{projectID}/iteration/{iterationID} [get]
func (h trainingHandler) getIteration() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		iterationID, err := urlUUID(r, "iterationID")
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		iteration, err := h.iterationRepo.FindScoped(project.ID, iterationID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "iteration", err))
			return
		}
		if iteration == nil {
			h.responder.WriteError(w, errs.NewNotFound("iteration"))
			return
		}

		h.responder.WriteJSON(w, iteration)
	}
}

// listIterations returns the project's iteration history, newest first
// @Summary List iterations
// @Tags Training
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Success 200 {object} IterationCollection "Iterations"
// @Router /project/{projectID}/iterations [get]
func (h trainingHandler) listIterations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		iterations, err := h.iterationRepo.FindAllByProject(project.ID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "iterations", err))
			return
		}

		h.responder.WriteJSON(w, IterationCollection{
			Iterations: iterations,
			Total:      len(iterations),
		})
	}
}
