package api

import (
	"io"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
	"github.com/visionsuite/backend/services"
)

// apiKeyHeader authenticates inference callers. It is a deployment
// credential, deliberately separate from the owner session JWT.
const apiKeyHeader = "API-Key"

type inferenceHandler struct {
	responder        Responder
	logger           zerolog.Logger
	deploymentRepo   *database.DeploymentRepo
	iterationRepo    *database.IterationRepo
	engine           services.Engine
	baselineArtifact string
}

func newInferenceHandler(deploymentRepo *database.DeploymentRepo, iterationRepo *database.IterationRepo, engine services.Engine, baselineArtifact string) inferenceHandler {
	logger := log.With().Str("handlerName", "inferenceHandler").Logger()

	return inferenceHandler{
		responder:        NewResponder(logger),
		logger:           logger,
		deploymentRepo:   deploymentRepo,
		iterationRepo:    iterationRepo,
		engine:           engine,
		baselineArtifact: baselineArtifact,
	}
}

// infer runs a prediction against the model a deployment serves
// @Summary Run inference
// @Description Authenticates with the API-Key header and forwards the image to the engine; the prediction is returned verbatim
// @Tags Inference
// @Accept multipart/form-data
// @Produce json
// @Param API-Key header string true "Deployment API key"
// @Param image formData file true "Image file"
// @Success 200 {object} object "Raw engine prediction"
// @Failure 401 {object} ErrorResponse "Unauthorized - missing, unknown or revoked key"
// @Router /inference [post]
func (h inferenceHandler) infer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(apiKeyHeader)
		if apiKey == "" {
			h.responder.WriteError(w, errs.NewMissingAPIKeyError())
			return
		}

		deployment, err := h.deploymentRepo.ResolveByKey(apiKey)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("resolve", "deployment", err))
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			h.responder.WriteError(w, errs.NewBadRequestError("malformed multipart form"))
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			h.responder.WriteError(w, errs.NewMissingRequiredFieldError("image"))
			return
		}
		defer file.Close()

		filename := filepath.Base(header.Filename)
		if !allowedImageFile(filename) {
			h.responder.WriteError(w, errs.NewUnsupportedMediaTypeError(filename, allowedImageExtensions))
			return
		}

		image, err := io.ReadAll(file)
		if err != nil {
			h.responder.WriteError(w, errs.NewInternalErrorWithCause("reading image", err))
			return
		}

		artifactRef, err := h.resolveArtifact(deployment)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		prediction, err := h.engine.Predict(r.Context(), artifactRef, filename, image)
		if err != nil {
			h.responder.WriteError(w, errs.NewInternalErrorWithCause("engine prediction failed", err))
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if _, err := w.Write(prediction); err != nil {
			h.logger.Error().Err(err).Msg("error writing prediction")
		}
	}
}

// resolveArtifact picks the model a deployment serves: its pinned
// iteration's artifact, or the baseline when no iteration is pinned.
func (h inferenceHandler) resolveArtifact(deployment *models.Deployment) (string, error) {
	if deployment.IterationID == nil {
		return h.baselineArtifact, nil
	}

	iteration, err := h.iterationRepo.FindScoped(deployment.ProjectID, *deployment.IterationID)
	if err != nil {
		return "", wrapDatabaseError("find", "iteration", err)
	}
	if iteration == nil || iteration.ArtifactRef == nil {
		return "", errs.NewInternalError("deployment references a missing artifact")
	}
	return *iteration.ArtifactRef, nil
}
