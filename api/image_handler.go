package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
	"github.com/visionsuite/backend/storage"
)

// maxUploadBytes caps a single image upload.
const maxUploadBytes = 32 << 20 // 32MB

var allowedImageExtensions = []string{"png", "jpg", "jpeg"}

// allowedImageFile checks the extension case-insensitively against the
// allowed set. Content sniffing is the engine's concern, not ours.
func allowedImageFile(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return false
	}
	for _, allowed := range allowedImageExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

type imageHandler struct {
	responder   Responder
	logger      zerolog.Logger
	projectRepo *database.ProjectRepo
	imageRepo   *database.ImageRepo
	labelRepo   *database.LabelRepo
	blobs       storage.BlobStore
}

func newImageHandler(projectRepo *database.ProjectRepo, imageRepo *database.ImageRepo, labelRepo *database.LabelRepo, blobs storage.BlobStore) imageHandler {
	logger := log.With().Str("handlerName", "imageHandler").Logger()

	return imageHandler{
		responder:   NewResponder(logger),
		logger:      logger,
		projectRepo: projectRepo,
		imageRepo:   imageRepo,
		labelRepo:   labelRepo,
		blobs:       blobs,
	}
}

// ImageCollection represents a project's images in creation order
type ImageCollection struct {
	Images []*models.Image `json:"images"`
	Total  int             `json:"total"`
}

// ImageAnalysis is one image's entry in the analyze read model
type ImageAnalysis struct {
	ImageID  uuid.UUID         `json:"imageId"`
	Filename string            `json:"filename"`
	Labels   []json.RawMessage `json:"labels"`
}

// ProjectAnalysis aggregates a project's dataset: image count plus every
// annotation, one entry per image in creation order
type ProjectAnalysis struct {
	TotalImages int             `json:"totalImages"`
	Details     []ImageAnalysis `json:"details"`
}

// uploadImage stores an image's bytes in the blob store and records the reference
// @Summary Upload image
// @Description Accepts png/jpg/jpeg uploads into a project
// @Tags Images
// @Accept multipart/form-data
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Param image formData file true "Image file"
// @Success 201 {object} models.Image "Created image"
// @Failure 415 {object} ErrorResponse "Unsupported Media Type - disallowed extension"
// @Router /project/{projectID}/image [post]
func (h imageHandler) uploadImage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
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

		image := models.Image{
			ID:        uuid.New(),
			ProjectID: project.ID,
			Filename:  filename,
		}
		image.BlobKey = fmt.Sprintf("projects/%s/images/%s-%s", project.ID, image.ID, filename)

		contentType := header.Header.Get("Content-Type")
		if err := h.blobs.Put(r.Context(), image.BlobKey, file, header.Size, contentType); err != nil {
			h.responder.WriteError(w, errs.NewInternalErrorWithCause("storing image blob", err))
			return
		}

		if err := h.imageRepo.Add(&image); err != nil {
			// Row failed after the blob landed; remove the blob so the two
			// stores do not drift apart.
			if delErr := h.blobs.Delete(r.Context(), image.BlobKey); delErr != nil {
				h.logger.Warn().Err(delErr).Str("blobKey", image.BlobKey).Msg("Failed to roll back blob")
			}
			h.responder.WriteError(w, wrapDatabaseError("create", "image", err))
			return
		}

		w.WriteHeader(http.StatusCreated)
		h.responder.WriteJSON(w, image)
	}
}

// listImages lists a project's images
// @Summary List images
// @Tags Images
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Success 200 {object} ImageCollection "Images"
// @Router /project/{projectID}/images [get]
func (h imageHandler) listImages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		images, err := h.imageRepo.FindAllByProject(project.ID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "images", err))
			return
		}

		h.responder.WriteJSON(w, ImageCollection{Images: images, Total: len(images)})
	}
}

// deleteImage removes an image and its labels
// @Summary Delete image
// @Tags Images
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Param imageID path string true "Image ID" format(uuid)
// @Success 200 {object} map[string]string "Success message"
// @Failure 404 {object} ErrorResponse "Not Found - image absent or out of scope"
// @Router /project/{projectID}/image/{imageID} [delete]
func (h imageHandler) deleteImage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		imageID, err := urlUUID(r, "imageID")
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		image, err := h.imageRepo.FindScoped(project.ID, imageID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "image", err))
			return
		}
		if image == nil {
			h.responder.WriteError(w, errs.NewNotFound("image"))
			return
		}

		if err := h.imageRepo.Delete(image.ID); err != nil {
			h.responder.WriteError(w, wrapDatabaseError("delete", "image", err))
			return
		}

		if err := h.blobs.Delete(r.Context(), image.BlobKey); err != nil {
			h.logger.Warn().Err(err).Str("blobKey", image.BlobKey).Msg("Failed to delete blob for removed image")
		}

		h.responder.WriteJSON(w, map[string]string{
			"status":  "success",
			"message": "image deleted successfully",
		})
	}
}

type addLabelRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// addLabel attaches an annotation to an image
// @Summary Add label
// @Description Payload is opaque; multiple labels per image are allowed and labels are immutable
// @Tags Images
// @Accept json
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Param imageID path string true "Image ID" format(uuid)
// @Success 201 {object} models.Label "Created label"
// @Failure 400 {object} ErrorResponse "Bad Request - empty payload"
// @Router /project/{projectID}/image/{imageID}/label [post]
func (h imageHandler) addLabel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		imageID, err := urlUUID(r, "imageID")
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		image, err := h.imageRepo.FindScoped(project.ID, imageID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "image", err))
			return
		}
		if image == nil {
			h.responder.WriteError(w, errs.NewNotFound("image"))
			return
		}

		var req addLabelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.responder.WriteError(w, errs.NewInvalidJSONError(err))
			return
		}
		if emptyPayload(req.Payload) {
			h.responder.WriteError(w, errs.NewMissingRequiredFieldError("payload"))
			return
		}

		label := models.Label{
			ID:      uuid.New(),
			ImageID: image.ID,
			Payload: req.Payload,
		}
		if err := h.labelRepo.Add(&label); err != nil {
			h.responder.WriteError(w, wrapDatabaseError("create", "label", err))
			return
		}

		w.WriteHeader(http.StatusCreated)
		h.responder.WriteJSON(w, label)
	}
}

// analyze builds the dataset read model for a project
// @Summary Analyze project
// @Description Aggregates image count and per-image labels; read-only
// @Tags Images
// @Produce json
// @Param projectID path string true "Project ID" format(uuid)
// @Success 200 {object} ProjectAnalysis "Aggregate"
// @Router /project/{projectID}/analyze [get]
func (h imageHandler) analyze() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := ownedProject(r, h.projectRepo)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		images, err := h.imageRepo.FindAllByProject(project.ID)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "images", err))
			return
		}

		imageIDs := make([]uuid.UUID, 0, len(images))
		for _, img := range images {
			imageIDs = append(imageIDs, img.ID)
		}
		labelsByImage, err := h.labelRepo.FindAllByImages(imageIDs)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "labels", err))
			return
		}

		analysis := ProjectAnalysis{
			TotalImages: len(images),
			Details:     make([]ImageAnalysis, 0, len(images)),
		}
		for _, img := range images {
			detail := ImageAnalysis{
				ImageID:  img.ID,
				Filename: img.Filename,
				Labels:   make([]json.RawMessage, 0),
			}
			for _, label := range labelsByImage[img.ID] {
				detail.Labels = append(detail.Labels, label.Payload)
			}
			analysis.Details = append(analysis.Details, detail)
		}

		h.responder.WriteJSON(w, analysis)
	}
}

// emptyPayload treats absent, empty and JSON null payloads as empty.
func emptyPayload(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
