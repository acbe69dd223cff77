package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
)

// ownedProject resolves the {projectID} URL param to a project owned by
// the authenticated user. Every project-scoped operation goes through
// this check first: absent projects are 404, foreign projects are 403.
func ownedProject(r *http.Request, projects *database.ProjectRepo) (*models.Project, error) {
	userID, err := ctxGetUserID(r.Context())
	if err != nil {
		return nil, errs.Unauthorized
	}

	projectIDStr := chi.URLParam(r, "projectID")
	if projectIDStr == "" {
		return nil, errs.NewBadRequestError("missing projectID")
	}
	projectID, err := uuid.Parse(projectIDStr)
	if err != nil {
		return nil, errs.NewBadRequestError("invalid projectID")
	}

	project, err := projects.FindByID(projectID)
	if err != nil {
		return nil, wrapDatabaseError("find", "project", err)
	}
	if project == nil {
		return nil, errs.NewNotFound("project")
	}
	if project.OwnerID != userID {
		return nil, errs.NewForbiddenError("project belongs to another user")
	}
	return project, nil
}

// urlUUID parses a named URL parameter as a UUID.
func urlUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return uuid.Nil, errs.NewBadRequestError("missing " + name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.NewBadRequestError("invalid " + name)
	}
	return id, nil
}
