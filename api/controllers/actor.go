package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
)

// actor is the authenticated member a request acts for.
type actor struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
}

func requireActor(r *http.Request) (actor, error) {
	rawWorkspace := middleware.WorkspaceIDFromContext(r.Context())
	if rawWorkspace == "" {
		return actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "workspace context missing")
	}
	workspaceID, err := uuid.Parse(rawWorkspace)
	if err != nil {
		return actor{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid workspace id")
	}
	rawUser := middleware.UserIDFromContext(r.Context())
	if rawUser == "" {
		return actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return actor{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return actor{WorkspaceID: workspaceID, UserID: userID}, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}

func optionalUUID(raw string, field string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+field)
	}
	return &id, nil
}
