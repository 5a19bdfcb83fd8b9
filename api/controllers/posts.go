package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/api/responses"
	"github.com/angelmondragon/contentstudio-backend/api/validators"
	"github.com/angelmondragon/contentstudio-backend/internal/scheduler"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

// PostsService exposes scheduled-post operations to the API.
type PostsService interface {
	Schedule(ctx context.Context, input scheduler.ScheduleInput) (*models.ScheduledPost, error)
	Get(ctx context.Context, workspaceID, postID uuid.UUID) (*models.ScheduledPost, error)
	List(ctx context.Context, params scheduler.ListParams) (*scheduler.ListResult, error)
	PublishNow(ctx context.Context, workspaceID, postID uuid.UUID) (*models.ScheduledPost, error)
	Cancel(ctx context.Context, workspaceID, postID uuid.UUID) (*models.ScheduledPost, error)
}

var _ PostsService = (*scheduler.Service)(nil)

type schedulePostRequest struct {
	Caption    string    `json:"caption" validate:"max=5000"`
	MediaURLs  []string  `json:"media_urls" validate:"max=10,dive,url"`
	Targets    []string  `json:"targets" validate:"required,min=1,max=4,dive,required"`
	ScheduleAt time.Time `json:"schedule_at" validate:"required"`
}

// SchedulePost holds one credit per target and queues the post.
func SchedulePost(svc PostsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "posts service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body schedulePostRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		targets := make([]enums.SocialProvider, 0, len(body.Targets))
		for _, raw := range body.Targets {
			provider, err := enums.ParseSocialProvider(strings.TrimSpace(raw))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target").WithDetails(map[string]any{"target": raw}))
				return
			}
			targets = append(targets, provider)
		}

		post, err := svc.Schedule(ctx, scheduler.ScheduleInput{
			WorkspaceID: who.WorkspaceID,
			UserID:      who.UserID,
			Caption:     strings.TrimSpace(body.Caption),
			MediaURLs:   body.MediaURLs,
			Targets:     targets,
			ScheduleAt:  body.ScheduleAt,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, post)
	}
}

// ListPosts pages through the workspace's posts, optionally filtered by
// status and a schedule_at window.
func ListPosts(svc PostsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "posts service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, cursor, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		query := r.URL.Query()
		params := scheduler.ListParams{
			WorkspaceID: who.WorkspaceID,
			Limit:       limit,
			Cursor:      cursor,
		}
		if raw := strings.TrimSpace(query.Get("status")); raw != "" {
			status, err := enums.ParsePostStatus(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			params.Status = &status
		}
		if params.From, err = validators.ParseQueryTime(r, "from"); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if params.To, err = validators.ParseQueryTime(r, "to"); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if params.From != nil && params.To != nil && params.To.Before(*params.From) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "to must not be before from"))
			return
		}

		result, err := svc.List(ctx, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// GetPost returns one post with its per-target results.
func GetPost(svc PostsService, logg *logger.Logger) http.HandlerFunc {
	return postAction(svc, logg, func(ctx context.Context, workspaceID, postID uuid.UUID) (*models.ScheduledPost, error) {
		return svc.Get(ctx, workspaceID, postID)
	})
}

// PublishPostNow publishes a scheduled post immediately.
func PublishPostNow(svc PostsService, logg *logger.Logger) http.HandlerFunc {
	return postAction(svc, logg, func(ctx context.Context, workspaceID, postID uuid.UUID) (*models.ScheduledPost, error) {
		return svc.PublishNow(ctx, workspaceID, postID)
	})
}

// CancelPost withdraws a scheduled post and refunds its hold.
func CancelPost(svc PostsService, logg *logger.Logger) http.HandlerFunc {
	return postAction(svc, logg, func(ctx context.Context, workspaceID, postID uuid.UUID) (*models.ScheduledPost, error) {
		return svc.Cancel(ctx, workspaceID, postID)
	})
}

func postAction(svc PostsService, logg *logger.Logger, fn func(ctx context.Context, workspaceID, postID uuid.UUID) (*models.ScheduledPost, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "posts service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		postID, err := uuidParam(r, "postId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		post, err := fn(ctx, who.WorkspaceID, postID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, post)
	}
}
