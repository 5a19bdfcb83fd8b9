package notifications

import (
	"context"
	"time"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
	"github.com/google/uuid"
)

// Service defines notification list/read operations.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, workspaceID, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, workspaceID, userID uuid.UUID) (int64, error)
	Cleanup(ctx context.Context, readBefore time.Time) (int64, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// ListParams configures pagination for a member's notifications.
type ListParams struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	Limit       int
	Cursor      string
	UnreadOnly  bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NewService wires notifications dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	who, err := newRecipient(params.WorkspaceID, params.UserID)
	if err != nil {
		return nil, err
	}

	query := listNotificationsParams{
		Recipient:  who,
		Limit:      params.Limit,
		UnreadOnly: params.UnreadOnly,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := pagination.EncodeCursor(next)

	return &ListResult{
		Items:  rows,
		Cursor: cursor,
	}, nil
}

func (s *service) MarkRead(ctx context.Context, workspaceID, userID, notificationID uuid.UUID) error {
	who, err := newRecipient(workspaceID, userID)
	if err != nil {
		return err
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, who, notificationID, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, workspaceID, userID uuid.UUID) (int64, error) {
	who, err := newRecipient(workspaceID, userID)
	if err != nil {
		return 0, err
	}

	count, err := s.repo.MarkAllRead(ctx, who, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

// Cleanup deletes notifications that were read before readBefore.
func (s *service) Cleanup(ctx context.Context, readBefore time.Time) (int64, error) {
	if readBefore.IsZero() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "cleanup cutoff required")
	}
	deleted, err := s.repo.DeleteReadBefore(ctx, readBefore)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete read notifications")
	}
	return deleted, nil
}

func newRecipient(workspaceID, userID uuid.UUID) (recipient, error) {
	if workspaceID == uuid.Nil {
		return recipient{}, pkgerrors.New(pkgerrors.CodeValidation, "active workspace id required")
	}
	if userID == uuid.Nil {
		return recipient{}, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	return recipient{WorkspaceID: workspaceID, UserID: userID}, nil
}
