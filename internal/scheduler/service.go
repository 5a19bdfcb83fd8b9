package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
)

const (
	defaultStaleAfter = 30 * time.Minute
	scheduleGrace     = time.Minute
)

// Service schedules, cancels, and reads posts.
type Service struct {
	*publisher
	staleAfter time.Duration
}

// ScheduleInput describes a post to publish later.
type ScheduleInput struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	Caption     string
	MediaURLs   []string
	Targets     []enums.SocialProvider
	ScheduleAt  time.Time
}

// ListParams configures post pagination.
type ListParams struct {
	WorkspaceID uuid.UUID
	Status      *enums.PostStatus
	From        *time.Time
	To          *time.Time
	Limit       int
	Cursor      string
}

// ListResult wraps a page of posts.
type ListResult struct {
	Items  []models.ScheduledPost `json:"items"`
	Cursor string                 `json:"cursor"`
}

// NewService wires the scheduling service.
func NewService(params Params) (*Service, error) {
	pub, err := newPublisher(params)
	if err != nil {
		return nil, err
	}
	stale := params.StaleAfter
	if stale <= 0 {
		stale = defaultStaleAfter
	}
	return &Service{publisher: pub, staleAfter: stale}, nil
}

// Schedule holds one credit per target and creates the post.
func (s *Service) Schedule(ctx context.Context, input ScheduleInput) (*models.ScheduledPost, error) {
	if input.WorkspaceID == uuid.Nil || input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "workspace and user are required")
	}
	targets, err := normalizeTargets(input.Targets)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Caption) == "" && len(input.MediaURLs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "caption or media required")
	}
	now := s.now()
	if input.ScheduleAt.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "schedule_at required")
	}
	if input.ScheduleAt.Before(now.Add(-scheduleGrace)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "schedule_at is in the past")
	}

	held := int64(len(targets))
	post := &models.ScheduledPost{
		ID:              uuid.New(),
		WorkspaceID:     input.WorkspaceID,
		UserID:          input.UserID,
		Caption:         input.Caption,
		MediaURLs:       input.MediaURLs,
		ProviderTargets: targets,
		ScheduleAt:      input.ScheduleAt.UTC(),
		Status:          enums.PostStatusScheduled,
		CreditsHeld:     held,
		CreatedAt:       now,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.ledger.HoldTx(ctx, tx, ledger.HoldInput{
			WorkspaceID:   input.WorkspaceID,
			Amount:        held,
			JobID:         &post.ID,
			ReferenceType: enums.ReferenceScheduledPost,
			Description:   "schedule post to " + joinTargets(targets),
		})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits").
				WithDetails(map[string]any{"required": held})
		}
		if err := s.repo.WithTx(tx).Create(ctx, post); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create scheduled post")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"post_id":     post.ID.String(),
		"targets":     len(targets),
		"schedule_at": post.ScheduleAt,
	}), "post scheduled")
	return post, nil
}

// Cancel withdraws a post that has not started publishing and refunds its hold.
func (s *Service) Cancel(ctx context.Context, workspaceID, postID uuid.UUID) (*models.ScheduledPost, error) {
	post, err := s.Get(ctx, workspaceID, postID)
	if err != nil {
		return nil, err
	}
	if post.Status != enums.PostStatusScheduled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("post is %s", post.Status))
	}
	if err := s.failOrCancel(ctx, post, enums.PostStatusScheduled, enums.PostStatusCancelled, ""); err != nil {
		return nil, err
	}
	return post, nil
}

// PublishNow runs the publish path for one scheduled post right away.
func (s *Service) PublishNow(ctx context.Context, workspaceID, postID uuid.UUID) (*models.ScheduledPost, error) {
	post, err := s.Get(ctx, workspaceID, postID)
	if err != nil {
		return nil, err
	}
	if post.Status != enums.PostStatusScheduled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("post is %s", post.Status))
	}
	outcome, err := s.publishPost(ctx, *post)
	if err != nil {
		return nil, err
	}
	if outcome.Skipped {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "post is already being published")
	}
	return s.Get(ctx, workspaceID, postID)
}

// Get returns a post owned by the workspace.
func (s *Service) Get(ctx context.Context, workspaceID, postID uuid.UUID) (*models.ScheduledPost, error) {
	post, err := s.repo.FindForWorkspace(ctx, workspaceID, postID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "post not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load post")
	}
	return post, nil
}

// List pages through a workspace's posts, newest first.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.WorkspaceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "workspace id required")
	}
	query := listPostsParams{
		WorkspaceID: params.WorkspaceID,
		Status:      params.Status,
		From:        params.From,
		To:          params.To,
		Limit:       params.Limit,
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
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list posts")
	}
	cursor := pagination.EncodeCursor(next)
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

// SettleStale resolves a hold whose post never settled. A scheduled post is only
// stale once it is overdue by the staleness window, and a publishing post once
// its claim is that old. False means the post was left alone.
func (s *Service) SettleStale(ctx context.Context, hold models.CreditHold, reason string) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	post, err := s.repo.FindByID(ctx, hold.ReferenceID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load post")
	}
	now := s.now()

	if post != nil {
		switch post.Status {
		case enums.PostStatusScheduled:
			if now.Before(post.ScheduleAt.Add(s.staleAfter)) {
				return false, nil
			}
			return true, s.failOrCancel(ctx, post, enums.PostStatusScheduled, enums.PostStatusFailed, reason)
		case enums.PostStatusPublishing:
			if now.Before(post.UpdatedAt.Add(s.staleAfter)) {
				return false, nil
			}
			return true, s.failOrCancel(ctx, post, enums.PostStatusPublishing, enums.PostStatusFailed, reason)
		}
	}

	input := ledger.FinalizeInput{
		WorkspaceID: hold.WorkspaceID,
		HeldAmount:  hold.Amount,
		JobID:       &hold.ReferenceID,
		Description: "reconciled: post missing",
	}
	if post != nil {
		if post.CreditsActual != nil {
			input.ActualAmount = *post.CreditsActual
		}
		input.Description = "reconciled: " + string(post.Status)
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.ledger.FinalizeTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// failOrCancel moves a post to a refunded terminal state and finalizes its hold at zero.
func (s *Service) failOrCancel(ctx context.Context, post *models.ScheduledPost, from, to enums.PostStatus, reason string) error {
	zero := int64(0)
	update := &models.ScheduledPost{Status: to, CreditsActual: &zero, UpdatedAt: s.now()}
	columns := []string{"status", "credits_actual"}
	if reason != "" {
		update.ErrorMessage = &reason
		columns = append(columns, "error_message")
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).Transition(ctx, post.ID, from, update, columns...)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update post status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "post changed state")
		}
		if _, err := s.ledger.FinalizeTx(ctx, tx, ledger.FinalizeInput{
			WorkspaceID:  post.WorkspaceID,
			HeldAmount:   post.CreditsHeld,
			ActualAmount: 0,
			JobID:        &post.ID,
			Description:  fmt.Sprintf("post %s", to),
		}); err != nil {
			return err
		}
		if to == enums.PostStatusFailed {
			outcome := PostOutcome{PostID: post.ID, Status: to, FailureCount: len(post.ProviderTargets)}
			return s.emitSettled(ctx, tx, *post, outcome, 0, reason)
		}
		return nil
	})
	if err != nil {
		return err
	}
	post.Status = to
	post.CreditsActual = &zero
	if reason != "" {
		post.ErrorMessage = &reason
	}
	return nil
}

func normalizeTargets(raw []enums.SocialProvider) ([]enums.SocialProvider, error) {
	if len(raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one provider target required")
	}
	seen := make(map[enums.SocialProvider]struct{}, len(raw))
	out := make([]enums.SocialProvider, 0, len(raw))
	for _, target := range raw {
		if !target.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported provider %q", target))
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out, nil
}

func joinTargets(targets []enums.SocialProvider) string {
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
