package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/internal/providers"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/metrics"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/payloads"
)

const allPublishesFailed = "all publishes failed"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreditLedger is the slice of the ledger scheduled posts need.
type CreditLedger interface {
	HoldTx(ctx context.Context, tx *gorm.DB, input ledger.HoldInput) (bool, error)
	FinalizeTx(ctx context.Context, tx *gorm.DB, input ledger.FinalizeInput) (ledger.FinalizeResult, error)
}

// Params wires both the scheduling service and the publish worker.
type Params struct {
	DB      txRunner
	Repo    Repository
	Ledger  CreditLedger
	Social  providers.SocialSet
	Outbox  outbox.Emitter
	Logger  *logger.Logger
	Metrics *metrics.PublishMetrics

	Lookahead  time.Duration
	BatchSize  int
	StaleAfter time.Duration
	Now        func() time.Time
}

// PostOutcome summarizes what happened to one post.
type PostOutcome struct {
	PostID       uuid.UUID
	Status       enums.PostStatus
	SuccessCount int
	FailureCount int
	Skipped      bool
}

type publisher struct {
	db      txRunner
	repo    Repository
	ledger  CreditLedger
	social  providers.SocialSet
	outbox  outbox.Emitter
	logg    *logger.Logger
	metrics *metrics.PublishMetrics
	now     func() time.Time
}

func newPublisher(params Params) (*publisher, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "scheduler tx runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "scheduler repository required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit ledger required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &publisher{
		db:      params.DB,
		repo:    params.Repo,
		ledger:  params.Ledger,
		social:  params.Social,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

// publishPost claims a post, fans out to its targets, and settles it. A claim
// lost to another worker yields Skipped.
func (p *publisher) publishPost(ctx context.Context, post models.ScheduledPost) (PostOutcome, error) {
	logCtx := p.logg.WithFields(ctx, map[string]any{
		"post_id":      post.ID.String(),
		"workspace_id": post.WorkspaceID.String(),
	})

	claimed, err := p.repo.Claim(ctx, post.ID, p.now())
	if err != nil {
		return PostOutcome{PostID: post.ID}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim post")
	}
	if !claimed {
		p.logg.Debug(logCtx, "post claimed elsewhere; skipping")
		return PostOutcome{PostID: post.ID, Skipped: true}, nil
	}

	results, err := p.publishTargets(ctx, post)
	// Once claimed, the post is settled even if the poll or request is cancelled.
	settleCtx := context.WithoutCancel(logCtx)
	if err != nil {
		return p.compensate(settleCtx, post, results, err)
	}

	outcome, err := p.settle(settleCtx, post, results)
	if err != nil {
		return p.compensate(settleCtx, post, results, err)
	}
	p.logg.Info(p.logg.WithFields(logCtx, map[string]any{
		"status":    outcome.Status,
		"succeeded": outcome.SuccessCount,
		"failed":    outcome.FailureCount,
	}), "post settled")
	return outcome, nil
}

func (p *publisher) publishTargets(ctx context.Context, post models.ScheduledPost) (results []models.PublishResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panicked: %v", r)
		}
	}()
	results = make([]models.PublishResult, 0, len(post.ProviderTargets))
	for _, target := range post.ProviderTargets {
		results = append(results, p.publishTarget(ctx, post, target))
	}
	return results, nil
}

func (p *publisher) publishTarget(ctx context.Context, post models.ScheduledPost, target enums.SocialProvider) models.PublishResult {
	result := models.PublishResult{Provider: target}
	pub, err := p.social.For(target)
	if err == nil {
		var out providers.PublishOutcome
		out, err = pub.Publish(ctx, providers.PublishRequest{
			PostID:      post.ID,
			WorkspaceID: post.WorkspaceID,
			Provider:    target,
			Caption:     post.Caption,
			MediaURLs:   post.MediaURLs,
		})
		if err == nil {
			result.Success = true
			result.PublishID = out.PublishID
			result.URL = out.URL
			result.Timestamp = out.PublishedAt
		}
	}
	if err != nil {
		result.Error = err.Error()
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = p.now()
	}
	p.metrics.ObserveTarget(string(target), result.Success)
	return result
}

// settle writes the terminal status, finalizes credits, and queues the event atomically.
func (p *publisher) settle(ctx context.Context, post models.ScheduledPost, results []models.PublishResult) (PostOutcome, error) {
	successes := 0
	for _, r := range results {
		if r.Success {
			successes++
		}
	}
	outcome := PostOutcome{
		PostID:       post.ID,
		Status:       enums.PostStatusPublished,
		SuccessCount: successes,
		FailureCount: len(results) - successes,
	}

	now := p.now()
	actual := int64(successes)
	update := &models.ScheduledPost{
		Status:        enums.PostStatusPublished,
		Results:       results,
		CreditsActual: &actual,
		UpdatedAt:     now,
	}
	if successes == 0 {
		msg := allPublishesFailed
		outcome.Status = enums.PostStatusFailed
		update.Status = enums.PostStatusFailed
		update.ErrorMessage = &msg
	} else {
		update.PublishedAt = &now
	}

	err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := p.repo.WithTx(tx).Transition(ctx, post.ID, enums.PostStatusPublishing, update,
			"status", "results", "credits_actual", "error_message", "published_at")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update post status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "post is no longer publishing")
		}
		if _, err := p.ledger.FinalizeTx(ctx, tx, ledger.FinalizeInput{
			WorkspaceID:  post.WorkspaceID,
			HeldAmount:   post.CreditsHeld,
			ActualAmount: actual,
			JobID:        &post.ID,
			Description:  fmt.Sprintf("published to %d/%d targets", successes, len(results)),
		}); err != nil {
			return err
		}
		errMsg := ""
		if update.ErrorMessage != nil {
			errMsg = *update.ErrorMessage
		}
		return p.emitSettled(ctx, tx, post, outcome, actual, errMsg)
	})
	if err != nil {
		return outcome, err
	}
	p.metrics.ObservePost(string(outcome.Status))
	return outcome, nil
}

// compensate fails a claimed post and refunds its hold so it never stays in publishing.
func (p *publisher) compensate(ctx context.Context, post models.ScheduledPost, results []models.PublishResult, cause error) (PostOutcome, error) {
	p.logg.Error(ctx, "publish failed before settlement; compensating", cause)

	outcome := PostOutcome{PostID: post.ID, Status: enums.PostStatusFailed, FailureCount: len(post.ProviderTargets)}
	msg := cause.Error()
	zero := int64(0)
	update := &models.ScheduledPost{
		Status:        enums.PostStatusFailed,
		Results:       results,
		CreditsActual: &zero,
		ErrorMessage:  &msg,
		UpdatedAt:     p.now(),
	}

	err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := p.repo.WithTx(tx).Transition(ctx, post.ID, enums.PostStatusPublishing, update,
			"status", "results", "credits_actual", "error_message")
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "post left publishing before compensation")
		}
		if _, err := p.ledger.FinalizeTx(ctx, tx, ledger.FinalizeInput{
			WorkspaceID:  post.WorkspaceID,
			HeldAmount:   post.CreditsHeld,
			ActualAmount: 0,
			JobID:        &post.ID,
			Description:  "publish aborted: " + msg,
		}); err != nil {
			return err
		}
		return p.emitSettled(ctx, tx, post, outcome, 0, msg)
	})
	if err != nil {
		// The post is still publishing; the reconciliation sweep owns it now.
		return PostOutcome{PostID: post.ID}, multierr.Append(cause, err)
	}
	p.metrics.ObservePost(string(outcome.Status))
	return outcome, nil
}

func (p *publisher) emitSettled(ctx context.Context, tx *gorm.DB, post models.ScheduledPost, outcome PostOutcome, actual int64, errMsg string) error {
	eventType := enums.EventPostPublished
	if outcome.Status != enums.PostStatusPublished {
		eventType = enums.EventPostFailed
	}
	workspaceID := post.WorkspaceID
	return p.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateScheduledPost,
		AggregateID:   post.ID,
		Actor:         &outbox.ActorRef{UserID: post.UserID, WorkspaceID: &workspaceID},
		Data: payloads.PostSettledEvent{
			PostID:        post.ID,
			WorkspaceID:   post.WorkspaceID,
			UserID:        post.UserID,
			Status:        outcome.Status,
			SuccessCount:  outcome.SuccessCount,
			FailureCount:  outcome.FailureCount,
			CreditsHeld:   post.CreditsHeld,
			CreditsActual: actual,
			ErrorMessage:  errMsg,
			SettledAt:     p.now(),
		},
	})
}
