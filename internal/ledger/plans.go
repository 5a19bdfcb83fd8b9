package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
)

const freePlan = "free"

// walletPlan is the subscription state stored on a wallet.
type walletPlan struct {
	Plan                 string
	PlanCreditsMonthly   int64
	StripeCustomerID     *string
	StripeSubscriptionID *string
}

// SubscriptionInput links a Stripe subscription to a workspace wallet.
type SubscriptionInput struct {
	WorkspaceID        uuid.UUID
	Plan               string
	PlanCreditsMonthly int64
	CustomerID         string
	SubscriptionID     string
}

// PaymentInput identifies a paid subscription invoice.
type PaymentInput struct {
	SubscriptionID string
	CustomerID     string
	PaidAt         time.Time
	Reference      string
}

func (r *repository) ListRenewalDue(ctx context.Context, cutoff time.Time, limit int) ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id IS NULL AND plan_credits_monthly > 0 AND billing_cycle_start <= ?", cutoff).
		Order("billing_cycle_start ASC, workspace_id ASC").
		Limit(limit).
		Find(&wallets).Error
	return wallets, err
}

// AdvanceCycle moves billing_cycle_start forward only if it still equals from.
func (r *repository) AdvanceCycle(ctx context.Context, workspaceID uuid.UUID, from, to, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("workspace_id = ? AND billing_cycle_start = ?", workspaceID, from).
		Updates(map[string]any{
			"billing_cycle_start": to,
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindWalletByStripe(ctx context.Context, subscriptionID, customerID string) (*models.Wallet, error) {
	query := r.db.WithContext(ctx)
	switch {
	case subscriptionID != "":
		query = query.Where("stripe_subscription_id = ?", subscriptionID)
	case customerID != "":
		query = query.Where("stripe_customer_id = ?", customerID)
	default:
		return nil, gorm.ErrRecordNotFound
	}
	var wallet models.Wallet
	if err := query.First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) UpdatePlan(ctx context.Context, workspaceID uuid.UUID, plan walletPlan, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("workspace_id = ?", workspaceID).
		Updates(map[string]any{
			"plan":                   plan.Plan,
			"plan_credits_monthly":   plan.PlanCreditsMonthly,
			"stripe_customer_id":     plan.StripeCustomerID,
			"stripe_subscription_id": plan.StripeSubscriptionID,
			"updated_at":             now,
		}).Error
}

func (r *repository) RecordPayment(ctx context.Context, workspaceID uuid.UUID, paidAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("workspace_id = ?", workspaceID).
		Updates(map[string]any{
			"billing_cycle_start": paidAt,
			"last_payment_at":     paidAt,
			"updated_at":          paidAt,
		}).Error
}

// ListRenewalDue returns wallets on an unbilled monthly plan whose cycle started
// at least a month ago.
func (s *Service) ListRenewalDue(ctx context.Context, limit int) ([]models.Wallet, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := s.now().AddDate(0, -1, 0)
	wallets, err := s.repo.ListRenewalDue(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list renewal due wallets")
	}
	return wallets, nil
}

// RenewPlan advances the wallet's billing cycle and grants its monthly credits.
// It returns false when another renewal already moved the cycle.
func (s *Service) RenewPlan(ctx context.Context, wallet models.Wallet) (bool, error) {
	if wallet.PlanCreditsMonthly <= 0 {
		return false, nil
	}
	now := s.now()
	next := wallet.BillingCycleStart.AddDate(0, 1, 0)
	// Wallets that fell several cycles behind restart from today instead of
	// collecting every missed month.
	if next.Before(now.AddDate(0, -1, 0)) {
		next = now
	}

	var renewed bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).AdvanceCycle(ctx, wallet.WorkspaceID, wallet.BillingCycleStart, next, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance billing cycle")
		}
		if !ok {
			return nil
		}
		if _, err := s.GrantTx(ctx, tx, GrantInput{
			WorkspaceID: wallet.WorkspaceID,
			Amount:      wallet.PlanCreditsMonthly,
			Kind:        enums.LedgerGrant,
			Description: fmt.Sprintf("Monthly %s plan credits", wallet.Plan),
		}); err != nil {
			return err
		}
		renewed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return renewed, nil
}

// LinkSubscriptionTx records a Stripe subscription on the wallet, creating the
// wallet first when the workspace has none.
func (s *Service) LinkSubscriptionTx(ctx context.Context, tx *gorm.DB, input SubscriptionInput) error {
	if input.WorkspaceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "workspace id required")
	}
	if input.SubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	if input.PlanCreditsMonthly < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan credits must not be negative")
	}
	repo := s.repo.WithTx(tx)
	now := s.now()
	if err := repo.CreateWalletIfMissing(ctx, &models.Wallet{
		WorkspaceID:         input.WorkspaceID,
		Plan:                freePlan,
		BillingCycleStart:   now,
		LowBalanceThreshold: s.defaultThreshold,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure wallet")
	}

	plan := walletPlan{
		Plan:                 describe(input.Plan, freePlan),
		PlanCreditsMonthly:   input.PlanCreditsMonthly,
		StripeSubscriptionID: &input.SubscriptionID,
	}
	if input.CustomerID != "" {
		plan.StripeCustomerID = &input.CustomerID
	}
	if err := repo.UpdatePlan(ctx, input.WorkspaceID, plan, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet plan")
	}
	return nil
}

// EndSubscriptionTx drops the wallet back to the free plan. Purchased and granted
// credits stay on the balance.
func (s *Service) EndSubscriptionTx(ctx context.Context, tx *gorm.DB, subscriptionID string) error {
	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindWalletByStripe(ctx, subscriptionID, "")
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no wallet for subscription")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find wallet by subscription")
	}
	if err := repo.UpdatePlan(ctx, wallet.WorkspaceID, walletPlan{
		Plan:             freePlan,
		StripeCustomerID: wallet.StripeCustomerID,
	}, s.now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "downgrade wallet plan")
	}
	return nil
}

// ApplySubscriptionPaymentTx grants the plan's monthly credits for a paid invoice
// and restarts the billing cycle at the payment time.
func (s *Service) ApplySubscriptionPaymentTx(ctx context.Context, tx *gorm.DB, input PaymentInput) (*models.LedgerEntry, error) {
	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindWalletByStripe(ctx, input.SubscriptionID, input.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no wallet for subscription")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find wallet by subscription")
	}

	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	if err := repo.RecordPayment(ctx, wallet.WorkspaceID, paidAt.UTC()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
	}
	if wallet.PlanCreditsMonthly <= 0 {
		return nil, nil
	}
	description := fmt.Sprintf("Subscription renewal: %s plan", wallet.Plan)
	if input.Reference != "" {
		description += " (" + input.Reference + ")"
	}
	return s.GrantTx(ctx, tx, GrantInput{
		WorkspaceID: wallet.WorkspaceID,
		Amount:      wallet.PlanCreditsMonthly,
		Kind:        enums.LedgerGrant,
		Description: description,
	})
}
