package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/internal/billing"
	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

const (
	metadataWorkspaceID = "workspace_id"
	metadataPackID      = "pack_id"
	metadataPlan        = "plan"
)

type creditLedger interface {
	GrantTx(ctx context.Context, tx *gorm.DB, input ledger.GrantInput) (*models.LedgerEntry, error)
	ApplySubscriptionPaymentTx(ctx context.Context, tx *gorm.DB, input ledger.PaymentInput) (*models.LedgerEntry, error)
	LinkSubscriptionTx(ctx context.Context, tx *gorm.DB, input ledger.SubscriptionInput) error
	EndSubscriptionTx(ctx context.Context, tx *gorm.DB, subscriptionID string) error
}

var _ creditLedger = (*ledger.Service)(nil)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	Ledger            creditLedger
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service turns verified Stripe events into wallet credits.
type Service struct {
	billingRepo billing.Repository
	ledger      creditLedger
	txRunner    txRunner
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		ledger:      params.Ledger,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
	}, nil
}

// HandleEvent applies event at most once. The stripe_events row is written in
// the same transaction as the grant, so a replay after a crash either sees the
// row or redoes the whole thing.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if event.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event id required")
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})

	handler := s.handlerFor(event.Type)
	if handler == nil {
		s.logg.Debug(logCtx, "ignoring stripe event")
		return nil
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		first, err := s.billingRepo.WithTx(tx).RecordStripeEvent(ctx, event.ID, string(event.Type))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stripe event")
		}
		if !first {
			s.logg.Info(logCtx, "stripe event already applied")
			return nil
		}
		return handler(logCtx, tx, event)
	})
}

type eventHandler func(ctx context.Context, tx *gorm.DB, event *stripe.Event) error

func (s *Service) handlerFor(eventType stripe.EventType) eventHandler {
	switch eventType {
	case stripe.EventTypeInvoicePaid:
		return s.handleInvoicePaid
	case stripe.EventTypePaymentIntentSucceeded:
		return s.handlePackPurchase
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		return s.handleSubscriptionChange
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return s.handleSubscriptionDeleted
	default:
		return nil
	}
}

// invoiceObject is the part of an invoice payload needed to credit a renewal.
// Newer API versions nest the subscription id under parent.subscription_details.
type invoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

func (i invoiceObject) subscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return i.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

func (s *Service) handleInvoicePaid(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var invoice invoiceObject
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice")
	}
	subscriptionID := invoice.subscriptionID()
	if subscriptionID == "" {
		// One-off invoices carry no plan credits.
		s.logg.Debug(ctx, "invoice without subscription")
		return nil
	}
	paidAt := time.Time{}
	if invoice.StatusTransitions.PaidAt > 0 {
		paidAt = time.Unix(invoice.StatusTransitions.PaidAt, 0).UTC()
	}
	entry, err := s.ledger.ApplySubscriptionPaymentTx(ctx, tx, ledger.PaymentInput{
		SubscriptionID: subscriptionID,
		CustomerID:     invoice.Customer,
		PaidAt:         paidAt,
		Reference:      invoice.ID,
	})
	if err != nil {
		return err
	}
	if entry != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"workspace_id": entry.WorkspaceID.String(),
			"amount":       entry.Amount,
		}), "subscription credits granted")
	}
	return nil
}

func (s *Service) handlePackPurchase(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	packID := intent.Metadata[metadataPackID]
	if packID == "" {
		s.logg.Debug(ctx, "payment intent is not a credit pack purchase")
		return nil
	}
	workspaceID, err := workspaceFromMetadata(intent.Metadata)
	if err != nil {
		return err
	}
	pack, err := s.billingRepo.WithTx(tx).FindCreditPack(ctx, packID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit pack")
	}
	if pack == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "credit pack not found").WithDetails(map[string]any{"pack_id": packID})
	}
	_, err = s.ledger.GrantTx(ctx, tx, ledger.GrantInput{
		WorkspaceID: workspaceID,
		Amount:      pack.TotalCredits(),
		Kind:        enums.LedgerPurchase,
		Description: fmt.Sprintf("Credit pack: %s (%s)", pack.Name, intent.ID),
	})
	return err
}

func (s *Service) handleSubscriptionChange(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription")
	}
	if !isActiveStatus(sub.Status) {
		return s.endSubscription(ctx, tx, sub.ID)
	}
	workspaceID, err := workspaceFromMetadata(sub.Metadata)
	if err != nil {
		return err
	}

	plan, err := s.resolvePlan(ctx, tx, &sub)
	if err != nil {
		return err
	}
	input := ledger.SubscriptionInput{
		WorkspaceID:        workspaceID,
		Plan:               plan.Code,
		PlanCreditsMonthly: plan.CreditsPerInterval,
		SubscriptionID:     sub.ID,
	}
	if sub.Customer != nil {
		input.CustomerID = sub.Customer.ID
	}
	return s.ledger.LinkSubscriptionTx(ctx, tx, input)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription")
	}
	return s.endSubscription(ctx, tx, sub.ID)
}

func (s *Service) endSubscription(ctx context.Context, tx *gorm.DB, subscriptionID string) error {
	err := s.ledger.EndSubscriptionTx(ctx, tx, subscriptionID)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		s.logg.Warn(s.logg.WithField(ctx, "subscription_id", subscriptionID), "subscription ended for unknown wallet")
		return nil
	}
	return err
}

// resolvePlan prefers the subscribed price and falls back to the plan code in
// the subscription metadata.
func (s *Service) resolvePlan(ctx context.Context, tx *gorm.DB, sub *stripe.Subscription) (*models.BillingPlan, error) {
	repo := s.billingRepo.WithTx(tx)
	if priceID := determinePriceID(sub); priceID != "" {
		plan, err := repo.FindPlanByStripePrice(ctx, priceID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan by price")
		}
		if plan != nil {
			return plan, nil
		}
	}
	if code := sub.Metadata[metadataPlan]; code != "" {
		plan, err := repo.FindPlan(ctx, code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
		}
		if plan != nil {
			return plan, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no plan for subscription").WithDetails(map[string]any{"subscription_id": sub.ID})
}

func workspaceFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	raw := metadata[metadataWorkspaceID]
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "workspace_id metadata missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid workspace_id metadata")
	}
	return id, nil
}

func isActiveStatus(status stripe.SubscriptionStatus) bool {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing, stripe.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

func determinePriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}
