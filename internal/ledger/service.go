package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/contentstudio-backend/pkg/db"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/metrics"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the credit ledger.
type ServiceParams struct {
	DB      txRunner
	Repo    Repository
	Outbox  outbox.Emitter
	Logger  *logger.Logger
	Metrics *metrics.CreditMetrics
	// DefaultLowBalanceThreshold seeds wallets created implicitly by a grant.
	DefaultLowBalanceThreshold int64
	Now                        func() time.Time
}

// Service implements the hold → finalize credit reservation protocol.
type Service struct {
	db               txRunner
	repo             Repository
	outbox           outbox.Emitter
	logg             *logger.Logger
	metrics          *metrics.CreditMetrics
	defaultThreshold int64
	now              func() time.Time
}

// HoldInput reserves credits ahead of external work.
type HoldInput struct {
	WorkspaceID   uuid.UUID
	Amount        int64
	JobID         *uuid.UUID
	ReferenceType enums.CreditReferenceType
	Description   string
}

// FinalizeInput settles a prior hold against the actual cost.
type FinalizeInput struct {
	WorkspaceID  uuid.UUID
	HeldAmount   int64
	ActualAmount int64
	JobID        *uuid.UUID
	Description  string
}

// FinalizeResult reports what a settlement did to the wallet.
type FinalizeResult struct {
	AlreadySettled bool
	Held           int64
	Charged        int64
	Refunded       int64
	// Uncollected is overage that could not be charged without overdrawing the balance.
	Uncollected int64
	Entry       *models.LedgerEntry
}

// GrantInput tops up a wallet.
type GrantInput struct {
	WorkspaceID uuid.UUID
	Amount      int64
	Kind        enums.LedgerTransactionType
	Description string
}

// EntryListParams configures journal pagination.
type EntryListParams struct {
	WorkspaceID uuid.UUID
	JobID       *uuid.UUID
	Limit       int
	Cursor      string
}

// EntryListResult wraps a page of journal entries.
type EntryListResult struct {
	Items  []models.LedgerEntry `json:"items"`
	Cursor string               `json:"cursor"`
}

// NewService wires the ledger service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger tx runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		db:               params.DB,
		repo:             params.Repo,
		outbox:           params.Outbox,
		logg:             params.Logger,
		metrics:          params.Metrics,
		defaultThreshold: params.DefaultLowBalanceThreshold,
		now:              now,
	}, nil
}

// Hold reserves credits in its own transaction. False means insufficient funds and nothing changed.
func (s *Service) Hold(ctx context.Context, input HoldInput) (bool, error) {
	var held bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		held, err = s.HoldTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return false, err
	}
	return held, nil
}

// HoldTx reserves credits inside the caller's transaction so the owning record
// can be created atomically with the hold.
func (s *Service) HoldTx(ctx context.Context, tx *gorm.DB, input HoldInput) (bool, error) {
	if input.WorkspaceID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "workspace id required")
	}
	if input.Amount <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "hold amount must be positive")
	}
	refType := input.ReferenceType
	if refType == "" {
		refType = enums.ReferenceExternal
	}
	if !refType.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid reference type %q", refType))
	}

	repo := s.repo.WithTx(tx)
	now := s.now()

	ok, err := repo.Reserve(ctx, input.WorkspaceID, input.Amount, now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve credits")
	}
	s.metrics.ObserveHold(ok)
	if !ok {
		return false, nil
	}

	wallet, err := repo.GetWallet(ctx, input.WorkspaceID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet after hold")
	}

	entry := &models.LedgerEntry{
		WorkspaceID:     input.WorkspaceID,
		JobID:           input.JobID,
		TransactionType: enums.LedgerHold,
		Amount:          -input.Amount,
		BalanceAfter:    wallet.Balance,
		HeldAfter:       wallet.HeldBalance,
		Description:     describe(input.Description, fmt.Sprintf("hold %d credits", input.Amount)),
		CreatedAt:       now,
	}
	if err := repo.AppendEntry(ctx, entry); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append hold entry")
	}

	if input.JobID != nil {
		hold := &models.CreditHold{
			WorkspaceID:   input.WorkspaceID,
			ReferenceType: refType,
			ReferenceID:   *input.JobID,
			Amount:        input.Amount,
			Status:        enums.CreditHoldHeld,
			CreatedAt:     now,
		}
		if err := repo.CreateHold(ctx, hold); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return false, pkgerrors.New(pkgerrors.CodeConflict, "credits already held for this job")
			}
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record credit hold")
		}
	}

	if err := s.maybeEmitLow(ctx, tx, wallet, wallet.Balance+input.Amount); err != nil {
		return false, err
	}
	return true, nil
}

// Finalize settles a hold in its own transaction.
func (s *Service) Finalize(ctx context.Context, input FinalizeInput) (FinalizeResult, error) {
	var result FinalizeResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.FinalizeTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	return result, nil
}

// FinalizeTx releases the held amount, refunds any unused portion, and charges
// any overage from the available balance. With a job id the recorded hold is
// authoritative and a repeated call is a no-op.
func (s *Service) FinalizeTx(ctx context.Context, tx *gorm.DB, input FinalizeInput) (FinalizeResult, error) {
	if input.WorkspaceID == uuid.Nil {
		return FinalizeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "workspace id required")
	}
	if input.HeldAmount < 0 || input.ActualAmount < 0 {
		return FinalizeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "finalize amounts must be non-negative")
	}

	repo := s.repo.WithTx(tx)
	now := s.now()
	logCtx := s.logg.WithWorkspaceID(ctx, input.WorkspaceID.String())
	held := input.HeldAmount

	if input.JobID != nil {
		logCtx = s.logg.WithField(logCtx, "job_id", input.JobID.String())
		hold, err := repo.FindHold(ctx, *input.JobID)
		if err != nil {
			return FinalizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit hold")
		}
		if hold == nil {
			return FinalizeResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "no credit hold recorded for job")
		}
		if hold.WorkspaceID != input.WorkspaceID {
			return FinalizeResult{}, pkgerrors.New(pkgerrors.CodeForbidden, "credit hold belongs to another workspace")
		}
		if hold.Status == enums.CreditHoldSettled {
			s.metrics.ObserveFinalize(true, 0, 0)
			s.logg.Info(logCtx, "finalize skipped: hold already settled")
			return FinalizeResult{AlreadySettled: true, Held: hold.Amount}, nil
		}
		if hold.Amount != held {
			s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
				"caller_held":   held,
				"recorded_held": hold.Amount,
			}), "finalize held amount differs from recorded hold; using recorded amount")
			held = hold.Amount
		}
		settled, err := repo.SettleHold(ctx, *input.JobID, input.ActualAmount, now)
		if err != nil {
			return FinalizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle credit hold")
		}
		if !settled {
			s.metrics.ObserveFinalize(true, 0, 0)
			return FinalizeResult{AlreadySettled: true, Held: held}, nil
		}
	}

	wallet, err := repo.LockWallet(ctx, input.WorkspaceID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return FinalizeResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		}
		return FinalizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
	}

	calc := settle(wallet.Balance, wallet.HeldBalance, held, input.ActualAmount)
	if calc.released < held {
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"held":         held,
			"held_balance": wallet.HeldBalance,
		}), "finalize would drive held_balance negative; clamped")
	}
	if calc.uncollected > 0 {
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"held":        held,
			"actual":      input.ActualAmount,
			"uncollected": calc.uncollected,
		}), "finalize overage exceeds available balance")
	} else if input.ActualAmount > held {
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"held":   held,
			"actual": input.ActualAmount,
		}), "finalize actual exceeds held amount; overage charged from balance")
	}

	if err := repo.SetBalances(ctx, input.WorkspaceID, calc.balance, calc.held, now); err != nil {
		return FinalizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply settlement")
	}

	actual := input.ActualAmount
	entry := &models.LedgerEntry{
		WorkspaceID:     input.WorkspaceID,
		JobID:           input.JobID,
		TransactionType: enums.LedgerFinalize,
		Amount:          calc.balance - wallet.Balance,
		BalanceAfter:    calc.balance,
		HeldAfter:       calc.held,
		ActualAmount:    &actual,
		Description:     describe(input.Description, fmt.Sprintf("finalize: held %d, actual %d", held, input.ActualAmount)),
		CreatedAt:       now,
	}
	if err := repo.AppendEntry(ctx, entry); err != nil {
		return FinalizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append finalize entry")
	}

	wallet.Balance, wallet.HeldBalance = calc.balance, calc.held
	if err := s.maybeEmitLow(ctx, tx, wallet, calc.balance-entry.Amount); err != nil {
		return FinalizeResult{}, err
	}

	s.metrics.ObserveFinalize(false, calc.charged, calc.refunded)
	return FinalizeResult{
		Held:        held,
		Charged:     calc.charged,
		Refunded:    calc.refunded,
		Uncollected: calc.uncollected,
		Entry:       entry,
	}, nil
}

// Grant tops up a wallet in its own transaction.
func (s *Service) Grant(ctx context.Context, input GrantInput) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = s.GrantTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GrantTx adds credits to the available balance, creating the wallet on first use.
func (s *Service) GrantTx(ctx context.Context, tx *gorm.DB, input GrantInput) (*models.LedgerEntry, error) {
	if input.WorkspaceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "workspace id required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "grant amount must be positive")
	}
	kind := input.Kind
	if kind == "" {
		kind = enums.LedgerGrant
	}
	if !kind.IsTopUp() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s is not a top-up", kind))
	}

	repo := s.repo.WithTx(tx)
	now := s.now()

	if err := repo.CreateWalletIfMissing(ctx, &models.Wallet{
		WorkspaceID:         input.WorkspaceID,
		Plan:                "free",
		BillingCycleStart:   now,
		LowBalanceThreshold: s.defaultThreshold,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure wallet")
	}
	if err := repo.Credit(ctx, input.WorkspaceID, input.Amount, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit wallet")
	}
	wallet, err := repo.GetWallet(ctx, input.WorkspaceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet after grant")
	}

	entry := &models.LedgerEntry{
		WorkspaceID:     input.WorkspaceID,
		TransactionType: kind,
		Amount:          input.Amount,
		BalanceAfter:    wallet.Balance,
		HeldAfter:       wallet.HeldBalance,
		Description:     describe(input.Description, fmt.Sprintf("%s %d credits", kind, input.Amount)),
		CreatedAt:       now,
	}
	if err := repo.AppendEntry(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append grant entry")
	}

	if s.outbox != nil {
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditsGranted,
			AggregateType: enums.AggregateWallet,
			AggregateID:   input.WorkspaceID,
			Data: payloads.CreditsGrantedEvent{
				WorkspaceID:     input.WorkspaceID,
				Amount:          input.Amount,
				TransactionType: kind,
				BalanceAfter:    wallet.Balance,
				Description:     entry.Description,
			},
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit credits granted")
		}
	}

	s.metrics.ObserveGrant(string(kind), input.Amount)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"workspace_id": input.WorkspaceID.String(),
		"amount":       input.Amount,
		"kind":         kind,
	}), "credits granted")
	return entry, nil
}

// GetWallet returns the current wallet snapshot.
func (s *Service) GetWallet(ctx context.Context, workspaceID uuid.UUID) (*models.Wallet, error) {
	wallet, err := s.repo.GetWallet(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

// ListEntries pages through a workspace's journal, newest first.
func (s *Service) ListEntries(ctx context.Context, params EntryListParams) (*EntryListResult, error) {
	if params.WorkspaceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "workspace id required")
	}
	query := listEntriesParams{
		WorkspaceID: params.WorkspaceID,
		JobID:       params.JobID,
		Limit:       params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}
	rows, next, err := s.repo.ListEntries(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	cursor := pagination.EncodeCursor(next)
	return &EntryListResult{Items: rows, Cursor: cursor}, nil
}

// ListStaleHolds returns one page of unsettled holds created before olderThan.
// Pass the returned cursor back to continue.
func (s *Service) ListStaleHolds(ctx context.Context, olderThan time.Time, after *pagination.Cursor, limit int) ([]models.CreditHold, *pagination.Cursor, error) {
	holds, next, err := s.repo.ListStaleHolds(ctx, olderThan, after, limit)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale holds")
	}
	return holds, next, nil
}

func (s *Service) maybeEmitLow(ctx context.Context, tx *gorm.DB, wallet *models.Wallet, before int64) error {
	threshold := wallet.LowBalanceThreshold
	if s.outbox == nil || threshold <= 0 {
		return nil
	}
	if before < threshold || wallet.Balance >= threshold {
		return nil
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCreditsLow,
		AggregateType: enums.AggregateWallet,
		AggregateID:   wallet.WorkspaceID,
		Data: payloads.CreditsLowEvent{
			WorkspaceID: wallet.WorkspaceID,
			Balance:     wallet.Balance,
			Threshold:   threshold,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit credits low")
	}
	return nil
}

func describe(given, fallback string) string {
	if given != "" {
		return given
	}
	return fallback
}
