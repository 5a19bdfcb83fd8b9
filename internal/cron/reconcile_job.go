package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
)

const (
	defaultStaleAfter     = 30 * time.Minute
	defaultReconcileBatch = 100
	staleReason           = "reconciled: stale reservation"

	// External holds are settled by the API caller, which may finalize long
	// after any job or post would have.
	defaultExternalStaleAfter = 7 * 24 * time.Hour
)

// StaleSettler resolves a hold whose owning record never reached settlement.
// It returns false when the record was already settled by someone else.
type StaleSettler interface {
	SettleStale(ctx context.Context, hold models.CreditHold, reason string) (bool, error)
}

type holdLedger interface {
	ListStaleHolds(ctx context.Context, olderThan time.Time, after *pagination.Cursor, limit int) ([]models.CreditHold, *pagination.Cursor, error)
	Finalize(ctx context.Context, input ledger.FinalizeInput) (ledger.FinalizeResult, error)
}

// ReconcileJobParams configures the sweep. ExternalStaleAfter applies to holds
// with no settler and is never shorter than StaleAfter.
type ReconcileJobParams struct {
	Logger             *logger.Logger
	Ledger             holdLedger
	Settlers           map[enums.CreditReferenceType]StaleSettler
	StaleAfter         time.Duration
	ExternalStaleAfter time.Duration
	BatchSize          int
	Now                func() time.Time
}

// NewReconcileJob builds the job that settles credit holds left open by
// crashed workers.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	externalAfter := params.ExternalStaleAfter
	if externalAfter <= 0 {
		externalAfter = defaultExternalStaleAfter
	}
	if externalAfter < staleAfter {
		externalAfter = staleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	settlers := make(map[enums.CreditReferenceType]StaleSettler, len(params.Settlers))
	for refType, settler := range params.Settlers {
		if settler != nil {
			settlers[refType] = settler
		}
	}
	return &reconcileJob{
		logg:          params.Logger,
		ledger:        params.Ledger,
		settlers:      settlers,
		staleAfter:    staleAfter,
		externalAfter: externalAfter,
		batch:         batch,
		now:           now,
	}, nil
}

type reconcileJob struct {
	logg          *logger.Logger
	ledger        holdLedger
	settlers      map[enums.CreditReferenceType]StaleSettler
	staleAfter    time.Duration
	externalAfter time.Duration
	batch         int
	now           func() time.Time
}

func (j *reconcileJob) Name() string { return "credit-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.staleAfter)
	externalCutoff := now.Add(-j.externalAfter)
	var (
		errs     error
		cursor   *pagination.Cursor
		scanned  int
		settled  int
		raced    int
		deferred int
	)
	for {
		holds, next, err := j.ledger.ListStaleHolds(ctx, cutoff, cursor, j.batch)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list stale holds: %w", err))
		}
		for _, hold := range holds {
			if err := ctx.Err(); err != nil {
				return multierr.Append(errs, err)
			}
			scanned++
			settler, owned := j.settlers[hold.ReferenceType]
			if !owned && !hold.CreatedAt.Before(externalCutoff) {
				deferred++
				continue
			}
			ok, err := j.settle(ctx, settler, hold)
			switch {
			case err != nil:
				errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", hold.ReferenceType, hold.ReferenceID, err))
			case ok:
				settled++
			default:
				raced++
			}
		}
		if next == nil {
			break
		}
		cursor = next
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"scanned":  scanned,
		"settled":  settled,
		"raced":    raced,
		"deferred": deferred,
		"failed":   len(multierr.Errors(errs)),
	}), "credit reconcile complete")
	return errs
}

func (j *reconcileJob) settle(ctx context.Context, settler StaleSettler, hold models.CreditHold) (bool, error) {
	if settler != nil {
		return settler.SettleStale(ctx, hold, staleReason)
	}
	// Holds with no owning worker, such as external API reservations, are
	// refunded in full once past the external threshold.
	referenceID := hold.ReferenceID
	result, err := j.ledger.Finalize(ctx, ledger.FinalizeInput{
		WorkspaceID:  hold.WorkspaceID,
		HeldAmount:   hold.Amount,
		ActualAmount: 0,
		JobID:        &referenceID,
		Description:  staleReason,
	})
	if err != nil {
		return false, err
	}
	return !result.AlreadySettled, nil
}
