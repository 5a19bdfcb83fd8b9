package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

const defaultRenewalBatch = 100

type planRenewer interface {
	ListRenewalDue(ctx context.Context, limit int) ([]models.Wallet, error)
	RenewPlan(ctx context.Context, wallet models.Wallet) (bool, error)
}

type PlanRenewalJobParams struct {
	Logger    *logger.Logger
	Wallets   planRenewer
	BatchSize int
}

// NewPlanRenewalJob grants monthly plan credits to wallets that are not billed
// through a Stripe subscription.
func NewPlanRenewalJob(params PlanRenewalJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Wallets == nil {
		return nil, fmt.Errorf("ledger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRenewalBatch
	}
	return &planRenewalJob{logg: params.Logger, wallets: params.Wallets, batch: batch}, nil
}

type planRenewalJob struct {
	logg    *logger.Logger
	wallets planRenewer
	batch   int
}

func (j *planRenewalJob) Name() string { return "plan-renewal" }

func (j *planRenewalJob) Run(ctx context.Context) error {
	var (
		errs    error
		renewed int
	)
	for {
		due, err := j.wallets.ListRenewalDue(ctx, j.batch)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list renewal due: %w", err))
		}
		progressed := false
		for _, wallet := range due {
			if err := ctx.Err(); err != nil {
				return multierr.Append(errs, err)
			}
			ok, err := j.wallets.RenewPlan(ctx, wallet)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("renew %s: %w", wallet.WorkspaceID, err))
				continue
			}
			if ok {
				renewed++
				progressed = true
			}
		}
		// A short page is the last one. A full page that made no progress
		// would come back unchanged, so stop there too.
		if len(due) < j.batch || !progressed || errs != nil {
			break
		}
	}

	j.logg.Info(j.logg.WithField(ctx, "renewed", renewed), "plan renewal complete")
	return errs
}
