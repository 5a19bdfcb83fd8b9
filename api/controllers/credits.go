package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/api/responses"
	"github.com/angelmondragon/contentstudio-backend/api/validators"
	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

// CreditsService is the slice of the ledger the credit endpoints need.
type CreditsService interface {
	Hold(ctx context.Context, input ledger.HoldInput) (bool, error)
	Finalize(ctx context.Context, input ledger.FinalizeInput) (ledger.FinalizeResult, error)
	Grant(ctx context.Context, input ledger.GrantInput) (*models.LedgerEntry, error)
	GetWallet(ctx context.Context, workspaceID uuid.UUID) (*models.Wallet, error)
	ListEntries(ctx context.Context, params ledger.EntryListParams) (*ledger.EntryListResult, error)
}

var _ CreditsService = (*ledger.Service)(nil)

type holdCreditsRequest struct {
	Amount        int64                     `json:"amount" validate:"required,min=1"`
	JobID         string                    `json:"job_id" validate:"omitempty,uuid"`
	ReferenceType enums.CreditReferenceType `json:"reference_type" validate:"omitempty,enum"`
	Description   string                    `json:"description" validate:"max=255"`
}

type finalizeCreditsRequest struct {
	HeldAmount   int64  `json:"held_amount" validate:"min=0"`
	ActualAmount int64  `json:"actual_amount" validate:"min=0"`
	JobID        string `json:"job_id" validate:"omitempty,uuid"`
	Description  string `json:"description" validate:"max=255"`
}

type addCreditsRequest struct {
	Amount      int64  `json:"amount" validate:"required,min=1"`
	Description string `json:"description" validate:"max=255"`
}

type finalizeCreditsResponse struct {
	AlreadySettled bool  `json:"already_settled"`
	Held           int64 `json:"held"`
	Charged        int64 `json:"charged"`
	Refunded       int64 `json:"refunded"`
	Uncollected    int64 `json:"uncollected"`
}

// HoldCredits reserves credits on the caller's wallet. An insufficient balance
// is reported as held=false rather than an error.
func HoldCredits(svc CreditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body holdCreditsRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		jobID, err := optionalUUID(body.JobID, "job_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		held, err := svc.Hold(ctx, ledger.HoldInput{
			WorkspaceID:   who.WorkspaceID,
			Amount:        body.Amount,
			JobID:         jobID,
			ReferenceType: body.ReferenceType,
			Description:   validators.SanitizeString(body.Description, 255),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"held": held})
	}
}

// FinalizeCredits settles a previous hold against its actual cost.
func FinalizeCredits(svc CreditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body finalizeCreditsRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		jobID, err := optionalUUID(body.JobID, "job_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Finalize(ctx, ledger.FinalizeInput{
			WorkspaceID:  who.WorkspaceID,
			HeldAmount:   body.HeldAmount,
			ActualAmount: body.ActualAmount,
			JobID:        jobID,
			Description:  validators.SanitizeString(body.Description, 255),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, finalizeCreditsResponse{
			AlreadySettled: result.AlreadySettled,
			Held:           result.Held,
			Charged:        result.Charged,
			Refunded:       result.Refunded,
			Uncollected:    result.Uncollected,
		})
	}
}

// AddCredits grants credits to the caller's wallet.
func AddCredits(svc CreditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body addCreditsRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		entry, err := svc.Grant(ctx, ledger.GrantInput{
			WorkspaceID: who.WorkspaceID,
			Amount:      body.Amount,
			Kind:        enums.LedgerGrant,
			Description: validators.SanitizeString(body.Description, 255),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}

// GetWallet returns the caller's wallet balances.
func GetWallet(svc CreditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		wallet, err := svc.GetWallet(ctx, who.WorkspaceID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, wallet)
	}
}

// ListLedgerEntries pages through the caller's credit journal.
func ListLedgerEntries(svc CreditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
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
		jobID, err := optionalUUID(r.URL.Query().Get("job_id"), "job_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.ListEntries(ctx, ledger.EntryListParams{
			WorkspaceID: who.WorkspaceID,
			JobID:       jobID,
			Limit:       limit,
			Cursor:      cursor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
