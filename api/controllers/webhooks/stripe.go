package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/contentstudio-backend/api/responses"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

// Stripe documents webhook payloads as well under this size.
const maxWebhookBody = 1 << 16

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type stripeEventVerifier interface {
	ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

// StripeWebhook verifies and applies billing events that grant credits or
// change plans. Redis drops concurrent replays early; the stripe_events row
// written by the service is the durable guard. A failed event releases its
// Redis mark so Stripe's retry is processed.
func StripeWebhook(svc StripeWebhookService, verifier stripeEventVerifier, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || verifier == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		payload, err := readBody(w, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		event, err := verifier.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "stripe signature rejected"))
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": event.Type})
		}

		claimed, err := guard.Claim(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stripe event dedupe"))
			return
		}
		if !claimed {
			if logg != nil {
				logg.Info(ctx, "stripe event replay ignored")
			}
			responses.WriteSuccess(w, map[string]bool{"duplicate": true})
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if delErr := guard.Release(ctx, event.ID); delErr != nil && logg != nil {
				logg.Warn(logg.WithField(ctx, "error", delErr.Error()), "stripe event mark not released")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(ctx, "stripe event applied")
		}
		responses.WriteSuccess(w, map[string]bool{"duplicate": false})
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err == nil {
		return payload, nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe payload too large")
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read stripe payload")
}
