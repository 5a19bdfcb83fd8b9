package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

const (
	envTest = "test"
	envLive = "live"

	// Stripe's own default; retries of an old delivery carry a fresh signature.
	signatureTolerance = 5 * time.Minute
)

var (
	ErrSecretRequired = errors.New("stripe webhook secret is required")
	ErrSignature      = errors.New("stripe signature invalid")
)

// Client verifies billing webhooks (plan invoices, credit pack payments,
// subscription changes) for one Stripe environment.
type Client struct {
	environment   string
	signingSecret string
	tolerance     time.Duration
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	if env != envTest && env != envLive {
		return nil, fmt.Errorf("stripe environment must be %q or %q, got %q", envTest, envLive, env)
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, ErrSecretRequired
	}
	if !strings.HasPrefix(secret, "whsec_") {
		return nil, errors.New("stripe webhook secret must start with whsec_")
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		if err := checkKeyMode(env, key); err != nil {
			return nil, err
		}
		stripe.Key = key
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe webhook verification ready")
	}
	return &Client{
		environment:   env,
		signingSecret: secret,
		tolerance:     signatureTolerance,
	}, nil
}

func (c *Client) Environment() string {
	return c.environment
}

// ConstructEvent checks the Stripe-Signature header against payload and
// decodes the event. Events from a newer API version are accepted; handlers
// only read fields stable across versions.
func (c *Client) ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	if signatureHeader == "" {
		return stripe.Event{}, fmt.Errorf("%w: header missing", ErrSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.signingSecret, webhook.ConstructEventOptions{
		Tolerance:                c.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	if c.environment == envLive && !event.Livemode {
		return stripe.Event{}, fmt.Errorf("%w: test-mode event sent to live endpoint", ErrSignature)
	}
	return event, nil
}

func checkKeyMode(env, key string) error {
	want := "_" + env + "_"
	for _, prefix := range []string{"sk", "rk"} {
		if strings.HasPrefix(key, prefix+want) {
			return nil
		}
	}
	return fmt.Errorf("stripe %s environment requires an sk%s or rk%s key", env, want, want)
}
