package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/contentstudio-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/contentstudio-backend/api/controllers/webhooks"
	"github.com/angelmondragon/contentstudio-backend/api/middleware"
	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/contentstudio-backend/pkg/redis"
)

// RedisStore backs idempotency replay and request rate limiting.
type RedisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type stripeSigner interface {
	ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

type stripeEventGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Services are the domain services mounted under /api/v1.
type Services struct {
	Credits       controllers.CreditsService
	Jobs          controllers.JobsService
	Posts         controllers.PostsService
	Automation    controllers.AutomationService
	Notifications controllers.NotificationsService
}

// StripeWebhook wires the unauthenticated billing webhook.
type StripeWebhook struct {
	Service webhookcontrollers.StripeWebhookService
	Client  stripeSigner
	Guard   stripeEventGuard
}

var (
	anyMember    = []enums.MemberRole{enums.MemberRoleOwner, enums.MemberRoleAdmin, enums.MemberRolePublisher, enums.MemberRoleCreator, enums.MemberRoleViewer}
	managers     = []enums.MemberRole{enums.MemberRoleOwner, enums.MemberRoleAdmin}
	publishers   = []enums.MemberRole{enums.MemberRoleOwner, enums.MemberRoleAdmin, enums.MemberRolePublisher}
	contributors = []enums.MemberRole{enums.MemberRoleOwner, enums.MemberRoleAdmin, enums.MemberRolePublisher, enums.MemberRoleCreator}
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	store RedisStore,
	svcs Services,
	stripeHook StripeWebhook,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSOrigins, cfg.App.IsProd()),
	)

	spendPolicy := middleware.NewRateLimitPolicy(
		"spend",
		cfg.RateLimit.Window,
		cfg.RateLimit.IPLimit,
		cfg.RateLimit.WorkspaceLimit,
	)
	spend := middleware.RateLimit(spendPolicy, store, logg)

	roles := func(allowed []enums.MemberRole) func(http.Handler) http.Handler {
		return middleware.RequireRoles(logg, allowed...)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeHook.Service, stripeHook.Client, stripeHook.Guard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(store, logg))

		r.Route("/credits", func(r chi.Router) {
			r.With(roles(managers), spend).Post("/hold", controllers.HoldCredits(svcs.Credits, logg))
			r.With(roles(managers)).Post("/finalize", controllers.FinalizeCredits(svcs.Credits, logg))
			r.With(roles([]enums.MemberRole{enums.MemberRoleOwner})).Post("/add", controllers.AddCredits(svcs.Credits, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Use(roles(anyMember))
			r.Get("/", controllers.GetWallet(svcs.Credits, logg))
			r.Get("/ledger", controllers.ListLedgerEntries(svcs.Credits, logg))
		})

		r.Route("/jobs", func(r chi.Router) {
			r.With(roles(contributors), spend).Post("/", controllers.StartJob(svcs.Jobs, logg))
			r.With(roles(anyMember)).Get("/", controllers.ListJobs(svcs.Jobs, logg))
			r.With(roles(anyMember)).Get("/{jobId}", controllers.GetJob(svcs.Jobs, logg))
			r.With(roles(managers)).Post("/{jobId}/cancel", controllers.CancelJob(svcs.Jobs, logg))
		})

		r.Route("/posts", func(r chi.Router) {
			r.With(roles(contributors), spend).Post("/", controllers.SchedulePost(svcs.Posts, logg))
			r.With(roles(anyMember)).Get("/", controllers.ListPosts(svcs.Posts, logg))
			r.With(roles(anyMember)).Get("/{postId}", controllers.GetPost(svcs.Posts, logg))
			r.With(roles(publishers), spend).Post("/{postId}/publish", controllers.PublishPostNow(svcs.Posts, logg))
			r.With(roles(publishers)).Post("/{postId}/cancel", controllers.CancelPost(svcs.Posts, logg))
		})

		r.Route("/automations", func(r chi.Router) {
			r.With(roles(managers)).Post("/", controllers.CreateFlow(svcs.Automation, logg))
			r.With(roles(anyMember)).Get("/", controllers.ListFlows(svcs.Automation, logg))
			r.With(roles(anyMember)).Get("/runs/{runId}", controllers.GetRun(svcs.Automation, logg))
			r.With(roles(managers)).Post("/runs/{runId}/cancel", controllers.CancelRun(svcs.Automation, logg))
			r.With(roles(anyMember)).Get("/{flowId}", controllers.GetFlow(svcs.Automation, logg))
			r.With(roles(anyMember)).Get("/{flowId}/runs", controllers.ListFlowRuns(svcs.Automation, logg))
			r.With(roles(publishers), spend).Post("/{flowId}/trigger", controllers.TriggerFlow(svcs.Automation, logg))
			r.With(roles(publishers)).Post("/{flowId}/test", controllers.TestFlow(svcs.Automation, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Use(roles(anyMember))
			r.Get("/", controllers.ListNotifications(svcs.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(svcs.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svcs.Notifications, logg))
		})
	})

	return r
}
