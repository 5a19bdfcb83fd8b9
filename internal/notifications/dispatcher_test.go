package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/dbtest"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/registry"
)

func TestBuildMapsTerminalEvents(t *testing.T) {
	ws, user := uuid.New(), uuid.New()
	cases := []struct {
		name     string
		payload  any
		wantType enums.NotificationType
		wantMsg  string
		wideOpen bool
	}{
		{
			name:     "post partially published",
			payload:  &payloads.PostSettledEvent{WorkspaceID: ws, UserID: user, Status: enums.PostStatusPublished, SuccessCount: 2, FailureCount: 1},
			wantType: enums.NotificationPublishSuccess,
			wantMsg:  "Successfully published to 2 platform(s)",
		},
		{
			name:     "post failed",
			payload:  &payloads.PostSettledEvent{WorkspaceID: ws, UserID: user, Status: enums.PostStatusFailed, FailureCount: 3},
			wantType: enums.NotificationPublishFailed,
			wantMsg:  "Failed to publish to all platforms",
		},
		{
			name:     "automation completed",
			payload:  &payloads.AutomationSettledEvent{WorkspaceID: ws, UserID: user, FlowName: "Weekly digest", Status: enums.RunStatusCompleted},
			wantType: enums.NotificationAutomationCompleted,
			wantMsg:  `Flow "Weekly digest" completed successfully`,
		},
		{
			name:     "job failed",
			payload:  &payloads.JobSettledEvent{WorkspaceID: ws, UserID: user, JobType: enums.JobTypeImage, Status: enums.JobStatusFailed, ErrorMessage: "model overloaded"},
			wantType: enums.NotificationJobFailed,
			wantMsg:  "Your image generation failed: model overloaded",
		},
		{
			name:     "credits low goes to the workspace",
			payload:  &payloads.CreditsLowEvent{WorkspaceID: ws, Balance: 4, Threshold: 10},
			wantType: enums.NotificationLowCredits,
			wantMsg:  "Your workspace has 4 credits left",
			wideOpen: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, ok := Build(tc.payload)
			if !ok {
				t.Fatalf("expected a notification")
			}
			if n.Type != tc.wantType || n.Message != tc.wantMsg {
				t.Fatalf("got type=%s message=%q", n.Type, n.Message)
			}
			if tc.wideOpen != (n.UserID == nil) {
				t.Fatalf("unexpected addressee %v", n.UserID)
			}
		})
	}

	if _, ok := Build(&payloads.JobSettledEvent{WorkspaceID: ws, Status: enums.JobStatusCancelled}); ok {
		t.Fatalf("cancelled jobs should not notify")
	}
	if _, ok := Build(&payloads.CreditsGrantedEvent{WorkspaceID: ws}); ok {
		t.Fatalf("grants should not notify")
	}
}

func TestInboxScopesToMemberAndWorkspace(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	dispatcher, err := NewDispatcher(repo)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	svc := newServiceWithRepo(repo)
	ws, me, teammate := uuid.New(), uuid.New(), uuid.New()

	mine, err := dispatcher.Dispatch(ctx, &payloads.PostSettledEvent{WorkspaceID: ws, UserID: me, Status: enums.PostStatusPublished, SuccessCount: 1})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := dispatcher.Dispatch(ctx, &payloads.PostSettledEvent{WorkspaceID: ws, UserID: teammate, Status: enums.PostStatusFailed}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := dispatcher.Dispatch(ctx, &payloads.CreditsLowEvent{WorkspaceID: ws, Balance: 2, Threshold: 10}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := dispatcher.Dispatch(ctx, &payloads.CreditsLowEvent{WorkspaceID: uuid.New(), Balance: 1, Threshold: 10}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	page, err := svc.List(ctx, ListParams{WorkspaceID: ws, UserID: me})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected own and workspace-wide notifications, got %d", len(page.Items))
	}

	if err := svc.MarkRead(ctx, ws, me, mine.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, err := svc.List(ctx, ListParams{WorkspaceID: ws, UserID: me, UnreadOnly: true})
	if err != nil || len(unread.Items) != 1 {
		t.Fatalf("expected one unread, got %d (%v)", len(unread.Items), err)
	}
	if err := svc.MarkRead(ctx, ws, teammate, mine.ID); err == nil {
		t.Fatalf("teammate must not see another member's notification")
	}

	marked, err := svc.MarkAllRead(ctx, ws, me)
	if err != nil || marked != 1 {
		t.Fatalf("mark all: marked=%d err=%v", marked, err)
	}

	deleted, err := svc.Cleanup(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil || deleted != 2 {
		t.Fatalf("cleanup: deleted=%d err=%v", deleted, err)
	}
	left, err := svc.List(ctx, ListParams{WorkspaceID: ws, UserID: teammate})
	if err != nil || len(left.Items) != 1 {
		t.Fatalf("teammate should keep their unread notification, got %d (%v)", len(left.Items), err)
	}
}

type fakeTracker struct {
	seen    map[string]bool
	deleted int
	err     error
}

func (f *fakeTracker) Claim(_ context.Context, _ string, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func (f *fakeTracker) Release(_ context.Context, _ string, id string) error {
	delete(f.seen, id)
	f.deleted++
	return nil
}

type countingRepo struct {
	created int
	err     error
}

func (c *countingRepo) Create(_ context.Context, n *models.Notification) error {
	if c.err != nil {
		return c.err
	}
	c.created++
	n.ID = uuid.New()
	return nil
}

func newTestConsumer(repo creator, tracker processedTracker) *Consumer {
	dispatcher, _ := NewDispatcher(repo)
	return &Consumer{
		dispatcher:  dispatcher,
		decoders:    registry.NewStudioDecoders(),
		idempotency: tracker,
		logg:        logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard}),
	}
}

func envelopeFor(t *testing.T, eventID uuid.UUID, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: eventID.String(), OccurredAt: time.Now().UTC(), Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestConsumerDeduplicatesDeliveries(t *testing.T) {
	repo := &countingRepo{}
	tracker := &fakeTracker{seen: map[string]bool{}}
	consumer := newTestConsumer(repo, tracker)
	eventID := uuid.New()
	body := envelopeFor(t, eventID, payloads.AutomationSettledEvent{WorkspaceID: uuid.New(), UserID: uuid.New(), Status: enums.RunStatusFailed, ErrorMessage: "boom"})

	for i := 0; i < 2; i++ {
		result := consumer.process(context.Background(), "msg-1", string(enums.EventAutomationFailed), body)
		if !result.ack {
			t.Fatalf("delivery %d should ack", i)
		}
	}
	if repo.created != 1 {
		t.Fatalf("expected one notification, got %d", repo.created)
	}
}

func TestConsumerSkipsAndRetries(t *testing.T) {
	ctx := context.Background()
	ws := uuid.New()

	t.Run("unknown event acks", func(t *testing.T) {
		repo := &countingRepo{}
		consumer := newTestConsumer(repo, &fakeTracker{seen: map[string]bool{}})
		if result := consumer.process(ctx, "m", "order_paid", []byte(`{}`)); !result.ack {
			t.Fatalf("expected ack")
		}
		if repo.created != 0 {
			t.Fatalf("nothing should be created")
		}
	})

	t.Run("grant acks without notifying", func(t *testing.T) {
		repo := &countingRepo{}
		consumer := newTestConsumer(repo, &fakeTracker{seen: map[string]bool{}})
		body := envelopeFor(t, uuid.New(), payloads.CreditsGrantedEvent{WorkspaceID: ws, Amount: 100})
		if result := consumer.process(ctx, "m", string(enums.EventCreditsGranted), body); !result.ack || repo.created != 0 {
			t.Fatalf("expected ack with no notification")
		}
	})

	t.Run("store failure nacks and forgets the event", func(t *testing.T) {
		repo := &countingRepo{err: errors.New("db down")}
		tracker := &fakeTracker{seen: map[string]bool{}}
		consumer := newTestConsumer(repo, tracker)
		body := envelopeFor(t, uuid.New(), payloads.CreditsLowEvent{WorkspaceID: ws, Balance: 1, Threshold: 5})
		if result := consumer.process(ctx, "m", string(enums.EventCreditsLow), body); !result.nack {
			t.Fatalf("expected nack")
		}
		if tracker.deleted != 1 || len(tracker.seen) != 0 {
			t.Fatalf("idempotency marker should be cleared for redelivery")
		}
	})

	t.Run("idempotency outage nacks", func(t *testing.T) {
		consumer := newTestConsumer(&countingRepo{}, &fakeTracker{err: errors.New("redis down")})
		body := envelopeFor(t, uuid.New(), payloads.CreditsLowEvent{WorkspaceID: ws, Balance: 1, Threshold: 5})
		result := consumer.process(ctx, "m", string(enums.EventCreditsLow), body)
		if !result.nack {
			t.Fatalf("expected nack")
		}
	})
}
