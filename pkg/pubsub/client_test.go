package pubsub

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		name    string
		project string
		kind    resourceKind
		in      string
		want    string
	}{
		{"short topic", "studio", kindTopic, "cs-studio-events", "projects/studio/topics/cs-studio-events"},
		{"short subscription", "studio", kindSubscription, " notify ", "projects/studio/subscriptions/notify"},
		{"full name passes", "other", kindTopic, "projects/studio/topics/x", "projects/studio/topics/x"},
		{"wrong kind is expanded", "studio", kindSubscription, "projects/studio/topics/x", "projects/studio/subscriptions/projects/studio/topics/x"},
		{"blank", "studio", kindTopic, "  ", ""},
		{"no project", "", kindTopic, "x", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resourceName(tc.project, tc.kind, tc.in); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestConfiguredSkipsBlanks(t *testing.T) {
	got := configured("a", " ", "", " b ")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected %v", got)
	}
}

func TestMissingDistinguishesNotFound(t *testing.T) {
	err := missing("topic", "cs-billing-events", status.Error(codes.NotFound, "gone"))
	if err.Error() != `topic "cs-billing-events" does not exist` {
		t.Fatalf("unexpected %q", err)
	}
	err = missing("subscription", "notify", status.Error(codes.PermissionDenied, "nope"))
	if !strings.HasPrefix(err.Error(), `checking subscription "notify"`) {
		t.Fatalf("unexpected %q", err)
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{ProjectID: " "}, config.PubSubConfig{}, nil)
	if !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected project error, got %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if err := c.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if c.Publisher("x") != nil || c.NotificationSubscription() != nil {
		t.Fatal("expected nil handles")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
