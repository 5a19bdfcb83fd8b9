// Package pubsub wraps the Pub/Sub v2 client with the studio and billing
// topics and the two worker subscriptions resolved from config.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient connects and verifies every configured topic and subscription.
// A missing resource fails startup instead of the first publish or receive.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	psClient, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, projectID: project, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"studio_topic":  cfg.StudioTopic,
			"billing_topic": cfg.BillingTopic,
		}), "pubsub client initialized")
	}
	return c, nil
}

// Ping checks that each configured topic and subscription exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, name := range configured(c.cfg.StudioTopic, c.cfg.BillingTopic) {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
			Topic: resourceName(c.projectID, kindTopic, name),
		})
		if err != nil {
			return missing("topic", name, err)
		}
	}
	for _, name := range configured(c.cfg.NotificationSubscription, c.cfg.AnalyticsSubscription) {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: resourceName(c.projectID, kindSubscription, name),
		})
		if err != nil {
			return missing("subscription", name, err)
		}
	}
	return nil
}

// NotificationSubscription feeds the notification consumer in cmd/worker.
func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	return c.subscriber(c.cfg.NotificationSubscription)
}

// AnalyticsSubscription feeds the usage writer in cmd/analytics-worker.
func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.subscriber(c.cfg.AnalyticsSubscription)
}

// Publisher returns a handle for a topic ID or full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := resourceName(c.projectID, kindTopic, topic)
	if name == "" {
		return nil
	}
	return c.client.Publisher(name)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) subscriber(sub string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	name := resourceName(c.projectID, kindSubscription, sub)
	if name == "" {
		return nil
	}
	return c.client.Subscriber(name)
}

// resourceName expands a short ID to projects/<p>/<kind>/<id>. Full names
// pass through unchanged.
func resourceName(project string, kind resourceKind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+string(kind)+"/") {
		return name
	}
	if project = strings.TrimSpace(project); project == "" {
		return ""
	}
	return "projects/" + project + "/" + string(kind) + "/" + name
}

func configured(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func missing(kind, name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}
