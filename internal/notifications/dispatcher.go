package notifications

import (
	"context"
	"fmt"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

type creator interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Dispatcher turns decoded terminal events into notification rows.
type Dispatcher struct {
	repo creator
}

func NewDispatcher(repo creator) (*Dispatcher, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	return &Dispatcher{repo: repo}, nil
}

// Dispatch stores the notification for payload. It returns nil when the event
// does not notify anyone.
func (d *Dispatcher) Dispatch(ctx context.Context, payload any) (*models.Notification, error) {
	notification, ok := Build(payload)
	if !ok {
		return nil, nil
	}
	if notification.WorkspaceID == uuid.Nil {
		return nil, fmt.Errorf("notification for %s has no workspace", notification.Type)
	}
	if err := d.repo.Create(ctx, notification); err != nil {
		return nil, err
	}
	return notification, nil
}

// Build maps an event payload to the notification it produces. Events carrying
// a user address that user; the rest go to the whole workspace.
func Build(payload any) (*models.Notification, bool) {
	switch event := payload.(type) {
	case *payloads.JobSettledEvent:
		return buildJob(*event)
	case *payloads.PostSettledEvent:
		return buildPost(*event)
	case *payloads.AutomationSettledEvent:
		return buildAutomation(*event)
	case *payloads.CreditsLowEvent:
		return &models.Notification{
			WorkspaceID: event.WorkspaceID,
			Type:        enums.NotificationLowCredits,
			Title:       "Low Credits",
			Message:     fmt.Sprintf("Your workspace has %d credits left", event.Balance),
			Payload: map[string]any{
				"balance":   event.Balance,
				"threshold": event.Threshold,
			},
		}, true
	default:
		return nil, false
	}
}

func buildJob(event payloads.JobSettledEvent) (*models.Notification, bool) {
	n := &models.Notification{
		WorkspaceID: event.WorkspaceID,
		UserID:      addressee(event.UserID),
		Payload: map[string]any{
			"jobId":         event.JobID.String(),
			"jobType":       string(event.JobType),
			"creditsActual": event.CreditsActual,
		},
	}
	switch event.Status {
	case enums.JobStatusCompleted:
		n.Type = enums.NotificationJobCompleted
		n.Title = "Generation Complete"
		n.Message = fmt.Sprintf("Your %s generation is ready", event.JobType)
	case enums.JobStatusFailed:
		n.Type = enums.NotificationJobFailed
		n.Title = "Generation Failed"
		n.Message = fmt.Sprintf("Your %s generation failed", event.JobType)
		if event.ErrorMessage != "" {
			n.Message += ": " + event.ErrorMessage
		}
	default:
		return nil, false
	}
	return n, true
}

func buildPost(event payloads.PostSettledEvent) (*models.Notification, bool) {
	n := &models.Notification{
		WorkspaceID: event.WorkspaceID,
		UserID:      addressee(event.UserID),
		Payload: map[string]any{
			"postId":       event.PostID.String(),
			"successCount": event.SuccessCount,
			"failureCount": event.FailureCount,
		},
	}
	if event.Status == enums.PostStatusPublished {
		n.Type = enums.NotificationPublishSuccess
		n.Title = "Post Published"
		n.Message = fmt.Sprintf("Successfully published to %d platform(s)", event.SuccessCount)
		return n, true
	}
	n.Type = enums.NotificationPublishFailed
	n.Title = "Publish Failed"
	n.Message = "Failed to publish to all platforms"
	return n, true
}

func buildAutomation(event payloads.AutomationSettledEvent) (*models.Notification, bool) {
	name := event.FlowName
	if name == "" {
		name = "automation"
	}
	n := &models.Notification{
		WorkspaceID: event.WorkspaceID,
		UserID:      addressee(event.UserID),
		Payload: map[string]any{
			"flowId": event.FlowID.String(),
			"runId":  event.RunID.String(),
		},
	}
	switch event.Status {
	case enums.RunStatusCompleted:
		n.Type = enums.NotificationAutomationCompleted
		n.Title = "Automation Completed"
		n.Message = fmt.Sprintf("Flow %q completed successfully", name)
	case enums.RunStatusFailed:
		n.Type = enums.NotificationAutomationFailed
		n.Title = "Automation Failed"
		n.Message = fmt.Sprintf("Flow %q failed", name)
		if event.ErrorMessage != "" {
			n.Message += ": " + event.ErrorMessage
		}
	default:
		return nil, false
	}
	return n, true
}

func addressee(userID uuid.UUID) *uuid.UUID {
	if userID == uuid.Nil {
		return nil
	}
	return &userID
}
