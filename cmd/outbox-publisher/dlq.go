package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
)

type dlqOps interface {
	Recent(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

// dlqCommand is the one-shot operator mode: list dead letters or requeue
// some by event id, then exit without starting the relay.
type dlqCommand struct {
	list    bool
	limit   int
	requeue string
}

func (c dlqCommand) active() bool {
	return c.list || strings.TrimSpace(c.requeue) != ""
}

type dlqLine struct {
	EventID      uuid.UUID `json:"eventId"`
	EventType    string    `json:"eventType"`
	Reason       string    `json:"reason"`
	Attempts     int       `json:"attempts"`
	FailedAt     time.Time `json:"failedAt"`
	ErrorMessage string    `json:"error,omitempty"`
}

func runDLQ(ctx context.Context, ops dlqOps, cmd dlqCommand, out io.Writer) error {
	if ids := strings.TrimSpace(cmd.requeue); ids != "" {
		for _, raw := range strings.Split(ids, ",") {
			id, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("requeue %q: %w", raw, err)
			}
			if err := ops.Requeue(ctx, id); err != nil {
				return fmt.Errorf("requeue %s: %w", id, err)
			}
			fmt.Fprintf(out, "requeued %s\n", id)
		}
		return nil
	}

	rows, err := ops.Recent(ctx, cmd.limit)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	enc := json.NewEncoder(out)
	for _, row := range rows {
		line := dlqLine{
			EventID:   row.EventID,
			EventType: string(row.EventType),
			Reason:    string(row.ErrorReason),
			Attempts:  row.AttemptCount,
			FailedAt:  row.FailedAt.UTC(),
		}
		if row.ErrorMessage != nil {
			line.ErrorMessage = *row.ErrorMessage
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}
