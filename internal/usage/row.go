package usage

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/payloads"
)

// Usage kinds written to the kind column.
const (
	KindGeneration = "generation"
	KindPublish    = "publish"
	KindAutomation = "automation"
)

// BigQuery NUMERIC keeps nine fractional digits.
const numericScale = 9

// Row mirrors the credit_usage BigQuery schema.
type Row struct {
	EventID     string    `bigquery:"event_id"`
	EventType   string    `bigquery:"event_type"`
	WorkspaceID string    `bigquery:"workspace_id"`
	UserID      string    `bigquery:"user_id"`
	Kind        string    `bigquery:"kind"`
	Detail      *string   `bigquery:"detail"`
	ReferenceID string    `bigquery:"reference_id"`
	Status      string    `bigquery:"status"`
	Credits     int64     `bigquery:"credits"`
	CostUSD     *big.Rat  `bigquery:"cost_usd"`
	OccurredAt  time.Time `bigquery:"occurred_at"`
}

// Pricing converts consumed credits into USD.
type Pricing struct {
	unit decimal.Decimal
}

// NewPricing parses the per-credit USD price.
func NewPricing(unitPriceUSD string) (Pricing, error) {
	unit, err := decimal.NewFromString(strings.TrimSpace(unitPriceUSD))
	if err != nil {
		return Pricing{}, fmt.Errorf("parse unit price: %w", err)
	}
	if unit.IsNegative() {
		return Pricing{}, fmt.Errorf("unit price must not be negative")
	}
	return Pricing{unit: unit}, nil
}

func (p Pricing) String() string { return p.unit.String() }

// Cost returns the USD cost of credits, rounded to the NUMERIC scale.
func (p Pricing) Cost(credits int64) decimal.Decimal {
	return p.unit.Mul(decimal.NewFromInt(credits)).Round(numericScale)
}

// Build maps a decoded terminal event into a usage row. Events that do not
// consume credits return false.
func (p Pricing) Build(eventID string, eventType enums.OutboxEventType, occurredAt time.Time, payload any) (Row, bool) {
	row := Row{EventID: eventID, EventType: string(eventType)}
	var settledAt time.Time

	switch event := payload.(type) {
	case *payloads.JobSettledEvent:
		row.WorkspaceID = event.WorkspaceID.String()
		row.UserID = event.UserID.String()
		row.Kind = KindGeneration
		row.Detail = optionalString(string(event.JobType))
		row.ReferenceID = event.JobID.String()
		row.Status = string(event.Status)
		row.Credits = event.CreditsActual
		settledAt = event.SettledAt
	case *payloads.PostSettledEvent:
		row.WorkspaceID = event.WorkspaceID.String()
		row.UserID = event.UserID.String()
		row.Kind = KindPublish
		row.ReferenceID = event.PostID.String()
		row.Status = string(event.Status)
		row.Credits = event.CreditsActual
		settledAt = event.SettledAt
	case *payloads.AutomationSettledEvent:
		row.WorkspaceID = event.WorkspaceID.String()
		row.UserID = event.UserID.String()
		row.Kind = KindAutomation
		row.Detail = optionalString(event.FlowName)
		row.ReferenceID = event.RunID.String()
		row.Status = string(event.Status)
		row.Credits = event.CreditsActual
		settledAt = event.SettledAt
	default:
		return Row{}, false
	}

	row.CostUSD = p.Cost(row.Credits).Rat()
	row.OccurredAt = occurredAt.UTC()
	if !settledAt.IsZero() {
		row.OccurredAt = settledAt.UTC()
	}
	return row, true
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
