package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingPlan describes a subscription tier and its monthly credit allowance.
type BillingPlan struct {
	Code               string          `gorm:"column:code;primaryKey" json:"code"`
	Name               string          `gorm:"column:name;not null" json:"name"`
	CreditsPerInterval int64           `gorm:"column:credits_per_interval;not null" json:"credits_per_interval"`
	PriceAmount        decimal.Decimal `gorm:"column:price_amount;type:numeric(12,2);not null" json:"price_amount"`
	StripePriceID      *string         `gorm:"column:stripe_price_id;uniqueIndex" json:"stripe_price_id"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// CreditPack is a one-off credit bundle sold through Stripe payment intents.
type CreditPack struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	Name          string    `gorm:"column:name;not null" json:"name"`
	Credits       int64     `gorm:"column:credits;not null" json:"credits"`
	BonusCredits  int64     `gorm:"column:bonus_credits;not null;default:0" json:"bonus_credits"`
	PriceCents    int64     `gorm:"column:price_cents;not null" json:"price_cents"`
	StripePriceID *string   `gorm:"column:stripe_price_id" json:"stripe_price_id"`
	Active        bool      `gorm:"column:active;not null" json:"active"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TotalCredits is the amount granted when the pack is purchased.
func (p CreditPack) TotalCredits() int64 {
	return p.Credits + p.BonusCredits
}

// StripeEvent records a processed webhook event id.
type StripeEvent struct {
	EventID     string    `gorm:"column:event_id;primaryKey" json:"event_id"`
	EventType   string    `gorm:"column:event_type;not null" json:"event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at;autoCreateTime" json:"processed_at"`
}
