package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a workspace's spendable and reserved credits.
type Wallet struct {
	WorkspaceID          uuid.UUID  `gorm:"column:workspace_id;type:uuid;primaryKey" json:"workspace_id"`
	Balance              int64      `gorm:"column:balance;not null;default:0" json:"balance"`
	HeldBalance          int64      `gorm:"column:held_balance;not null;default:0" json:"held_balance"`
	Plan                 string     `gorm:"column:plan;not null;default:free" json:"plan"`
	PlanCreditsMonthly   int64      `gorm:"column:plan_credits_monthly;not null;default:0" json:"plan_credits_monthly"`
	BillingCycleStart    time.Time  `gorm:"column:billing_cycle_start;not null" json:"billing_cycle_start"`
	LowBalanceThreshold  int64      `gorm:"column:low_balance_threshold;not null;default:0" json:"low_balance_threshold"`
	StripeCustomerID     *string    `gorm:"column:stripe_customer_id" json:"-"`
	StripeSubscriptionID *string    `gorm:"column:stripe_subscription_id;index" json:"-"`
	LastPaymentAt        *time.Time `gorm:"column:last_payment_at" json:"last_payment_at"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
