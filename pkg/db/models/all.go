package models

// All lists every persisted model, in dependency order, for AutoMigrate in tests and sqlite dev runs.
func All() []any {
	return []any{
		&Wallet{},
		&LedgerEntry{},
		&CreditHold{},
		&Job{},
		&ScheduledPost{},
		&AutomationFlow{},
		&AutomationRun{},
		&Notification{},
		&OutboxEvent{},
		&OutboxDLQ{},
		&BillingPlan{},
		&CreditPack{},
		&StripeEvent{},
	}
}
