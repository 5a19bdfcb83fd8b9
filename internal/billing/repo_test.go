package billing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/dbtest"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
)

func TestRecordStripeEventOnce(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	first, err := repo.RecordStripeEvent(ctx, "evt_1", "invoice.paid")
	if err != nil || !first {
		t.Fatalf("first insert: inserted=%v err=%v", first, err)
	}
	again, err := repo.RecordStripeEvent(ctx, "evt_1", "invoice.paid")
	if err != nil || again {
		t.Fatalf("replay should be ignored: inserted=%v err=%v", again, err)
	}
}

func TestCatalogLookups(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	price := "price_pro"

	seed := []any{
		&models.CreditPack{ID: "starter", Name: "Starter", Credits: 100, BonusCredits: 10, PriceCents: 900, Active: true},
		&models.CreditPack{ID: "legacy", Name: "Legacy", Credits: 50, PriceCents: 500, Active: false},
		&models.BillingPlan{Code: "pro", Name: "Pro", CreditsPerInterval: 1000, PriceAmount: decimal.RequireFromString("29.00"), StripePriceID: &price},
	}
	for _, row := range seed {
		if err := conn.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	pack, err := repo.FindCreditPack(ctx, "starter")
	if err != nil || pack == nil || pack.TotalCredits() != 110 {
		t.Fatalf("unexpected pack %+v (%v)", pack, err)
	}
	if retired, err := repo.FindCreditPack(ctx, "legacy"); err != nil || retired != nil {
		t.Fatalf("inactive packs are not sold: %+v (%v)", retired, err)
	}
	packs, err := repo.ListCreditPacks(ctx)
	if err != nil || len(packs) != 1 {
		t.Fatalf("expected one active pack, got %d (%v)", len(packs), err)
	}

	plan, err := repo.FindPlanByStripePrice(ctx, price)
	if err != nil || plan == nil || plan.Code != "pro" || plan.CreditsPerInterval != 1000 {
		t.Fatalf("unexpected plan %+v (%v)", plan, err)
	}
	if missing, err := repo.FindPlan(ctx, "enterprise"); err != nil || missing != nil {
		t.Fatalf("expected no plan, got %+v (%v)", missing, err)
	}
}
