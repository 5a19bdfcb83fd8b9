package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/internal/scheduler"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/dbtest"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
)

type fakePublisher struct {
	result scheduler.BatchResult
	err    error
	calls  int
}

func (f *fakePublisher) ProcessDue(context.Context) (scheduler.BatchResult, error) {
	f.calls++
	return f.result, f.err
}

func TestPublishJob(t *testing.T) {
	pub := &fakePublisher{result: scheduler.BatchResult{Scanned: 3, Published: 3}}
	job, err := NewPublishJob(PublishJobParams{Logger: testLogger(), Publisher: pub})
	if err != nil {
		t.Fatalf("NewPublishJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	pub.result = scheduler.BatchResult{Scanned: 2, Published: 1, Failed: 1}
	pub.err = errors.New("provider down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected batch errors to surface")
	}
	if pub.calls != 2 {
		t.Fatalf("expected two passes, got %d", pub.calls)
	}
}

type fakeHoldLedger struct {
	pages     [][]models.CreditHold
	listCalls int
	finalized []ledger.FinalizeInput
	settled   map[uuid.UUID]bool
}

func (f *fakeHoldLedger) ListStaleHolds(_ context.Context, _ time.Time, after *pagination.Cursor, _ int) ([]models.CreditHold, *pagination.Cursor, error) {
	page := f.listCalls
	f.listCalls++
	if page >= len(f.pages) {
		return nil, nil, nil
	}
	if page > 0 && after == nil {
		return nil, nil, errors.New("expected cursor for later pages")
	}
	holds := f.pages[page]
	if page == len(f.pages)-1 {
		return holds, nil, nil
	}
	last := holds[len(holds)-1]
	return holds, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}

func (f *fakeHoldLedger) Finalize(_ context.Context, input ledger.FinalizeInput) (ledger.FinalizeResult, error) {
	if f.settled[*input.JobID] {
		return ledger.FinalizeResult{AlreadySettled: true}, nil
	}
	f.settled[*input.JobID] = true
	f.finalized = append(f.finalized, input)
	return ledger.FinalizeResult{Held: input.HeldAmount, Refunded: input.HeldAmount}, nil
}

type fakeSettler struct {
	reasons []string
	result  bool
	err     error
}

func (f *fakeSettler) SettleStale(_ context.Context, _ models.CreditHold, reason string) (bool, error) {
	f.reasons = append(f.reasons, reason)
	return f.result, f.err
}

func staleHold(refType enums.CreditReferenceType, amount int64) models.CreditHold {
	return models.CreditHold{
		ID:            uuid.New(),
		WorkspaceID:   uuid.New(),
		ReferenceType: refType,
		ReferenceID:   uuid.New(),
		Amount:        amount,
		Status:        enums.CreditHoldHeld,
		CreatedAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestReconcileJobDispatchesByReference(t *testing.T) {
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	external := staleHold(enums.ReferenceExternal, 9)
	external.CreatedAt = now.Add(-8 * 24 * time.Hour)
	recentExternal := staleHold(enums.ReferenceExternal, 6)
	holdLedger := &fakeHoldLedger{
		pages: [][]models.CreditHold{
			{staleHold(enums.ReferenceJob, 5), staleHold(enums.ReferenceScheduledPost, 3)},
			{staleHold(enums.ReferenceAutomationRun, 4), external, recentExternal},
		},
		settled: map[uuid.UUID]bool{},
	}
	jobs := &fakeSettler{result: true}
	posts := &fakeSettler{result: false}
	runs := &fakeSettler{err: errors.New("db down")}

	job, err := NewReconcileJob(ReconcileJobParams{
		Logger: testLogger(),
		Ledger: holdLedger,
		Settlers: map[enums.CreditReferenceType]StaleSettler{
			enums.ReferenceJob:           jobs,
			enums.ReferenceScheduledPost: posts,
			enums.ReferenceAutomationRun: runs,
		},
		BatchSize: 2,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewReconcileJob: %v", err)
	}

	err = job.Run(context.Background())
	if err == nil {
		t.Fatalf("expected the automation settler failure to surface")
	}
	if len(jobs.reasons) != 1 || len(posts.reasons) != 1 || len(runs.reasons) != 1 {
		t.Fatalf("each settler should be called once, got job=%d post=%d run=%d", len(jobs.reasons), len(posts.reasons), len(runs.reasons))
	}
	if jobs.reasons[0] != staleReason {
		t.Fatalf("unexpected reason %q", jobs.reasons[0])
	}
	if len(holdLedger.finalized) != 1 {
		t.Fatalf("expected only the week-old external hold refunded, got %d", len(holdLedger.finalized))
	}
	input := holdLedger.finalized[0]
	if *input.JobID != external.ReferenceID || input.HeldAmount != 9 || input.ActualAmount != 0 {
		t.Fatalf("unexpected finalize input %+v", input)
	}
}

func TestReconcileJobIsIdempotent(t *testing.T) {
	hold := staleHold(enums.ReferenceExternal, 2)
	holdLedger := &fakeHoldLedger{pages: [][]models.CreditHold{{hold}}, settled: map[uuid.UUID]bool{}}
	job, err := NewReconcileJob(ReconcileJobParams{Logger: testLogger(), Ledger: holdLedger})
	if err != nil {
		t.Fatalf("NewReconcileJob: %v", err)
	}
	for i := 0; i < 2; i++ {
		holdLedger.listCalls = 0
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(holdLedger.finalized) != 1 {
		t.Fatalf("hold should settle once, got %d", len(holdLedger.finalized))
	}
}

type fakeRenewer struct {
	due     []models.Wallet
	renewed map[uuid.UUID]bool
	fail    uuid.UUID
	lists   int
}

func (f *fakeRenewer) ListRenewalDue(_ context.Context, limit int) ([]models.Wallet, error) {
	f.lists++
	var out []models.Wallet
	for _, w := range f.due {
		if f.renewed[w.WorkspaceID] {
			continue
		}
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRenewer) RenewPlan(_ context.Context, wallet models.Wallet) (bool, error) {
	if wallet.WorkspaceID == f.fail {
		return false, errors.New("grant failed")
	}
	f.renewed[wallet.WorkspaceID] = true
	return true, nil
}

func TestPlanRenewalJobWalksAllDueWallets(t *testing.T) {
	renewer := &fakeRenewer{renewed: map[uuid.UUID]bool{}}
	for i := 0; i < 5; i++ {
		renewer.due = append(renewer.due, models.Wallet{WorkspaceID: uuid.New(), PlanCreditsMonthly: 100})
	}
	job, err := NewPlanRenewalJob(PlanRenewalJobParams{Logger: testLogger(), Wallets: renewer, BatchSize: 2})
	if err != nil {
		t.Fatalf("NewPlanRenewalJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(renewer.renewed) != 5 {
		t.Fatalf("expected all wallets renewed, got %d", len(renewer.renewed))
	}
}

func TestPlanRenewalJobStopsOnFailure(t *testing.T) {
	renewer := &fakeRenewer{renewed: map[uuid.UUID]bool{}}
	for i := 0; i < 2; i++ {
		renewer.due = append(renewer.due, models.Wallet{WorkspaceID: uuid.New(), PlanCreditsMonthly: 10})
	}
	renewer.fail = renewer.due[0].WorkspaceID
	job, err := NewPlanRenewalJob(PlanRenewalJobParams{Logger: testLogger(), Wallets: renewer, BatchSize: 2})
	if err != nil {
		t.Fatalf("NewPlanRenewalJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected renewal failure")
	}
	if renewer.lists != 1 {
		t.Fatalf("a failing wallet must not be retried in the same run, listed %d times", renewer.lists)
	}
	if !renewer.renewed[renewer.due[1].WorkspaceID] {
		t.Fatalf("the healthy wallet should still renew")
	}
}

func TestReconcileJobLeavesRecentExternalHolds(t *testing.T) {
	client := dbtest.Client(t)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		DB:     client,
		Repo:   ledger.NewRepository(client.DB()),
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	ctx := context.Background()
	ws, ref := uuid.New(), uuid.New()
	if _, err := ledgerSvc.Grant(ctx, ledger.GrantInput{WorkspaceID: ws, Amount: 10}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if ok, err := ledgerSvc.Hold(ctx, ledger.HoldInput{WorkspaceID: ws, Amount: 4, JobID: &ref, ReferenceType: enums.ReferenceExternal}); err != nil || !ok {
		t.Fatalf("hold: ok=%v err=%v", ok, err)
	}

	clock := time.Now().Add(31 * time.Minute)
	job, err := NewReconcileJob(ReconcileJobParams{
		Logger: testLogger(),
		Ledger: ledgerSvc,
		Now:    func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("NewReconcileJob: %v", err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	// The caller's late finalize still charges.
	result, err := ledgerSvc.Finalize(ctx, ledger.FinalizeInput{WorkspaceID: ws, HeldAmount: 4, ActualAmount: 3, JobID: &ref})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if result.AlreadySettled || result.Charged != 3 {
		t.Fatalf("unexpected finalize %+v", result)
	}
	wallet, err := ledgerSvc.GetWallet(ctx, ws)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if wallet.Balance != 7 || wallet.HeldBalance != 0 {
		t.Fatalf("balance=%d held=%d", wallet.Balance, wallet.HeldBalance)
	}

	// Past the external threshold the sweep refunds an abandoned reservation.
	other := uuid.New()
	if ok, err := ledgerSvc.Hold(ctx, ledger.HoldInput{WorkspaceID: ws, Amount: 2, JobID: &other, ReferenceType: enums.ReferenceExternal}); err != nil || !ok {
		t.Fatalf("hold: ok=%v err=%v", ok, err)
	}
	clock = time.Now().Add(8 * 24 * time.Hour)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	wallet, err = ledgerSvc.GetWallet(ctx, ws)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if wallet.Balance != 7 || wallet.HeldBalance != 0 {
		t.Fatalf("abandoned hold not refunded: balance=%d held=%d", wallet.Balance, wallet.HeldBalance)
	}
}
