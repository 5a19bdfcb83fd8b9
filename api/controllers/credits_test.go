package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
)

type testCreditsService struct {
	holdFn     func(ctx context.Context, input ledger.HoldInput) (bool, error)
	finalizeFn func(ctx context.Context, input ledger.FinalizeInput) (ledger.FinalizeResult, error)
	grantFn    func(ctx context.Context, input ledger.GrantInput) (*models.LedgerEntry, error)
	walletFn   func(ctx context.Context, workspaceID uuid.UUID) (*models.Wallet, error)
	entriesFn  func(ctx context.Context, params ledger.EntryListParams) (*ledger.EntryListResult, error)
}

func (s *testCreditsService) Hold(ctx context.Context, input ledger.HoldInput) (bool, error) {
	return s.holdFn(ctx, input)
}

func (s *testCreditsService) Finalize(ctx context.Context, input ledger.FinalizeInput) (ledger.FinalizeResult, error) {
	return s.finalizeFn(ctx, input)
}

func (s *testCreditsService) Grant(ctx context.Context, input ledger.GrantInput) (*models.LedgerEntry, error) {
	return s.grantFn(ctx, input)
}

func (s *testCreditsService) GetWallet(ctx context.Context, workspaceID uuid.UUID) (*models.Wallet, error) {
	return s.walletFn(ctx, workspaceID)
}

func (s *testCreditsService) ListEntries(ctx context.Context, params ledger.EntryListParams) (*ledger.EntryListResult, error) {
	return s.entriesFn(ctx, params)
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error.Code
}

func TestHoldCreditsReportsHeldFlag(t *testing.T) {
	workspaceID := uuid.New()
	jobID := uuid.New()
	var got ledger.HoldInput
	svc := &testCreditsService{
		holdFn: func(ctx context.Context, input ledger.HoldInput) (bool, error) {
			got = input
			return input.Amount <= 10, nil
		},
	}

	for _, tc := range []struct {
		amount int64
		held   bool
	}{{5, true}, {50, false}} {
		body := `{"amount":` + strconv.FormatInt(tc.amount, 10) + `,"job_id":"` + jobID.String() + `","reference_type":"job"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/hold", strings.NewReader(body))
		req = withActor(req, workspaceID, uuid.New())
		resp := httptest.NewRecorder()
		HoldCredits(svc, testLogger())(resp, req)

		if resp.Code != http.StatusOK {
			t.Fatalf("amount %d: unexpected status %d", tc.amount, resp.Code)
		}
		var envelope struct {
			Data map[string]bool `json:"data"`
		}
		if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if envelope.Data["held"] != tc.held {
			t.Fatalf("amount %d: expected held=%v", tc.amount, tc.held)
		}
	}
	if got.WorkspaceID != workspaceID || got.JobID == nil || *got.JobID != jobID || got.ReferenceType != enums.ReferenceJob {
		t.Fatalf("unexpected hold input %+v", got)
	}
}

func TestHoldCreditsRejectsInvalidBody(t *testing.T) {
	svc := &testCreditsService{
		holdFn: func(ctx context.Context, input ledger.HoldInput) (bool, error) {
			t.Fatal("service must not be called")
			return false, nil
		},
	}
	for _, body := range []string{
		`{"amount":0}`,
		`{"amount":-3}`,
		`{"amount":3,"job_id":"nope"}`,
		`{"amount":3,"reference_type":"order"}`,
		`{"amount":3,"extra":true}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/hold", strings.NewReader(body))
		req = withActor(req, uuid.New(), uuid.New())
		resp := httptest.NewRecorder()
		HoldCredits(svc, testLogger())(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", body, resp.Code)
		}
	}
}

func TestFinalizeCreditsReturnsSettlement(t *testing.T) {
	workspaceID := uuid.New()
	svc := &testCreditsService{
		finalizeFn: func(ctx context.Context, input ledger.FinalizeInput) (ledger.FinalizeResult, error) {
			if input.WorkspaceID != workspaceID || input.HeldAmount != 10 || input.ActualAmount != 3 {
				t.Fatalf("unexpected input %+v", input)
			}
			return ledger.FinalizeResult{Held: 10, Charged: 3, Refunded: 7}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/finalize", strings.NewReader(`{"held_amount":10,"actual_amount":3}`))
	req = withActor(req, workspaceID, uuid.New())
	resp := httptest.NewRecorder()
	FinalizeCredits(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var envelope struct {
		Data finalizeCreditsResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Refunded != 7 || envelope.Data.Charged != 3 || envelope.Data.AlreadySettled {
		t.Fatalf("unexpected settlement %+v", envelope.Data)
	}
}

func TestAddCreditsGrantsToCallerWorkspace(t *testing.T) {
	workspaceID := uuid.New()
	svc := &testCreditsService{
		grantFn: func(ctx context.Context, input ledger.GrantInput) (*models.LedgerEntry, error) {
			if input.WorkspaceID != workspaceID || input.Amount != 100 || input.Kind != enums.LedgerGrant {
				t.Fatalf("unexpected grant %+v", input)
			}
			return &models.LedgerEntry{WorkspaceID: workspaceID, Amount: 100, BalanceAfter: 100, TransactionType: enums.LedgerGrant}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/add", strings.NewReader(`{"amount":100,"description":" promo "}`))
	req = withActor(req, workspaceID, uuid.New())
	resp := httptest.NewRecorder()
	AddCredits(svc, testLogger())(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
}

func TestGetWalletMapsNotFound(t *testing.T) {
	svc := &testCreditsService{
		walletFn: func(ctx context.Context, workspaceID uuid.UUID) (*models.Wallet, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req = withActor(req, uuid.New(), uuid.New())
	resp := httptest.NewRecorder()
	GetWallet(svc, testLogger())(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestGetWalletHidesStripeIdentifiers(t *testing.T) {
	customer := "cus_secret"
	svc := &testCreditsService{
		walletFn: func(ctx context.Context, workspaceID uuid.UUID) (*models.Wallet, error) {
			return &models.Wallet{WorkspaceID: workspaceID, Balance: 7, HeldBalance: 3, StripeCustomerID: &customer}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req = withActor(req, uuid.New(), uuid.New())
	resp := httptest.NewRecorder()
	GetWallet(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), customer) {
		t.Fatalf("stripe customer leaked: %s", resp.Body.String())
	}
	var envelope struct {
		Data struct {
			Balance     int64 `json:"balance"`
			HeldBalance int64 `json:"held_balance"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Balance != 7 || envelope.Data.HeldBalance != 3 {
		t.Fatalf("unexpected wallet %+v", envelope.Data)
	}
}

func TestListLedgerEntriesValidatesQuery(t *testing.T) {
	workspaceID := uuid.New()
	jobID := uuid.New()
	svc := &testCreditsService{
		entriesFn: func(ctx context.Context, params ledger.EntryListParams) (*ledger.EntryListResult, error) {
			if params.WorkspaceID != workspaceID || params.Limit != 5 || params.JobID == nil || *params.JobID != jobID {
				t.Fatalf("unexpected params %+v", params)
			}
			return &ledger.EntryListResult{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet/ledger?limit=5&job_id="+jobID.String(), nil)
	req = withActor(req, workspaceID, uuid.New())
	resp := httptest.NewRecorder()
	ListLedgerEntries(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/wallet/ledger?limit=500", nil)
	req = withActor(req, workspaceID, uuid.New())
	resp = httptest.NewRecorder()
	ListLedgerEntries(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp.Body.Bytes()); code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code %s", code)
	}
}
