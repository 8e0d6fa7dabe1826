package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/fee"
	"github.com/josh-kwaku/marketplace-settlement/internal/referral"
	"github.com/josh-kwaku/marketplace-settlement/internal/settlement"
	"github.com/josh-kwaku/marketplace-settlement/internal/testutil"
)

const (
	feeAccount = "platform-fee-collector"
	taxAccount = "platform-gst-collector"
	testActor  = "account:tester"
)

var errStoreDown = errors.New("connection refused")

type seed struct {
	accounts []*domain.Account
	jobs     []*domain.Job
	deals    []*domain.ProductDeal
	products []*domain.Product
	rentals  []*domain.ToolRental
}

type harness struct {
	orch       *settlement.Orchestrator
	ledger     *testutil.MemLedger
	accounts   *testutil.MemAccounts
	events     *testutil.MemEvents
	jobs       *testutil.MemJobs
	agreements *testutil.MemAgreements
	deals      *testutil.MemProductDeals
	products   *testutil.MemProducts
	rentals    *testutil.MemToolRentals
	adapters   []settlement.Adapter
}

func newHarness(t *testing.T, s seed) *harness {
	t.Helper()
	return newHarnessWithTimeout(t, s, time.Second)
}

func newHarnessWithTimeout(t *testing.T, s seed, storeTimeout time.Duration) *harness {
	t.Helper()

	policy, err := fee.NewPolicy(fee.DefaultRates())
	require.NoError(t, err)

	h := &harness{
		ledger:     testutil.NewMemLedger(),
		accounts:   testutil.NewMemAccounts(s.accounts...),
		events:     &testutil.MemEvents{},
		jobs:       testutil.NewMemJobs(s.jobs...),
		agreements: testutil.NewMemAgreements(),
		deals:      testutil.NewMemProductDeals(s.deals...),
		products:   testutil.NewMemProducts(s.products...),
		rentals:    testutil.NewMemToolRentals(s.rentals...),
	}
	h.adapters = []settlement.Adapter{
		settlement.NewJobAdapter(h.jobs, h.agreements),
		settlement.NewProductDealAdapter(h.deals, h.products),
		settlement.NewToolRentalAdapter(h.rentals),
	}
	h.orch = settlement.NewOrchestrator(
		policy,
		referral.NewResolver(h.accounts, policy),
		h.ledger,
		h.events,
		settlement.PlatformAccounts{FeeAccountID: feeAccount, TaxAccountID: taxAccount},
		storeTimeout,
		h.adapters...,
	)
	return h
}

func ptr(s string) *string { return &s }

func newJob(id, cost string, status domain.JobStatus) *domain.Job {
	return &domain.Job{
		ID:         id,
		CustomerID: "customer-1",
		WorkerID:   "worker-1",
		FinalCost:  decimal.RequireFromString(cost),
		Status:     status,
	}
}

func customers(referredBy *string) []*domain.Account {
	return []*domain.Account{
		{ID: "customer-1", ReferredBy: referredBy},
		{ID: "worker-1"},
		{ID: "referrer-1"},
	}
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func entriesByKind(entries []domain.LedgerEntry) map[domain.EntryKind]domain.LedgerEntry {
	out := make(map[domain.EntryKind]domain.LedgerEntry, len(entries))
	for _, e := range entries {
		out[e.Kind] = e
	}
	return out
}

func TestSettle_JobWithoutReferral(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusInProgress)}})
	h.agreements.Put("job-1", domain.AgreementStatusActive)

	res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeCompleted, res.Outcome)
	assert.True(t, res.Succeeded())
	assert.Nil(t, res.Referral)

	entries := h.ledger.All()
	require.Len(t, entries, 3)
	byKind := entriesByKind(entries)
	assert.Equal(t, "worker-1", byKind[domain.EntryKindPayout].AccountID)
	assertAmount(t, "917.40", byKind[domain.EntryKindPayout].Amount)
	assert.Equal(t, feeAccount, byKind[domain.EntryKindPlatformFee].AccountID)
	assertAmount(t, "70.00", byKind[domain.EntryKindPlatformFee].Amount)
	assert.Equal(t, taxAccount, byKind[domain.EntryKindTax].AccountID)
	assertAmount(t, "12.60", byKind[domain.EntryKindTax].Amount)
	assertAmount(t, "1000.00", domain.SumLedgerEntries(entries))

	job, err := h.jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Settlement)
	assertAmount(t, "82.60", job.Settlement.PlatformFee)
	assertAmount(t, "12.60", job.Settlement.GST)
	assertAmount(t, "917.40", job.Settlement.PayeeAmount)

	assert.Equal(t, domain.AgreementStatusCompleted, h.agreements.Status("job-1"))
	assert.Equal(t, []domain.SettlementEventType{domain.SettlementEventTypeCompleted}, h.events.Types(domain.TransactableKindJob, "job-1"))
}

func TestSettle_JobWithReferral(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(ptr("referrer-1")), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusAccepted)}})

	res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeCompleted, res.Outcome)
	require.NotNil(t, res.Referral)
	assert.Equal(t, "referrer-1", res.Referral.ReferrerID)

	entries := h.ledger.All()
	require.Len(t, entries, 4)
	byKind := entriesByKind(entries)
	assert.Equal(t, "referrer-1", byKind[domain.EntryKindReferralCommission].AccountID)
	assertAmount(t, "0.50", byKind[domain.EntryKindReferralCommission].Amount)
	assertAmount(t, "917.40", byKind[domain.EntryKindPayout].Amount)
	assertAmount(t, "69.50", byKind[domain.EntryKindPlatformFee].Amount)
	assertAmount(t, "1000.00", domain.SumLedgerEntries(entries))

	assertAmount(t, "917.40", res.Fields.PayeeAmount)
	assertAmount(t, "82.60", res.Fields.PlatformFee)
}

func TestSettle_EntriesConserveGross(t *testing.T) {
	amounts := []string{"0.01", "0.99", "12.50", "333.33", "1000.00", "1999.99", "250000.75"}

	for _, amount := range amounts {
		t.Run(amount, func(t *testing.T) {
			h := newHarness(t, seed{accounts: customers(ptr("referrer-1")), jobs: []*domain.Job{newJob("job-1", amount, domain.JobStatusAccepted)}})

			res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

			require.NoError(t, err)
			assert.Equal(t, settlement.OutcomeCompleted, res.Outcome)
			assertAmount(t, amount, domain.SumLedgerEntries(h.ledger.All()))
			for _, e := range h.ledger.All() {
				assert.False(t, e.Amount.IsNegative(), "%s entry is negative", e.Kind)
			}
		})
	}
}

func TestSettle_PreWriteFailures(t *testing.T) {
	tests := []struct {
		name    string
		job     *domain.Job
		kind    domain.TransactableKind
		id      string
		wantErr error
	}{
		{
			name:    "zero gross",
			job:     newJob("job-1", "0", domain.JobStatusInProgress),
			kind:    domain.TransactableKindJob,
			id:      "job-1",
			wantErr: domain.ErrInvalidState,
		},
		{
			name:    "negative gross",
			job:     newJob("job-1", "-5.00", domain.JobStatusInProgress),
			kind:    domain.TransactableKindJob,
			id:      "job-1",
			wantErr: domain.ErrInvalidState,
		},
		{
			name:    "gross rounds to zero",
			job:     newJob("job-1", "0.004", domain.JobStatusInProgress),
			kind:    domain.TransactableKindJob,
			id:      "job-1",
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "missing job",
			job:     newJob("job-1", "10.00", domain.JobStatusInProgress),
			kind:    domain.TransactableKindJob,
			id:      "job-404",
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "requested job",
			job:     newJob("job-1", "10.00", domain.JobStatusRequested),
			kind:    domain.TransactableKindJob,
			id:      "job-1",
			wantErr: domain.ErrInvalidState,
		},
		{
			name:    "cancelled job",
			job:     newJob("job-1", "10.00", domain.JobStatusCancelled),
			kind:    domain.TransactableKindJob,
			id:      "job-1",
			wantErr: domain.ErrInvalidState,
		},
		{
			name:    "disputed job",
			job:     newJob("job-1", "10.00", domain.JobStatusDisputed),
			kind:    domain.TransactableKindJob,
			id:      "job-1",
			wantErr: domain.ErrInvalidState,
		},
		{
			name:    "unknown kind",
			job:     newJob("job-1", "10.00", domain.JobStatusInProgress),
			kind:    domain.TransactableKind("boat_charter"),
			id:      "job-1",
			wantErr: domain.ErrInvalidKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{tt.job}})

			res, err := h.orch.Settle(context.Background(), tt.kind, tt.id, testActor)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Empty(t, h.ledger.All())
			assert.Equal(t, tt.job.Status, h.jobs.Status("job-1"))
		})
	}
}

func TestSettle_LoadAndReferralFailuresLeaveNoTrace(t *testing.T) {
	t.Run("load", func(t *testing.T) {
		h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "10.00", domain.JobStatusInProgress)}})
		h.jobs.Fail("get", errStoreDown)

		_, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.ErrorIs(t, err, errStoreDown)
		assert.Empty(t, h.ledger.All())
	})

	t.Run("referral lookup", func(t *testing.T) {
		h := newHarness(t, seed{accounts: customers(ptr("referrer-1")), jobs: []*domain.Job{newJob("job-1", "10.00", domain.JobStatusInProgress)}})
		h.accounts.Fail("get", errStoreDown)

		_, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.Empty(t, h.ledger.All())
		assert.Equal(t, domain.JobStatusInProgress, h.jobs.Status("job-1"))
	})
}

func TestSettle_ReferralWriteFails(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(ptr("referrer-1")), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusInProgress)}})
	h.ledger.Fail("append:referral_commission", errStoreDown)

	res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeDisputed, res.Outcome)
	assert.False(t, res.Succeeded())
	assert.ErrorIs(t, res.Cause, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, res.Cause, errStoreDown)

	entries := h.ledger.All()
	require.Len(t, entries, 3)
	byKind := entriesByKind(entries)
	assert.Contains(t, byKind, domain.EntryKindPayout)
	assert.Contains(t, byKind, domain.EntryKindPlatformFee)
	assert.Contains(t, byKind, domain.EntryKindTax)

	assert.Equal(t, domain.JobStatusDisputed, h.jobs.Status("job-1"))
	assert.Equal(t, []domain.SettlementEventType{domain.SettlementEventTypeDisputed}, h.events.Types(domain.TransactableKindJob, "job-1"))
}

func TestSettle_SecondWriteFails(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusInProgress)}})
	h.agreements.Put("job-1", domain.AgreementStatusActive)
	h.ledger.Fail("append:platform_fee", errStoreDown)
	h.jobs.Before("cas:completed", func() { t.Error("completed transition attempted after a failed write") })

	res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeDisputed, res.Outcome)

	entries := h.ledger.All()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryKindPayout, entries[0].Kind)
	require.Len(t, res.Entries, 1)

	job, err := h.jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDisputed, job.Status)
	assert.Nil(t, job.Settlement)
	assert.Equal(t, domain.AgreementStatusActive, h.agreements.Status("job-1"))
}

func TestSettle_CompletionWriteFails(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusInProgress)}})
	h.jobs.Fail("cas:completed", errStoreDown)

	res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeDisputed, res.Outcome)
	assert.Len(t, h.ledger.All(), 3)
	assert.Equal(t, domain.JobStatusDisputed, h.jobs.Status("job-1"))
}

func TestSettle_CompletionCommitsThenErrors(t *testing.T) {
	t.Run("job", func(t *testing.T) {
		h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusInProgress)}})
		h.agreements.Put("job-1", domain.AgreementStatusActive)
		h.jobs.FailAfterWrite("cas:completed", context.DeadlineExceeded)

		res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

		require.NoError(t, err)
		assert.Equal(t, settlement.OutcomeAlreadyCompleted, res.Outcome)
		assert.True(t, res.Succeeded())
		assert.NoError(t, res.Cause)
		require.NotNil(t, res.Fields)
		assertAmount(t, "917.40", res.Fields.PayeeAmount)

		assert.Equal(t, domain.JobStatusCompleted, h.jobs.Status("job-1"))
		assert.Equal(t, domain.AgreementStatusCompleted, h.agreements.Status("job-1"))
		assert.Equal(t, []domain.SettlementEventType{domain.SettlementEventTypeCompleted}, h.events.Types(domain.TransactableKindJob, "job-1"))
		assert.Len(t, h.ledger.All(), 3)
	})

	t.Run("product deal", func(t *testing.T) {
		deal := &domain.ProductDeal{
			ID:        "deal-1",
			ProductID: "product-1",
			BuyerID:   "buyer-1",
			SellerID:  "seller-1",
			Price:     decimal.RequireFromString("250.00"),
			Status:    domain.ProductDealStatusShipped,
		}
		product := &domain.Product{ID: "product-1", SellerID: "seller-1", Reserved: true, ActiveDealID: ptr("deal-1")}
		accounts := []*domain.Account{{ID: "buyer-1"}, {ID: "seller-1"}}
		h := newHarness(t, seed{accounts: accounts, deals: []*domain.ProductDeal{deal}, products: []*domain.Product{product}})
		h.deals.FailAfterWrite("cas:completed", context.DeadlineExceeded)

		res, err := h.orch.Settle(context.Background(), domain.TransactableKindProductDeal, "deal-1", testActor)

		require.NoError(t, err)
		assert.Equal(t, settlement.OutcomeAlreadyCompleted, res.Outcome)
		assert.Equal(t, domain.ProductDealStatusCompleted, h.deals.Status("deal-1"))
		assert.False(t, h.products.Get("product-1").Reserved)
		assert.Nil(t, h.products.Get("product-1").ActiveDealID)
		assert.Equal(t, []domain.SettlementEventType{domain.SettlementEventTypeCompleted}, h.events.Types(domain.TransactableKindProductDeal, "deal-1"))
	})
}

func TestSettle_RetryOfCompletedRepairsLinkedRecords(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusInProgress)}})
	h.agreements.Put("job-1", domain.AgreementStatusActive)
	h.agreements.Fail("complete", errStoreDown)
	h.events.Fail("create", errStoreDown)
	ctx := context.Background()

	first, err := h.orch.Settle(ctx, domain.TransactableKindJob, "job-1", testActor)
	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeCompleted, first.Outcome)
	assert.Equal(t, domain.AgreementStatusActive, h.agreements.Status("job-1"))
	assert.Empty(t, h.events.Types(domain.TransactableKindJob, "job-1"))

	h.agreements.Reset()
	h.events.Reset()

	second, err := h.orch.Settle(ctx, domain.TransactableKindJob, "job-1", testActor)
	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeAlreadyCompleted, second.Outcome)
	assert.Equal(t, domain.AgreementStatusCompleted, h.agreements.Status("job-1"))
	assert.Equal(t, []domain.SettlementEventType{domain.SettlementEventTypeCompleted}, h.events.Types(domain.TransactableKindJob, "job-1"))
	assert.Len(t, h.ledger.All(), 3)
}

func TestSettle_CompensationFails(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusInProgress)}})
	h.ledger.Fail("append:tax", errStoreDown)
	compensationErr := errors.New("deal store offline")
	h.jobs.Fail("cas:disputed", compensationErr)

	res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDoubleCompensationFailure)
	assert.ErrorIs(t, err, errStoreDown)
	assert.ErrorIs(t, err, compensationErr)

	var compErr *settlement.CompensationError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, domain.TransactableKindJob, compErr.Kind)
	assert.Equal(t, "job-1", compErr.TransactableID)

	require.NotNil(t, res)
	assert.Equal(t, settlement.OutcomeDisputed, res.Outcome)
	assert.Len(t, h.ledger.All(), 2)
	assert.Equal(t, domain.JobStatusInProgress, h.jobs.Status("job-1"))
	assert.Equal(t, []domain.SettlementEventType{domain.SettlementEventTypeCompensationFailed}, h.events.Types(domain.TransactableKindJob, "job-1"))

	t.Run("retry completes without duplicating entries", func(t *testing.T) {
		h.ledger.Reset()
		h.jobs.Reset()

		res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

		require.NoError(t, err)
		assert.Equal(t, settlement.OutcomeCompleted, res.Outcome)
		assert.Len(t, res.Entries, 3)

		entries := h.ledger.All()
		assert.Len(t, entries, 3)
		assertAmount(t, "1000.00", domain.SumLedgerEntries(entries))
		assert.Equal(t, domain.JobStatusCompleted, h.jobs.Status("job-1"))
	})
}

func TestSettle_ExistingEntryWithDifferentAmount(t *testing.T) {
	tests := []struct {
		name  string
		entry *domain.LedgerEntry
	}{
		{
			name: "amount",
			entry: domain.NewLedgerEntry(domain.TransactableKindJob, "job-1", feeAccount,
				domain.EntryKindPlatformFee, decimal.RequireFromString("60.00"), time.Now().UTC()),
		},
		{
			name: "account",
			entry: domain.NewLedgerEntry(domain.TransactableKindJob, "job-1", "worker-2",
				domain.EntryKindPayout, decimal.RequireFromString("917.40"), time.Now().UTC()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusInProgress)}})
			h.agreements.Put("job-1", domain.AgreementStatusActive)
			h.ledger.Seed(tt.entry)

			res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

			require.NoError(t, err)
			assert.Equal(t, settlement.OutcomeDisputed, res.Outcome)
			assert.ErrorIs(t, res.Cause, domain.ErrLedgerConflict)
			assert.Equal(t, domain.JobStatusDisputed, h.jobs.Status("job-1"))
			assert.Equal(t, domain.AgreementStatusActive, h.agreements.Status("job-1"))

			stored := entriesByKind(h.ledger.All())[tt.entry.Kind]
			assert.Equal(t, tt.entry.AccountID, stored.AccountID)
			assert.True(t, tt.entry.Amount.Equal(stored.Amount), "recorded entry must not be overwritten")
		})
	}
}

func TestSettle_IdempotentRetry(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(ptr("referrer-1")), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusInProgress)}})
	ctx := context.Background()

	first, err := h.orch.Settle(ctx, domain.TransactableKindJob, "job-1", testActor)
	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeCompleted, first.Outcome)

	second, err := h.orch.Settle(ctx, domain.TransactableKindJob, "job-1", testActor)
	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeAlreadyCompleted, second.Outcome)
	assert.True(t, second.Succeeded())
	require.NotNil(t, second.Fields)
	assertAmount(t, "917.40", second.Fields.PayeeAmount)

	assert.Len(t, h.ledger.All(), 4)
	assert.Len(t, h.events.Types(domain.TransactableKindJob, "job-1"), 1)
}

func TestSettle_ConcurrentRuns(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(ptr("referrer-1")), jobs: []*domain.Job{newJob("job-1", "1000.00", domain.JobStatusInProgress)}})
	ctx := context.Background()

	const runs = 8
	var wg sync.WaitGroup
	results := make(chan *settlement.Result, runs)

	for range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.Settle(ctx, domain.TransactableKindJob, "job-1", testActor)
			assert.NoError(t, err)
			results <- res
		}()
	}

	wg.Wait()
	close(results)

	var completed, already int
	for res := range results {
		require.NotNil(t, res)
		switch res.Outcome {
		case settlement.OutcomeCompleted:
			completed++
		case settlement.OutcomeAlreadyCompleted:
			already++
		default:
			t.Errorf("unexpected outcome %s", res.Outcome)
		}
	}

	assert.Equal(t, 1, completed, "exactly one run should complete the job")
	assert.Equal(t, runs-1, already)

	entries := h.ledger.All()
	assert.Len(t, entries, 4, "concurrent runs must not duplicate ledger entries")
	assertAmount(t, "1000.00", domain.SumLedgerEntries(entries))
}

func TestSettle_LostRace(t *testing.T) {
	t.Run("to a completing run", func(t *testing.T) {
		h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "100.00", domain.JobStatusInProgress)}})
		h.jobs.Before("cas:completed", func() { h.jobs.SetStatus("job-1", domain.JobStatusCompleted) })

		res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

		require.NoError(t, err)
		assert.Equal(t, settlement.OutcomeAlreadyCompleted, res.Outcome)
		assert.Equal(t, domain.JobStatusCompleted, h.jobs.Status("job-1"))
	})

	t.Run("to a dispute", func(t *testing.T) {
		h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "100.00", domain.JobStatusInProgress)}})
		h.jobs.Before("cas:completed", func() { h.jobs.SetStatus("job-1", domain.JobStatusDisputed) })

		res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

		require.NoError(t, err)
		assert.Equal(t, settlement.OutcomeDisputed, res.Outcome)
		assert.ErrorIs(t, res.Cause, domain.ErrInvalidState)
		assert.Equal(t, domain.JobStatusDisputed, h.jobs.Status("job-1"))
	})

	t.Run("to a cancellation", func(t *testing.T) {
		h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "100.00", domain.JobStatusInProgress)}})
		h.jobs.Before("cas:completed", func() { h.jobs.SetStatus("job-1", domain.JobStatusCancelled) })

		_, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

		assert.ErrorIs(t, err, domain.ErrDoubleCompensationFailure)
		assert.Equal(t, domain.JobStatusCancelled, h.jobs.Status("job-1"))
	})
}

func TestSettle_StoreTimeoutEntersCompensation(t *testing.T) {
	h := newHarnessWithTimeout(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "100.00", domain.JobStatusInProgress)}}, 20*time.Millisecond)
	h.ledger.Stall("append:platform_fee")

	res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeDisputed, res.Outcome)
	assert.ErrorIs(t, res.Cause, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, res.Cause, context.DeadlineExceeded)
	assert.Len(t, h.ledger.All(), 1)
	assert.Equal(t, domain.JobStatusDisputed, h.jobs.Status("job-1"))
}

func TestSettle_CallerCancellationDoesNotStrandWrites(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "100.00", domain.JobStatusInProgress)}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.ledger.Before("append:tax", cancel)

	res, err := h.orch.Settle(ctx, domain.TransactableKindJob, "job-1", testActor)

	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeCompleted, res.Outcome)
	assert.Equal(t, domain.JobStatusCompleted, h.jobs.Status("job-1"))
}

func TestSettle_BestEffortSideEffects(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "100.00", domain.JobStatusInProgress)}})
	h.agreements.Put("job-1", domain.AgreementStatusActive)
	h.agreements.Fail("complete", errStoreDown)
	h.events.Fail("create", errStoreDown)

	res, err := h.orch.Settle(context.Background(), domain.TransactableKindJob, "job-1", testActor)

	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeCompleted, res.Outcome)
	assert.Equal(t, domain.JobStatusCompleted, h.jobs.Status("job-1"))
	assert.Equal(t, domain.AgreementStatusActive, h.agreements.Status("job-1"))
	assert.Empty(t, h.events.Types(domain.TransactableKindJob, "job-1"))
}

func TestSettle_ProductDeal(t *testing.T) {
	newDeal := func() *domain.ProductDeal {
		return &domain.ProductDeal{
			ID:        "deal-1",
			ProductID: "product-1",
			BuyerID:   "buyer-1",
			SellerID:  "seller-1",
			Price:     decimal.RequireFromString("250.00"),
			Status:    domain.ProductDealStatusShipped,
		}
	}
	newProduct := func() *domain.Product {
		return &domain.Product{ID: "product-1", SellerID: "seller-1", Reserved: true, ActiveDealID: ptr("deal-1")}
	}
	accounts := []*domain.Account{
		{ID: "buyer-1", ReferredBy: ptr("referrer-1")},
		{ID: "seller-1", ReferredBy: ptr("seller-referrer")},
	}

	t.Run("completed deal releases the product", func(t *testing.T) {
		h := newHarness(t, seed{accounts: accounts, deals: []*domain.ProductDeal{newDeal()}, products: []*domain.Product{newProduct()}})

		res, err := h.orch.Settle(context.Background(), domain.TransactableKindProductDeal, "deal-1", testActor)

		require.NoError(t, err)
		assert.Equal(t, settlement.OutcomeCompleted, res.Outcome)
		assert.Equal(t, domain.ProductDealStatusCompleted, h.deals.Status("deal-1"))

		byKind := entriesByKind(h.ledger.All())
		assert.Equal(t, "seller-1", byKind[domain.EntryKindPayout].AccountID)
		assert.Equal(t, "referrer-1", byKind[domain.EntryKindReferralCommission].AccountID, "commission follows the buyer's referrer")
		assertAmount(t, "0.13", byKind[domain.EntryKindReferralCommission].Amount)

		product := h.products.Get("product-1")
		assert.False(t, product.Reserved)
		assert.Nil(t, product.ActiveDealID)
	})

	t.Run("disputed deal keeps the reservation", func(t *testing.T) {
		h := newHarness(t, seed{accounts: accounts, deals: []*domain.ProductDeal{newDeal()}, products: []*domain.Product{newProduct()}})
		h.ledger.Fail("append:tax", errStoreDown)

		res, err := h.orch.Settle(context.Background(), domain.TransactableKindProductDeal, "deal-1", testActor)

		require.NoError(t, err)
		assert.Equal(t, settlement.OutcomeDisputed, res.Outcome)
		assert.Equal(t, domain.ProductDealStatusDisputed, h.deals.Status("deal-1"))

		product := h.products.Get("product-1")
		assert.True(t, product.Reserved)
		require.NotNil(t, product.ActiveDealID)
		assert.Equal(t, "deal-1", *product.ActiveDealID)
	})
}

func TestSettle_ToolRental(t *testing.T) {
	rental := &domain.ToolRental{
		ID:        "rental-1",
		ToolID:    "tool-1",
		RenterID:  "renter-1",
		OwnerID:   "owner-1",
		TotalCost: decimal.RequireFromString("80.00"),
		Status:    domain.ToolRentalStatusActive,
	}
	accounts := []*domain.Account{{ID: "renter-1", ReferredBy: ptr("referrer-1")}, {ID: "owner-1"}}
	h := newHarness(t, seed{accounts: accounts, rentals: []*domain.ToolRental{rental}})

	res, err := h.orch.Settle(context.Background(), domain.TransactableKindToolRental, "rental-1", testActor)

	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeCompleted, res.Outcome)
	assert.Equal(t, domain.ToolRentalStatusCompleted, h.rentals.Status("rental-1"))

	byKind := entriesByKind(h.ledger.All())
	assert.Equal(t, "owner-1", byKind[domain.EntryKindPayout].AccountID)
	assertAmount(t, "73.39", byKind[domain.EntryKindPayout].Amount)
	assertAmount(t, "0.04", byKind[domain.EntryKindReferralCommission].Amount)
	assertAmount(t, "80.00", domain.SumLedgerEntries(h.ledger.All()))
}

func TestDispute(t *testing.T) {
	tests := []struct {
		name       string
		status     domain.JobStatus
		wantErr    error
		wantStatus domain.JobStatus
		wantEvents int
	}{
		{name: "active job", status: domain.JobStatusInProgress, wantStatus: domain.JobStatusDisputed, wantEvents: 1},
		{name: "already disputed", status: domain.JobStatusDisputed, wantStatus: domain.JobStatusDisputed},
		{name: "completed job", status: domain.JobStatusCompleted, wantErr: domain.ErrInvalidState, wantStatus: domain.JobStatusCompleted},
		{name: "cancelled job", status: domain.JobStatusCancelled, wantErr: domain.ErrInvalidState, wantStatus: domain.JobStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "10.00", tt.status)}})

			res, err := h.orch.Dispute(context.Background(), domain.TransactableKindJob, "job-1", testActor, "item never arrived")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, settlement.OutcomeDisputed, res.Outcome)
			}
			assert.Equal(t, tt.wantStatus, h.jobs.Status("job-1"))
			assert.Len(t, h.events.Types(domain.TransactableKindJob, "job-1"), tt.wantEvents)
			assert.Empty(t, h.ledger.All())
		})
	}
}

func TestSettle_NoBackwardTransition(t *testing.T) {
	h := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-1", "10.00", domain.JobStatusInProgress)}})
	ctx := context.Background()

	_, err := h.orch.Settle(ctx, domain.TransactableKindJob, "job-1", testActor)
	require.NoError(t, err)

	_, err = h.orch.Dispute(ctx, domain.TransactableKindJob, "job-1", testActor, "late complaint")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.JobStatusCompleted, h.jobs.Status("job-1"))

	h2 := newHarness(t, seed{accounts: customers(nil), jobs: []*domain.Job{newJob("job-2", "10.00", domain.JobStatusInProgress)}})
	_, err = h2.orch.Dispute(ctx, domain.TransactableKindJob, "job-2", testActor, "no show")
	require.NoError(t, err)

	_, err = h2.orch.Settle(ctx, domain.TransactableKindJob, "job-2", testActor)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.JobStatusDisputed, h2.jobs.Status("job-2"))
	assert.Empty(t, h2.ledger.All())
}
