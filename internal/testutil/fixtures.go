package testutil

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

const (
	PlatformFeeAccountID = "platform-fee-collector"
	TaxAccountID         = "platform-gst-collector"
)

// SeedAccount inserts an account with a random id. referredBy may be empty.
func SeedAccount(t *testing.T, db *sql.DB, referredBy string) *domain.Account {
	t.Helper()

	a := &domain.Account{ID: "acct-" + uuid.NewString()}
	if referredBy != "" {
		a.ReferredBy = &referredBy
	}

	err := db.QueryRow(
		`INSERT INTO accounts (id, referred_by) VALUES ($1, $2) RETURNING created_at`,
		a.ID, a.ReferredBy,
	).Scan(&a.CreatedAt)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func SeedJob(t *testing.T, db *sql.DB, customerID, workerID, finalCost string, status domain.JobStatus) *domain.Job {
	t.Helper()

	j := &domain.Job{
		ID:         "job-" + uuid.NewString(),
		CustomerID: customerID,
		WorkerID:   workerID,
		FinalCost:  decimal.RequireFromString(finalCost),
		Status:     status,
	}
	_, err := db.Exec(
		`INSERT INTO jobs (id, customer_id, worker_id, final_cost, status) VALUES ($1, $2, $3, $4, $5)`,
		j.ID, j.CustomerID, j.WorkerID, j.FinalCost, j.Status,
	)
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return j
}

func SeedAgreement(t *testing.T, db *sql.DB, jobID string, status domain.AgreementStatus) {
	t.Helper()

	_, err := db.Exec(`INSERT INTO agreements (job_id, status) VALUES ($1, $2)`, jobID, status)
	if err != nil {
		t.Fatalf("seed agreement for job %s: %v", jobID, err)
	}
}

// SeedProductDeal inserts a product reserved by a new deal in status.
func SeedProductDeal(t *testing.T, db *sql.DB, buyerID, sellerID, price string, status domain.ProductDealStatus) *domain.ProductDeal {
	t.Helper()

	d := &domain.ProductDeal{
		ID:        "deal-" + uuid.NewString(),
		ProductID: "product-" + uuid.NewString(),
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Price:     decimal.RequireFromString(price),
		Status:    status,
	}

	_, err := db.Exec(
		`INSERT INTO products (id, seller_id, reserved, active_deal_id) VALUES ($1, $2, true, $3)`,
		d.ProductID, d.SellerID, d.ID,
	)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	_, err = db.Exec(
		`INSERT INTO product_deals (id, product_id, buyer_id, seller_id, price, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.ProductID, d.BuyerID, d.SellerID, d.Price, d.Status,
	)
	if err != nil {
		t.Fatalf("seed product deal: %v", err)
	}
	return d
}

func SeedToolRental(t *testing.T, db *sql.DB, renterID, ownerID, totalCost string, status domain.ToolRentalStatus) *domain.ToolRental {
	t.Helper()

	r := &domain.ToolRental{
		ID:        "rental-" + uuid.NewString(),
		ToolID:    "tool-" + uuid.NewString(),
		RenterID:  renterID,
		OwnerID:   ownerID,
		TotalCost: decimal.RequireFromString(totalCost),
		Status:    status,
	}
	_, err := db.Exec(
		`INSERT INTO tool_rentals (id, tool_id, renter_id, owner_id, total_cost, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ToolID, r.RenterID, r.OwnerID, r.TotalCost, r.Status,
	)
	if err != nil {
		t.Fatalf("seed tool rental: %v", err)
	}
	return r
}

// SeedLedgerEntry writes an entry directly, bypassing the repository.
func SeedLedgerEntry(t *testing.T, db *sql.DB, e *domain.LedgerEntry) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO ledger_entries (id, account_id, amount, kind, source_kind, source_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.AccountID, e.Amount, e.Kind, e.SourceKind, e.SourceID, e.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed ledger entry: %v", err)
	}
}

func CountLedgerEntries(t *testing.T, db *sql.DB, kind domain.TransactableKind, sourceID string) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE source_kind = $1 AND source_id = $2`,
		kind, sourceID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for %s %s: %v", kind, sourceID, err)
	}
	return count
}

// GetStatus reads the raw status column of a transactable table.
func GetStatus(t *testing.T, db *sql.DB, table, id string) string {
	t.Helper()

	var status string
	err := db.QueryRow(`SELECT status FROM `+table+` WHERE id = $1`, id).Scan(&status)
	if err != nil {
		t.Fatalf("get status of %s %s: %v", table, id, err)
	}
	return status
}
