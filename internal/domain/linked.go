package domain

import "time"

type AgreementStatus string

const (
	AgreementStatusDraft     AgreementStatus = "draft"
	AgreementStatusActive    AgreementStatus = "active"
	AgreementStatusCompleted AgreementStatus = "completed"
)

// Agreement is the legal agreement generated for a job, keyed by job id.
type Agreement struct {
	JobID       string
	Status      AgreementStatus
	CompletedAt *time.Time
}

// Product is the listing behind a product deal.
type Product struct {
	ID           string
	SellerID     string
	Reserved     bool
	ActiveDealID *string
}
