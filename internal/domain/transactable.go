package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactableKind string

const (
	TransactableKindJob         TransactableKind = "job"
	TransactableKindProductDeal TransactableKind = "product_deal"
	TransactableKindToolRental  TransactableKind = "tool_rental"
)

func (k TransactableKind) IsValid() bool {
	switch k {
	case TransactableKindJob, TransactableKindProductDeal, TransactableKindToolRental:
		return true
	default:
		return false
	}
}

// Phase is the settlement-relevant state every entity status collapses to.
type Phase string

const (
	PhaseInactive  Phase = "inactive"
	PhaseActive    Phase = "active"
	PhaseCompleted Phase = "completed"
	PhaseDisputed  Phase = "disputed"
)

func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseDisputed
}

// SettlementFields are populated exactly once, by the completing transition.
type SettlementFields struct {
	PlatformFee decimal.Decimal
	GST         decimal.Decimal
	PayeeAmount decimal.Decimal
}

type JobStatus string

const (
	JobStatusRequested  JobStatus = "requested"
	JobStatusAccepted   JobStatus = "accepted"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusDisputed   JobStatus = "disputed"
	JobStatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Phase() Phase {
	switch s {
	case JobStatusAccepted, JobStatusInProgress:
		return PhaseActive
	case JobStatusCompleted:
		return PhaseCompleted
	case JobStatusDisputed:
		return PhaseDisputed
	default:
		return PhaseInactive
	}
}

// Job is a service booking: a customer pays a worker.
type Job struct {
	ID         string
	CustomerID string
	WorkerID   string
	FinalCost  decimal.Decimal
	Status     JobStatus
	Settlement *SettlementFields
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ProductDealStatus string

const (
	ProductDealStatusReserved         ProductDealStatus = "reserved"
	ProductDealStatusAwaitingShipment ProductDealStatus = "awaiting_shipment"
	ProductDealStatusShipped          ProductDealStatus = "shipped"
	ProductDealStatusCompleted        ProductDealStatus = "completed"
	ProductDealStatusDisputed         ProductDealStatus = "disputed"
	ProductDealStatusCancelled        ProductDealStatus = "cancelled"
)

func (s ProductDealStatus) Phase() Phase {
	switch s {
	case ProductDealStatusReserved, ProductDealStatusAwaitingShipment, ProductDealStatusShipped:
		return PhaseActive
	case ProductDealStatusCompleted:
		return PhaseCompleted
	case ProductDealStatusDisputed:
		return PhaseDisputed
	default:
		return PhaseInactive
	}
}

// ProductDeal is a marketplace sale of a listed product.
type ProductDeal struct {
	ID         string
	ProductID  string
	BuyerID    string
	SellerID   string
	Price      decimal.Decimal
	Status     ProductDealStatus
	Settlement *SettlementFields
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ToolRentalStatus string

const (
	ToolRentalStatusReserved  ToolRentalStatus = "reserved"
	ToolRentalStatusActive    ToolRentalStatus = "active"
	ToolRentalStatusCompleted ToolRentalStatus = "completed"
	ToolRentalStatusDisputed  ToolRentalStatus = "disputed"
	ToolRentalStatusCancelled ToolRentalStatus = "cancelled"
)

func (s ToolRentalStatus) Phase() Phase {
	switch s {
	case ToolRentalStatusReserved, ToolRentalStatusActive:
		return PhaseActive
	case ToolRentalStatusCompleted:
		return PhaseCompleted
	case ToolRentalStatusDisputed:
		return PhaseDisputed
	default:
		return PhaseInactive
	}
}

// ToolRental is a renter hiring a tool from its owner.
type ToolRental struct {
	ID         string
	ToolID     string
	RenterID   string
	OwnerID    string
	TotalCost  decimal.Decimal
	Status     ToolRentalStatus
	Settlement *SettlementFields
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
