package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

type toolRentalRepo interface {
	GetByID(ctx context.Context, id string) (*domain.ToolRental, error)
	CompareAndSetStatus(ctx context.Context, id string, expected, next domain.ToolRentalStatus, fields *domain.SettlementFields) (bool, error)
	ListStuck(ctx context.Context, statuses []domain.ToolRentalStatus, cutoff time.Time, limit int) ([]string, error)
}

var toolRentalActiveStatuses = []domain.ToolRentalStatus{domain.ToolRentalStatusReserved, domain.ToolRentalStatusActive}

// ToolRentalAdapter settles tool hires: the renter pays the owner. Rentals
// have no linked records.
type ToolRentalAdapter struct {
	rentals toolRentalRepo
}

func NewToolRentalAdapter(rentals toolRentalRepo) *ToolRentalAdapter {
	return &ToolRentalAdapter{rentals: rentals}
}

func (a *ToolRentalAdapter) Kind() domain.TransactableKind {
	return domain.TransactableKindToolRental
}

func (a *ToolRentalAdapter) Load(ctx context.Context, id string) (*Subject, error) {
	r, err := a.rentals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ToolRentalAdapter.Load: %w", err)
	}
	return &Subject{
		Kind:        domain.TransactableKindToolRental,
		ID:          r.ID,
		PayerID:     r.RenterID,
		PayeeID:     r.OwnerID,
		GrossAmount: r.TotalCost,
		Status:      string(r.Status),
		Phase:       r.Status.Phase(),
		Settled:     r.Settlement,
		LinkedID:    r.ToolID,
	}, nil
}

func (a *ToolRentalAdapter) Transition(ctx context.Context, s *Subject, to domain.Phase, fields *domain.SettlementFields) (bool, error) {
	var next domain.ToolRentalStatus
	switch to {
	case domain.PhaseCompleted:
		next = domain.ToolRentalStatusCompleted
	case domain.PhaseDisputed:
		next = domain.ToolRentalStatusDisputed
	default:
		return false, fmt.Errorf("ToolRentalAdapter.Transition: to %s: %w", to, domain.ErrInvalidState)
	}

	ok, err := a.rentals.CompareAndSetStatus(ctx, s.ID, domain.ToolRentalStatus(s.Status), next, fields)
	if err != nil {
		return false, fmt.Errorf("ToolRentalAdapter.Transition: %w", err)
	}
	return ok, nil
}

func (a *ToolRentalAdapter) AfterCompleted(context.Context, *Subject) error {
	return nil
}

func (a *ToolRentalAdapter) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ids, err := a.rentals.ListStuck(ctx, toolRentalActiveStatuses, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("ToolRentalAdapter.ListStuck: %w", err)
	}
	return ids, nil
}
