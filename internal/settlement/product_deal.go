package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/logging"
)

type productDealRepo interface {
	GetByID(ctx context.Context, id string) (*domain.ProductDeal, error)
	CompareAndSetStatus(ctx context.Context, id string, expected, next domain.ProductDealStatus, fields *domain.SettlementFields) (bool, error)
	ListStuck(ctx context.Context, statuses []domain.ProductDealStatus, cutoff time.Time, limit int) ([]string, error)
}

type productRepo interface {
	ClearReservation(ctx context.Context, productID, dealID string) (bool, error)
}

var productDealActiveStatuses = []domain.ProductDealStatus{
	domain.ProductDealStatusReserved,
	domain.ProductDealStatusAwaitingShipment,
	domain.ProductDealStatusShipped,
}

// ProductDealAdapter settles product sales: the buyer pays the seller, and
// the product's reservation is released once the deal completes.
type ProductDealAdapter struct {
	deals    productDealRepo
	products productRepo
}

func NewProductDealAdapter(deals productDealRepo, products productRepo) *ProductDealAdapter {
	return &ProductDealAdapter{deals: deals, products: products}
}

func (a *ProductDealAdapter) Kind() domain.TransactableKind {
	return domain.TransactableKindProductDeal
}

func (a *ProductDealAdapter) Load(ctx context.Context, id string) (*Subject, error) {
	d, err := a.deals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ProductDealAdapter.Load: %w", err)
	}
	return &Subject{
		Kind:        domain.TransactableKindProductDeal,
		ID:          d.ID,
		PayerID:     d.BuyerID,
		PayeeID:     d.SellerID,
		GrossAmount: d.Price,
		Status:      string(d.Status),
		Phase:       d.Status.Phase(),
		Settled:     d.Settlement,
		LinkedID:    d.ProductID,
	}, nil
}

func (a *ProductDealAdapter) Transition(ctx context.Context, s *Subject, to domain.Phase, fields *domain.SettlementFields) (bool, error) {
	var next domain.ProductDealStatus
	switch to {
	case domain.PhaseCompleted:
		next = domain.ProductDealStatusCompleted
	case domain.PhaseDisputed:
		next = domain.ProductDealStatusDisputed
	default:
		return false, fmt.Errorf("ProductDealAdapter.Transition: to %s: %w", to, domain.ErrInvalidState)
	}

	ok, err := a.deals.CompareAndSetStatus(ctx, s.ID, domain.ProductDealStatus(s.Status), next, fields)
	if err != nil {
		return false, fmt.Errorf("ProductDealAdapter.Transition: %w", err)
	}
	return ok, nil
}

// AfterCompleted clears the product's reservation when this deal holds it.
// A disputed deal keeps its reservation.
func (a *ProductDealAdapter) AfterCompleted(ctx context.Context, s *Subject) error {
	cleared, err := a.products.ClearReservation(ctx, s.LinkedID, s.ID)
	if err != nil {
		return fmt.Errorf("ProductDealAdapter.AfterCompleted: %w", err)
	}
	if !cleared {
		logging.FromContext(ctx).Debug("product not reserved by this deal", "product_id", s.LinkedID)
	}
	return nil
}

func (a *ProductDealAdapter) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ids, err := a.deals.ListStuck(ctx, productDealActiveStatuses, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("ProductDealAdapter.ListStuck: %w", err)
	}
	return ids, nil
}
