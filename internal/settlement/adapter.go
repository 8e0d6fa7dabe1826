package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

// Subject is the entity-neutral view of a transactable that the
// orchestrator settles.
type Subject struct {
	Kind        domain.TransactableKind
	ID          string
	PayerID     string
	PayeeID     string
	GrossAmount decimal.Decimal
	// Status is the entity's own status value; Phase is what it maps to.
	Status  string
	Phase   domain.Phase
	Settled *domain.SettlementFields
	// LinkedID keys the record touched after a successful settlement
	// (the agreement's job id, the deal's product id).
	LinkedID string
}

// Adapter binds one transactable type to the orchestrator.
type Adapter interface {
	Kind() domain.TransactableKind
	Load(ctx context.Context, id string) (*Subject, error)
	// Transition moves the subject from its loaded Status to the status for
	// phase to. It returns false, not an error, when the stored status no
	// longer matches.
	Transition(ctx context.Context, s *Subject, to domain.Phase, fields *domain.SettlementFields) (bool, error)
	// AfterCompleted applies best-effort side effects of a completed
	// settlement to linked records.
	AfterCompleted(ctx context.Context, s *Subject) error
	// ListStuck returns active transactables that already own ledger
	// entries written before cutoff.
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}
