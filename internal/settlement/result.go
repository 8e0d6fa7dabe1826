package settlement

import (
	"fmt"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/fee"
	"github.com/josh-kwaku/marketplace-settlement/internal/referral"
)

type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeDisputed         Outcome = "disputed"
)

type Result struct {
	Kind           domain.TransactableKind
	TransactableID string
	Outcome        Outcome
	Split          *fee.Split
	Referral       *referral.Commission
	Fields         *domain.SettlementFields
	// Entries lists the ledger entries this run wrote or found already
	// present, in write order.
	Entries []domain.LedgerEntry
	// Cause is the failure that sent the transactable to disputed.
	Cause error
}

func (r *Result) Succeeded() bool {
	return r.Outcome == OutcomeCompleted || r.Outcome == OutcomeAlreadyCompleted
}

// CompensationError reports a settlement whose compensating dispute write
// also failed. The stored status no longer reflects the ledger.
type CompensationError struct {
	Kind            domain.TransactableKind
	TransactableID  string
	Cause           error
	CompensationErr error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("settlement of %s %s failed (%v) and marking it disputed failed (%v)",
		e.Kind, e.TransactableID, e.Cause, e.CompensationErr)
}

func (e *CompensationError) Unwrap() []error {
	return []error{domain.ErrDoubleCompensationFailure, e.Cause, e.CompensationErr}
}
