package domain

import "errors"

var (
	ErrNotFound                  = errors.New("not found")
	ErrInvalidAmount             = errors.New("amount must be greater than zero")
	ErrInvalidState              = errors.New("transactable is not in a settleable state")
	ErrStoreUnavailable          = errors.New("store unavailable")
	ErrDoubleCompensationFailure = errors.New("compensating dispute write failed")
	ErrInvalidKind               = errors.New("unknown transactable kind")
	ErrLedgerConflict            = errors.New("ledger entry differs from the one already recorded")
)
