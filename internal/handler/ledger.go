package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/auth"
	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/logging"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type ledgerReader interface {
	GetBySource(ctx context.Context, kind domain.TransactableKind, sourceID string) ([]domain.LedgerEntry, error)
	GetByAccountID(ctx context.Context, accountID string, limit, offset int) ([]domain.LedgerEntry, int, error)
}

type LedgerHandler struct {
	ledger ledgerReader
}

func NewLedgerHandler(ledger ledgerReader) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

type ledgerEntryDTO struct {
	ID         uuid.UUID       `json:"id"`
	AccountID  string          `json:"account_id"`
	Amount     decimal.Decimal `json:"amount"`
	Kind       string          `json:"kind"`
	SourceKind string          `json:"source_kind"`
	SourceID   string          `json:"source_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toLedgerEntryDTOs(entries []domain.LedgerEntry) []ledgerEntryDTO {
	out := make([]ledgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryDTO{
			ID:         e.ID,
			AccountID:  e.AccountID,
			Amount:     e.Amount,
			Kind:       string(e.Kind),
			SourceKind: string(e.SourceKind),
			SourceID:   e.SourceID,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

type sourceLedgerDTO struct {
	Entries []ledgerEntryDTO `json:"entries"`
	Total   decimal.Decimal  `json:"total"`
}

type accountLedgerDTO struct {
	Entries []ledgerEntryDTO `json:"entries"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// BySource lists the entries one settlement wrote. Operators only.
func (h *LedgerHandler) BySource(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}
	if !claims.IsOperator() {
		RespondAppError(w, ErrForbidden, nil)
		return
	}

	kind := domain.TransactableKind(chi.URLParam(r, "kind"))
	if !kind.IsValid() {
		RespondAppError(w, ErrInvalidKind, nil)
		return
	}

	entries, err := h.ledger.GetBySource(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		logging.FromContext(r.Context()).Error("ledger lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, sourceLedgerDTO{
		Entries: toLedgerEntryDTOs(entries),
		Total:   domain.SumLedgerEntries(entries),
	})
}

// ByAccount pages through the entries credited to one account. Accounts
// see their own ledger; operators see any.
func (h *LedgerHandler) ByAccount(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := ownerFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	limit, offset, fields := parsePagination(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	entries, total, err := h.ledger.GetByAccountID(r.Context(), accountID, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Error("ledger lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, accountLedgerDTO{
		Entries: toLedgerEntryDTOs(entries),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func parsePagination(r *http.Request) (limit, offset int, errs []FieldError) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			errs = append(errs, FieldError{Field: "limit", Message: "must be between 1 and 200"})
		} else {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, FieldError{Field: "offset", Message: "must be a non-negative integer"})
		} else {
			offset = n
		}
	}
	return limit, offset, errs
}
