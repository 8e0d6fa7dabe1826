package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/auth"
	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/logging"
	"github.com/josh-kwaku/marketplace-settlement/internal/settlement"
)

const maxDisputeReasonLen = 500

type settler interface {
	Settle(ctx context.Context, kind domain.TransactableKind, id, actor string) (*settlement.Result, error)
	Dispute(ctx context.Context, kind domain.TransactableKind, id, actor, reason string) (*settlement.Result, error)
}

type SettlementHandler struct {
	settler settler
}

func NewSettlementHandler(s settler) *SettlementHandler {
	return &SettlementHandler{settler: s}
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (r disputeRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Reason == "" {
		errs = append(errs, FieldError{Field: "reason", Message: "required"})
	} else if len(r.Reason) > maxDisputeReasonLen {
		errs = append(errs, FieldError{Field: "reason", Message: "must be at most 500 characters"})
	}
	return errs
}

type referralDTO struct {
	ReferrerAccountID string          `json:"referrer_account_id"`
	Amount            decimal.Decimal `json:"amount"`
}

type settlementDTO struct {
	Kind               string           `json:"kind"`
	TransactableID     string           `json:"transactable_id"`
	Outcome            string           `json:"outcome"`
	PlatformFee        *decimal.Decimal `json:"platform_fee,omitempty"`
	GST                *decimal.Decimal `json:"gst,omitempty"`
	PayeeAmount        *decimal.Decimal `json:"payee_amount,omitempty"`
	ReferralCommission *referralDTO     `json:"referral_commission,omitempty"`
	LedgerEntries      []ledgerEntryDTO `json:"ledger_entries"`
}

func toSettlementDTO(res *settlement.Result) settlementDTO {
	dto := settlementDTO{
		Kind:           string(res.Kind),
		TransactableID: res.TransactableID,
		Outcome:        string(res.Outcome),
		LedgerEntries:  toLedgerEntryDTOs(res.Entries),
	}
	if res.Fields != nil {
		dto.PlatformFee = &res.Fields.PlatformFee
		dto.GST = &res.Fields.GST
		dto.PayeeAmount = &res.Fields.PayeeAmount
	}
	if res.Referral != nil {
		dto.ReferralCommission = &referralDTO{
			ReferrerAccountID: res.Referral.ReferrerID,
			Amount:            res.Referral.Amount,
		}
	}
	return dto
}

// Complete settles the transactable of kind named by the {id} path segment.
func (h *SettlementHandler) Complete(kind domain.TransactableKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			RespondAppError(w, ErrMissingToken, nil)
			return
		}

		id := chi.URLParam(r, "id")
		res, err := h.settler.Settle(r.Context(), kind, id, claims.Actor())
		if err != nil {
			if errors.Is(err, domain.ErrDoubleCompensationFailure) {
				log.Error("settlement left inconsistent", "transactable_kind", kind, "transactable_id", id, "error", err)
			} else {
				log.Warn("settlement rejected", "transactable_kind", kind, "transactable_id", id, "error", err)
			}
			RespondDomainError(w, err)
			return
		}

		if !res.Succeeded() {
			RespondAppError(w, ErrSettlementDisputed, map[string]string{
				"kind":            string(kind),
				"transactable_id": id,
			})
			return
		}

		RespondSuccess(w, http.StatusOK, toSettlementDTO(res))
	}
}

// Dispute flags an active transactable for review.
func (h *SettlementHandler) Dispute(kind domain.TransactableKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			RespondAppError(w, ErrMissingToken, nil)
			return
		}

		var req disputeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondAppError(w, ErrInvalidRequest, nil)
			return
		}
		if fields := req.Validate(); len(fields) > 0 {
			RespondValidationError(w, fields)
			return
		}

		id := chi.URLParam(r, "id")
		res, err := h.settler.Dispute(r.Context(), kind, id, claims.Actor(), req.Reason)
		if err != nil {
			logging.FromContext(r.Context()).Warn("dispute rejected", "transactable_kind", kind, "transactable_id", id, "error", err)
			RespondDomainError(w, err)
			return
		}

		RespondSuccess(w, http.StatusOK, toSettlementDTO(res))
	}
}
