package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/fee"
)

type quoter interface {
	Quote(gross decimal.Decimal) (*fee.Quote, error)
}

type FeeHandler struct {
	fees quoter
}

func NewFeeHandler(fees quoter) *FeeHandler {
	return &FeeHandler{fees: fees}
}

type quoteDTO struct {
	Gross              decimal.Decimal `json:"gross"`
	PlatformFeeNet     decimal.Decimal `json:"platform_fee_net"`
	GST                decimal.Decimal `json:"gst"`
	PlatformFeeGross   decimal.Decimal `json:"platform_fee_gross"`
	PayeeAmount        decimal.Decimal `json:"payee_amount"`
	ReferralCommission decimal.Decimal `json:"referral_commission"`
}

// Quote previews the split of ?amount= without writing anything.
func (h *FeeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("amount")
	if raw == "" {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "required"}})
		return
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must be a decimal number"}})
		return
	}

	q, err := h.fees.Quote(amount)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, quoteDTO{
		Gross:              q.Gross,
		PlatformFeeNet:     q.PlatformFeeNet,
		GST:                q.GST,
		PlatformFeeGross:   q.PlatformFeeGross,
		PayeeAmount:        q.PayeeAmount,
		ReferralCommission: q.ReferralCommission,
	})
}
