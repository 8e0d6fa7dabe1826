// Package fee computes how a settled gross amount is divided between the
// platform, the tax authority and the payee.
package fee

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

// MinorUnitPlaces is the number of decimal places of the settlement
// currency's minor unit (paise).
const MinorUnitPlaces int32 = 2

type Rates struct {
	PlatformFee decimal.Decimal
	GST         decimal.Decimal
	Referral    decimal.Decimal
}

func DefaultRates() Rates {
	return Rates{
		PlatformFee: decimal.RequireFromString("0.07"),
		GST:         decimal.RequireFromString("0.18"),
		Referral:    decimal.RequireFromString("0.0005"),
	}
}

func (r Rates) validate() error {
	if r.PlatformFee.IsNegative() || r.GST.IsNegative() || r.Referral.IsNegative() {
		return fmt.Errorf("rates must not be negative")
	}
	if r.PlatformFee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("platform fee rate %s must be below 1", r.PlatformFee)
	}
	// Referral commission is paid out of the platform fee.
	if r.Referral.GreaterThan(r.PlatformFee) {
		return fmt.Errorf("referral rate %s exceeds platform fee rate %s", r.Referral, r.PlatformFee)
	}
	return nil
}

type Split struct {
	Gross            decimal.Decimal
	PlatformFeeNet   decimal.Decimal
	GST              decimal.Decimal
	PlatformFeeGross decimal.Decimal
	PayeeAmount      decimal.Decimal
}

type Policy struct {
	rates Rates
}

func NewPolicy(rates Rates) (*Policy, error) {
	if err := rates.validate(); err != nil {
		return nil, fmt.Errorf("NewPolicy: %w", err)
	}
	return &Policy{rates: rates}, nil
}

func (p *Policy) Rates() Rates {
	return p.rates
}

// ComputeSplit rounds every intermediate value half-up to the minor unit and
// lets PayeeAmount absorb the residual, so PlatformFeeGross + PayeeAmount
// always equals Gross.
func (p *Policy) ComputeSplit(gross decimal.Decimal) (Split, error) {
	g := Round(gross)
	if !g.IsPositive() {
		return Split{}, fmt.Errorf("ComputeSplit: %s: %w", gross, domain.ErrInvalidAmount)
	}

	net := Round(g.Mul(p.rates.PlatformFee))
	gst := Round(net.Mul(p.rates.GST))
	feeGross := net.Add(gst)

	return Split{
		Gross:            g,
		PlatformFeeNet:   net,
		GST:              gst,
		PlatformFeeGross: feeGross,
		PayeeAmount:      g.Sub(feeGross),
	}, nil
}

// ReferralCommission is the referrer's share of gross, capped at the net
// platform fee it is funded from.
func (p *Policy) ReferralCommission(split Split) decimal.Decimal {
	c := Round(split.Gross.Mul(p.rates.Referral))
	if c.GreaterThan(split.PlatformFeeNet) {
		return split.PlatformFeeNet
	}
	return c
}

type Quote struct {
	Split
	ReferralCommission decimal.Decimal
}

// Quote previews the split together with the commission a referred payer
// would generate.
func (p *Policy) Quote(gross decimal.Decimal) (*Quote, error) {
	split, err := p.ComputeSplit(gross)
	if err != nil {
		return nil, fmt.Errorf("Quote: %w", err)
	}
	return &Quote{Split: split, ReferralCommission: p.ReferralCommission(split)}, nil
}

// Round rounds d to the minor unit, halves away from zero. Settlement amounts
// are positive, so this is round-half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}
