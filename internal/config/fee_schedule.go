package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/fee"
)

// FeeSchedule is the optional TOML file that pins the settlement rates for a
// deployment. Rates are written as strings, e.g. platform_fee_rate = "0.07".
type FeeSchedule struct {
	PlatformFeeRate *decimal.Decimal `toml:"platform_fee_rate"`
	GSTRate         *decimal.Decimal `toml:"gst_rate"`
	ReferralRate    *decimal.Decimal `toml:"referral_rate"`
}

func LoadFeeSchedule(path string) (*FeeSchedule, error) {
	var s FeeSchedule
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, fmt.Errorf("LoadFeeSchedule: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("LoadFeeSchedule: unknown keys %v", undecoded)
	}
	return &s, nil
}

// Over returns base with every rate the schedule sets replaced.
func (s *FeeSchedule) Over(base fee.Rates) fee.Rates {
	if s.PlatformFeeRate != nil {
		base.PlatformFee = *s.PlatformFeeRate
	}
	if s.GSTRate != nil {
		base.GST = *s.GSTRate
	}
	if s.ReferralRate != nil {
		base.Referral = *s.ReferralRate
	}
	return base
}

func (s *FeeSchedule) apply(cfg *Config) {
	r := s.Over(cfg.FeeRates())
	cfg.PlatformFeeRate = r.PlatformFee
	cfg.GSTRate = r.GST
	cfg.ReferralRate = r.Referral
}
