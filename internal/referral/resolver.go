// Package referral finds the account owed lifetime referral commission on a
// settlement. Commission always follows the paying party's referrer.
package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/fee"
	"github.com/josh-kwaku/marketplace-settlement/internal/logging"
)

type accountDirectory interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
}

type commissionPolicy interface {
	ReferralCommission(split fee.Split) decimal.Decimal
}

type Commission struct {
	ReferrerID string
	Amount     decimal.Decimal
}

type Resolver struct {
	accounts accountDirectory
	policy   commissionPolicy
}

func NewResolver(accounts accountDirectory, policy commissionPolicy) *Resolver {
	return &Resolver{accounts: accounts, policy: policy}
}

// Resolve returns nil when the payer has no eligible referrer or the
// commission rounds to nothing.
func (r *Resolver) Resolve(ctx context.Context, payerID string, split fee.Split) (*Commission, error) {
	log := logging.FromContext(ctx)

	payer, err := r.accounts.GetByID(ctx, payerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("payer account not found, no referral commission", "payer_account_id", payerID)
			return nil, nil
		}
		return nil, fmt.Errorf("Resolve: %w", err)
	}

	referrerID, ok := payer.Referrer()
	if !ok {
		return nil, nil
	}

	amount := r.policy.ReferralCommission(split)
	if !amount.IsPositive() {
		log.Debug("referral commission rounds to zero",
			"payer_account_id", payerID,
			"referrer_account_id", referrerID,
			"gross", split.Gross,
		)
		return nil, nil
	}

	return &Commission{ReferrerID: referrerID, Amount: amount}, nil
}
