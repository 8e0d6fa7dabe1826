package repository

import (
	"errors"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

type nullSettlement struct {
	platformFee decimal.NullDecimal
	gst         decimal.NullDecimal
	payeeAmount decimal.NullDecimal
}

func (n nullSettlement) fields() *domain.SettlementFields {
	if !n.platformFee.Valid || !n.gst.Valid || !n.payeeAmount.Valid {
		return nil
	}
	return &domain.SettlementFields{
		PlatformFee: n.platformFee.Decimal,
		GST:         n.gst.Decimal,
		PayeeAmount: n.payeeAmount.Decimal,
	}
}

func toNullSettlement(f *domain.SettlementFields) nullSettlement {
	if f == nil {
		return nullSettlement{}
	}
	return nullSettlement{
		platformFee: decimal.NewNullDecimal(f.PlatformFee),
		gst:         decimal.NewNullDecimal(f.GST),
		payeeAmount: decimal.NewNullDecimal(f.PayeeAmount),
	}
}
