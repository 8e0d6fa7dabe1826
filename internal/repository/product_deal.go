package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

const productDealColumns = `id, product_id, buyer_id, seller_id, price, status,
	platform_fee, gst, payee_amount, created_at, updated_at`

type ProductDealRepository struct {
	db    *sql.DB
	table settleableTable
}

func NewProductDealRepository(db *sql.DB) *ProductDealRepository {
	return &ProductDealRepository{
		db:    db,
		table: settleableTable{db: db, table: "product_deals", kind: domain.TransactableKindProductDeal},
	}
}

func (r *ProductDealRepository) GetByID(ctx context.Context, id string) (*domain.ProductDeal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+productDealColumns+` FROM product_deals WHERE id = $1`, id,
	)
	d, err := scanProductDeal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return d, nil
}

func (r *ProductDealRepository) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.ProductDealStatus, fields *domain.SettlementFields) (bool, error) {
	return r.table.compareAndSetStatus(ctx, id, string(expected), string(next), fields)
}

func (r *ProductDealRepository) ListStuck(ctx context.Context, statuses []domain.ProductDealStatus, cutoff time.Time, limit int) ([]string, error) {
	return r.table.listStuck(ctx, statusStrings(statuses), cutoff, limit)
}

func scanProductDeal(s scanner) (*domain.ProductDeal, error) {
	var d domain.ProductDeal
	var ns nullSettlement
	err := s.Scan(
		&d.ID, &d.ProductID, &d.BuyerID, &d.SellerID, &d.Price, &d.Status,
		&ns.platformFee, &ns.gst, &ns.payeeAmount, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Settlement = ns.fields()
	return &d, nil
}
