package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRowContext(ctx,
		`SELECT id, seller_id, reserved, active_deal_id FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.SellerID, &p.Reserved, &p.ActiveDealID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return &p, nil
}

// ClearReservation releases the product only while dealID still holds it.
func (r *ProductRepository) ClearReservation(ctx context.Context, productID, dealID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE products SET reserved = false, active_deal_id = NULL
		WHERE id = $1 AND active_deal_id = $2`,
		productID, dealID,
	)
	if err != nil {
		return false, fmt.Errorf("ClearReservation: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ClearReservation: rows affected: %w", err)
	}
	return rows > 0, nil
}
