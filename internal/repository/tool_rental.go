package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

const toolRentalColumns = `id, tool_id, renter_id, owner_id, total_cost, status,
	platform_fee, gst, payee_amount, created_at, updated_at`

type ToolRentalRepository struct {
	db    *sql.DB
	table settleableTable
}

func NewToolRentalRepository(db *sql.DB) *ToolRentalRepository {
	return &ToolRentalRepository{
		db:    db,
		table: settleableTable{db: db, table: "tool_rentals", kind: domain.TransactableKindToolRental},
	}
}

func (r *ToolRentalRepository) GetByID(ctx context.Context, id string) (*domain.ToolRental, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+toolRentalColumns+` FROM tool_rentals WHERE id = $1`, id,
	)
	tr, err := scanToolRental(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return tr, nil
}

func (r *ToolRentalRepository) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.ToolRentalStatus, fields *domain.SettlementFields) (bool, error) {
	return r.table.compareAndSetStatus(ctx, id, string(expected), string(next), fields)
}

func (r *ToolRentalRepository) ListStuck(ctx context.Context, statuses []domain.ToolRentalStatus, cutoff time.Time, limit int) ([]string, error) {
	return r.table.listStuck(ctx, statusStrings(statuses), cutoff, limit)
}

func scanToolRental(s scanner) (*domain.ToolRental, error) {
	var tr domain.ToolRental
	var ns nullSettlement
	err := s.Scan(
		&tr.ID, &tr.ToolID, &tr.RenterID, &tr.OwnerID, &tr.TotalCost, &tr.Status,
		&ns.platformFee, &ns.gst, &ns.payeeAmount, &tr.CreatedAt, &tr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tr.Settlement = ns.fields()
	return &tr, nil
}
