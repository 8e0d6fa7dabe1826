package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

const jobColumns = `id, customer_id, worker_id, final_cost, status,
	platform_fee, gst, payee_amount, created_at, updated_at`

type JobRepository struct {
	db    *sql.DB
	table settleableTable
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{
		db:    db,
		table: settleableTable{db: db, table: "jobs", kind: domain.TransactableKindJob},
	}
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return j, nil
}

func (r *JobRepository) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.JobStatus, fields *domain.SettlementFields) (bool, error) {
	return r.table.compareAndSetStatus(ctx, id, string(expected), string(next), fields)
}

func (r *JobRepository) ListStuck(ctx context.Context, statuses []domain.JobStatus, cutoff time.Time, limit int) ([]string, error) {
	return r.table.listStuck(ctx, statusStrings(statuses), cutoff, limit)
}

func scanJob(s scanner) (*domain.Job, error) {
	var j domain.Job
	var ns nullSettlement
	err := s.Scan(
		&j.ID, &j.CustomerID, &j.WorkerID, &j.FinalCost, &j.Status,
		&ns.platformFee, &ns.gst, &ns.payeeAmount, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Settlement = ns.fields()
	return &j, nil
}
