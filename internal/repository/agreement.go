package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

type AgreementRepository struct {
	db *sql.DB
}

func NewAgreementRepository(db *sql.DB) *AgreementRepository {
	return &AgreementRepository{db: db}
}

func (r *AgreementRepository) GetByJobID(ctx context.Context, jobID string) (*domain.Agreement, error) {
	var a domain.Agreement
	err := r.db.QueryRowContext(ctx,
		`SELECT job_id, status, completed_at FROM agreements WHERE job_id = $1`, jobID,
	).Scan(&a.JobID, &a.Status, &a.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByJobID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByJobID: %w", err)
	}
	return &a, nil
}

// CompleteIfActive marks the job's agreement completed when it is active and
// reports whether it changed anything.
func (r *AgreementRepository) CompleteIfActive(ctx context.Context, jobID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE agreements SET status = $1, completed_at = now()
		WHERE job_id = $2 AND status = $3`,
		domain.AgreementStatusCompleted, jobID, domain.AgreementStatusActive,
	)
	if err != nil {
		return false, fmt.Errorf("CompleteIfActive: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CompleteIfActive: rows affected: %w", err)
	}
	return rows > 0, nil
}
