package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

type jobRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	CompareAndSetStatus(ctx context.Context, id string, expected, next domain.JobStatus, fields *domain.SettlementFields) (bool, error)
	ListStuck(ctx context.Context, statuses []domain.JobStatus, cutoff time.Time, limit int) ([]string, error)
}

type agreementRepo interface {
	CompleteIfActive(ctx context.Context, jobID string) (bool, error)
}

var jobActiveStatuses = []domain.JobStatus{domain.JobStatusAccepted, domain.JobStatusInProgress}

// JobAdapter settles jobs: the customer pays the worker, and the job's
// agreement is completed alongside.
type JobAdapter struct {
	jobs       jobRepo
	agreements agreementRepo
}

func NewJobAdapter(jobs jobRepo, agreements agreementRepo) *JobAdapter {
	return &JobAdapter{jobs: jobs, agreements: agreements}
}

func (a *JobAdapter) Kind() domain.TransactableKind {
	return domain.TransactableKindJob
}

func (a *JobAdapter) Load(ctx context.Context, id string) (*Subject, error) {
	j, err := a.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("JobAdapter.Load: %w", err)
	}
	return &Subject{
		Kind:        domain.TransactableKindJob,
		ID:          j.ID,
		PayerID:     j.CustomerID,
		PayeeID:     j.WorkerID,
		GrossAmount: j.FinalCost,
		Status:      string(j.Status),
		Phase:       j.Status.Phase(),
		Settled:     j.Settlement,
		LinkedID:    j.ID,
	}, nil
}

func (a *JobAdapter) Transition(ctx context.Context, s *Subject, to domain.Phase, fields *domain.SettlementFields) (bool, error) {
	var next domain.JobStatus
	switch to {
	case domain.PhaseCompleted:
		next = domain.JobStatusCompleted
	case domain.PhaseDisputed:
		next = domain.JobStatusDisputed
	default:
		return false, fmt.Errorf("JobAdapter.Transition: to %s: %w", to, domain.ErrInvalidState)
	}

	ok, err := a.jobs.CompareAndSetStatus(ctx, s.ID, domain.JobStatus(s.Status), next, fields)
	if err != nil {
		return false, fmt.Errorf("JobAdapter.Transition: %w", err)
	}
	return ok, nil
}

// AfterCompleted completes the job's agreement. Jobs without an active
// agreement are left alone.
func (a *JobAdapter) AfterCompleted(ctx context.Context, s *Subject) error {
	if _, err := a.agreements.CompleteIfActive(ctx, s.LinkedID); err != nil {
		return fmt.Errorf("JobAdapter.AfterCompleted: %w", err)
	}
	return nil
}

func (a *JobAdapter) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ids, err := a.jobs.ListStuck(ctx, jobActiveStatuses, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("JobAdapter.ListStuck: %w", err)
	}
	return ids, nil
}
