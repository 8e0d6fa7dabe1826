package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/logging"
	"github.com/josh-kwaku/marketplace-settlement/internal/metrics"
)

const (
	ReconcilerActor = "system:reconciler"
	reconcileReason = "ledger entries written without a terminal status"
	reconcileBatch  = 50
)

type disputer interface {
	Dispute(ctx context.Context, kind domain.TransactableKind, id, actor, reason string) (*Result, error)
}

// Reconciler periodically disputes transactables left active with ledger
// entries, which happens when a settlement process dies between writes.
type Reconciler struct {
	orchestrator disputer
	adapters     []Adapter
	logger       *slog.Logger
	interval     time.Duration
	grace        time.Duration
	now          func() time.Time
}

func NewReconciler(orchestrator disputer, logger *slog.Logger, interval, grace time.Duration, adapters ...Adapter) *Reconciler {
	return &Reconciler{
		orchestrator: orchestrator,
		adapters:     adapters,
		logger:       logger,
		interval:     interval,
		grace:        grace,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("settlement reconciler started", "interval", r.interval, "grace", r.grace)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("settlement reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce makes a single pass over every adapter and returns how many
// transactables it disputed.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	ctx = logging.WithLogger(ctx, r.logger)
	cutoff := r.now().Add(-r.grace)

	disputed := 0
	for _, a := range r.adapters {
		ids, err := a.ListStuck(ctx, cutoff, reconcileBatch)
		if err != nil {
			r.logger.Error("failed to list stuck transactables", "transactable_kind", a.Kind(), "error", err)
			continue
		}

		for _, id := range ids {
			if _, err := r.orchestrator.Dispute(ctx, a.Kind(), id, ReconcilerActor, reconcileReason); err != nil {
				r.logger.Error("failed to dispute stuck transactable",
					"transactable_kind", a.Kind(),
					"transactable_id", id,
					"error", err,
				)
				continue
			}
			metrics.ReconciledTransactables.WithLabelValues(string(a.Kind())).Inc()
			r.logger.Warn("stuck transactable disputed", "transactable_kind", a.Kind(), "transactable_id", id)
			disputed++
		}
	}
	return disputed
}
