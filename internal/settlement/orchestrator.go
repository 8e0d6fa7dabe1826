// Package settlement completes marketplace transactables: it splits the
// gross amount, writes the ledger entries and moves the transactable to
// completed, or to disputed when a write fails part way.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/fee"
	"github.com/josh-kwaku/marketplace-settlement/internal/logging"
	"github.com/josh-kwaku/marketplace-settlement/internal/metrics"
	"github.com/josh-kwaku/marketplace-settlement/internal/referral"
)

type ledgerRepo interface {
	Append(ctx context.Context, entry *domain.LedgerEntry) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
}

type feePolicy interface {
	ComputeSplit(gross decimal.Decimal) (fee.Split, error)
}

type referralResolver interface {
	Resolve(ctx context.Context, payerID string, split fee.Split) (*referral.Commission, error)
}

type eventRepo interface {
	Create(ctx context.Context, event *domain.SettlementEvent) error
}

// PlatformAccounts are the collector accounts credited with the platform
// fee and the GST on every settlement.
type PlatformAccounts struct {
	FeeAccountID string
	TaxAccountID string
}

type Orchestrator struct {
	adapters     map[domain.TransactableKind]Adapter
	policy       feePolicy
	referrals    referralResolver
	ledger       ledgerRepo
	events       eventRepo
	accounts     PlatformAccounts
	storeTimeout time.Duration
	now          func() time.Time
}

// NewOrchestrator wires one adapter per transactable kind. events may be
// nil, in which case no audit trail is recorded.
func NewOrchestrator(
	policy feePolicy,
	referrals referralResolver,
	ledger ledgerRepo,
	events eventRepo,
	accounts PlatformAccounts,
	storeTimeout time.Duration,
	adapters ...Adapter,
) *Orchestrator {
	byKind := make(map[domain.TransactableKind]Adapter, len(adapters))
	for _, a := range adapters {
		byKind[a.Kind()] = a
	}
	return &Orchestrator{
		adapters:     byKind,
		policy:       policy,
		referrals:    referrals,
		ledger:       ledger,
		events:       events,
		accounts:     accounts,
		storeTimeout: storeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) Adapter(kind domain.TransactableKind) (Adapter, error) {
	a, ok := o.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("Adapter: %q: %w", kind, domain.ErrInvalidKind)
	}
	return a, nil
}

// Settle completes the transactable identified by kind and id.
//
// Failures before the first ledger write are returned as errors and leave
// no trace. Once writing has begun, any failure sends the transactable to
// disputed and Settle returns a Result with OutcomeDisputed and a nil
// error, unless that dispute write also fails, in which case the error is
// a *CompensationError.
func (o *Orchestrator) Settle(ctx context.Context, kind domain.TransactableKind, id, actor string) (*Result, error) {
	adapter, err := o.Adapter(kind)
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	log := logging.FromContext(ctx).With("transactable_kind", kind, "transactable_id", id)
	ctx = logging.WithLogger(ctx, log)

	subject, err := o.load(ctx, adapter, id)
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	res := &Result{Kind: kind, TransactableID: id}

	switch subject.Phase {
	case domain.PhaseCompleted:
		log.Info("transactable already settled", "status", subject.Status)
		return o.alreadyCompleted(ctx, adapter, subject, res, actor), nil
	case domain.PhaseActive:
	default:
		return nil, fmt.Errorf("Settle: %s %s is %s: %w", kind, id, subject.Status, domain.ErrInvalidState)
	}

	if !subject.GrossAmount.IsPositive() {
		return nil, fmt.Errorf("Settle: gross amount %s: %w", subject.GrossAmount, domain.ErrInvalidState)
	}

	split, err := o.policy.ComputeSplit(subject.GrossAmount)
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	var commission *referral.Commission
	err = o.call(ctx, "resolve_referral", func(ctx context.Context) error {
		var err error
		commission, err = o.referrals.Resolve(ctx, subject.PayerID, split)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	entries, err := o.plan(subject, split, commission)
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	res.Split = &split
	res.Referral = commission
	res.Fields = &domain.SettlementFields{
		PlatformFee: split.PlatformFeeGross,
		GST:         split.GST,
		PayeeAmount: split.PayeeAmount,
	}

	// From the first ledger write on, a caller that goes away must not
	// strand the transactable between states.
	wctx := context.WithoutCancel(ctx)

	for _, entry := range entries {
		if err := o.append(wctx, entry); err != nil {
			return o.compensate(wctx, adapter, subject, res, err, actor)
		}
		res.Entries = append(res.Entries, *entry)
	}

	var moved bool
	err = o.call(wctx, "complete", func(ctx context.Context) error {
		var err error
		moved, err = adapter.Transition(ctx, subject, domain.PhaseCompleted, res.Fields)
		return err
	})
	if err != nil {
		return o.compensate(wctx, adapter, subject, res, err, actor)
	}
	if !moved {
		return o.lostCompletion(wctx, adapter, subject, res, actor)
	}

	res.Outcome = OutcomeCompleted
	o.afterCompleted(wctx, adapter, subject)
	o.record(wctx, subject, domain.SettlementEventTypeCompleted, actor, completedPayload(split.Gross, res.Fields, commission))
	metrics.SettlementRuns.WithLabelValues(string(kind), string(res.Outcome)).Inc()

	log.Info("transactable settled",
		"gross", split.Gross,
		"payee_amount", split.PayeeAmount,
		"platform_fee", split.PlatformFeeGross,
		"gst", split.GST,
		"referral", commission != nil,
	)

	return res, nil
}

// lostCompletion handles a completing transition that found the status
// already moved by someone else.
func (o *Orchestrator) lostCompletion(ctx context.Context, adapter Adapter, subject *Subject, res *Result, actor string) (*Result, error) {
	log := logging.FromContext(ctx)

	current, err := o.load(ctx, adapter, subject.ID)
	if err != nil {
		return o.compensate(ctx, adapter, subject, res, err, actor)
	}

	switch current.Phase {
	case domain.PhaseCompleted:
		log.Info("transactable completed by another run")
		return o.alreadyCompleted(ctx, adapter, current, res, actor), nil
	case domain.PhaseDisputed:
		log.Warn("transactable disputed while settling")
		res.Outcome = OutcomeDisputed
		res.Cause = fmt.Errorf("disputed during settlement: %w", domain.ErrInvalidState)
		metrics.SettlementRuns.WithLabelValues(string(res.Kind), string(res.Outcome)).Inc()
		return res, nil
	default:
		cause := fmt.Errorf("status changed from %s to %s during settlement: %w", subject.Status, current.Status, domain.ErrInvalidState)
		return o.compensate(ctx, adapter, current, res, cause, actor)
	}
}

// alreadyCompleted reports a transactable found completed, possibly by this
// run's own write acknowledged with an error. Linked records and the
// completed event are brought up to date; both writes are idempotent.
func (o *Orchestrator) alreadyCompleted(ctx context.Context, adapter Adapter, current *Subject, res *Result, actor string) *Result {
	res.Outcome = OutcomeAlreadyCompleted
	res.Cause = nil
	res.Fields = current.Settled

	o.afterCompleted(ctx, adapter, current)
	if current.Settled != nil {
		o.record(ctx, current, domain.SettlementEventTypeCompleted, actor, completedPayload(current.GrossAmount, current.Settled, res.Referral))
	}
	metrics.SettlementRuns.WithLabelValues(string(res.Kind), string(res.Outcome)).Inc()
	return res
}

// Dispute moves an active transactable to disputed. Disputing an already
// disputed transactable is a no-op.
func (o *Orchestrator) Dispute(ctx context.Context, kind domain.TransactableKind, id, actor, reason string) (*Result, error) {
	adapter, err := o.Adapter(kind)
	if err != nil {
		return nil, fmt.Errorf("Dispute: %w", err)
	}

	log := logging.FromContext(ctx).With("transactable_kind", kind, "transactable_id", id)
	ctx = logging.WithLogger(ctx, log)

	subject, err := o.load(ctx, adapter, id)
	if err != nil {
		return nil, fmt.Errorf("Dispute: %w", err)
	}

	res := &Result{Kind: kind, TransactableID: id, Outcome: OutcomeDisputed}

	switch subject.Phase {
	case domain.PhaseDisputed:
		return res, nil
	case domain.PhaseActive:
	default:
		return nil, fmt.Errorf("Dispute: %s %s is %s: %w", kind, id, subject.Status, domain.ErrInvalidState)
	}

	var moved bool
	err = o.call(ctx, "dispute", func(ctx context.Context) error {
		var err error
		moved, err = adapter.Transition(ctx, subject, domain.PhaseDisputed, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Dispute: %w", err)
	}
	if !moved {
		return nil, fmt.Errorf("Dispute: status of %s %s changed concurrently: %w", kind, id, domain.ErrInvalidState)
	}

	o.record(ctx, subject, domain.SettlementEventTypeDisputed, actor, disputedPayload(reason, nil))
	log.Info("transactable disputed", "actor", actor, "reason", reason)

	return res, nil
}

// plan lays out the ledger entries of one settlement. The referral
// commission is carved out of the platform's net fee so the entries always
// sum to the gross amount.
func (o *Orchestrator) plan(subject *Subject, split fee.Split, commission *referral.Commission) ([]*domain.LedgerEntry, error) {
	now := o.now()
	platformFee := split.PlatformFeeNet
	if commission != nil {
		platformFee = platformFee.Sub(commission.Amount)
	}

	entries := []*domain.LedgerEntry{
		domain.NewLedgerEntry(subject.Kind, subject.ID, subject.PayeeID, domain.EntryKindPayout, split.PayeeAmount, now),
		domain.NewLedgerEntry(subject.Kind, subject.ID, o.accounts.FeeAccountID, domain.EntryKindPlatformFee, platformFee, now),
		domain.NewLedgerEntry(subject.Kind, subject.ID, o.accounts.TaxAccountID, domain.EntryKindTax, split.GST, now),
	}
	if commission != nil {
		entries = append(entries, domain.NewLedgerEntry(subject.Kind, subject.ID, commission.ReferrerID, domain.EntryKindReferralCommission, commission.Amount, now))
	}

	total := decimal.Zero
	for _, e := range entries {
		if e.Amount.IsNegative() {
			return nil, fmt.Errorf("plan: negative %s entry %s: %w", e.Kind, e.Amount, domain.ErrInvalidAmount)
		}
		total = total.Add(e.Amount)
	}
	if !total.Equal(split.Gross) {
		return nil, fmt.Errorf("plan: entries sum to %s, gross is %s: %w", total, split.Gross, domain.ErrInvalidAmount)
	}

	return entries, nil
}

func (o *Orchestrator) append(ctx context.Context, entry *domain.LedgerEntry) error {
	var created bool
	err := o.call(ctx, "append_ledger_entry", func(ctx context.Context) error {
		var err error
		created, err = o.ledger.Append(ctx, entry)
		return err
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", entry.Kind, err)
	}

	metrics.LedgerEntries.WithLabelValues(string(entry.Kind), fmt.Sprint(created)).Inc()
	if created {
		return nil
	}

	logging.FromContext(ctx).Info("ledger entry already present", "entry_kind", entry.Kind, "ledger_entry_id", entry.ID)

	var existing *domain.LedgerEntry
	err = o.call(ctx, "get_ledger_entry", func(ctx context.Context) error {
		var err error
		existing, err = o.ledger.GetByID(ctx, entry.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", entry.Kind, err)
	}
	// Entries left by an earlier run must match what this run computed.
	if existing.AccountID != entry.AccountID || !existing.Amount.Equal(entry.Amount) {
		return fmt.Errorf("append %s: recorded %s to %s, computed %s to %s: %w",
			entry.Kind, existing.Amount, existing.AccountID, entry.Amount, entry.AccountID, domain.ErrLedgerConflict)
	}
	return nil
}

func (o *Orchestrator) afterCompleted(ctx context.Context, adapter Adapter, subject *Subject) {
	err := o.call(ctx, "after_completed", func(ctx context.Context) error {
		return adapter.AfterCompleted(ctx, subject)
	})
	if err != nil {
		logging.FromContext(ctx).Warn("failed to update linked records after settlement", "error", err)
	}
}

func (o *Orchestrator) load(ctx context.Context, adapter Adapter, id string) (*Subject, error) {
	var subject *Subject
	err := o.call(ctx, "load", func(ctx context.Context) error {
		var err error
		subject, err = adapter.Load(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return subject, nil
}

// call runs one store operation under the configured timeout. Failures
// other than a missing record are reported as ErrStoreUnavailable.
func (o *Orchestrator) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.ObserveStoreCall(op, start)

	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
