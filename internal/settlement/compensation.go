package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/logging"
	"github.com/josh-kwaku/marketplace-settlement/internal/metrics"
	"github.com/josh-kwaku/marketplace-settlement/internal/referral"
)

var errNotActive = errors.New("transactable is no longer active")

// compensate marks a partially settled transactable as disputed. Ledger
// entries already written are left in place for review.
func (o *Orchestrator) compensate(ctx context.Context, adapter Adapter, subject *Subject, res *Result, cause error, actor string) (*Result, error) {
	log := logging.FromContext(ctx)
	log.Error("settlement failed after ledger writes began, marking disputed",
		"error", cause,
		"entries_written", len(res.Entries),
	)

	res.Outcome = OutcomeDisputed
	res.Cause = cause

	current, err := o.markDisputed(ctx, adapter, subject)
	if err == nil && current != nil && current.Phase == domain.PhaseCompleted {
		log.Info("transactable is completed, nothing to compensate", "settlement_error", cause)
		return o.alreadyCompleted(ctx, adapter, current, res, actor), nil
	}
	if err != nil {
		metrics.CompensationFailures.WithLabelValues(string(subject.Kind)).Inc()
		log.Error("compensating dispute write failed, ledger and status disagree",
			"settlement_error", cause,
			"compensation_error", err,
			"entries_written", len(res.Entries),
		)
		o.record(ctx, subject, domain.SettlementEventTypeCompensationFailed, actor, disputedPayload(cause.Error(), err))
		return res, &CompensationError{
			Kind:            subject.Kind,
			TransactableID:  subject.ID,
			Cause:           cause,
			CompensationErr: err,
		}
	}

	o.record(ctx, subject, domain.SettlementEventTypeDisputed, actor, disputedPayload(cause.Error(), nil))
	metrics.SettlementRuns.WithLabelValues(string(subject.Kind), string(res.Outcome)).Inc()
	return res, nil
}

// markDisputed returns the reloaded subject when the dispute write found
// the status already moved to a terminal phase.
func (o *Orchestrator) markDisputed(ctx context.Context, adapter Adapter, subject *Subject) (*Subject, error) {
	if subject.Phase != domain.PhaseActive {
		return nil, fmt.Errorf("markDisputed: %s: %w", subject.Status, errNotActive)
	}

	var moved bool
	err := o.call(ctx, "compensate", func(ctx context.Context) error {
		var err error
		moved, err = adapter.Transition(ctx, subject, domain.PhaseDisputed, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("markDisputed: %w", err)
	}
	if moved {
		return nil, nil
	}

	current, err := o.load(ctx, adapter, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("markDisputed: reload: %w", err)
	}
	if current.Phase.IsTerminal() {
		return current, nil
	}
	return nil, fmt.Errorf("markDisputed: status is now %s: %w", current.Status, errNotActive)
}

// record appends to the settlement audit trail. Failures are logged and
// never change the outcome.
func (o *Orchestrator) record(ctx context.Context, subject *Subject, eventType domain.SettlementEventType, actor string, payload any) {
	if o.events == nil {
		return
	}
	log := logging.FromContext(ctx)

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Warn("failed to encode settlement event", "event_type", eventType, "error", err)
		return
	}

	event := &domain.SettlementEvent{
		ID:         uuid.New(),
		SourceKind: subject.Kind,
		SourceID:   subject.ID,
		EventType:  eventType,
		Actor:      actor,
		Payload:    raw,
		CreatedAt:  o.now(),
	}
	err = o.call(ctx, "record_event", func(ctx context.Context) error {
		return o.events.Create(ctx, event)
	})
	if err != nil {
		log.Warn("failed to record settlement event", "event_type", eventType, "error", err)
	}
}

type completedEvent struct {
	Gross       string `json:"gross"`
	PlatformFee string `json:"platform_fee"`
	GST         string `json:"gst"`
	PayeeAmount string `json:"payee_amount"`
	ReferrerID  string `json:"referrer_account_id,omitempty"`
	Commission  string `json:"referral_commission,omitempty"`
}

func completedPayload(gross decimal.Decimal, fields *domain.SettlementFields, commission *referral.Commission) completedEvent {
	p := completedEvent{
		Gross:       gross.StringFixed(2),
		PlatformFee: fields.PlatformFee.StringFixed(2),
		GST:         fields.GST.StringFixed(2),
		PayeeAmount: fields.PayeeAmount.StringFixed(2),
	}
	if commission != nil {
		p.ReferrerID = commission.ReferrerID
		p.Commission = commission.Amount.StringFixed(2)
	}
	return p
}

type disputedEvent struct {
	Reason            string `json:"reason,omitempty"`
	CompensationError string `json:"compensation_error,omitempty"`
}

func disputedPayload(reason string, compensationErr error) disputedEvent {
	p := disputedEvent{Reason: reason}
	if compensationErr != nil {
		p.CompensationError = compensationErr.Error()
	}
	return p
}
