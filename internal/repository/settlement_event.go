package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

const settlementEventColumns = `id, source_kind, source_id, event_type, actor, payload, created_at`

type SettlementEventRepository struct {
	db *sql.DB
}

func NewSettlementEventRepository(db *sql.DB) *SettlementEventRepository {
	return &SettlementEventRepository{db: db}
}

// Create records event. Each transactable holds at most one event per type,
// so a replayed event is ignored.
func (r *SettlementEventRepository) Create(ctx context.Context, event *domain.SettlementEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settlement_events (`+settlementEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.SourceKind, event.SourceID, event.EventType,
		event.Actor, jsonArg(event.Payload), event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *SettlementEventRepository) GetBySource(ctx context.Context, kind domain.TransactableKind, sourceID string) ([]domain.SettlementEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+settlementEventColumns+` FROM settlement_events
		WHERE source_kind = $1 AND source_id = $2 ORDER BY created_at`,
		kind, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetBySource: %w", err)
	}
	defer rows.Close()

	var events []domain.SettlementEvent
	for rows.Next() {
		e, err := scanSettlementEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetBySource: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetBySource: rows: %w", err)
	}
	return events, nil
}

func scanSettlementEvent(s scanner) (*domain.SettlementEvent, error) {
	var e domain.SettlementEvent
	var payload []byte
	err := s.Scan(
		&e.ID, &e.SourceKind, &e.SourceID, &e.EventType,
		&e.Actor, &payload, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}

// jsonArg passes JSON as text; lib/pq would send a []byte as bytea.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
