package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

// settleableTable holds the status transitions shared by jobs, product_deals
// and tool_rentals. Every table carries status, platform_fee, gst,
// payee_amount and updated_at columns.
type settleableTable struct {
	db    *sql.DB
	table string
	kind  domain.TransactableKind
}

// compareAndSetStatus moves id from expected to next and reports false when
// the row is no longer in expected. Settlement fields are write-once:
// COALESCE keeps any value already stored.
func (t settleableTable) compareAndSetStatus(ctx context.Context, id, expected, next string, fields *domain.SettlementFields) (bool, error) {
	ns := toNullSettlement(fields)
	res, err := t.db.ExecContext(ctx,
		`UPDATE `+t.table+` SET
			status = $1,
			platform_fee = COALESCE(platform_fee, $2),
			gst = COALESCE(gst, $3),
			payee_amount = COALESCE(payee_amount, $4),
			updated_at = now()
		WHERE id = $5 AND status = $6`,
		next, ns.platformFee, ns.gst, ns.payeeAmount, id, expected,
	)
	if err != nil {
		return false, fmt.Errorf("CompareAndSetStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CompareAndSetStatus: rows affected: %w", err)
	}
	return rows == 1, nil
}

// listStuck returns ids still in one of statuses that already own ledger
// entries written before cutoff.
func (t settleableTable) listStuck(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]string, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT s.id FROM `+t.table+` s
		WHERE s.status = ANY($1)
		AND EXISTS (
			SELECT 1 FROM ledger_entries l
			WHERE l.source_kind = $2 AND l.source_id = s.id AND l.created_at < $3
		)
		ORDER BY s.updated_at LIMIT $4`,
		pq.Array(statuses), t.kind, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListStuck: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListStuck: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListStuck: rows: %w", err)
	}
	return ids, nil
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
