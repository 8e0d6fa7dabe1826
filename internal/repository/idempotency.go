package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CachedResponse is the first response given to an (account, Idempotency-Key)
// pair, replayed to retries of the same request until it expires.
type CachedResponse struct {
	AccountID   string
	Key         string
	RequestHash string
	StatusCode  int
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Lookup returns nil, nil when nothing unexpired is cached for the key.
func (r *IdempotencyRepository) Lookup(ctx context.Context, accountID, key string) (*CachedResponse, error) {
	c := CachedResponse{AccountID: accountID, Key: key}
	err := r.db.QueryRowContext(ctx,
		`SELECT request_hash, status_code, response_body, created_at, expires_at
		FROM idempotency_cache
		WHERE account_id = $1 AND idempotency_key = $2 AND expires_at > now()`,
		accountID, key,
	).Scan(&c.RequestHash, &c.StatusCode, &c.Body, &c.CreatedAt, &c.ExpiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("Lookup: %w", err)
	}
	return &c, nil
}

// Save keeps the first response stored for a key. An expired row for the
// same key is replaced.
func (r *IdempotencyRepository) Save(ctx context.Context, c *CachedResponse) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_cache (account_id, idempotency_key, request_hash, status_code, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key, account_id) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
			status_code = EXCLUDED.status_code,
			response_body = EXCLUDED.response_body,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_cache.expires_at <= now()`,
		c.AccountID, c.Key, c.RequestHash, c.StatusCode, c.Body, c.CreatedAt, c.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) PruneExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("PruneExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("PruneExpired: %w", err)
	}
	return n, nil
}
