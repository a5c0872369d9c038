package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/transfa/wallet-service/internal/domain"
)

const (
	idempotencyStatusProcessing = "processing"
	idempotencyStatusCompleted  = "completed"
)

// AcquireTransferIdempotency reserves (account, key) for one transfer attempt.
//
// It returns acquired=true when the caller owns the key and should execute. When the
// key already completed with the same request hash, the original transfer id is
// returned with acquired=false. A live processing row yields ErrTransferInProgress
// and a different request under the same key yields ErrIdempotencyConflict. Processing
// rows older than StaleWindow are reclaimed.
func (r *PostgresRepository) AcquireTransferIdempotency(ctx context.Context, params AcquireIdempotencyParams) (*uuid.UUID, bool, error) {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	staleWindow := params.StaleWindow
	if staleWindow <= 0 {
		staleWindow = 2 * time.Minute
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin idempotency tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	insertQuery := `
		INSERT INTO transfer_idempotency (
			account_id,
			idempotency_key,
			request_hash,
			status,
			reservation_id,
			expires_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (account_id, idempotency_key) DO NOTHING
	`
	insertResult, err := tx.Exec(ctx, insertQuery,
		params.AccountID,
		params.Key,
		params.RequestHash,
		idempotencyStatusProcessing,
		params.ReservationID,
		expiresAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if insertResult.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	var (
		existingHash    string
		status          string
		transferID      *uuid.UUID
		updatedAt       time.Time
		existingExpires time.Time
	)
	selectQuery := `
		SELECT request_hash, status, transfer_id, updated_at, expires_at
		FROM transfer_idempotency
		WHERE account_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`
	if err := tx.QueryRow(ctx, selectQuery, params.AccountID, params.Key).Scan(
		&existingHash,
		&status,
		&transferID,
		&updatedAt,
		&existingExpires,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Purged between the insert and the select.
			return nil, false, domain.ErrTransferInProgress
		}
		return nil, false, fmt.Errorf("load idempotency row: %w", err)
	}

	expired := existingExpires.Before(now)
	if !expired && existingHash != params.RequestHash {
		return nil, false, domain.ErrIdempotencyConflict
	}

	if status == idempotencyStatusCompleted && !expired {
		if transferID == nil {
			return nil, false, domain.ErrTransferInProgress
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return transferID, false, nil
	}

	isStale := updatedAt.Before(now.Add(-staleWindow)) || expired
	if !isStale {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return nil, false, domain.ErrTransferInProgress
	}

	reclaimQuery := `
		UPDATE transfer_idempotency
		SET
			request_hash = $3,
			status = $4,
			transfer_id = NULL,
			reservation_id = $5,
			expires_at = $6,
			updated_at = NOW()
		WHERE account_id = $1 AND idempotency_key = $2
	`
	if _, err := tx.Exec(ctx, reclaimQuery,
		params.AccountID,
		params.Key,
		params.RequestHash,
		idempotencyStatusProcessing,
		params.ReservationID,
		expiresAt,
	); err != nil {
		return nil, false, fmt.Errorf("reclaim stale idempotency row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}

// ReleaseTransferIdempotency drops a processing reservation after a failed attempt so
// the client can retry with the same key. A reservation that was reclaimed by a later
// attempt is left alone.
func (r *PostgresRepository) ReleaseTransferIdempotency(ctx context.Context, accountID string, key string, reservationID uuid.UUID) error {
	query := `
		DELETE FROM transfer_idempotency
		WHERE account_id = $1
		  AND idempotency_key = $2
		  AND status = $3
		  AND reservation_id = $4
	`
	_, err := r.db.Exec(ctx, query, accountID, key, idempotencyStatusProcessing, reservationID)
	return err
}

// PurgeExpiredIdempotency deletes reservations whose retention window has passed.
func (r *PostgresRepository) PurgeExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM transfer_idempotency WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
