package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/transfa/wallet-service/internal/domain"
)

// ApplyAdjustment moves an account balance on behalf of a collaborator. Debits follow
// the same lock-then-guarded-update rule as transfers. A (kind, reference) pair that
// was already applied returns the stored adjustment with applied=false.
func (r *PostgresRepository) ApplyAdjustment(ctx context.Context, params ApplyAdjustmentParams) (*domain.BalanceAdjustment, bool, error) {
	if params.Delta == 0 {
		return nil, false, domain.NewValidationError("amount", "must be non-zero")
	}
	if params.Delta == math.MinInt64 {
		return nil, false, overflowError()
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, false, fmt.Errorf("begin adjustment tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, params.AccountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.ErrAccountNotFound
		}
		return nil, false, mapConflict(fmt.Errorf("lock account: %w", err))
	}

	existing, err := findAdjustment(ctx, tx, params.Kind, params.Reference)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	amount := params.Delta
	if amount < 0 {
		amount = -amount
		if balance < amount {
			return nil, false, &domain.InsufficientFundsError{Available: balance, Required: amount}
		}
	} else if !creditFits(balance, amount) {
		return nil, false, overflowError()
	}

	var balanceAfter int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance
	`, params.AccountID, params.Delta).Scan(&balanceAfter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, &domain.InsufficientFundsError{Available: balance, Required: amount}
		}
		return nil, false, mapConflict(fmt.Errorf("apply adjustment: %w", err))
	}

	adjustment := &domain.BalanceAdjustment{
		ID:           params.ID,
		AccountID:    params.AccountID,
		Kind:         params.Kind,
		Reference:    params.Reference,
		Amount:       amount,
		BalanceAfter: balanceAfter,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO balance_adjustments (id, account_id, kind, reference, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, params.ID, params.AccountID, string(params.Kind), params.Reference, amount, balanceAfter, params.CreatedAt).Scan(&adjustment.CreatedAt)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			// Same reference applied concurrently against another account row.
			return nil, false, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, false, mapConflict(fmt.Errorf("insert adjustment: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, mapConflict(fmt.Errorf("commit adjustment: %w", err))
	}
	return adjustment, true, nil
}

func findAdjustment(ctx context.Context, tx pgx.Tx, kind domain.AdjustmentKind, reference string) (*domain.BalanceAdjustment, error) {
	var (
		adjustment domain.BalanceAdjustment
		storedKind string
	)
	err := tx.QueryRow(ctx, `
		SELECT id, account_id, kind, reference, amount, balance_after, created_at
		FROM balance_adjustments
		WHERE kind = $1 AND reference = $2
	`, string(kind), reference).Scan(
		&adjustment.ID,
		&adjustment.AccountID,
		&storedKind,
		&adjustment.Reference,
		&adjustment.Amount,
		&adjustment.BalanceAfter,
		&adjustment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load adjustment: %w", err)
	}
	adjustment.Kind = domain.AdjustmentKind(storedKind)
	return &adjustment, nil
}
