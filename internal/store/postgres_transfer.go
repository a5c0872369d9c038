package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/transfa/wallet-service/internal/domain"
)

const transferColumns = `
	id, sender_account_id, sender_account_number,
	recipient_account_id, recipient_account_number,
	amount, fee, total_debited, note, status, idempotency_key, created_at
`

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var transfer domain.Transfer
	err := row.Scan(
		&transfer.ID,
		&transfer.SenderAccountID,
		&transfer.SenderAccountNumber,
		&transfer.RecipientAccountID,
		&transfer.RecipientAccountNumber,
		&transfer.Amount,
		&transfer.Fee,
		&transfer.TotalDebited,
		&transfer.Note,
		&transfer.Status,
		&transfer.IdempotencyKey,
		&transfer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// ExecuteTransfer debits the sender, credits the recipient and the platform account,
// and inserts the transfer record in one database transaction. Every touched account
// row is locked in id order before any balance is read.
func (r *PostgresRepository) ExecuteTransfer(ctx context.Context, params ExecuteTransferParams) (*domain.Transfer, int64, error) {
	if err := params.validateAmounts(); err != nil {
		return nil, 0, err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, 0, fmt.Errorf("begin transfer tx: %w", err)
	}
	defer tx.Rollback(ctx)

	credits := params.credits()
	ids := []string{params.SenderAccountID}
	for id := range credits {
		if id != params.SenderAccountID {
			ids = append(ids, id)
		}
	}

	rows, err := tx.Query(ctx, `SELECT id, balance FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, 0, mapConflict(fmt.Errorf("lock accounts: %w", err))
	}
	balances := make(map[string]int64, len(ids))
	for rows.Next() {
		var (
			id      string
			balance int64
		)
		if err := rows.Scan(&id, &balance); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan locked account: %w", err)
		}
		balances[id] = balance
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, mapConflict(fmt.Errorf("lock accounts: %w", err))
	}
	for _, id := range ids {
		if _, ok := balances[id]; !ok {
			return nil, 0, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
		}
	}

	total := params.TotalDebited()
	if balances[params.SenderAccountID] < total {
		return nil, 0, &domain.InsufficientFundsError{Available: balances[params.SenderAccountID], Required: total}
	}
	for id, credit := range credits {
		after := balances[id]
		if id == params.SenderAccountID {
			after -= total
		}
		if !creditFits(after, credit) {
			return nil, 0, overflowError()
		}
	}

	var idempotencyKey *string
	if params.IdempotencyKey != "" {
		key := params.IdempotencyKey
		idempotencyKey = &key
		if err := completeIdempotency(ctx, tx, params); err != nil {
			return nil, 0, err
		}
	}

	var senderBalance int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`, params.SenderAccountID, total).Scan(&senderBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, &domain.InsufficientFundsError{Available: balances[params.SenderAccountID], Required: total}
		}
		return nil, 0, mapConflict(fmt.Errorf("debit sender: %w", err))
	}

	creditQuery := `UPDATE accounts SET balance = balance + $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.Exec(ctx, creditQuery, params.RecipientAccountID, params.Amount); err != nil {
		return nil, 0, mapConflict(fmt.Errorf("credit recipient: %w", err))
	}
	if params.Fee > 0 && params.PlatformAccountID != "" {
		if _, err := tx.Exec(ctx, creditQuery, params.PlatformAccountID, params.Fee); err != nil {
			return nil, 0, mapConflict(fmt.Errorf("credit platform fee: %w", err))
		}
	}
	if credit, ok := credits[params.SenderAccountID]; ok {
		senderBalance += credit
	}

	insertQuery := `
		INSERT INTO transfers (
			id, sender_account_id, sender_account_number,
			recipient_account_id, recipient_account_number,
			amount, fee, total_debited, note, status, idempotency_key, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + transferColumns
	transfer, err := scanTransfer(tx.QueryRow(ctx, insertQuery,
		params.TransferID,
		params.SenderAccountID,
		params.SenderAccountNumber,
		params.RecipientAccountID,
		params.RecipientAccountNumber,
		params.Amount,
		params.Fee,
		total,
		params.Note,
		domain.TransferStatusCompleted,
		idempotencyKey,
		params.CreatedAt,
	))
	if err != nil {
		return nil, 0, mapConflict(fmt.Errorf("insert transfer: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, mapConflict(fmt.Errorf("commit transfer: %w", err))
	}
	return transfer, senderBalance, nil
}

// completeIdempotency marks the reservation completed, but only while it still
// belongs to this attempt. A reservation reclaimed by another request after going
// stale fails the whole transaction with ErrTransferInProgress.
func completeIdempotency(ctx context.Context, tx pgx.Tx, params ExecuteTransferParams) error {
	tag, err := tx.Exec(ctx, `
		UPDATE transfer_idempotency
		SET status = $3, transfer_id = $4, updated_at = NOW()
		WHERE account_id = $1
		  AND idempotency_key = $2
		  AND status = $5
		  AND reservation_id = $4
	`, params.SenderAccountID, params.IdempotencyKey, idempotencyStatusCompleted, params.TransferID, idempotencyStatusProcessing)
	if err != nil {
		return mapConflict(fmt.Errorf("complete idempotency key: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransferInProgress
	}
	return nil
}

// FindTransferByID retrieves a single transfer record.
func (r *PostgresRepository) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	transfer, err := scanTransfer(r.db.QueryRow(ctx, query, transferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, err
	}
	return transfer, nil
}

// ListTransfersByAccount returns transfers the account sent or received, newest first,
// strictly after the keyset cursor in opts.
func (r *PostgresRepository) ListTransfersByAccount(ctx context.Context, accountID string, opts domain.TransferListOptions) ([]domain.Transfer, error) {
	args := []any{accountID}
	query := `SELECT ` + transferColumns + `
		FROM transfers
		WHERE (sender_account_id = $1 OR recipient_account_id = $1)`
	if opts.After != nil {
		args = append(args, opts.After.CreatedAt, opts.After.ID)
		query += ` AND (created_at, id) < ($2, $3)`
	}
	args = append(args, opts.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.Transfer, 0, opts.Limit)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, rows.Err()
}
