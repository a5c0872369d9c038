/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the account and transfer PIN queries; the transfer, idempotency and
 * collaborator adjustment queries live in the sibling postgres_*.go files.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/wallet-service/internal/domain"
)

const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgNumericOutOfRange    = "22003"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// mapConflict turns serialization failures and deadlocks into ErrConflict so the
// caller can retry the whole atomic section. A bigint overflow is the caller's
// amount, not the database, and comes back as a ValidationError.
func mapConflict(err error) error {
	switch pgErrorCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case pgNumericOutOfRange:
		return overflowError()
	}
	return err
}

const accountColumns = `
	id, account_number, balance,
	payout_bank_name, payout_bank_code, payout_account_number, payout_account_name,
	created_at, updated_at
`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account                                       domain.Account
		bankName, bankCode, payoutNumber, payoutName *string
	)
	err := row.Scan(
		&account.ID,
		&account.AccountNumber,
		&account.Balance,
		&bankName,
		&bankCode,
		&payoutNumber,
		&payoutName,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	if payoutNumber != nil && *payoutNumber != "" {
		account.Payout = &domain.PayoutDetails{
			BankName:      derefString(bankName),
			BankCode:      derefString(bankCode),
			AccountNumber: *payoutNumber,
			AccountName:   derefString(payoutName),
		}
	}
	return &account, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// EnsureAccount creates the account row on first use and returns it.
func (r *PostgresRepository) EnsureAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.Exec(ctx, query, accountID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return r.FindAccountByID(ctx, accountID)
}

// FindAccountByID retrieves an account by its owner identity.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// FindAccountByNumber retrieves an account by its normalized account number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountNumber))
}

// ClaimAccountNumber sets accountNumber on an account that has none. If the account
// already carries a number, it is returned unchanged.
func (r *PostgresRepository) ClaimAccountNumber(ctx context.Context, accountID string, accountNumber string) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET account_number = $2, updated_at = NOW()
		WHERE id = $1 AND account_number IS NULL
		RETURNING ` + accountColumns
	account, err := scanAccount(r.db.QueryRow(ctx, query, accountID, accountNumber))
	if err == nil {
		return account, nil
	}
	if pgErrorCode(err) == pgUniqueViolation {
		return nil, ErrAccountNumberTaken
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, fmt.Errorf("claim account number: %w", err)
	}
	// Either the account does not exist or it was numbered by a concurrent claim.
	return r.FindAccountByID(ctx, accountID)
}

// UpdatePayoutDetails stores the bank destination used by the withdrawal workflow.
func (r *PostgresRepository) UpdatePayoutDetails(ctx context.Context, accountID string, payout domain.PayoutDetails) error {
	query := `
		UPDATE accounts
		SET payout_bank_name = $2,
			payout_bank_code = $3,
			payout_account_number = $4,
			payout_account_name = $5,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, accountID, payout.BankName, payout.BankCode, payout.AccountNumber, payout.AccountName)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// GetSecurityCredential returns transfer PIN security metadata for an account.
func (r *PostgresRepository) GetSecurityCredential(ctx context.Context, accountID string) (*domain.SecurityCredential, error) {
	var credential domain.SecurityCredential
	query := `
		SELECT account_id, transfer_pin_hash, failed_attempts, last_failed_at, locked_until
		FROM account_security_credentials
		WHERE account_id = $1
	`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&credential.AccountID,
		&credential.PINHash,
		&credential.FailedAttempts,
		&credential.LastFailedAt,
		&credential.LockedUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPINNotSet
		}
		return nil, err
	}
	if credential.PINHash == "" {
		return nil, domain.ErrPINNotSet
	}
	return &credential, nil
}

// CreateTransferPIN stores the first PIN hash for an account. It never overwrites.
func (r *PostgresRepository) CreateTransferPIN(ctx context.Context, accountID string, pinHash string) error {
	query := `
		INSERT INTO account_security_credentials (account_id, transfer_pin_hash)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query, accountID, pinHash)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return domain.ErrAccountNotFound
		}
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPINAlreadySet
	}
	return nil
}

// RecordFailedPINAttempt atomically increments failed attempts and applies lockout.
// An expired lockout starts a fresh window at one failure.
func (r *PostgresRepository) RecordFailedPINAttempt(ctx context.Context, accountID string, maxAttempts int, lockout time.Duration) (*domain.SecurityCredential, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	lockoutSeconds := int(lockout.Seconds())
	if lockoutSeconds <= 0 {
		lockoutSeconds = 900
	}

	var credential domain.SecurityCredential
	query := `
		UPDATE account_security_credentials
		SET
			failed_attempts = CASE
				WHEN (locked_until IS NOT NULL AND locked_until <= NOW())
					OR (locked_until IS NULL AND failed_attempts >= $2) THEN 1
				ELSE failed_attempts + 1
			END,
			last_failed_at = NOW(),
			locked_until = CASE
				WHEN (
					CASE
						WHEN (locked_until IS NOT NULL AND locked_until <= NOW())
							OR (locked_until IS NULL AND failed_attempts >= $2) THEN 1
						ELSE failed_attempts + 1
					END
				) >= $2 THEN NOW() + ($3 * INTERVAL '1 second')
				ELSE NULL
			END,
			updated_at = NOW()
		WHERE account_id = $1
		RETURNING account_id, transfer_pin_hash, failed_attempts, last_failed_at, locked_until
	`
	err := r.db.QueryRow(ctx, query, accountID, maxAttempts, lockoutSeconds).Scan(
		&credential.AccountID,
		&credential.PINHash,
		&credential.FailedAttempts,
		&credential.LastFailedAt,
		&credential.LockedUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPINNotSet
		}
		return nil, err
	}
	return &credential, nil
}

// ResetPINFailureState clears failed-attempt counters after a successful PIN verification.
func (r *PostgresRepository) ResetPINFailureState(ctx context.Context, accountID string) error {
	query := `
		UPDATE account_security_credentials
		SET failed_attempts = 0, last_failed_at = NULL, locked_until = NULL, updated_at = NOW()
		WHERE account_id = $1
	`
	result, err := r.db.Exec(ctx, query, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPINNotSet
	}
	return nil
}

// DeleteTransferPIN removes the PIN so the owner can create a new one.
func (r *PostgresRepository) DeleteTransferPIN(ctx context.Context, accountID string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM account_security_credentials WHERE account_id = $1`, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPINNotSet
	}
	return nil
}
