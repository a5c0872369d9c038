/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * required by the wallet-service. The app layer depends only on this interface, so the
 * PostgreSQL implementation and the in-memory implementation are interchangeable.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For transfer and adjustment identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
)

var (
	// ErrConflict is a retryable serialization failure or deadlock inside an atomic section.
	ErrConflict = errors.New("concurrent modification conflict")
	// ErrAccountNumberTaken means a candidate number collided with an existing one.
	ErrAccountNumberTaken = errors.New("account number already taken")
)

// Repository defines the set of methods for interacting with the account store.
type Repository interface {
	// Account methods
	EnsureAccount(ctx context.Context, accountID string) (*domain.Account, error)
	FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	ClaimAccountNumber(ctx context.Context, accountID string, accountNumber string) (*domain.Account, error)
	UpdatePayoutDetails(ctx context.Context, accountID string, payout domain.PayoutDetails) error

	// Transfer PIN methods
	GetSecurityCredential(ctx context.Context, accountID string) (*domain.SecurityCredential, error)
	CreateTransferPIN(ctx context.Context, accountID string, pinHash string) error
	RecordFailedPINAttempt(ctx context.Context, accountID string, maxAttempts int, lockout time.Duration) (*domain.SecurityCredential, error)
	ResetPINFailureState(ctx context.Context, accountID string) error
	DeleteTransferPIN(ctx context.Context, accountID string) error

	// Transfer methods
	ExecuteTransfer(ctx context.Context, params ExecuteTransferParams) (*domain.Transfer, int64, error)
	FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error)
	ListTransfersByAccount(ctx context.Context, accountID string, opts domain.TransferListOptions) ([]domain.Transfer, error)

	// Idempotency methods
	AcquireTransferIdempotency(ctx context.Context, params AcquireIdempotencyParams) (*uuid.UUID, bool, error)
	ReleaseTransferIdempotency(ctx context.Context, accountID string, key string, reservationID uuid.UUID) error
	PurgeExpiredIdempotency(ctx context.Context, now time.Time) (int64, error)

	// Collaborator balance methods
	ApplyAdjustment(ctx context.Context, params ApplyAdjustmentParams) (*domain.BalanceAdjustment, bool, error)
}

// ExecuteTransferParams carries everything the atomic section needs. All validation
// that does not depend on fresh balances has already happened. When IdempotencyKey is
// set, TransferID must be the ReservationID the key was acquired with.
type ExecuteTransferParams struct {
	TransferID             uuid.UUID
	SenderAccountID        string
	SenderAccountNumber    string
	RecipientAccountID     string
	RecipientAccountNumber string
	PlatformAccountID      string
	Amount                 int64
	Fee                    int64
	Note                   string
	IdempotencyKey         string
	CreatedAt              time.Time
}

// TotalDebited is what leaves the sender. Callers run validateAmounts first so the
// sum cannot wrap.
func (p ExecuteTransferParams) TotalDebited() int64 {
	return p.Amount + p.Fee
}

func (p ExecuteTransferParams) validateAmounts() error {
	if p.Amount <= 0 {
		return domain.NewValidationError("amount", "must be positive")
	}
	if p.Fee < 0 {
		return domain.NewValidationError("fee", "must not be negative")
	}
	if p.Amount > math.MaxInt64-p.Fee {
		return domain.NewValidationError("amount", "exceeds the largest supported amount")
	}
	return nil
}

// credits lists what each receiving account gains. The recipient and the platform
// account may be the same row.
func (p ExecuteTransferParams) credits() map[string]int64 {
	out := map[string]int64{p.RecipientAccountID: p.Amount}
	if p.Fee > 0 && p.PlatformAccountID != "" {
		out[p.PlatformAccountID] += p.Fee
	}
	return out
}

// creditFits reports whether balance can grow by delta without leaving int64.
func creditFits(balance, delta int64) bool {
	return delta <= 0 || balance <= math.MaxInt64-delta
}

func overflowError() error {
	return domain.NewValidationError("amount", "exceeds the largest supported balance")
}

// AcquireIdempotencyParams reserves a client token for one transfer attempt.
// ReservationID identifies the attempt; only that attempt may complete or release
// the reservation.
type AcquireIdempotencyParams struct {
	AccountID     string
	Key           string
	RequestHash   string
	ReservationID uuid.UUID
	TTL           time.Duration
	StaleWindow   time.Duration
}

// ApplyAdjustmentParams describes a collaborator debit (negative Delta) or credit.
type ApplyAdjustmentParams struct {
	ID        uuid.UUID
	AccountID string
	Kind      domain.AdjustmentKind
	Reference string
	Delta     int64
	CreatedAt time.Time
}
