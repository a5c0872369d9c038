package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

const (
	RoutingKeyWithdrawalDebited     = "withdrawal.debited"
	RoutingKeyWithdrawalDebitFailed = "withdrawal.debit_failed"
	RoutingKeySaleCredited          = "sale.credited"

	maxAdjustmentReferenceLength = 128
)

// Adjustments applies balance changes requested by the withdrawal and sales
// collaborators. Debits use the same debit-if-sufficient rule as transfers.
type Adjustments struct {
	repo       store.Repository
	publisher  rabbitmq.Publisher
	exchange   string
	maxRetries int
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
	logger     *slog.Logger
}

func NewAdjustments(repo store.Repository, publisher rabbitmq.Publisher, exchange string, maxRetries int, logger *slog.Logger) *Adjustments {
	if exchange == "" {
		exchange = DefaultEventExchange
	}
	if maxRetries <= 0 {
		maxRetries = DefaultTransferRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adjustments{
		repo:       repo,
		publisher:  publisher,
		exchange:   exchange,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
		logger:     logger.With("component", "adjustments"),
	}
}

func validateAdjustment(reference, accountID string, amount int64) error {
	if strings.TrimSpace(reference) == "" {
		return domain.NewValidationError("reference", "is required")
	}
	if len(reference) > maxAdjustmentReferenceLength {
		return domain.NewValidationError("reference", "is too long")
	}
	if strings.TrimSpace(accountID) == "" {
		return domain.NewValidationError("account_id", "is required")
	}
	if amount <= 0 {
		return domain.NewValidationError("amount", "must be a positive whole number of kobo")
	}
	return nil
}

// DebitWithdrawal takes an approved withdrawal out of the balance. Replaying the same
// withdrawal id returns the original adjustment without debiting again.
func (a *Adjustments) DebitWithdrawal(ctx context.Context, req domain.WithdrawalDebit) (*domain.BalanceAdjustment, error) {
	if err := validateAdjustment(req.WithdrawalID, req.AccountID, req.Amount); err != nil {
		return nil, err
	}
	adjustment, err := a.apply(ctx, req.AccountID, domain.AdjustmentWithdrawalDebit, req.WithdrawalID, -req.Amount)
	if err != nil {
		var insufficient *domain.InsufficientFundsError
		if errors.As(err, &insufficient) {
			a.logger.Info("withdrawal debit rejected", "withdrawal_id", req.WithdrawalID, "account_id", req.AccountID, "reason", "insufficient_funds")
		}
		return nil, err
	}
	return adjustment, nil
}

// CreditSale settles a sale into the seller's balance, opening the account if needed.
func (a *Adjustments) CreditSale(ctx context.Context, req domain.SaleCredit) (*domain.BalanceAdjustment, error) {
	if err := validateAdjustment(req.SaleReference, req.AccountID, req.Amount); err != nil {
		return nil, err
	}
	if _, err := a.repo.EnsureAccount(ctx, req.AccountID); err != nil {
		return nil, storeError("ensure account", err)
	}
	return a.apply(ctx, req.AccountID, domain.AdjustmentSaleCredit, req.SaleReference, req.Amount)
}

func (a *Adjustments) apply(ctx context.Context, accountID string, kind domain.AdjustmentKind, reference string, delta int64) (*domain.BalanceAdjustment, error) {
	params := store.ApplyAdjustmentParams{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      kind,
		Reference: reference,
		Delta:     delta,
		CreatedAt: a.now(),
	}

	var (
		adjustment *domain.BalanceAdjustment
		applied    bool
	)
	err := withConflictRetry(ctx, a.maxRetries, a.sleep, func() error {
		var applyErr error
		adjustment, applied, applyErr = a.repo.ApplyAdjustment(ctx, params)
		return applyErr
	})
	if err != nil {
		return nil, storeError("apply adjustment", err)
	}
	if !applied {
		if adjustment.AccountID != accountID || adjustment.Amount != abs(delta) {
			return nil, domain.ErrIdempotencyConflict
		}
		a.logger.Info("adjustment replayed", "kind", kind, "reference", reference, "account_id", accountID)
		return adjustment, nil
	}

	a.logger.Info("adjustment applied",
		"kind", kind,
		"reference", reference,
		"account_id", accountID,
		"amount", adjustment.Amount,
		"balance_after", adjustment.BalanceAfter,
	)
	routingKey := RoutingKeySaleCredited
	if kind == domain.AdjustmentWithdrawalDebit {
		routingKey = RoutingKeyWithdrawalDebited
	}
	publishEvent(ctx, a.logger, a.publisher, a.exchange, routingKey, domain.BalanceAdjustedEvent{
		EventID:      uuid.New(),
		AdjustmentID: adjustment.ID,
		AccountID:    adjustment.AccountID,
		Kind:         adjustment.Kind,
		Reference:    adjustment.Reference,
		Amount:       adjustment.Amount,
		BalanceAfter: adjustment.BalanceAfter,
		OccurredAt:   adjustment.CreatedAt,
	})
	return adjustment, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
