/**
 * @description
 * This file contains the core wiring for the wallet-service. The `Service` struct
 * composes the account-number, PIN, transfer, history and adjustment components and
 * exposes the use cases the HTTP layer calls.
 *
 * Key features:
 * - Every money-moving use case validates its request first, then runs the PIN
 *   gate, then exactly one action.
 * - Infrastructure failures are normalized into `domain.StoreUnavailableError`.
 * - Events are published to the configured broker after commit, best-effort.
 *
 * @dependencies
 * - context, errors, log/slog, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For the Publisher contract shared by the RabbitMQ and Kafka producers.
 */

package app

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/money"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

// Service provides the wallet use cases.
type Service struct {
	repo        store.Repository
	numbers     *AccountNumbers
	pins        *PINGate
	transfers   *TransferEngine
	history     *History
	adjustments *Adjustments
	logger      *slog.Logger
}

// NewService creates a new wallet service instance.
func NewService(
	repo store.Repository,
	numbers *AccountNumbers,
	pins *PINGate,
	transfers *TransferEngine,
	history *History,
	adjustments *Adjustments,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		numbers:     numbers,
		pins:        pins,
		transfers:   transfers,
		history:     history,
		adjustments: adjustments,
		logger:      logger.With("component", "wallet_service"),
	}
}

// EnsurePlatformAccount creates the fee-collection account at boot.
func (s *Service) EnsurePlatformAccount(ctx context.Context, platformAccountID string) error {
	_, err := s.numbers.Assign(ctx, platformAccountID)
	return err
}

// GetAccountSummary lazily opens the caller's account and returns its owner view.
func (s *Service) GetAccountSummary(ctx context.Context, accountID string) (*domain.AccountSummary, error) {
	account, err := s.numbers.Assign(ctx, accountID)
	if err != nil {
		return nil, err
	}
	pinSet, err := s.pins.HasPIN(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.AccountSummary{
		ID:                   account.ID,
		AccountNumber:        *account.AccountNumber,
		DisplayAccountNumber: s.numbers.Format(*account.AccountNumber),
		Balance:              account.Balance,
		BalanceFormatted:     money.Format(account.Balance),
		PINSet:               pinSet,
		Payout:               account.Payout,
	}, nil
}

// UpdatePayoutDetails stores the bank destination for external withdrawals.
func (s *Service) UpdatePayoutDetails(ctx context.Context, accountID string, payout domain.PayoutDetails) error {
	if payout.BankCode == "" || payout.AccountNumber == "" || payout.AccountName == "" {
		return domain.NewValidationError("payout", "bank_code, account_number and account_name are required")
	}
	if _, err := s.numbers.Assign(ctx, accountID); err != nil {
		return err
	}
	return storeError("update payout details", s.repo.UpdatePayoutDetails(ctx, accountID, payout))
}

// ResolveRecipient looks up a transfer recipient for a confirmation preview.
func (s *Service) ResolveRecipient(ctx context.Context, callerID string, rawNumber string) (*domain.RecipientPreview, error) {
	account, err := s.numbers.Resolve(ctx, callerID, rawNumber)
	if err != nil {
		return nil, err
	}
	return &domain.RecipientPreview{
		AccountNumber:        *account.AccountNumber,
		DisplayAccountNumber: s.numbers.Format(*account.AccountNumber),
	}, nil
}

// CreatePIN performs first-time PIN setup.
func (s *Service) CreatePIN(ctx context.Context, accountID string, req domain.CreatePINRequest) error {
	return s.pins.Create(ctx, accountID, req.PIN, req.ConfirmPIN)
}

// ResetPIN removes an account's PIN so the owner can set a new one.
func (s *Service) ResetPIN(ctx context.Context, accountID string) error {
	return s.pins.Reset(ctx, accountID)
}

// QuoteTransfer reports the fee and total debit for amount.
func (s *Service) QuoteTransfer(amount int64) (*domain.FeeQuote, error) {
	return s.transfers.Quote(amount)
}

// Transfer validates and resolves the request, authorizes with the caller's PIN and
// then executes the transfer. Requests that could never succeed are rejected before
// the PIN is checked, so they cost the caller no attempt.
func (s *Service) Transfer(ctx context.Context, senderID string, req domain.P2PTransferRequest) (*domain.TransferResult, error) {
	prepared, err := s.transfers.Prepare(ctx, domain.TransferRequest{
		SenderAccountID:        senderID,
		RecipientAccountNumber: req.RecipientAccountNumber,
		Amount:                 req.Amount,
		Note:                   req.Note,
		IdempotencyKey:         req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	var result *domain.TransferResult
	err = s.pins.Authorize(ctx, senderID, req.TransferPIN, func(ctx context.Context) error {
		var commitErr error
		result, commitErr = s.transfers.Commit(ctx, prepared)
		return commitErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListTransfers returns one page of the caller's transfer history.
func (s *Service) ListTransfers(ctx context.Context, accountID string, limit int, cursor string) (*domain.TransferPage, error) {
	return s.history.ListTransfers(ctx, accountID, limit, cursor)
}

// GetReceipt returns a single transfer the caller took part in.
func (s *Service) GetReceipt(ctx context.Context, accountID string, transferID uuid.UUID) (*domain.TransferView, error) {
	return s.history.GetReceipt(ctx, accountID, transferID)
}

// Withdraw validates the request, authorizes with the caller's PIN and then debits an
// approved withdrawal.
func (s *Service) Withdraw(ctx context.Context, accountID string, req domain.WithdrawalRequest) (*domain.BalanceAdjustment, error) {
	if err := validateAdjustment(req.WithdrawalID, accountID, req.Amount); err != nil {
		return nil, err
	}

	var adjustment *domain.BalanceAdjustment
	err := s.pins.Authorize(ctx, accountID, req.TransferPIN, func(ctx context.Context) error {
		var debitErr error
		adjustment, debitErr = s.adjustments.DebitWithdrawal(ctx, domain.WithdrawalDebit{
			WithdrawalID: req.WithdrawalID,
			AccountID:    accountID,
			Amount:       req.Amount,
		})
		return debitErr
	})
	if err != nil {
		return nil, err
	}
	return adjustment, nil
}

// DebitWithdrawal applies a collaborator withdrawal debit without a PIN.
func (s *Service) DebitWithdrawal(ctx context.Context, req domain.WithdrawalDebit) (*domain.BalanceAdjustment, error) {
	return s.adjustments.DebitWithdrawal(ctx, req)
}

// CreditSale applies a collaborator sale credit.
func (s *Service) CreditSale(ctx context.Context, req domain.SaleCredit) (*domain.BalanceAdjustment, error) {
	return s.adjustments.CreditSale(ctx, req)
}

// storeError passes domain errors and context errors through and wraps everything
// else as StoreUnavailableError.
func storeError(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.StoreUnavailableError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	for _, sentinel := range []error{
		domain.ErrAccountNotFound,
		domain.ErrSelfTransfer,
		domain.ErrConcurrentModification,
		domain.ErrIdentifierExhausted,
		domain.ErrPINNotSet,
		domain.ErrPINAlreadySet,
		domain.ErrPINMismatch,
		domain.ErrPromptConsumed,
		domain.ErrTransferNotFound,
		domain.ErrTransferInProgress,
		domain.ErrIdempotencyConflict,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	var (
		validation   *domain.ValidationError
		insufficient *domain.InsufficientFundsError
		rejected     *domain.PINRejectedError
		locked       *domain.PINLockedError
		unavailable  *domain.StoreUnavailableError
		limited      *domain.RateLimitedError
	)
	return errors.As(err, &validation) ||
		errors.As(err, &insufficient) ||
		errors.As(err, &rejected) ||
		errors.As(err, &locked) ||
		errors.As(err, &unavailable) ||
		errors.As(err, &limited)
}

// withConflictRetry runs fn until it stops returning store.ErrConflict, sleeping with
// jittered exponential backoff between attempts. It gives up with
// ErrConcurrentModification after maxRetries retries.
func withConflictRetry(ctx context.Context, maxRetries int, sleep func(context.Context, time.Duration) error, fn func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		if attempt >= maxRetries {
			return domain.ErrConcurrentModification
		}
		if err := sleep(ctx, conflictBackoff(attempt)); err != nil {
			return err
		}
	}
}

func conflictBackoff(attempt int) time.Duration {
	base := 20 * time.Millisecond << attempt
	return base + rand.N(base)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// publishEvent sends an event after commit. Failures are logged, never returned.
func publishEvent(ctx context.Context, logger *slog.Logger, publisher rabbitmq.Publisher, exchange, routingKey string, event interface{}) {
	if publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := publisher.Publish(pubCtx, exchange, routingKey, event); err != nil {
		logger.Warn("event publish failed", "exchange", exchange, "routing_key", routingKey, "error", err)
	}
}
