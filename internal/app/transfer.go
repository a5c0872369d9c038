package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

const (
	DefaultMinTransferAmount = int64(10000) // 100 NGN in kobo
	DefaultTransferRetries   = 3
	MaxTransferNoteLength    = 140
	MaxIdempotencyKeyLength  = 128

	DefaultPlatformAccountID = "platform-fees"
	DefaultEventExchange     = "wallet.events"

	RoutingKeyTransferCompleted = "transfer.completed"
)

type TransferOptions struct {
	PlatformAccountID string
	MinAmount         int64
	MaxAmount         int64 // zero means only the int64 range bounds an amount
	MaxRetries        int
	RatePerMinute     int
	IdempotencyTTL    time.Duration
	IdempotencyStale  time.Duration
	EventExchange     string
}

// TransferEngine moves money between two accounts and skims the platform fee, as one
// atomic unit in the store.
type TransferEngine struct {
	repo      store.Repository
	numbers   *AccountNumbers
	fees      FeePolicy
	limiter   RateLimiter
	publisher rabbitmq.Publisher
	opts      TransferOptions
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	logger    *slog.Logger
}

func NewTransferEngine(
	repo store.Repository,
	numbers *AccountNumbers,
	fees FeePolicy,
	limiter RateLimiter,
	publisher rabbitmq.Publisher,
	opts TransferOptions,
	logger *slog.Logger,
) *TransferEngine {
	if fees == nil {
		fees = FlatFee{Fee: DefaultTransferFee}
	}
	if opts.PlatformAccountID == "" {
		opts.PlatformAccountID = DefaultPlatformAccountID
	}
	if opts.MinAmount <= 0 {
		opts.MinAmount = DefaultMinTransferAmount
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultTransferRetries
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.IdempotencyStale <= 0 {
		opts.IdempotencyStale = 2 * time.Minute
	}
	if opts.EventExchange == "" {
		opts.EventExchange = DefaultEventExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TransferEngine{
		repo:      repo,
		numbers:   numbers,
		fees:      fees,
		limiter:   limiter,
		publisher: publisher,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
		logger:    logger.With("component", "transfer_engine"),
	}
}

// Quote prices a transfer of amount without touching any account.
func (e *TransferEngine) Quote(amount int64) (*domain.FeeQuote, error) {
	fee, err := e.price(amount)
	if err != nil {
		return nil, err
	}
	return &domain.FeeQuote{Amount: amount, Fee: fee, TotalDebited: amount + fee}, nil
}

// price validates amount and returns its fee. The amount plus fee always fits in
// an int64 once price succeeds.
func (e *TransferEngine) price(amount int64) (int64, error) {
	if amount <= 0 {
		return 0, domain.NewValidationError("amount", "must be a positive whole number of kobo")
	}
	if amount < e.opts.MinAmount {
		return 0, domain.NewValidationError("amount", fmt.Sprintf("must be at least %d kobo", e.opts.MinAmount))
	}
	if e.opts.MaxAmount > 0 && amount > e.opts.MaxAmount {
		return 0, domain.NewValidationError("amount", fmt.Sprintf("must be at most %d kobo", e.opts.MaxAmount))
	}
	fee := e.fees.FeeFor(amount)
	if fee < 0 || amount > math.MaxInt64-fee {
		return 0, domain.NewValidationError("amount", "exceeds the largest supported amount")
	}
	return fee, nil
}

func (e *TransferEngine) validate(req domain.TransferRequest) (int64, error) {
	if strings.TrimSpace(req.SenderAccountID) == "" {
		return 0, domain.NewValidationError("sender", "is required")
	}
	fee, err := e.price(req.Amount)
	if err != nil {
		return 0, err
	}
	if utf8.RuneCountInString(req.Note) > MaxTransferNoteLength {
		return 0, domain.NewValidationError("note", fmt.Sprintf("must be at most %d characters", MaxTransferNoteLength))
	}
	if len(req.IdempotencyKey) > MaxIdempotencyKeyLength {
		return 0, domain.NewValidationError("idempotency_key", fmt.Sprintf("must be at most %d characters", MaxIdempotencyKeyLength))
	}
	return fee, nil
}

// PreparedTransfer is a validated, priced transfer whose recipient has been resolved.
// Nothing has been reserved or moved yet.
type PreparedTransfer struct {
	sender *domain.Account
	params store.ExecuteTransferParams
}

// Quote reports what the prepared transfer will cost the sender.
func (p *PreparedTransfer) Quote() domain.FeeQuote {
	return domain.FeeQuote{Amount: p.params.Amount, Fee: p.params.Fee, TotalDebited: p.params.TotalDebited()}
}

// Prepare validates req, resolves the recipient and prices the transfer. Malformed
// input fails before any store access; an unknown or self-owned recipient fails
// before the caller is asked to authorize.
func (e *TransferEngine) Prepare(ctx context.Context, req domain.TransferRequest) (*PreparedTransfer, error) {
	req.Note = strings.TrimSpace(req.Note)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	fee, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	recipient, err := e.numbers.Resolve(ctx, req.SenderAccountID, req.RecipientAccountNumber)
	if err != nil {
		return nil, err
	}
	if err := enforceRateLimit(ctx, e.limiter, e.logger, ScopeTransferSubmit, req.SenderAccountID, e.opts.RatePerMinute); err != nil {
		return nil, err
	}
	sender, err := e.numbers.Assign(ctx, req.SenderAccountID)
	if err != nil {
		return nil, err
	}

	return &PreparedTransfer{
		sender: sender,
		params: store.ExecuteTransferParams{
			TransferID:             uuid.New(),
			SenderAccountID:        sender.ID,
			SenderAccountNumber:    *sender.AccountNumber,
			RecipientAccountID:     recipient.ID,
			RecipientAccountNumber: *recipient.AccountNumber,
			PlatformAccountID:      e.opts.PlatformAccountID,
			Amount:                 req.Amount,
			Fee:                    fee,
			Note:                   req.Note,
			IdempotencyKey:         req.IdempotencyKey,
		},
	}, nil
}

// Execute prepares and commits one transfer with no authorization step.
func (e *TransferEngine) Execute(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	prepared, err := e.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Commit(ctx, prepared)
}

// Commit moves the money for a prepared transfer.
//
// The insufficient-funds check runs once against the balance read during Prepare
// for a fast answer and again, authoritatively, under the store's row locks. Store
// conflicts are retried with backoff before surfacing as ErrConcurrentModification.
func (e *TransferEngine) Commit(ctx context.Context, prepared *PreparedTransfer) (*domain.TransferResult, error) {
	params := prepared.params
	params.CreatedAt = e.now()

	if params.IdempotencyKey != "" {
		replay, err := e.reserve(ctx, params)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	transfer, senderBalance, err := e.commit(ctx, prepared.sender, params)
	if err != nil {
		if params.IdempotencyKey != "" {
			if releaseErr := e.repo.ReleaseTransferIdempotency(context.WithoutCancel(ctx), params.SenderAccountID, params.IdempotencyKey, params.TransferID); releaseErr != nil {
				e.logger.Warn("idempotency release failed", "account_id", params.SenderAccountID, "error", releaseErr)
			}
		}
		return nil, err
	}

	e.logger.Info("transfer completed",
		"transfer_id", transfer.ID,
		"sender_account_id", transfer.SenderAccountID,
		"recipient_account_id", transfer.RecipientAccountID,
		"amount", transfer.Amount,
		"fee", transfer.Fee,
	)
	publishEvent(ctx, e.logger, e.publisher, e.opts.EventExchange, RoutingKeyTransferCompleted, domain.TransferCompletedEvent{
		EventID:                uuid.New(),
		TransferID:             transfer.ID,
		SenderAccountID:        transfer.SenderAccountID,
		SenderAccountNumber:    transfer.SenderAccountNumber,
		RecipientAccountID:     transfer.RecipientAccountID,
		RecipientAccountNumber: transfer.RecipientAccountNumber,
		Amount:                 transfer.Amount,
		Fee:                    transfer.Fee,
		TotalDebited:           transfer.TotalDebited,
		OccurredAt:             transfer.CreatedAt,
	})

	return &domain.TransferResult{Transfer: *transfer, SenderBalance: senderBalance}, nil
}

// reserve claims the idempotency key. It returns a non-nil result only when the key
// already completed and the original transfer should be replayed.
func (e *TransferEngine) reserve(ctx context.Context, params store.ExecuteTransferParams) (*domain.TransferResult, error) {
	completedID, acquired, err := e.repo.AcquireTransferIdempotency(ctx, store.AcquireIdempotencyParams{
		AccountID:     params.SenderAccountID,
		Key:           params.IdempotencyKey,
		RequestHash:   transferRequestHash(params),
		ReservationID: params.TransferID,
		TTL:           e.opts.IdempotencyTTL,
		StaleWindow:   e.opts.IdempotencyStale,
	})
	if err != nil {
		return nil, storeError("acquire idempotency key", err)
	}
	if acquired {
		return nil, nil
	}
	if completedID == nil {
		return nil, domain.ErrTransferInProgress
	}

	transfer, err := e.repo.FindTransferByID(ctx, *completedID)
	if err != nil {
		return nil, storeError("find replayed transfer", err)
	}
	sender, err := e.repo.FindAccountByID(ctx, params.SenderAccountID)
	if err != nil {
		return nil, storeError("find sender", err)
	}
	e.logger.Info("transfer replayed", "transfer_id", transfer.ID, "sender_account_id", sender.ID)
	return &domain.TransferResult{Transfer: *transfer, SenderBalance: sender.Balance, Replayed: true}, nil
}

func (e *TransferEngine) commit(ctx context.Context, sender *domain.Account, params store.ExecuteTransferParams) (*domain.Transfer, int64, error) {
	if total := params.TotalDebited(); sender.Balance < total {
		return nil, 0, &domain.InsufficientFundsError{Available: sender.Balance, Required: total}
	}

	var (
		transfer      *domain.Transfer
		senderBalance int64
	)
	err := withConflictRetry(ctx, e.opts.MaxRetries, e.sleep, func() error {
		var execErr error
		transfer, senderBalance, execErr = e.repo.ExecuteTransfer(ctx, params)
		if execErr != nil && errors.Is(execErr, store.ErrConflict) {
			e.logger.Warn("transfer conflict; retrying", "transfer_id", params.TransferID, "error", execErr)
		}
		return execErr
	})
	if err != nil {
		var insufficient *domain.InsufficientFundsError
		if errors.As(err, &insufficient) {
			e.logger.Info("transfer rejected", "sender_account_id", params.SenderAccountID, "reason", "insufficient_funds", "required", insufficient.Required)
		}
		return nil, 0, storeError("execute transfer", err)
	}
	return transfer, senderBalance, nil
}

// transferRequestHash fingerprints the payload bound to an idempotency key.
func transferRequestHash(params store.ExecuteTransferParams) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", params.RecipientAccountNumber, params.Amount, params.Note)))
	return hex.EncodeToString(sum[:])
}
