package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

const (
	RoutingKeyWithdrawalApproved = "withdrawal.approved"
	RoutingKeySaleSettled        = "sale.settled"
)

// CollaboratorConsumer applies balance changes announced by the withdrawal and
// purchase workflows. Bodies that can never succeed are dead-lettered, store
// failures are requeued and settled business outcomes are acked.
type CollaboratorConsumer struct {
	adjustments *Adjustments
	publisher   rabbitmq.Publisher
	exchange    string
	timeout     time.Duration
	logger      *slog.Logger
}

func NewCollaboratorConsumer(adjustments *Adjustments, publisher rabbitmq.Publisher, exchange string, logger *slog.Logger) *CollaboratorConsumer {
	if exchange == "" {
		exchange = DefaultEventExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CollaboratorConsumer{
		adjustments: adjustments,
		publisher:   publisher,
		exchange:    exchange,
		timeout:     15 * time.Second,
		logger:      logger.With("component", "collaborator_consumer"),
	}
}

// Handlers maps routing keys to handlers for rabbitmq.Consumer.Start.
func (c *CollaboratorConsumer) Handlers() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		RoutingKeyWithdrawalApproved: c.HandleWithdrawalApproved,
		RoutingKeySaleSettled:        c.HandleSaleSettled,
	}
}

func (c *CollaboratorConsumer) HandleWithdrawalApproved(ctx context.Context, body []byte) rabbitmq.Disposition {
	var event domain.WithdrawalApprovedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("malformed withdrawal event", "error", err)
		return rabbitmq.DeadLetter
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.adjustments.DebitWithdrawal(ctx, domain.WithdrawalDebit{
		WithdrawalID: event.WithdrawalID,
		AccountID:    event.AccountID,
		Amount:       event.Amount,
	})
	if err == nil {
		return rabbitmq.Ack
	}

	var insufficient *domain.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient), errors.Is(err, domain.ErrAccountNotFound):
		publishEvent(ctx, c.logger, c.publisher, c.exchange, RoutingKeyWithdrawalDebitFailed, domain.WithdrawalDebitFailedEvent{
			WithdrawalID: event.WithdrawalID,
			AccountID:    event.AccountID,
			Amount:       event.Amount,
			Reason:       err.Error(),
			OccurredAt:   time.Now().UTC(),
		})
		return rabbitmq.Ack
	}
	return c.dispositionFor("withdrawal", event.WithdrawalID, err)
}

func (c *CollaboratorConsumer) HandleSaleSettled(ctx context.Context, body []byte) rabbitmq.Disposition {
	var event domain.SaleSettledEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("malformed sale event", "error", err)
		return rabbitmq.DeadLetter
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.adjustments.CreditSale(ctx, domain.SaleCredit{
		SaleReference: event.SaleReference,
		AccountID:     event.SellerID,
		Amount:        event.Amount,
	})
	if err == nil {
		return rabbitmq.Ack
	}
	return c.dispositionFor("sale", event.SaleReference, err)
}

// dispositionFor requeues store and timeout failures, dead-letters events whose
// payload is invalid and acks every other rejection.
func (c *CollaboratorConsumer) dispositionFor(kind, reference string, err error) rabbitmq.Disposition {
	var (
		unavailable *domain.StoreUnavailableError
		invalid     *domain.ValidationError
	)
	switch {
	case errors.As(err, &unavailable), errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, context.DeadlineExceeded):
		c.logger.Warn("collaborator event failed; requeuing", "kind", kind, "reference", reference, "error", err)
		return rabbitmq.Requeue
	case errors.As(err, &invalid):
		c.logger.Error("collaborator event invalid; dead-lettering", "kind", kind, "reference", reference, "error", err)
		return rabbitmq.DeadLetter
	}
	c.logger.Error("collaborator event rejected; dropping", "kind", kind, "reference", reference, "error", err)
	return rabbitmq.Ack
}
