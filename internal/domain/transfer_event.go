package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransferCompletedEvent is published after a transfer commits.
type TransferCompletedEvent struct {
	EventID                uuid.UUID `json:"event_id"`
	TransferID             uuid.UUID `json:"transfer_id"`
	SenderAccountID        string    `json:"sender_account_id"`
	SenderAccountNumber    string    `json:"sender_account_number"`
	RecipientAccountID     string    `json:"recipient_account_id"`
	RecipientAccountNumber string    `json:"recipient_account_number"`
	Amount                 int64     `json:"amount"`
	Fee                    int64     `json:"fee"`
	TotalDebited           int64     `json:"total_debited"`
	OccurredAt             time.Time `json:"occurred_at"`
}

// BalanceAdjustedEvent is published after a collaborator debit or credit is applied.
type BalanceAdjustedEvent struct {
	EventID      uuid.UUID      `json:"event_id"`
	AdjustmentID uuid.UUID      `json:"adjustment_id"`
	AccountID    string         `json:"account_id"`
	Kind         AdjustmentKind `json:"kind"`
	Reference    string         `json:"reference"`
	Amount       int64          `json:"amount"`
	BalanceAfter int64          `json:"balance_after"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// WithdrawalApprovedEvent is consumed from the external withdrawal workflow once an
// admin approves a request.
type WithdrawalApprovedEvent struct {
	EventID      string    `json:"event_id"`
	WithdrawalID string    `json:"withdrawal_id"`
	AccountID    string    `json:"account_id"`
	Amount       int64     `json:"amount"`
	ApprovedAt   time.Time `json:"approved_at"`
}

// SaleSettledEvent is consumed from the purchase flow.
type SaleSettledEvent struct {
	EventID       string    `json:"event_id"`
	SaleReference string    `json:"sale_reference"`
	SellerID      string    `json:"seller_id"`
	Amount        int64     `json:"amount"`
	SettledAt     time.Time `json:"settled_at"`
}

// WithdrawalDebitFailedEvent is published when an approved withdrawal could not be debited.
type WithdrawalDebitFailedEvent struct {
	WithdrawalID string    `json:"withdrawal_id"`
	AccountID    string    `json:"account_id"`
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason"`
	OccurredAt   time.Time `json:"occurred_at"`
}
