package domain

import (
	"time"

	"github.com/google/uuid"
)

// AdjustmentKind identifies which collaborator moved a balance outside the transfer engine.
type AdjustmentKind string

const (
	AdjustmentWithdrawalDebit AdjustmentKind = "withdrawal_debit"
	AdjustmentSaleCredit      AdjustmentKind = "sale_credit"
)

// BalanceAdjustment maps to the `balance_adjustments` table. Reference is unique per
// kind, so a replayed collaborator event applies at most once.
type BalanceAdjustment struct {
	ID           uuid.UUID      `json:"id"`
	AccountID    string         `json:"account_id"`
	Kind         AdjustmentKind `json:"kind"`
	Reference    string         `json:"reference"`
	Amount       int64          `json:"amount"`
	BalanceAfter int64          `json:"balance_after"`
	CreatedAt    time.Time      `json:"created_at"`
}

// WithdrawalDebit asks for an approved withdrawal to be taken out of the account balance.
type WithdrawalDebit struct {
	WithdrawalID string `json:"withdrawal_id"`
	AccountID    string `json:"account_id"`
	Amount       int64  `json:"amount"`
}

// SaleCredit settles a book sale into the seller's balance.
type SaleCredit struct {
	SaleReference string `json:"sale_reference"`
	AccountID     string `json:"account_id"`
	Amount        int64  `json:"amount"`
}

// WithdrawalRequest is the DTO for a user-initiated, PIN-gated withdrawal debit.
type WithdrawalRequest struct {
	WithdrawalID string `json:"withdrawal_id"`
	Amount       int64  `json:"amount"`
	TransferPIN  string `json:"pin"`
}
