/**
 * @description
 * This file defines the transfer ledger models. A Transfer is the immutable record
 * written by the transfer engine in the same atomic unit as the three balance
 * mutations it describes.
 *
 * @notes
 * - A Transfer row only exists for a committed transfer; failed attempts never
 *   reach storage, so Status is always `completed`.
 * - TotalDebited is stored rather than derived so receipts never depend on the
 *   fee policy that was active at read time.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

const TransferStatusCompleted = "completed"

// Transfer maps to the `transfers` table.
type Transfer struct {
	ID                     uuid.UUID `json:"id"`
	SenderAccountID        string    `json:"sender_account_id"`
	SenderAccountNumber    string    `json:"sender_account_number"`
	RecipientAccountID     string    `json:"recipient_account_id"`
	RecipientAccountNumber string    `json:"recipient_account_number"`
	Amount                 int64     `json:"amount"`        // in kobo
	Fee                    int64     `json:"fee"`           // in kobo
	TotalDebited           int64     `json:"total_debited"` // amount + fee
	Note                   string    `json:"note,omitempty"`
	Status                 string    `json:"status"`
	IdempotencyKey         *string   `json:"-"`
	CreatedAt              time.Time `json:"created_at"`
}

// TransferRequest is the input to the transfer engine. SenderAccountID always comes
// from the authenticated caller, never from the request body.
type TransferRequest struct {
	SenderAccountID        string
	RecipientAccountNumber string
	Amount                 int64
	Note                   string
	IdempotencyKey         string
}

// TransferResult is returned by the engine on success.
type TransferResult struct {
	Transfer      Transfer `json:"transfer"`
	SenderBalance int64    `json:"sender_balance"`
	Replayed      bool     `json:"replayed"`
}

// FeeQuote describes what a transfer of Amount would cost the sender.
type FeeQuote struct {
	Amount       int64 `json:"amount"`
	Fee          int64 `json:"fee"`
	TotalDebited int64 `json:"total_debited"`
}

// P2PTransferRequest is the DTO for incoming transfer API requests.
type P2PTransferRequest struct {
	RecipientAccountNumber string `json:"recipient_account_number"`
	Amount                 int64  `json:"amount"` // in kobo
	Note                   string `json:"note"`
	TransferPIN            string `json:"pin"`
	IdempotencyKey         string `json:"idempotency_key"`
}

// TransferDirection is relative to the account viewing history.
type TransferDirection string

const (
	TransferDirectionSent     TransferDirection = "sent"
	TransferDirectionReceived TransferDirection = "received"
)

// TransferView is the history/receipt projection of a Transfer for one participant.
type TransferView struct {
	ID                        uuid.UUID         `json:"id"`
	Direction                 TransferDirection `json:"direction"`
	CounterpartyAccountNumber string            `json:"counterparty_account_number"`
	SenderAccountNumber       string            `json:"sender_account_number"`
	RecipientAccountNumber    string            `json:"recipient_account_number"`
	Amount                    int64             `json:"amount"`
	Fee                       int64             `json:"fee"`
	TotalDebited              int64             `json:"total_debited"`
	AmountFormatted           string            `json:"amount_formatted"`
	FeeFormatted              string            `json:"fee_formatted"`
	TotalDebitedFormatted     string            `json:"total_debited_formatted"`
	Note                      string            `json:"note,omitempty"`
	Status                    string            `json:"status"`
	CreatedAt                 time.Time         `json:"created_at"`
}

// TransferPage is one page of history, newest first.
type TransferPage struct {
	Items      []TransferView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// TransferCursor is the keyset position after the last returned row.
type TransferCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// TransferListOptions bounds a history query.
type TransferListOptions struct {
	Limit int
	After *TransferCursor
}
