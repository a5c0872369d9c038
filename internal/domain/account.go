/**
 * @description
 * This file defines the account models for the wallet-service. An account is the
 * per-seller balance record that transfers, withdrawals and sale settlements mutate.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (kobo), which avoids
 *   floating-point drift in money arithmetic.
 * - The account ID is the owner's identity from the auth provider; it is opaque here.
 */

package domain

import "time"

// Account maps to the `accounts` table.
type Account struct {
	ID            string         `json:"id"`
	AccountNumber *string        `json:"account_number,omitempty"`
	Balance       int64          `json:"balance"` // in kobo
	Payout        *PayoutDetails `json:"payout,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HasAccountNumber reports whether a number has been assigned yet.
func (a *Account) HasAccountNumber() bool {
	return a != nil && a.AccountNumber != nil && *a.AccountNumber != ""
}

// PayoutDetails holds the bank destination used by the external withdrawal flow.
type PayoutDetails struct {
	BankName      string `json:"bank_name"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// AccountSummary is the view returned to the account owner.
type AccountSummary struct {
	ID                   string         `json:"id"`
	AccountNumber        string         `json:"account_number"`
	DisplayAccountNumber string         `json:"display_account_number"`
	Balance              int64          `json:"balance"`
	BalanceFormatted     string         `json:"balance_formatted"`
	PINSet               bool           `json:"pin_set"`
	Payout               *PayoutDetails `json:"payout,omitempty"`
}

// RecipientPreview is returned when a sender looks up an account number before paying.
type RecipientPreview struct {
	AccountNumber        string `json:"account_number"`
	DisplayAccountNumber string `json:"display_account_number"`
}
