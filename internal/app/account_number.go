package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"unicode"

	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

const (
	DefaultAccountNumberPrefix      = "LAN"
	DefaultAccountNumberDigits      = 8
	DefaultAccountNumberMaxAttempts = 5

	displayGroupSize = 4
)

type AccountNumberOptions struct {
	Prefix      string
	Digits      int
	MaxAttempts int
}

// AccountNumbers generates, assigns and resolves human-shareable account numbers.
// Canonical numbers are the uppercase prefix followed by Digits decimal digits.
type AccountNumbers struct {
	repo        store.Repository
	prefix      string
	digits      int
	maxAttempts int
	random      io.Reader
	logger      *slog.Logger
}

func NewAccountNumbers(repo store.Repository, opts AccountNumberOptions, logger *slog.Logger) *AccountNumbers {
	prefix := strings.ToUpper(strings.TrimSpace(opts.Prefix))
	if prefix == "" {
		prefix = DefaultAccountNumberPrefix
	}
	if opts.Digits <= 0 {
		opts.Digits = DefaultAccountNumberDigits
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultAccountNumberMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountNumbers{
		repo:        repo,
		prefix:      prefix,
		digits:      opts.Digits,
		maxAttempts: opts.MaxAttempts,
		random:      rand.Reader,
		logger:      logger.With("component", "account_numbers"),
	}
}

// Generate returns a fresh random canonical number. It does not check uniqueness.
func (a *AccountNumbers) Generate() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.digits)), nil)
	n, err := rand.Int(a.random, limit)
	if err != nil {
		return "", fmt.Errorf("generate account number: %w", err)
	}
	suffix := n.String()
	return a.prefix + strings.Repeat("0", a.digits-len(suffix)) + suffix, nil
}

// Assign opens the account if needed and gives it a number. Each candidate is
// claimed with a conditional write; a collision draws a new candidate until
// maxAttempts is spent.
func (a *AccountNumbers) Assign(ctx context.Context, accountID string) (*domain.Account, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, domain.NewValidationError("account_id", "is required")
	}
	account, err := a.repo.EnsureAccount(ctx, accountID)
	if err != nil {
		return nil, storeError("ensure account", err)
	}
	if account.HasAccountNumber() {
		return account, nil
	}

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		candidate, err := a.Generate()
		if err != nil {
			return nil, err
		}
		claimed, err := a.repo.ClaimAccountNumber(ctx, accountID, candidate)
		if errors.Is(err, store.ErrAccountNumberTaken) {
			a.logger.Debug("account number collision", "account_id", accountID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, storeError("claim account number", err)
		}
		if claimed.HasAccountNumber() {
			return claimed, nil
		}
	}

	a.logger.Error("account number space exhausted", "account_id", accountID, "attempts", a.maxAttempts)
	return nil, domain.ErrIdentifierExhausted
}

// Normalize strips display separators, uppercases, and checks the canonical shape.
func (a *AccountNumbers) Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '-', '.', '_', '/':
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	normalized := b.String()
	if !a.isCanonical(normalized) {
		return "", domain.NewValidationError("account_number", fmt.Sprintf("must be %s followed by %d digits", a.prefix, a.digits))
	}
	return normalized, nil
}

func (a *AccountNumbers) isCanonical(number string) bool {
	if len(number) != len(a.prefix)+a.digits || !strings.HasPrefix(number, a.prefix) {
		return false
	}
	for _, c := range number[len(a.prefix):] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Format renders a canonical number in display form, e.g. LAN04718822 -> LAN-0471-8822.
// Anything that is not canonical is returned unchanged.
func (a *AccountNumbers) Format(number string) string {
	if !a.isCanonical(number) {
		return number
	}
	digits := number[len(a.prefix):]
	parts := []string{a.prefix}
	for len(digits) > displayGroupSize {
		parts = append(parts, digits[:displayGroupSize])
		digits = digits[displayGroupSize:]
	}
	parts = append(parts, digits)
	return strings.Join(parts, "-")
}

// Resolve maps user input to an account other than the caller's. Malformed input is
// rejected before any store access.
func (a *AccountNumbers) Resolve(ctx context.Context, callerID string, raw string) (*domain.Account, error) {
	number, err := a.Normalize(raw)
	if err != nil {
		return nil, err
	}
	account, err := a.repo.FindAccountByNumber(ctx, number)
	if err != nil {
		return nil, storeError("find account by number", err)
	}
	if account.ID == callerID {
		return nil, domain.ErrSelfTransfer
	}
	return account, nil
}
