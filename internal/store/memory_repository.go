package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
)

// MemoryRepository is an in-process Repository used for local runs and tests.
// Balance mutations take per-account locks in sorted id order, the same order the
// PostgreSQL implementation uses for its row locks.
type MemoryRepository struct {
	mu          sync.Mutex // protects every map below
	accounts    map[string]*domain.Account
	byNumber    map[string]string
	credentials map[string]*domain.SecurityCredential
	transfers   []domain.Transfer
	idempotency map[string]*memoryIdempotencyRow
	adjustments map[string]domain.BalanceAdjustment

	locksMu      sync.Mutex
	accountLocks map[string]*sync.Mutex

	now func() time.Time
}

type memoryIdempotencyRow struct {
	requestHash   string
	status        string
	reservationID uuid.UUID
	transferID    *uuid.UUID
	expiresAt     time.Time
	updatedAt     time.Time
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:     make(map[string]*domain.Account),
		byNumber:     make(map[string]string),
		credentials:  make(map[string]*domain.SecurityCredential),
		idempotency:  make(map[string]*memoryIdempotencyRow),
		adjustments:  make(map[string]domain.BalanceAdjustment),
		accountLocks: make(map[string]*sync.Mutex),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

var _ Repository = (*MemoryRepository)(nil)
var _ Repository = (*PostgresRepository)(nil)

func (m *MemoryRepository) accountLock(accountID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if _, exists := m.accountLocks[accountID]; !exists {
		m.accountLocks[accountID] = &sync.Mutex{}
	}
	return m.accountLocks[accountID]
}

// lockAccounts locks each distinct id in sorted order and returns the unlock func.
func (m *MemoryRepository) lockAccounts(ids ...string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	locked := make([]*sync.Mutex, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		l := m.accountLock(id)
		l.Lock()
		locked = append(locked, l)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

func copyAccount(a *domain.Account) *domain.Account {
	out := *a
	if a.AccountNumber != nil {
		n := *a.AccountNumber
		out.AccountNumber = &n
	}
	if a.Payout != nil {
		p := *a.Payout
		out.Payout = &p
	}
	return &out
}

func copyCredential(c *domain.SecurityCredential) *domain.SecurityCredential {
	out := *c
	if c.LastFailedAt != nil {
		t := *c.LastFailedAt
		out.LastFailedAt = &t
	}
	if c.LockedUntil != nil {
		t := *c.LockedUntil
		out.LockedUntil = &t
	}
	return &out
}

// SetBalance overwrites an account balance. Only seeding code and tests call it.
func (m *MemoryRepository) SetBalance(accountID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		now := m.now()
		account = &domain.Account{ID: accountID, CreatedAt: now, UpdatedAt: now}
		m.accounts[accountID] = account
	}
	account.Balance = balance
}

func (m *MemoryRepository) EnsureAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		now := m.now()
		account = &domain.Account{ID: accountID, CreatedAt: now, UpdatedAt: now}
		m.accounts[accountID] = account
	}
	return copyAccount(account), nil
}

func (m *MemoryRepository) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (m *MemoryRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byNumber[accountNumber]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return copyAccount(m.accounts[id]), nil
}

func (m *MemoryRepository) ClaimAccountNumber(ctx context.Context, accountID string, accountNumber string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if account.HasAccountNumber() {
		return copyAccount(account), nil
	}
	if _, taken := m.byNumber[accountNumber]; taken {
		return nil, ErrAccountNumberTaken
	}
	number := accountNumber
	account.AccountNumber = &number
	account.UpdatedAt = m.now()
	m.byNumber[accountNumber] = accountID
	return copyAccount(account), nil
}

func (m *MemoryRepository) UpdatePayoutDetails(ctx context.Context, accountID string, payout domain.PayoutDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	account.Payout = &payout
	account.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) GetSecurityCredential(ctx context.Context, accountID string) (*domain.SecurityCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	credential, ok := m.credentials[accountID]
	if !ok || credential.PINHash == "" {
		return nil, domain.ErrPINNotSet
	}
	return copyCredential(credential), nil
}

func (m *MemoryRepository) CreateTransferPIN(ctx context.Context, accountID string, pinHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[accountID]; !ok {
		return domain.ErrAccountNotFound
	}
	if _, exists := m.credentials[accountID]; exists {
		return domain.ErrPINAlreadySet
	}
	m.credentials[accountID] = &domain.SecurityCredential{AccountID: accountID, PINHash: pinHash}
	return nil
}

func (m *MemoryRepository) RecordFailedPINAttempt(ctx context.Context, accountID string, maxAttempts int, lockout time.Duration) (*domain.SecurityCredential, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if lockout <= 0 {
		lockout = 15 * time.Minute
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	credential, ok := m.credentials[accountID]
	if !ok {
		return nil, domain.ErrPINNotSet
	}
	now := m.now()
	lockExpired := credential.LockedUntil != nil && !credential.LockedUntil.After(now)
	if lockExpired || (credential.LockedUntil == nil && credential.FailedAttempts >= maxAttempts) {
		credential.FailedAttempts = 1
	} else {
		credential.FailedAttempts++
	}
	credential.LastFailedAt = &now
	if credential.FailedAttempts >= maxAttempts {
		until := now.Add(lockout)
		credential.LockedUntil = &until
	} else {
		credential.LockedUntil = nil
	}
	return copyCredential(credential), nil
}

func (m *MemoryRepository) ResetPINFailureState(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	credential, ok := m.credentials[accountID]
	if !ok {
		return domain.ErrPINNotSet
	}
	credential.FailedAttempts = 0
	credential.LastFailedAt = nil
	credential.LockedUntil = nil
	return nil
}

func (m *MemoryRepository) DeleteTransferPIN(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[accountID]; !ok {
		return domain.ErrPINNotSet
	}
	delete(m.credentials, accountID)
	return nil
}

func (m *MemoryRepository) ExecuteTransfer(ctx context.Context, params ExecuteTransferParams) (*domain.Transfer, int64, error) {
	if err := params.validateAmounts(); err != nil {
		return nil, 0, err
	}
	credits := params.credits()
	ids := []string{params.SenderAccountID}
	for id := range credits {
		if id != params.SenderAccountID {
			ids = append(ids, id)
		}
	}
	unlock := m.lockAccounts(ids...)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if _, ok := m.accounts[id]; !ok {
			return nil, 0, domain.ErrAccountNotFound
		}
	}
	sender := m.accounts[params.SenderAccountID]
	total := params.TotalDebited()
	if sender.Balance < total {
		return nil, 0, &domain.InsufficientFundsError{Available: sender.Balance, Required: total}
	}
	for id, credit := range credits {
		after := m.accounts[id].Balance
		if id == params.SenderAccountID {
			after -= total
		}
		if !creditFits(after, credit) {
			return nil, 0, overflowError()
		}
	}

	var reservation *memoryIdempotencyRow
	if params.IdempotencyKey != "" {
		row, ok := m.idempotency[idempotencyMapKey(params.SenderAccountID, params.IdempotencyKey)]
		if !ok || row.status != idempotencyStatusProcessing || row.reservationID != params.TransferID {
			return nil, 0, domain.ErrTransferInProgress
		}
		reservation = row
	}

	now := m.now()
	sender.Balance -= total
	sender.UpdatedAt = now
	for id, credit := range credits {
		account := m.accounts[id]
		account.Balance += credit
		account.UpdatedAt = now
	}

	transfer := domain.Transfer{
		ID:                     params.TransferID,
		SenderAccountID:        params.SenderAccountID,
		SenderAccountNumber:    params.SenderAccountNumber,
		RecipientAccountID:     params.RecipientAccountID,
		RecipientAccountNumber: params.RecipientAccountNumber,
		Amount:                 params.Amount,
		Fee:                    params.Fee,
		TotalDebited:           total,
		Note:                   params.Note,
		Status:                 domain.TransferStatusCompleted,
		CreatedAt:              params.CreatedAt,
	}
	if reservation != nil {
		key := params.IdempotencyKey
		transfer.IdempotencyKey = &key
		id := transfer.ID
		reservation.status = idempotencyStatusCompleted
		reservation.transferID = &id
		reservation.updatedAt = now
	}
	m.transfers = append(m.transfers, transfer)
	return &transfer, sender.Balance, nil
}

func (m *MemoryRepository) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.transfers {
		if m.transfers[i].ID == transferID {
			transfer := m.transfers[i]
			return &transfer, nil
		}
	}
	return nil, domain.ErrTransferNotFound
}

func (m *MemoryRepository) ListTransfersByAccount(ctx context.Context, accountID string, opts domain.TransferListOptions) ([]domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]domain.Transfer, 0)
	for _, t := range m.transfers {
		if t.SenderAccountID != accountID && t.RecipientAccountID != accountID {
			continue
		}
		if opts.After != nil && !transferBefore(t, *opts.After) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		return transferBefore(matched[j], domain.TransferCursor{CreatedAt: matched[i].CreatedAt, ID: matched[i].ID})
	})
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// transferBefore reports whether t sorts strictly after cursor in newest-first order.
func transferBefore(t domain.Transfer, cursor domain.TransferCursor) bool {
	if !t.CreatedAt.Equal(cursor.CreatedAt) {
		return t.CreatedAt.Before(cursor.CreatedAt)
	}
	return t.ID.String() < cursor.ID.String()
}

func idempotencyMapKey(accountID, key string) string {
	return accountID + "\x00" + key
}

func (m *MemoryRepository) AcquireTransferIdempotency(ctx context.Context, params AcquireIdempotencyParams) (*uuid.UUID, bool, error) {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	staleWindow := params.StaleWindow
	if staleWindow <= 0 {
		staleWindow = 2 * time.Minute
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	mapKey := idempotencyMapKey(params.AccountID, params.Key)
	row, exists := m.idempotency[mapKey]
	if !exists {
		m.idempotency[mapKey] = &memoryIdempotencyRow{
			requestHash:   params.RequestHash,
			status:        idempotencyStatusProcessing,
			reservationID: params.ReservationID,
			expiresAt:     now.Add(ttl),
			updatedAt:     now,
		}
		return nil, true, nil
	}

	expired := row.expiresAt.Before(now)
	if !expired && row.requestHash != params.RequestHash {
		return nil, false, domain.ErrIdempotencyConflict
	}
	if row.status == idempotencyStatusCompleted && !expired {
		if row.transferID == nil {
			return nil, false, domain.ErrTransferInProgress
		}
		id := *row.transferID
		return &id, false, nil
	}
	if !expired && !row.updatedAt.Before(now.Add(-staleWindow)) {
		return nil, false, domain.ErrTransferInProgress
	}

	row.requestHash = params.RequestHash
	row.status = idempotencyStatusProcessing
	row.reservationID = params.ReservationID
	row.transferID = nil
	row.expiresAt = now.Add(ttl)
	row.updatedAt = now
	return nil, true, nil
}

func (m *MemoryRepository) ReleaseTransferIdempotency(ctx context.Context, accountID string, key string, reservationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapKey := idempotencyMapKey(accountID, key)
	if row, ok := m.idempotency[mapKey]; ok && row.status == idempotencyStatusProcessing && row.reservationID == reservationID {
		delete(m.idempotency, mapKey)
	}
	return nil
}

func (m *MemoryRepository) PurgeExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for k, row := range m.idempotency {
		if row.expiresAt.Before(now) {
			delete(m.idempotency, k)
			purged++
		}
	}
	return purged, nil
}

func adjustmentMapKey(kind domain.AdjustmentKind, reference string) string {
	return string(kind) + "\x00" + reference
}

func (m *MemoryRepository) ApplyAdjustment(ctx context.Context, params ApplyAdjustmentParams) (*domain.BalanceAdjustment, bool, error) {
	if params.Delta == 0 {
		return nil, false, domain.NewValidationError("amount", "must be non-zero")
	}
	if params.Delta == math.MinInt64 {
		return nil, false, overflowError()
	}

	unlock := m.lockAccounts(params.AccountID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[params.AccountID]
	if !ok {
		return nil, false, domain.ErrAccountNotFound
	}
	mapKey := adjustmentMapKey(params.Kind, params.Reference)
	if existing, ok := m.adjustments[mapKey]; ok {
		return &existing, false, nil
	}

	amount := params.Delta
	if amount < 0 {
		amount = -amount
		if account.Balance < amount {
			return nil, false, &domain.InsufficientFundsError{Available: account.Balance, Required: amount}
		}
	} else if !creditFits(account.Balance, amount) {
		return nil, false, overflowError()
	}
	account.Balance += params.Delta
	account.UpdatedAt = m.now()

	adjustment := domain.BalanceAdjustment{
		ID:           params.ID,
		AccountID:    params.AccountID,
		Kind:         params.Kind,
		Reference:    params.Reference,
		Amount:       amount,
		BalanceAfter: account.Balance,
		CreatedAt:    params.CreatedAt,
	}
	m.adjustments[mapKey] = adjustment
	return &adjustment, true, nil
}
