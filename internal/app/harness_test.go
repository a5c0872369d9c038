package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const testPlatformAccountID = "platform-fees"

type recordedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

type harness struct {
	repo        *store.MemoryRepository
	numbers     *AccountNumbers
	pins        *PINGate
	engine      *TransferEngine
	history     *History
	adjustments *Adjustments
	service     *Service
	publisher   *recordingPublisher
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

func newHarness(t *testing.T, fees FeePolicy, minAmount int64) *harness {
	t.Helper()
	repo := store.NewMemoryRepository()
	logger := discardLogger()
	publisher := &recordingPublisher{}

	numbers := NewAccountNumbers(repo, AccountNumberOptions{}, logger)
	pins := NewPINGate(repo, nil, PINOptions{HashCost: bcrypt.MinCost}, logger)
	engine := NewTransferEngine(repo, numbers, fees, nil, publisher, TransferOptions{
		PlatformAccountID: testPlatformAccountID,
		MinAmount:         minAmount,
	}, logger)
	engine.sleep = noSleep
	history := NewHistory(repo, numbers)
	adjustments := NewAdjustments(repo, publisher, "", 0, logger)
	adjustments.sleep = noSleep
	service := NewService(repo, numbers, pins, engine, history, adjustments, logger)

	_, err := numbers.Assign(context.Background(), testPlatformAccountID)
	require.NoError(t, err)

	return &harness{
		repo:        repo,
		numbers:     numbers,
		pins:        pins,
		engine:      engine,
		history:     history,
		adjustments: adjustments,
		service:     service,
		publisher:   publisher,
	}
}

// openAccount opens a numbered account with balance and returns its canonical number.
func (h *harness) openAccount(t *testing.T, accountID string, balance int64) string {
	t.Helper()
	account, err := h.numbers.Assign(context.Background(), accountID)
	require.NoError(t, err)
	h.repo.SetBalance(accountID, balance)
	return *account.AccountNumber
}

func (h *harness) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	account, err := h.repo.FindAccountByID(context.Background(), accountID)
	require.NoError(t, err)
	return account.Balance
}

func (h *harness) transferCount(t *testing.T, accountID string) int {
	t.Helper()
	transfers, err := h.repo.ListTransfersByAccount(context.Background(), accountID, domain.TransferListOptions{Limit: 1000})
	require.NoError(t, err)
	return len(transfers)
}
