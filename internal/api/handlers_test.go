package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret      = "test-hmac-secret"
	testInternalKey = "internal-key"
)

type testServer struct {
	handler http.Handler
	repo    *store.MemoryRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := store.NewMemoryRepository()

	numbers := app.NewAccountNumbers(repo, app.AccountNumberOptions{}, logger)
	pins := app.NewPINGate(repo, nil, app.PINOptions{HashCost: bcrypt.MinCost}, logger)
	engine := app.NewTransferEngine(repo, numbers, app.FlatFee{Fee: 50}, nil, nil, app.TransferOptions{MinAmount: 100}, logger)
	history := app.NewHistory(repo, numbers)
	adjustments := app.NewAdjustments(repo, nil, "", 0, logger)
	service := app.NewService(repo, numbers, pins, engine, history, adjustments, logger)
	require.NoError(t, service.EnsurePlatformAccount(t.Context(), app.DefaultPlatformAccountID))

	verifier, err := NewTokenVerifier(AuthOptions{HMACSecret: testSecret})
	require.NoError(t, err)

	handler := WalletRoutes(NewWalletHandlers(service, logger), RouterOptions{
		Auth:           AuthMiddleware(verifier),
		InternalAPIKey: testInternalKey,
	})
	return &testServer{handler: handler, repo: repo}
}

func signHS256(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, accountID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		req.Header.Set("Authorization", "Bearer "+signHS256(t, testSecret, accountID))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) internal(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWalletRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/wallet/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/wallet/account", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, "wrong-secret", "seller-a"))
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[errorResponse](t, rec).Code)
}

func TestInternalRoutesRequireKey(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/sales/credit", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/internal/sales/credit", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Internal-API-Key", "nope")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransferFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.internal(t, http.MethodPost, "/internal/sales/credit", domain.SaleCredit{SaleReference: "sale-1", AccountID: "seller-a", Amount: 10000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/wallet/account", "seller-b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recipient := decode[domain.AccountSummary](t, rec)

	rec = s.do(t, http.MethodGet, "/wallet/accounts/resolve?number="+recipient.DisplayAccountNumber, "seller-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, recipient.AccountNumber, decode[domain.RecipientPreview](t, rec).AccountNumber)

	transfer := domain.P2PTransferRequest{RecipientAccountNumber: recipient.DisplayAccountNumber, Amount: 3000, TransferPIN: "1234", IdempotencyKey: "tap-1"}
	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", transfer)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = s.do(t, http.MethodPost, "/wallet/pin", "seller-a", domain.CreatePINRequest{PIN: "1234", ConfirmPIN: "1234"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/wallet/pin", "seller-a", domain.CreatePINRequest{PIN: "1234", ConfirmPIN: "1234"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/wallet/transfers/quote", "seller-a", quoteRequest{Amount: 3000})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3050), decode[domain.FeeQuote](t, rec).TotalDebited)

	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", transfer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[transferResponse](t, rec)
	assert.Equal(t, int64(6950), created.SenderBalance)
	assert.Equal(t, "₦69.50", created.SenderBalanceFormatted)

	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", transfer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[transferResponse](t, rec).Replayed)

	rec = s.do(t, http.MethodGet, "/wallet/transfers?limit=10", "seller-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[domain.TransferPage](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(50), page.Items[0].Fee)

	rec = s.do(t, http.MethodGet, "/wallet/transfers/"+created.Transfer.ID.String(), "seller-b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	receipt := decode[domain.TransferView](t, rec)
	assert.Equal(t, domain.TransferDirectionReceived, receipt.Direction)
	assert.Zero(t, receipt.Fee)

	rec = s.do(t, http.MethodGet, "/wallet/transfers/"+created.Transfer.ID.String(), "seller-c", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/wallet/transfers/not-a-uuid", "seller-a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransferErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.repo.SetBalance("seller-a", 1000)
	rec := s.do(t, http.MethodGet, "/wallet/account", "seller-b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recipient := decode[domain.AccountSummary](t, rec)
	rec = s.do(t, http.MethodPost, "/wallet/pin", "seller-a", domain.CreatePINRequest{PIN: "1234", ConfirmPIN: "1234"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", domain.P2PTransferRequest{RecipientAccountNumber: recipient.AccountNumber, Amount: 5000, TransferPIN: "1234"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "insufficient_funds", body.Code)
	require.NotNil(t, body.Shortfall)
	assert.Equal(t, int64(4050), *body.Shortfall)

	// Requests that cannot succeed are rejected before the PIN is checked, so the
	// wrong PINs below cost nothing.
	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", domain.P2PTransferRequest{RecipientAccountNumber: "garbage!", Amount: 500, TransferPIN: "0000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode[errorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", domain.P2PTransferRequest{RecipientAccountNumber: "LAN00000001", Amount: 500, TransferPIN: "0000"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", domain.P2PTransferRequest{RecipientAccountNumber: recipient.AccountNumber, Amount: math.MaxInt64 - 10, TransferPIN: "0000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/wallet/account", "seller-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sender := decode[domain.AccountSummary](t, rec)
	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", domain.P2PTransferRequest{RecipientAccountNumber: sender.AccountNumber, Amount: 500, TransferPIN: "0000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", domain.P2PTransferRequest{RecipientAccountNumber: recipient.AccountNumber, Amount: 500, TransferPIN: "0000"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body = decode[errorResponse](t, rec)
	assert.Equal(t, "pin_rejected", body.Code)
	require.NotNil(t, body.RemainingAttempts)
	assert.Equal(t, 2, *body.RemainingAttempts)

	s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", domain.P2PTransferRequest{RecipientAccountNumber: recipient.AccountNumber, Amount: 500, TransferPIN: "0001"})
	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", domain.P2PTransferRequest{RecipientAccountNumber: recipient.AccountNumber, Amount: 500, TransferPIN: "0002"})
	require.Equal(t, http.StatusLocked, rec.Code)
	assert.NotNil(t, decode[errorResponse](t, rec).LockedUntil)

	rec = s.do(t, http.MethodPost, "/wallet/transfers", "seller-a", []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTransfersRejectsBadParams(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/wallet/transfers?limit=abc", "seller-a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/wallet/transfers?cursor=%25%25", "seller-a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithdrawalAndInternalRoutes(t *testing.T) {
	s := newTestServer(t)
	s.repo.SetBalance("seller-a", 10000)
	rec := s.do(t, http.MethodPost, "/wallet/pin", "seller-a", domain.CreatePINRequest{PIN: "1234", ConfirmPIN: "1234"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/wallet/withdrawals", "seller-a", domain.WithdrawalRequest{WithdrawalID: "wd-1", Amount: 4000, TransferPIN: "1234"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(6000), decode[domain.BalanceAdjustment](t, rec).BalanceAfter)

	rec = s.internal(t, http.MethodPost, "/internal/withdrawals/debit", domain.WithdrawalDebit{WithdrawalID: "wd-2", AccountID: "seller-a", Amount: 7000})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = s.internal(t, http.MethodDelete, "/internal/accounts/seller-a/pin", struct{}{})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/wallet/pin", "seller-a", domain.CreatePINRequest{PIN: "4321", ConfirmPIN: "4321"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestUpdatePayout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/wallet/account/payout", "seller-a", domain.PayoutDetails{BankCode: "058"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payout := domain.PayoutDetails{BankName: "GTBank", BankCode: "058", AccountNumber: "0123456789", AccountName: "Ada Obi"}
	rec = s.do(t, http.MethodPut, "/wallet/account/payout", "seller-a", payout)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/wallet/account", "seller-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[domain.AccountSummary](t, rec)
	require.NotNil(t, summary.Payout)
	assert.Equal(t, payout, *summary.Payout)
}
