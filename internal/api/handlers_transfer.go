package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/money"
)

type quoteRequest struct {
	Amount int64 `json:"amount"`
}

type transferResponse struct {
	Transfer               domain.Transfer `json:"transfer"`
	SenderBalance          int64           `json:"sender_balance"`
	SenderBalanceFormatted string          `json:"sender_balance_formatted"`
	Replayed               bool            `json:"replayed"`
}

// QuoteTransferHandler returns the fee and total debit for an amount.
func (h *WalletHandlers) QuoteTransferHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	var req quoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	quote, err := h.service.QuoteTransfer(req.Amount)
	if err != nil {
		h.writeServiceError(w, "quote_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// CreateTransferHandler authorizes with the PIN and moves money to another seller.
// A replayed idempotency key answers 200 with the original transfer.
func (h *WalletHandlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req domain.P2PTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := h.service.Transfer(r.Context(), accountID, req)
	if err != nil {
		h.logger.Warn("transfer failed", "endpoint", "create_transfer", "sender_account_id", accountID, "error", err)
		h.writeServiceError(w, "create_transfer", err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, transferResponse{
		Transfer:               result.Transfer,
		SenderBalance:          result.SenderBalance,
		SenderBalanceFormatted: money.Format(result.SenderBalance),
		Replayed:               result.Replayed,
	})
}

// ListTransfersHandler returns one page of the caller's history, newest first.
func (h *WalletHandlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid limit: must be a positive integer")
			return
		}
		limit = parsed
	}

	page, err := h.service.ListTransfers(r.Context(), accountID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		h.writeServiceError(w, "list_transfers", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetTransferHandler returns a receipt for a transfer the caller took part in.
func (h *WalletHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	transferID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "transfer_not_found", "Transfer not found")
		return
	}
	receipt, err := h.service.GetReceipt(r.Context(), accountID, transferID)
	if err != nil {
		h.writeServiceError(w, "get_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// CreateWithdrawalHandler authorizes with the PIN and debits an approved withdrawal.
func (h *WalletHandlers) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req domain.WithdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	adjustment, err := h.service.Withdraw(r.Context(), accountID, req)
	if err != nil {
		h.logger.Warn("withdrawal failed", "endpoint", "create_withdrawal", "account_id", accountID, "error", err)
		h.writeServiceError(w, "create_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, adjustment)
}
