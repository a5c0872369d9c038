package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/wallet-service/internal/domain"
)

// InternalDebitWithdrawalHandler applies a withdrawal debit on behalf of the
// withdrawal workflow. Replays of the same withdrawal id are no-ops.
func (h *WalletHandlers) InternalDebitWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.WithdrawalDebit
	if !decodeJSON(w, r, &req) {
		return
	}
	adjustment, err := h.service.DebitWithdrawal(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "internal_debit_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, adjustment)
}

// InternalCreditSaleHandler settles a book sale into the seller's balance.
func (h *WalletHandlers) InternalCreditSaleHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCredit
	if !decodeJSON(w, r, &req) {
		return
	}
	adjustment, err := h.service.CreditSale(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "internal_credit_sale", err)
		return
	}
	writeJSON(w, http.StatusOK, adjustment)
}

// InternalResetPINHandler deletes an account's PIN so the owner can set a new one.
func (h *WalletHandlers) InternalResetPINHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if err := h.service.ResetPIN(r.Context(), accountID); err != nil {
		h.writeServiceError(w, "internal_reset_pin", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
