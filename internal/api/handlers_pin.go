package api

import (
	"net/http"

	"github.com/transfa/wallet-service/internal/domain"
)

// CreatePINHandler performs first-time transfer PIN setup.
func (h *WalletHandlers) CreatePINHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req domain.CreatePINRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.service.CreatePIN(r.Context(), accountID, req); err != nil {
		h.writeServiceError(w, "create_pin", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}
