/**
 * @description
 * This file contains the HTTP handlers for the wallet-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log/slog, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and typed errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
)

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service *app.Service
	logger  *slog.Logger
}

// NewWalletHandlers creates a new instance of WalletHandlers.
func NewWalletHandlers(service *app.Service, logger *slog.Logger) *WalletHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletHandlers{service: service, logger: logger.With("component", "api")}
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error             string     `json:"error"`
	Code              string     `json:"code"`
	RemainingAttempts *int       `json:"remaining_attempts,omitempty"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	Shortfall         *int64     `json:"shortfall,omitempty"`
	RetryAfterSeconds *int       `json:"retry_after_seconds,omitempty"`
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeServiceError maps an app-layer error onto a status code and body.
func (h *WalletHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var (
		validation   *domain.ValidationError
		insufficient *domain.InsufficientFundsError
		rejected     *domain.PINRejectedError
		locked       *domain.PINLockedError
		limited      *domain.RateLimitedError
		unavailable  *domain.StoreUnavailableError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", validation.Error())
	case errors.Is(err, domain.ErrSelfTransfer):
		writeError(w, http.StatusBadRequest, "self_transfer", err.Error())
	case errors.Is(err, domain.ErrPINMismatch):
		writeError(w, http.StatusBadRequest, "pin_mismatch", err.Error())
	case errors.Is(err, domain.ErrPINNotSet):
		writeError(w, http.StatusPreconditionFailed, "pin_not_set", "Transfer PIN is not set. Please create your PIN first.")
	case errors.As(err, &rejected):
		remaining := rejected.RemainingAttempts
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid transfer PIN.", Code: "pin_rejected", RemainingAttempts: &remaining})
	case errors.As(err, &locked):
		resp := errorResponse{Error: "Too many incorrect PIN attempts. Please wait and try again.", Code: "pin_locked"}
		if !locked.LockedUntil.IsZero() {
			until := locked.LockedUntil.UTC()
			resp.LockedUntil = &until
		}
		writeJSON(w, http.StatusLocked, resp)
	case errors.As(err, &insufficient):
		shortfall := insufficient.Shortfall()
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: "Insufficient funds.", Code: "insufficient_funds", Shortfall: &shortfall})
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", "Account not found")
	case errors.Is(err, domain.ErrTransferNotFound):
		writeError(w, http.StatusNotFound, "transfer_not_found", "Transfer not found")
	case errors.Is(err, domain.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, domain.ErrTransferInProgress):
		writeError(w, http.StatusConflict, "transfer_in_progress", err.Error())
	case errors.Is(err, domain.ErrPINAlreadySet):
		writeError(w, http.StatusConflict, "pin_already_set", err.Error())
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		retryAfter := limited.RetryAfterSeconds
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too many requests. Please slow down.", Code: "rate_limited", RetryAfterSeconds: &retryAfter})
	case errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusServiceUnavailable, "concurrent_modification", "The account is busy. Please try again.")
	case errors.As(err, &unavailable), errors.Is(err, domain.ErrIdentifierExhausted):
		h.logger.Error("store unavailable", "endpoint", endpoint, "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Service temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "timeout", "Request timed out")
	default:
		h.logger.Error("unhandled error", "endpoint", endpoint, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// callerID returns the authenticated account id or writes a 401.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := GetAccountID(r.Context())
	if !ok || accountID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Could not get account ID from context")
		return "", false
	}
	return accountID, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return false
	}
	return true
}

// GetAccountHandler returns the caller's account, opening it on first use.
func (h *WalletHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetAccountSummary(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "get_account", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// UpdatePayoutHandler stores the caller's withdrawal bank details.
func (h *WalletHandlers) UpdatePayoutHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	var payout domain.PayoutDetails
	if !decodeJSON(w, r, &payout) {
		return
	}
	if err := h.service.UpdatePayoutDetails(r.Context(), accountID, payout); err != nil {
		h.writeServiceError(w, "update_payout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// ResolveRecipientHandler previews the account behind ?number= before a transfer.
func (h *WalletHandlers) ResolveRecipientHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	preview, err := h.service.ResolveRecipient(r.Context(), accountID, r.URL.Query().Get("number"))
	if err != nil {
		h.writeServiceError(w, "resolve_recipient", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
