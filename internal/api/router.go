/**
 * @description
 * This file sets up the HTTP router for the wallet-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries what the router needs beyond the handlers.
type RouterOptions struct {
	Auth           func(http.Handler) http.Handler
	InternalAPIKey string
	AllowedOrigins []string
}

// WalletRoutes creates and returns a new router for the wallet service.
func WalletRoutes(h *WalletHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})

	// Group routes that require an authenticated seller.
	r.Route("/wallet", func(r chi.Router) {
		r.Use(opts.Auth)

		r.Get("/account", h.GetAccountHandler)
		r.Put("/account/payout", h.UpdatePayoutHandler)
		r.Get("/accounts/resolve", h.ResolveRecipientHandler)
		r.Post("/pin", h.CreatePINHandler)

		r.Post("/transfers/quote", h.QuoteTransferHandler)
		r.Post("/transfers", h.CreateTransferHandler)
		r.Get("/transfers", h.ListTransfersHandler)
		r.Get("/transfers/{id}", h.GetTransferHandler)

		r.Post("/withdrawals", h.CreateWithdrawalHandler)
	})

	// Server-to-server routes for the withdrawal and purchase collaborators.
	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey))

		r.Post("/withdrawals/debit", h.InternalDebitWithdrawalHandler)
		r.Post("/sales/credit", h.InternalCreditSaleHandler)
		r.Delete("/accounts/{id}/pin", h.InternalResetPINHandler)
	})

	return r
}
