package router

import (
	"net/http"

	"github.com/ahsann455/recap-render-ai/internal/auth"
	"github.com/ahsann455/recap-render-ai/internal/generation"
	"github.com/ahsann455/recap-render-ai/internal/ledger"
	"github.com/ahsann455/recap-render-ai/internal/middleware"
	"github.com/ahsann455/recap-render-ai/internal/payments"
)

type Handlers struct {
	Auth        *auth.Handler
	Credits     *ledger.Handler
	Payments    *payments.Handler
	Generations *generation.Handler
}

// New returns an http.Handler that serves the API under /api/v1. Everything
// except signup, login, the package catalogue and the payment webhook needs
// a bearer token accepted by tokens.
func New(h Handlers, tokens middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()
	authed := middleware.Authenticate(tokens)
	protect := func(fn http.HandlerFunc) http.Handler { return authed(fn) }

	const base = "/api/v1"

	mux.HandleFunc("POST "+base+"/auth/register", h.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", h.Auth.Login)
	mux.Handle("GET "+base+"/auth/me", protect(h.Auth.Me))

	mux.Handle("GET "+base+"/credits/balance", protect(h.Credits.GetBalance))
	mux.Handle("GET "+base+"/credits/transactions", protect(h.Credits.ListTransactions))
	mux.HandleFunc("GET "+base+"/credits/packages", h.Payments.ListPackages)
	mux.Handle("POST "+base+"/credits/calculate-cost", protect(h.Generations.CalculateCost))

	// The webhook is authenticated by the provider signature, not a token.
	mux.HandleFunc("POST "+base+"/payments/webhook", h.Payments.Webhook)
	mux.Handle("POST "+base+"/payments/intents", protect(h.Payments.CreateIntent))
	mux.Handle("POST "+base+"/payments/confirm", protect(h.Payments.Confirm))
	mux.Handle("GET "+base+"/payments", protect(h.Payments.ListPayments))
	mux.Handle("GET "+base+"/payments/{id}", protect(h.Payments.GetPayment))

	mux.Handle("POST "+base+"/generations", protect(h.Generations.Submit))
	mux.Handle("GET "+base+"/generations", protect(h.Generations.List))
	mux.Handle("GET "+base+"/generations/{id}", protect(h.Generations.Get))

	return mux
}
