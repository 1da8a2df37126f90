/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the management dashboard

ROUTE GROUPS:
  /api/buildings/*      Buildings, apartments, expenses, payments,
                        shares, monthly balances, chain, recalculation
  /api/apartments/*     Per-apartment reads (balance, ledger history)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Building routes
		r.Route("/buildings", func(r chi.Router) {
			r.Post("/", h.SaveBuilding)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBuilding)

				r.Get("/apartments", h.ListApartments)
				r.Post("/apartments", h.SaveApartment)

				r.Get("/expenses", h.ListExpenses)
				r.Post("/expenses", h.CreateExpense)

				r.Get("/payments", h.ListPayments)
				r.Post("/payments", h.RecordPayment)

				r.Post("/shares/{month}", h.CalculateShares)

				r.Get("/balances", h.ListMonthlyBalances)
				r.Post("/balances/{year}/{month}", h.ComputeMonthlyBalance)
				r.Post("/balances/{year}/{month}/close", h.CloseMonth)

				r.Get("/chain/verify", h.VerifyChain)
				r.Post("/recalculate", h.Recalculate)

				r.Get("/configs", h.ListRecurringConfigs)
				r.Post("/configs", h.SaveRecurringConfig)
			})
		})

		// Apartment routes
		r.Route("/apartments/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetApartmentBalance)
			r.Get("/transactions", h.GetApartmentTransactions)
		})
	})

	return r
}
