/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/stock/*       Ledger operations and read models
  /api/requests/*    Request lifecycle
  /api/loans/*       Loan lifecycle
  /api/alerts        Recent watcher alerts
  /api/admin/*       Reconciliation
  /api/scheduler/*   Job introspection

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Ledger operations and read models
		r.Route("/stock", func(r chi.Router) {
			r.Post("/receive", h.ReceiveStock)
			r.Post("/withdraw", h.WithdrawStock)
			r.Post("/transfer", h.TransferStock)
			r.Post("/adjust", h.AdjustStock)
			r.Post("/reject", h.RejectBatch)
			r.Get("/balances", h.ListBalances)
			r.Get("/balances/{location}", h.ListBalancesAt)
			r.Get("/batches", h.ListBatches)
			r.Get("/transactions", h.ListTransactions)
		})

		// Request lifecycle
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/escalate", h.EscalateRequest)
			r.Post("/{id}/fulfill", h.FulfillRequest)
			r.Post("/{id}/expire", h.ExpireRequest)
		})

		// Loan lifecycle
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/", h.CreateLoan)
			r.Get("/{id}", h.GetLoan)
			r.Post("/{id}/pickup", h.PickupLoan)
			r.Post("/{id}/return", h.ReturnLoan)
		})

		// Watcher alerts
		r.Get("/alerts", h.ListAlerts)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", h.TriggerReconcile)
		})

		// Scheduler introspection
		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/jobs", h.ListJobs)
			r.Post("/jobs/{id}/run", h.RunJob)
		})
	})

	return r
}
