/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request, echoed in error logs
  4. CORS:       Cross-origin requests for the coordinator UI

ROUTE GROUPS:
  /api/inventory/*       Lots, FEFO adjustments, summary, journal
  /api/hospitals/*       Hospital roster and hospital-side offers/requests
  /api/donors/*          Donor directory and donor-side offers/requests
  /api/donations         Donation history
  /api/offers/*          Offer reporting
  /api/blood-requests    Request listing
  /api/admin/*           Request status, expiry sweep
  /api/scenarios/*       Demo scenarios
  /api/health            Liveness with a database ping

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go, offers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultCORSOrigins is used when the handler was built without origins.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	origins := h.corsOrigins
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/lots", h.ListLots)
			r.Post("/lots", h.CreateLot)
			r.Delete("/lots/{id}", h.DeleteLot)
			r.Get("/summary", h.GetInventorySummary)
			r.Get("/movements", h.ListMovements)
			r.Post("/{bloodType}/adjust", h.AdjustInventory)
		})

		r.Route("/hospitals", func(r chi.Router) {
			r.Get("/", h.ListHospitals)
			r.Post("/", h.CreateHospital)
			r.Get("/{hospitalID}/offers", h.ListHospitalOffers)
			r.Post("/{hospitalID}/offers/{id}/confirm", h.ConfirmOffer)
			r.Post("/{hospitalID}/offers/{id}/reject", h.RejectOffer)
			r.Post("/{hospitalID}/blood-requests", h.CreateHospitalBloodRequest)
		})

		r.Route("/donors", func(r chi.Router) {
			r.Get("/", h.ListDonors)
			r.Post("/", h.CreateDonor)
			r.Get("/{donorID}/offers", h.ListDonorOffers)
			r.Post("/{donorID}/offers", h.CreateOffer)
			r.Post("/{donorID}/offers/{id}/cancel", h.CancelOffer)
			r.Post("/{donorID}/blood-requests", h.CreateDonorBloodRequest)
		})

		r.Post("/donations", h.RecordDonation)

		r.Route("/offers", func(r chi.Router) {
			r.Get("/", h.ListOffers)
			r.Get("/summary", h.GetOfferSummary)
		})

		r.Get("/blood-requests", h.ListBloodRequests)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/blood-requests/{id}/status", h.UpdateBloodRequestStatus)
			r.Post("/expiry/sweep", h.WriteOffExpired)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
