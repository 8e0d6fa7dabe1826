package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josh-kwaku/marketplace-settlement/internal/app"
	"github.com/josh-kwaku/marketplace-settlement/internal/config"
	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/handler"
	"github.com/josh-kwaku/marketplace-settlement/internal/middleware"
)

var settleableRoutes = []struct {
	path string
	kind domain.TransactableKind
}{
	{"/jobs", domain.TransactableKindJob},
	{"/product-deals", domain.TransactableKindProductDeal},
	{"/tool-rentals", domain.TransactableKindToolRental},
}

func newRouter(a *app.App, cfg *config.Config) http.Handler {
	health := handler.NewHealthHandler(a.DB)
	settlements := handler.NewSettlementHandler(a.Orchestrator)
	ledger := handler.NewLedgerHandler(a.Ledger)
	fees := handler.NewFeeHandler(a.Policy)

	r := chi.NewRouter()
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Idempotent-Replayed"},
	}))

	r.Get("/health", health.Liveness)
	r.Get("/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.Idempotency(a.Idempotency))

		for _, sr := range settleableRoutes {
			r.Route(sr.path+"/{id}", func(r chi.Router) {
				r.Post("/complete", settlements.Complete(sr.kind))
				r.With(middleware.RequireOperator).Post("/dispute", settlements.Dispute(sr.kind))
			})
		}

		r.Get("/transactables/{kind}/{id}/ledger", ledger.BySource)
		r.Get("/accounts/{id}/ledger", ledger.ByAccount)
		r.Get("/fees/quote", fees.Quote)
	})

	return r
}
