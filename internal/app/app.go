// Package app assembles the settlement engine from configuration, shared by
// the API server and the operator CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/josh-kwaku/marketplace-settlement/internal/config"
	"github.com/josh-kwaku/marketplace-settlement/internal/fee"
	"github.com/josh-kwaku/marketplace-settlement/internal/referral"
	"github.com/josh-kwaku/marketplace-settlement/internal/repository"
	"github.com/josh-kwaku/marketplace-settlement/internal/settlement"
)

type App struct {
	DB           *sql.DB
	Policy       *fee.Policy
	Ledger       *repository.LedgerRepository
	Events       *repository.SettlementEventRepository
	Idempotency  *repository.IdempotencyRepository
	Orchestrator *settlement.Orchestrator
	Reconciler   *settlement.Reconciler
}

// Open connects to Postgres and wires the engine. The caller closes DB.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	policy, err := fee.NewPolicy(cfg.FeeRates())
	if err != nil {
		return nil, fmt.Errorf("app.Open: %w", err)
	}

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		return nil, fmt.Errorf("app.Open: %w", err)
	}

	return New(db, cfg, policy, logger), nil
}

func New(db *sql.DB, cfg *config.Config, policy *fee.Policy, logger *slog.Logger) *App {
	ledger := repository.NewLedgerRepository(db)
	events := repository.NewSettlementEventRepository(db)

	adapters := []settlement.Adapter{
		settlement.NewJobAdapter(repository.NewJobRepository(db), repository.NewAgreementRepository(db)),
		settlement.NewProductDealAdapter(repository.NewProductDealRepository(db), repository.NewProductRepository(db)),
		settlement.NewToolRentalAdapter(repository.NewToolRentalRepository(db)),
	}

	orchestrator := settlement.NewOrchestrator(
		policy,
		referral.NewResolver(repository.NewAccountRepository(db), policy),
		ledger,
		events,
		settlement.PlatformAccounts{
			FeeAccountID: cfg.PlatformFeeAccountID,
			TaxAccountID: cfg.TaxAccountID,
		},
		cfg.StoreTimeout,
		adapters...,
	)

	return &App{
		DB:           db,
		Policy:       policy,
		Ledger:       ledger,
		Events:       events,
		Idempotency:  repository.NewIdempotencyRepository(db),
		Orchestrator: orchestrator,
		Reconciler:   settlement.NewReconciler(orchestrator, logger, cfg.ReconcileInterval, cfg.ReconcileGrace, adapters...),
	}
}
