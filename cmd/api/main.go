package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josh-kwaku/marketplace-settlement/internal/app"
	"github.com/josh-kwaku/marketplace-settlement/internal/config"
	"github.com/josh-kwaku/marketplace-settlement/internal/logging"
)

const cachePruneInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init(os.Stdout, "settlement-api", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer a.DB.Close()

	rates := a.Policy.Rates()
	slog.Info("fee policy loaded",
		"platform_fee_rate", rates.PlatformFee,
		"gst_rate", rates.GST,
		"referral_rate", rates.Referral,
	)

	go a.Reconciler.Start(ctx)
	go pruneIdempotencyCache(ctx, a)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(a, cfg),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func pruneIdempotencyCache(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(cachePruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Idempotency.PruneExpired(ctx)
			if err != nil {
				slog.Error("failed to prune idempotency cache", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned idempotency cache", "deleted", n)
			}
		}
	}
}
