package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/marketplace-settlement/internal/app"
	"github.com/josh-kwaku/marketplace-settlement/internal/config"
	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/logging"
)

const operatorActorPrefix = "operator:"

type rootOptions struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "settlectl",
		Short: "Operate the marketplace settlement engine",
		Long: `settlectl previews fee splits, settles or disputes transactables and
inspects the ledger. Commands other than split and token read the same
environment as the API server (DATABASE_URL, JWT_SECRET, fee rates).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		newSplitCmd(),
		newTokenCmd(),
		newSettleCmd(opts),
		newDisputeCmd(opts),
		newLedgerCmd(opts),
		newReconcileCmd(opts),
	)
	return root
}

// openApp loads the environment config and connects to the database.
func openApp(ctx context.Context, opts *rootOptions) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.Init(os.Stderr, "settlectl", opts.logLevel, "cli")

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func parseKind(s string) (domain.TransactableKind, error) {
	kind := domain.TransactableKind(s)
	if !kind.IsValid() {
		return "", fmt.Errorf("unknown transactable kind %q (want job, product_deal or tool_rental)", s)
	}
	return kind, nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
