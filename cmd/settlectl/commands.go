package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/marketplace-settlement/internal/auth"
	"github.com/josh-kwaku/marketplace-settlement/internal/config"
	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
	"github.com/josh-kwaku/marketplace-settlement/internal/fee"
	"github.com/josh-kwaku/marketplace-settlement/internal/settlement"
)

func newSplitCmd() *cobra.Command {
	var schedulePath string

	cmd := &cobra.Command{
		Use:   "split AMOUNT",
		Short: "Preview the fee split of a gross amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gross, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("amount %q is not a decimal number", args[0])
			}

			rates := fee.DefaultRates()
			if schedulePath != "" {
				schedule, err := config.LoadFeeSchedule(schedulePath)
				if err != nil {
					return err
				}
				rates = schedule.Over(rates)
			}

			policy, err := fee.NewPolicy(rates)
			if err != nil {
				return err
			}
			q, err := policy.Quote(gross)
			if err != nil {
				return err
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintf(tw, "gross\t%s\n", q.Gross.StringFixed(2))
			fmt.Fprintf(tw, "platform fee (net)\t%s\n", q.PlatformFeeNet.StringFixed(2))
			fmt.Fprintf(tw, "gst\t%s\n", q.GST.StringFixed(2))
			fmt.Fprintf(tw, "platform fee (gross)\t%s\n", q.PlatformFeeGross.StringFixed(2))
			fmt.Fprintf(tw, "payee amount\t%s\n", q.PayeeAmount.StringFixed(2))
			fmt.Fprintf(tw, "referral commission\t%s\n", q.ReferralCommission.StringFixed(2))
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&schedulePath, "schedule", "", "Fee schedule TOML overriding the default rates")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		role   string
		secret string
		expiry time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token ACCOUNT_ID",
		Short: "Mint an API bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret is required")
			}
			r := auth.Role(role)
			if r != auth.RoleAccount && r != auth.RoleOperator {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.GenerateToken(args[0], r, secret, expiry)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(auth.RoleAccount), "Token role: account or operator")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret")
	cmd.Flags().DurationVar(&expiry, "expiry", time.Hour, "Token lifetime")
	return cmd
}

func newSettleCmd(opts *rootOptions) *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:   "settle KIND ID",
		Short: "Settle a transactable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.DB.Close()

			res, err := a.Orchestrator.Settle(cmd.Context(), kind, args[1], operatorActorPrefix+operator)
			if err != nil {
				var compErr *settlement.CompensationError
				if errors.As(err, &compErr) {
					fmt.Fprintf(cmd.ErrOrStderr(), "ledger and status disagree for %s %s; the reconciler will retry the dispute\n", kind, args[1])
				}
				return err
			}
			return printResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "cli", "Operator name recorded in the audit trail")
	return cmd
}

func newDisputeCmd(opts *rootOptions) *cobra.Command {
	var (
		operator string
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "dispute KIND ID",
		Short: "Flag an active transactable for review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return errors.New("--reason is required")
			}
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.DB.Close()

			res, err := a.Orchestrator.Dispute(cmd.Context(), kind, args[1], operatorActorPrefix+operator, reason)
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "cli", "Operator name recorded in the audit trail")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the transactable is disputed")
	return cmd
}

func newLedgerCmd(opts *rootOptions) *cobra.Command {
	var (
		account string
		limit   int
		offset  int
	)

	cmd := &cobra.Command{
		Use:   "ledger [KIND ID]",
		Short: "List ledger entries of a settlement or an account",
		Args: func(cmd *cobra.Command, args []string) error {
			if account != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.DB.Close()

			if account != "" {
				entries, total, err := a.Ledger.GetByAccountID(cmd.Context(), account, limit, offset)
				if err != nil {
					return err
				}
				if err := printEntries(cmd, entries); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d entries\n", len(entries), total)
				return nil
			}

			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			entries, err := a.Ledger.GetBySource(cmd.Context(), kind, args[1])
			if err != nil {
				return err
			}
			if err := printEntries(cmd, entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total %s\n", domain.SumLedgerEntries(entries).StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "List entries credited to this account instead")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size for --account")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset for --account")
	return cmd
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Dispute transactables left active with ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.DB.Close()

			n := a.Reconciler.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "disputed %d transactable(s)\n", n)
			return nil
		},
	}
}

func printResult(cmd *cobra.Command, res *settlement.Result) error {
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintf(tw, "%s\t%s\n", res.Kind, res.TransactableID)
	fmt.Fprintf(tw, "outcome\t%s\n", res.Outcome)
	if res.Fields != nil {
		fmt.Fprintf(tw, "platform fee\t%s\n", res.Fields.PlatformFee.StringFixed(2))
		fmt.Fprintf(tw, "gst\t%s\n", res.Fields.GST.StringFixed(2))
		fmt.Fprintf(tw, "payee amount\t%s\n", res.Fields.PayeeAmount.StringFixed(2))
	}
	if res.Referral != nil {
		fmt.Fprintf(tw, "referral\t%s -> %s\n", res.Referral.Amount.StringFixed(2), res.Referral.ReferrerID)
	}
	if res.Cause != nil {
		fmt.Fprintf(tw, "cause\t%v\n", res.Cause)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(res.Entries) > 0 {
		return printEntries(cmd, res.Entries)
	}
	return nil
}

func printEntries(cmd *cobra.Command, entries []domain.LedgerEntry) error {
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "KIND\tACCOUNT\tAMOUNT\tSOURCE\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%s\n",
			e.Kind, e.AccountID, e.Amount.StringFixed(2), e.SourceKind, e.SourceID,
			e.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
