package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/points-engine/fixture"
)

// NewProcessCommand creates the process command.
func NewProcessCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one batch pass over due documents",
		Long: `Run one batch pass: every new, edited or voided sale and return
inside an active eligibility period is turned into ledger entries and the
affected balances are reconciled.

Per-document failures are logged and counted; the command only fails when
the pass itself cannot run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			res, err := a.engine.ProcessAll(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

// NewRecalcCommand creates the recalc command.
func NewRecalcCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recalc <cust-code>",
		Short: "Rebuild one customer's ledger from their documents",
		Long: `Rebuild one customer: every entry that uses no points is deleted,
manual credits included, and the customer's documents are reprocessed with
the current conditions, keeping their doc numbers. Redemptions and their
cancellations are left alone. The balance is then reconciled from the ledger.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			bal, err := a.engine.RecalcCustomer(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, bal)
		},
	}
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load store-front data from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := fixture.Load(args[0])
			if err != nil {
				return err
			}

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			sum, err := fixture.Apply(ctx, a.store, f, time.Now())
			if err != nil {
				return err
			}
			opts.log.Info().Str("file", args[0]).Bool("reset", f.Reset).Msg("Fixture applied")
			return printJSON(cmd, sum)
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
