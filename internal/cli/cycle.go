package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MintTrader/MinTrader/internal/app"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
)

// NewCycleCmd runs one decision cycle and commits it.
func NewCycleCmd() *cobra.Command {
	var (
		o       overrides
		cycleID int64
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one decision cycle",
		Long: `Run analysts, debate, decision, risk and execution for every symbol,
then commit the portfolio and the cycle trace. Re-running a committed cycle is a no-op.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Logging.Level)

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if cycleID == 0 {
				cycleID = model.CycleIDFromTime(time.Now(), cfg.CycleBucket())
			}
			symbols := a.Watchlist(cmd.Context())
			if len(symbols) == 0 {
				return fmt.Errorf("no symbols: set trading.symbols, trading.watchlist_top or --symbols")
			}

			trace, err := a.Pipeline.RunCycle(cmd.Context(), cycleID, symbols)
			if errors.Is(err, model.ErrCycleAlreadyCommitted) {
				fmt.Fprintf(cmd.OutOrStdout(), "cycle %d already committed\n", cycleID)
				err = nil
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, trace)
			}
			printTrace(cmd.OutOrStdout(), trace)
			return nil
		},
	}

	o.bind(cmd, true)
	cmd.Flags().Int64Var(&cycleID, "cycle-id", 0, "cycle id (YYYYMMDDhhmm); derived from the clock when omitted")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the trace as JSON")
	return cmd
}

func printTrace(w io.Writer, trace *model.RunTrace) {
	if trace == nil {
		return
	}
	header := fmt.Sprintf("cycle %d", trace.CycleID)
	if trace.DryRun {
		header += " (dry run)"
	}
	if trace.Recovered {
		header += " (recovered)"
	}
	fmt.Fprintln(w, header)

	for _, s := range trace.Symbols {
		fmt.Fprintf(w, "  %-6s %-4s %5d  %-8s", s.Symbol, s.Decision.Action, s.Decision.Quantity, s.Outcome)
		if s.Order != nil {
			fmt.Fprintf(w, "  filled %d @ %s", s.Order.FilledQuantity, s.Order.AvgPrice.StringFixed(2))
		}
		if s.FailureReason != "" {
			fmt.Fprintf(w, "  %s", s.FailureReason)
		}
		fmt.Fprintln(w)
	}

	for _, o := range trace.Settled {
		fmt.Fprintf(w, "  settled %s %s %d @ %s from cycle %d\n", o.Symbol, o.Side, o.FilledQuantity, o.AvgPrice.StringFixed(2), o.CycleID)
	}

	counts := trace.Counts()
	fmt.Fprintf(w, "executed %d, hold %d, rejected %d, failed %d\n",
		counts[model.OutcomeExecuted], counts[model.OutcomeHold],
		counts[model.OutcomeRejected], counts[model.OutcomeFailed])
}
