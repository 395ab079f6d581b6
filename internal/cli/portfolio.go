package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/MintTrader/MinTrader/internal/app"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/portfolio"
	"github.com/MintTrader/MinTrader/internal/storage"
)

// NewPortfolioCmd inspects the committed portfolio.
func NewPortfolioCmd() *cobra.Command {
	var o overrides

	cmd := &cobra.Command{
		Use:           "portfolio",
		Short:         "Inspect the committed portfolio state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	o.bind(cmd, false)

	open := func(cmd *cobra.Command) (*app.App, error) {
		cfg, err := o.load(cmd)
		if err != nil {
			return nil, err
		}
		return app.New(cmd.Context(), cfg, logger.New(cfg.Logging.Level))
	}

	var asJSON bool
	report := &cobra.Command{
		Use:   "report",
		Short: "Value the portfolio at current prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := loadOrEmpty(cmd, a)
			if err != nil {
				return err
			}
			var trace *model.RunTrace
			if st.LastCycleID != 0 {
				if trace, err = a.Repo.LoadTrace(cmd.Context(), st.LastCycleID); err != nil {
					a.Logger.Warn("load last trace", "cycle_id", st.LastCycleID, "error", err)
				}
			}

			prices := make(map[string]decimal.Decimal, len(st.Positions))
			for _, sym := range st.Symbols() {
				p, err := a.Market.Quote(cmd.Context(), sym)
				if err != nil {
					a.Logger.Warn("quote unavailable, valuing at cost", "symbol", sym, "error", err)
					continue
				}
				prices[sym] = p
			}

			r := portfolio.BuildReport(st, trace, prices)
			if asJSON {
				return writeJSON(cmd, r)
			}
			fmt.Fprint(cmd.OutOrStdout(), r.Text())
			return nil
		},
	}
	report.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare persisted positions with the broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := loadOrEmpty(cmd, a)
			if err != nil {
				return err
			}
			drifts, err := portfolio.Reconcile(cmd.Context(), st, a.Broker)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(drifts) == 0 {
				fmt.Fprintf(out, "no drift at cycle %d\n", st.LastCycleID)
				return nil
			}
			fmt.Fprintf(out, "%d drift(s) at cycle %d:\n", len(drifts), st.LastCycleID)
			for _, d := range drifts {
				fmt.Fprintf(out, "  %-6s persisted %d, broker %d (%+d)\n", d.Symbol, d.Persisted, d.Broker, d.Delta())
			}
			return nil
		},
	}

	trace := &cobra.Command{
		Use:   "trace [CYCLE_ID]",
		Short: "Print a committed cycle trace, or list cycle ids",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				ids, err := a.Repo.ListTraceIDs(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cycle id %q: %w", args[0], err)
			}
			t, err := a.Repo.LoadTrace(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load trace %d: %w", id, err)
			}
			return writeJSON(cmd, t)
		},
	}

	cmd.AddCommand(report, reconcile, trace)
	return cmd
}

func loadOrEmpty(cmd *cobra.Command, a *app.App) (*model.PortfolioState, error) {
	st, err := a.Repo.LoadPortfolio(cmd.Context())
	if errors.Is(err, storage.ErrNotFound) {
		return model.NewPortfolioState(decimal.NewFromFloat(a.Config.Trading.StartingCash)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}
	return st, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
