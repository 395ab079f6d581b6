package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MintTrader/MinTrader/internal/app"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/scheduler"
	"github.com/MintTrader/MinTrader/internal/web"
)

// NewBotCmd runs scheduled cycles and the status server until interrupted.
func NewBotCmd() *cobra.Command {
	var o overrides

	cmd := &cobra.Command{
		Use:           "bot",
		Short:         "Run decision cycles on a schedule with a status server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Logging.Level)

			mode := "LIVE"
			switch {
			case cfg.Trading.DryRun:
				mode = "DRY RUN"
			case cfg.Trading.Broker == "paper":
				mode = "PAPER"
			case cfg.IsSandbox():
				mode = "SANDBOX"
			}
			log.Info("starting mintrader", "mode", mode)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.NewScheduler(a.Pipeline, a.Watchlist, a.Notifier, cfg, log)
			webServer := web.NewServer(a.Repo, a.Market, a.Broker, cfg, log)

			done := make(chan struct{})
			go func() {
				defer close(done)
				sched.Run(ctx)
			}()

			go func() {
				if err := webServer.Start(); err != nil {
					log.Error("web server error", "error", err)
				}
			}()

			a.Notifier.NotifyStatus(fmt.Sprintf("🤖 MinTrader запущен (%s)", mode))

			<-ctx.Done()
			log.Info("shutdown signal received")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := webServer.Shutdown(shutdownCtx); err != nil {
				log.Error("web server shutdown error", "error", err)
			}

			// let an in-flight cycle finish its commit
			select {
			case <-done:
			case <-shutdownCtx.Done():
				log.Warn("scheduler did not stop in time")
			}

			a.Notifier.NotifyStatus("🛑 MinTrader остановлен")
			log.Info("mintrader stopped")
			return nil
		},
	}

	o.bind(cmd, false)
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "decide and evaluate risk without placing orders or committing")
	return cmd
}
