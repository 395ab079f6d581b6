package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/storage"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitConflict, ExitCode(fmt.Errorf("commit: %w", storage.ErrVersionConflict)))
	assert.Equal(t, ExitFailure, ExitCode(fmt.Errorf("commit: %w", model.ErrCommitFailed)))
	assert.Equal(t, ExitFailure, ExitCode(model.ErrStaleCycle))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestOverrides_FlagsWinOverFile(t *testing.T) {
	path := writeConfig(t, `
ai:
  provider: openai
  api_key: sk-test
trading:
  broker: paper
  symbols: [SBER]
  watchlist_top: 10
state:
  backend: sqlite
`)

	var o overrides
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	o.bind(cmd, true)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", path, "--symbols", "gazp, lkoh", "--provider", "rules", "--store", "memory", "--dry-run",
	}))

	cfg, err := o.load(cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"GAZP", "LKOH"}, cfg.Trading.Symbols)
	assert.Zero(t, cfg.Trading.WatchlistTop)
	assert.Equal(t, "rules", cfg.AI.Provider)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.True(t, cfg.Trading.DryRun)
}

func TestOverrides_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
ai:
  provider: rules
trading:
  broker: carrier-pigeon
`)

	var o overrides
	cmd := &cobra.Command{Use: "test"}
	o.bind(cmd, false)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path}))

	_, err := o.load(cmd)
	assert.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
}

func TestPortfolioReport_ColdStart(t *testing.T) {
	path := writeConfig(t, `
ai:
  provider: rules
trading:
  broker: paper
  market_data: moex
  starting_cash: 50000
state:
  backend: memory
`)

	cmd := NewPortfolioCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"report", "--config", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Денежные средства: 50000.00 ₽")
	assert.Contains(t, out.String(), "Позиций нет")
}

func TestPrintTrace(t *testing.T) {
	var out bytes.Buffer
	printTrace(&out, &model.RunTrace{
		CycleID: 202601051000,
		DryRun:  true,
		Symbols: []model.SymbolTrace{
			{Symbol: "SBER", Decision: model.Decision{Action: model.ActionHold}, Outcome: model.OutcomeHold, FailureReason: "dry run: would buy 10"},
			{Symbol: "GAZP", Decision: model.Decision{Action: model.ActionHold}, Outcome: model.OutcomeHold},
		},
		Settled: []model.OrderRecord{{Symbol: "LKOH", CycleID: 202601050900, Side: model.SideBuy, FilledQuantity: 2, AvgPrice: decimal.NewFromInt(7000)}},
	})

	text := out.String()
	assert.Contains(t, text, "cycle 202601051000 (dry run)")
	assert.Contains(t, text, "dry run: would buy 10")
	assert.Contains(t, text, "settled LKOH buy 2 @ 7000.00 from cycle 202601050900")
	assert.Contains(t, text, "executed 0, hold 2, rejected 0, failed 0")
}
