package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
)

type recordingSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		r.sent = append(r.sent, msg)
	}
	return tgbotapi.Message{}, r.err
}

func TestNotifyFill(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifierWithSender(s, 100, logger.Discard())

	n.NotifyFill(model.OrderRecord{
		Symbol:         "SBER",
		CycleID:        42,
		Side:           model.SideBuy,
		Quantity:       10,
		Status:         model.OrderPartial,
		FilledQuantity: 4,
		AvgPrice:       decimal.NewFromInt(250),
	})

	require.Len(t, s.sent, 1)
	assert.Equal(t, int64(100), s.sent[0].ChatID)
	assert.Contains(t, s.sent[0].Text, "*BUY* SBER (частично, 4 из 10)")
	assert.Contains(t, s.sent[0].Text, "Сумма: 1000.00")
}

func TestNotifyCycle_ListsFailures(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifierWithSender(s, 1, logger.Discard())

	trace := &model.RunTrace{CycleID: 42, Symbols: []model.SymbolTrace{
		{Symbol: "SBER", Outcome: model.OutcomeExecuted},
		{Symbol: "GAZP", Outcome: model.OutcomeFailed, FailureReason: "cycle timeout"},
	}}
	n.NotifyCycle(trace, model.NewPortfolioState(decimal.NewFromInt(9500)))

	require.Len(t, s.sent, 1)
	assert.Contains(t, s.sent[0].Text, "Исполнено: 1")
	assert.Contains(t, s.sent[0].Text, "GAZP: cycle timeout")
}

func TestNotifyCycle_SettledAndForcedExits(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifierWithSender(s, 1, logger.Discard())

	trace := &model.RunTrace{
		CycleID: 43,
		Symbols: []model.SymbolTrace{
			{Symbol: "GAZP", Outcome: model.OutcomeExecuted, Decision: model.Decision{Action: model.ActionSell, Forced: true, Reason: "stop-loss: -16.0% from cost 150.00"}},
		},
		Settled: []model.OrderRecord{{Symbol: "SBER", CycleID: 42, Side: model.SideBuy, FilledQuantity: 10}},
	}
	n.NotifyCycle(trace, model.NewPortfolioState(decimal.NewFromInt(9500)))

	require.Len(t, s.sent, 1)
	assert.Contains(t, s.sent[0].Text, "SBER: учтена сделка цикла 42 (buy 10)")
	assert.Contains(t, s.sent[0].Text, "GAZP: stop-loss")
}

func TestDisabledNotifierSendsNothing(t *testing.T) {
	n := NewNotifier(&config.Config{}, logger.Discard())
	assert.NotPanics(t, func() {
		n.NotifyError("cycle", errors.New("boom"))
	})
}
