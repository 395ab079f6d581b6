package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
)

// Sender is the part of the bot API the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	bot     Sender
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return NewNotifierWithSender(bot, cfg.Telegram.ChatID, log)
}

func NewNotifierWithSender(bot Sender, chatID int64, log *logger.Logger) *Notifier {
	return &Notifier{
		bot:     bot,
		chatID:  chatID,
		enabled: true,
		logger:  log,
	}
}

func (n *Notifier) NotifyFill(rec model.OrderRecord) {
	emoji, side := "🟢", "BUY"
	if rec.Side == model.SideSell {
		emoji, side = "🔴", "SELL"
	}
	status := ""
	if rec.Status == model.OrderPartial {
		status = fmt.Sprintf(" (частично, %d из %d)", rec.FilledQuantity, rec.Quantity)
	}
	msg := fmt.Sprintf("%s *%s* %s%s\nЦена: %s ₽\nКоличество: %d\nСумма: %s ₽\nЦикл: %d",
		emoji, side, rec.Symbol, status,
		rec.AvgPrice.StringFixed(2), rec.FilledQuantity, rec.Notional().StringFixed(2), rec.CycleID)
	n.send(msg)
}

func (n *Notifier) NotifyCycle(trace *model.RunTrace, st *model.PortfolioState) {
	counts := trace.Counts()

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *Цикл %d* завершён", trace.CycleID)
	if trace.Recovered {
		sb.WriteString(" (восстановлен)")
	}
	fmt.Fprintf(&sb, "\nИсполнено: %d, удержание: %d, отклонено: %d, ошибки: %d",
		counts[model.OutcomeExecuted], counts[model.OutcomeHold],
		counts[model.OutcomeRejected], counts[model.OutcomeFailed])
	fmt.Fprintf(&sb, "\nДенежные средства: %s ₽, позиций: %d", st.Cash.StringFixed(2), len(st.Positions))

	for _, o := range trace.Settled {
		fmt.Fprintf(&sb, "\n↩️ %s: учтена сделка цикла %d (%s %d)", o.Symbol, o.CycleID, o.Side, o.FilledQuantity)
	}
	for _, s := range trace.Symbols {
		if s.Decision.Forced && s.Outcome == model.OutcomeExecuted {
			fmt.Fprintf(&sb, "\n🛑 %s: %s", s.Symbol, s.Decision.Reason)
		}
		if s.Outcome == model.OutcomeFailed {
			fmt.Fprintf(&sb, "\n⚠️ %s: %s", s.Symbol, s.FailureReason)
		}
	}
	n.send(sb.String())
}

func (n *Notifier) NotifyError(context string, err error) {
	msg := fmt.Sprintf("⚠️ *Ошибка* [%s]\n%v", context, err)
	n.send(msg)
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(message)
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}
