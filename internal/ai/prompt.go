package ai

import (
	"fmt"
	"sort"
	"strings"
)

const replyFormat = `

Ответ строго в JSON (один объект):
{
  "stance": "bullish" | "bearish" | "neutral",
  "confidence": 0-100,
  "argument": "краткое обоснование",
  "findings": ["факт 1", "факт 2"]
}`

var systemPrompts = map[string]string{
	"market_analyst": `Ты — технический аналитик российского фондового рынка (MOEX).
Оцени краткосрочную динамику цены и объёмов по одной бумаге.
Опирайся только на приведённые данные, не придумывай цифры.`,

	"fundamental_analyst": `Ты — фундаментальный аналитик российского фондового рынка (MOEX).
Оцени бумагу по доступным фундаментальным параметрам (сектор, размер выпуска, лот, уровень листинга).
Если данных недостаточно — ставь neutral и низкую уверенность.`,

	"sentiment_analyst": `Ты — аналитик рыночных настроений.
Оцени настроение участников рынка по бумаге на основе динамики цены, объёмов и тона новостей.`,

	"news_analyst": `Ты — новостной аналитик российского фондового рынка.
Оцени влияние свежих новостей на бумагу. Нет релевантных новостей — neutral с низкой уверенностью.`,

	"bull": `Ты — исследователь-«бык». Строй самый сильный аргумент в пользу покупки бумаги,
опираясь на отчёты аналитиков, и отвечай на доводы «медведя».
Уверенность — насколько силён твой аргумент после учёта контраргументов. stance всегда "bullish".`,

	"bear": `Ты — исследователь-«медведь». Строй самый сильный аргумент против покупки бумаги,
опираясь на отчёты аналитиков, и отвечай на доводы «быка».
Уверенность — насколько силён твой аргумент после учёта контраргументов. stance всегда "bearish".`,

	"trader": `Ты — трейдер. Тебе дан итог дебатов и предложенная сделка.
Ты не можешь сменить направление сделки, только подтвердить её или снизить уверенность.
stance повторяет направление тезиса.`,

	"risk": `Ты — риск-менеджер портфеля. Оцени предложенную сделку с учётом текущего портфеля.
Ты можешь предложить уменьшить количество ("quantity") или отклонить сделку (confidence 0).
Не увеличивай объём сделки.`,
}

// SystemPrompt returns the role prompt with the reply contract appended.
func SystemPrompt(role string) (string, error) {
	p, ok := systemPrompts[role]
	if !ok {
		return "", fmt.Errorf("no prompt for role %q", role)
	}
	return p + replyFormat, nil
}

func BuildUserPrompt(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Бумага: %s\n\n", in.Symbol))

	if s := in.Snapshot; s != nil {
		sb.WriteString("## Рыночные данные\n")
		sb.WriteString(fmt.Sprintf("Цена: %s (на %s)\n", s.LastPrice.StringFixed(2), s.AsOf.Format("2006-01-02 15:04")))
		sb.WriteString(fmt.Sprintf("Изменение: 1д %+.1f%% / 3д %+.1f%% / 1нед %+.1f%%\n", s.Change1d, s.Change3d, s.Change1w))
		sb.WriteString(fmt.Sprintf("Объём 24ч: %.0f\n\n", s.Volume24h))

		if len(s.Fundamentals) > 0 {
			sb.WriteString("## Параметры инструмента\n")
			keys := make([]string, 0, len(s.Fundamentals))
			for k := range s.Fundamentals {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				sb.WriteString(fmt.Sprintf("- %s: %s\n", k, s.Fundamentals[k]))
			}
			sb.WriteString("\n")
		}

		if len(s.News) > 0 {
			sb.WriteString("## Новости за 24ч\n")
			for _, n := range s.News {
				sb.WriteString(fmt.Sprintf("- %s\n", n))
			}
		} else {
			sb.WriteString("## Новости за 24ч\nРелевантных новостей не найдено.\n")
		}
		sb.WriteString("\n")
	}

	if m := in.Memory; m != nil {
		sb.WriteString("## Прошлый цикл\n")
		if d := m.Decision; d != nil {
			line := fmt.Sprintf("Решение цикла %d: %s", m.CycleID, d.Action)
			if d.Quantity > 0 {
				line += fmt.Sprintf(" %d шт", d.Quantity)
			}
			if m.Outcome != "" {
				line += fmt.Sprintf(", итог %s", m.Outcome)
			}
			if d.Reason != "" {
				line += fmt.Sprintf(" (%s)", d.Reason)
			}
			sb.WriteString(line + "\n")
		}
		if p := m.Position; p != nil {
			sb.WriteString(fmt.Sprintf("Позиция: %d шт, ср.цена %s\n", p.Quantity, p.AverageCost.StringFixed(2)))
		} else {
			sb.WriteString("Позиции нет\n")
		}
		sb.WriteString("Сохраняй последовательность с прошлым решением, если данные его не опровергают.\n\n")
	}

	if len(in.Reports) > 0 {
		sb.WriteString("## Отчёты аналитиков\n")
		for _, r := range in.Reports {
			if r.Failed {
				sb.WriteString(fmt.Sprintf("- %s: нет данных\n", r.Dimension))
				continue
			}
			sb.WriteString(fmt.Sprintf("- %s: %s (уверенность %.0f%%)\n", r.Dimension, r.Stance, r.Confidence*100))
			for _, f := range r.Findings {
				sb.WriteString(fmt.Sprintf("  - %s\n", f))
			}
		}
		sb.WriteString("\n")
	}

	if len(in.Turns) > 0 {
		sb.WriteString("## Ход дебатов\n")
		for _, t := range in.Turns {
			sb.WriteString(fmt.Sprintf("- раунд %d, %s (%.0f%%): %s\n", t.Round, t.Speaker, t.Confidence*100, t.Argument))
		}
		sb.WriteString("\n")
	}

	if th := in.Thesis; th != nil {
		sb.WriteString(fmt.Sprintf("## Тезис\n%s, уверенность %.0f%%\n%s\n\n", th.Stance, th.Confidence*100, th.Rationale))
	}

	if d := in.Decision; d != nil {
		sb.WriteString(fmt.Sprintf("## Предложенная сделка\n%s %d шт по ~%s, вес %s\n\n",
			d.Action, d.Quantity, d.ReferencePrice.StringFixed(2), d.Weight.StringFixed(4)))
	}

	if in.Decision != nil || len(in.Positions) > 0 {
		sb.WriteString("## Портфель\n")
		sb.WriteString(fmt.Sprintf("Доля кэша: %.1f%%\n", in.CashShare))
		for _, p := range in.Positions {
			sb.WriteString(fmt.Sprintf("- %s: %d шт, ср.цена %s\n", p.Symbol, p.Quantity, p.AverageCost.StringFixed(2)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Проанализируй и выдай ответ в JSON.")

	return sb.String()
}
