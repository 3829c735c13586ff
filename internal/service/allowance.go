package service

import (
	"time"

	"covercard-api/internal/model"
)

// CanonicalWindowStart приводит момент времени к каноническому началу окна
// лимита. Все покупки одного календарного окна получают один и тот же
// window_start и делят одну запись AllowanceUsage; при переходе границы
// счет начинается с нуля, остаток прошлого окна не переносится.
func CanonicalWindowStart(unit model.WindowUnit, now time.Time) time.Time {
	now = now.UTC()

	switch unit {
	case model.WindowWeek:
		// Неделя начинается с понедельника
		offset := (int(now.Weekday()) + 6) % 7
		monday := now.AddDate(0, 0, -offset)
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
	case model.WindowMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		// day
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// NeedsConfirmation решает, требуется ли подтверждение человека для
// покупки. Вторым значением возвращает, расходует ли покупка льготу окна:
// в режиме above_exempt одна покупка не выше льготного порога за окно
// проходит без подтверждения, все последующие — по общим правилам.
func NeedsConfirmation(mode model.ApprovalMode, amountCents, exemptCents int64, exemptUsed bool) (needed bool, usesExemption bool) {
	switch mode {
	case model.ApprovalNone:
		return false, false
	case model.ApprovalAll:
		return true, false
	case model.ApprovalAboveExempt:
		if amountCents <= exemptCents && !exemptUsed {
			return false, true
		}
		return true, false
	default:
		// Неизвестный режим закрывается в сторону подтверждения
		return true, false
	}
}
